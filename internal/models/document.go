// Package models defines the domain types for docintake.
package models

import (
	"strconv"
	"strings"
	"time"
)

// Scope selects which kind of identifier a document is filed under.
type Scope string

const (
	ScopeAsset Scope = "asset"
	ScopeSPV   Scope = "spv"
	ScopeFund  Scope = "fund"
)

// Scopes lists every valid scope.
var Scopes = []Scope{ScopeAsset, ScopeSPV, ScopeFund}

// ParseScope accepts a scope name in any case.
func ParseScope(s string) (Scope, bool) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeAsset:
		return ScopeAsset, true
	case ScopeSPV:
		return ScopeSPV, true
	case ScopeFund:
		return ScopeFund, true
	}
	return "", false
}

// OtherType is the wildcard type code that bypasses rule lookup.
const OtherType = "other"

// IsOther reports whether code is the wildcard type.
func IsOther(code string) bool {
	return strings.EqualFold(strings.TrimSpace(code), OtherType)
}

// TypeRule is the per-type validation record kept in the index.
type TypeRule struct {
	Code           string   `json:"type" yaml:"type"`
	Name           string   `json:"name,omitempty" yaml:"name"`
	RequiresAsset  bool     `json:"requires_asset" yaml:"requires_asset"`
	RequiresTenant bool     `json:"requires_tenant" yaml:"requires_tenant"`
	RequireStrict  bool     `json:"require_strict" yaml:"require_strict"`
	AllowKeyword   bool     `json:"allow_keyword,omitempty" yaml:"allow_keyword"`
	Aliases        []string `json:"aliases,omitempty" yaml:"aliases"`
}

// RequiresIdentifier reports whether a scope identifier is mandatory.
// Both flags mean the same thing for historical reasons.
func (r *TypeRule) RequiresIdentifier() bool {
	return r.RequiresAsset || r.RequiresTenant
}

// Identifier is a registered asset, SPV or fund code.
type Identifier struct {
	Scope Scope  `json:"scope" yaml:"scope"`
	Code  string `json:"code" yaml:"code"`
	Name  string `json:"name,omitempty" yaml:"name"`
}

// Tenant is a numbered tenant of an asset.
type Tenant struct {
	Asset string `json:"asset" yaml:"asset"`
	No    int    `json:"tenant_no" yaml:"tenant_no"`
	Name  string `json:"tenant_name,omitempty" yaml:"tenant_name"`
}

// Label renders the tenant the way option lists show it.
func (t Tenant) Label() string {
	if t.Name == "" {
		return strconv.Itoa(t.No)
	}
	return strconv.Itoa(t.No) + " - " + t.Name
}

// Document is one indexed object.
type Document struct {
	ID          string     `json:"id"`
	StoragePath string     `json:"storage_path"`
	Bucket      string     `json:"bucket"`
	Key         string     `json:"key"`
	Type        string     `json:"type"`
	TypeName    string     `json:"type_name,omitempty"`
	Scope       Scope      `json:"scope,omitempty"`
	Asset       string     `json:"asset,omitempty"`
	SPV         string     `json:"spv,omitempty"`
	Fund        string     `json:"fund,omitempty"`
	Tenant      string     `json:"tenant,omitempty"`
	DocDate     *time.Time `json:"doc_date,omitempty"`
	Uploader    string     `json:"uploader,omitempty"`
	Ext         string     `json:"ext"`
	Checksum    string     `json:"checksum"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SetIdentifier stores id in the column matching scope.
func (d *Document) SetIdentifier(scope Scope, id string) {
	d.Scope = scope
	switch scope {
	case ScopeSPV:
		d.SPV = id
	case ScopeFund:
		d.Fund = id
	default:
		d.Asset = id
	}
}
