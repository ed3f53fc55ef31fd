package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/metaname"
	"github.com/starford/docintake/internal/models"
)

// ErrUnrecognizedName is returned by Parse for names outside the scheme.
var ErrUnrecognizedName = errors.New("naming: unrecognized filename")

// Composer renders validated fields as a canonical filename and reads one
// back. A deployment uses exactly one.
type Composer interface {
	Scheme() Scheme
	Compose(f Fields) (string, error)
	Parse(name string) (Fields, error)
}

// NewComposer returns the composer for s.
func NewComposer(s Scheme) (Composer, error) {
	switch s {
	case SchemeConcat:
		return ConcatComposer{}, nil
	case SchemeTagCodec:
		return TagComposer{}, nil
	}
	return nil, fmt.Errorf("naming: unknown scheme %q", s)
}

// ParseAny decodes name with whichever scheme recognizes it, trying the tag
// codec first.
func ParseAny(name string) (Fields, Scheme, error) {
	if f, err := (TagComposer{}).Parse(name); err == nil {
		return f, SchemeTagCodec, nil
	}
	if f, err := (ConcatComposer{}).Parse(name); err == nil {
		return f, SchemeConcat, nil
	}
	return Fields{}, "", fmt.Errorf("%w: %q", ErrUnrecognizedName, name)
}

// TagComposer writes m(ttype=..)(tname=..)(tscope=..)(tasset=..)(tdate=..)(tmail=..).ext.
type TagComposer struct{}

func (TagComposer) Scheme() Scheme { return SchemeTagCodec }

// Tags builds the tag set for f in wire order. tname is always present.
func (TagComposer) Tags(f Fields) metaname.TagSet {
	var tags metaname.TagSet
	tags.Set(metaname.KeyType, f.Type)
	tags.Set(metaname.KeyName, f.TypeName)
	tags.Set(metaname.KeyScope, f.Scope)
	if f.Identifier != "" {
		tags.Set(scopeKey(f.Scope), f.Identifier)
	}
	if f.Date != "" {
		tags.Set(metaname.KeyDate, f.Date)
	}
	if f.Mail != "" {
		tags.Set(metaname.KeyMail, f.Mail)
	}
	return tags
}

func (c TagComposer) Compose(f Fields) (string, error) {
	if f.Type == "" {
		return "", apperr.ComposeFailure("type code is empty after validation")
	}
	tags := c.Tags(f)
	name := metaname.BuildFilename(tags, "."+f.Ext)
	back, _, ok := metaname.ParseFilename(name)
	if !ok || !back.Equal(tags) {
		return "", apperr.ComposeFailure("encoded name does not decode to its tags")
	}
	return name, nil
}

func (TagComposer) Parse(name string) (Fields, error) {
	tags, ext, ok := metaname.ParseFilename(name)
	if !ok {
		return Fields{}, fmt.Errorf("%w: %q", ErrUnrecognizedName, name)
	}
	f := Fields{
		Type:     tags.Value(metaname.KeyType),
		TypeName: tags.Value(metaname.KeyName),
		Date:     tags.Value(metaname.KeyDate),
		Mail:     tags.Value(metaname.KeyMail),
		Ext:      strings.ToLower(ext),
	}
	if f.Type == "" {
		return Fields{}, fmt.Errorf("%w: %q has no %s tag", ErrUnrecognizedName, name, metaname.KeyType)
	}
	scope, ok := models.ParseScope(tags.Value(metaname.KeyScope))
	if !ok {
		scope = models.ScopeAsset
		for _, s := range models.Scopes {
			if _, present := tags.Get(scopeKey(string(s))); present {
				scope = s
				break
			}
		}
	}
	f.Scope = string(scope)
	f.Identifier = tags.Value(scopeKey(f.Scope))
	return f, nil
}

func scopeKey(scope string) string {
	switch models.Scope(scope) {
	case models.ScopeSPV:
		return metaname.KeySPV
	case models.ScopeFund:
		return metaname.KeyFund
	default:
		return metaname.KeyAsset
	}
}

// ConcatComposer writes type_date[_identifier][_tenant][_suffix][_u-xxxxxx].ext
// with the date expanded to YYYY-MM-DD. The layout does not record the scope,
// and parsing folds a free-text tenant into the suffix.
type ConcatComposer struct{}

var (
	uploaderTagRe = regexp.MustCompile(`^u-[0-9a-z]{1,6}$`)
	extRe         = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

func (ConcatComposer) Scheme() Scheme { return SchemeConcat }

func (ConcatComposer) Compose(f Fields) (string, error) {
	if f.Type == "" {
		return "", apperr.ComposeFailure("type code is empty after validation")
	}
	parts := []string{f.Type}
	if f.Date != "" {
		day, ok := NormalizeDate(f.Date)
		if !ok {
			return "", apperr.ComposeFailure(fmt.Sprintf("validated date %q does not normalize", f.Date))
		}
		parts = append(parts, day)
	}
	for _, p := range []string{f.Identifier, f.Tenant, f.Suffix, f.UploaderTag} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	name := strings.Join(parts, "_") + "." + f.Ext
	if strings.ContainsAny(name, `/\`) {
		return "", apperr.ComposeFailure("composed name contains a path separator")
	}
	return name, nil
}

func (ConcatComposer) Parse(name string) (Fields, error) {
	base, ext := metaname.SplitName(name)
	parts := strings.Split(base, "_")
	if !extRe.MatchString(ext) || (!typeCodeRe.MatchString(parts[0]) && !models.IsOther(parts[0])) {
		return Fields{}, fmt.Errorf("%w: %q", ErrUnrecognizedName, name)
	}
	f := Fields{Type: parts[0], Scope: string(models.ScopeAsset), Ext: strings.ToLower(ext)}
	rest := parts[1:]
	if len(rest) > 0 {
		if day, ok := NormalizeDate(rest[0]); ok {
			f.Date = day
			rest = rest[1:]
		}
	}
	if n := len(rest); n > 0 && uploaderTagRe.MatchString(rest[n-1]) {
		f.UploaderTag = rest[n-1]
		rest = rest[:n-1]
	}
	if len(rest) > 0 {
		f.Identifier = rest[0]
		rest = rest[1:]
	}
	f.Suffix = strings.Join(rest, "_")
	return f, nil
}
