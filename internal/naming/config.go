package naming

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Scheme selects the canonical filename layout of a deployment.
type Scheme string

const (
	// SchemeConcat joins positional segments: type_date_asset_tenant_suffix.ext.
	SchemeConcat Scheme = "concat"
	// SchemeTagCodec encodes a tag set: m(ttype=..)(tname=..)....ext.
	SchemeTagCodec Scheme = "tagcodec"
)

// Accepted date layouts.
const (
	DateYear  = "YYYY"
	DateMonth = "YYYY-MM"
	DateDay   = "YYYY-MM-DD"
)

var typeCodeRe = regexp.MustCompile(`^\d+(?:\.\d+)*$`)

// TenantCase is a type-code family whose codes carry a numeric tenant
// segment at a fixed position.
type TenantCase struct {
	Prefix string `yaml:"prefix"`
	// Position is the zero-based segment index of the tenant number.
	Position int `yaml:"position"`
}

// Validate validates the tenant case.
func (c TenantCase) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Prefix, validation.Required, validation.Match(typeCodeRe)),
	); err != nil {
		return err
	}
	if segs := strings.Count(c.Prefix, ".") + 1; c.Position < segs {
		return fmt.Errorf("position %d falls inside prefix %q", c.Position, c.Prefix)
	}
	return nil
}

// Config parameterizes the rule engine.
type Config struct {
	Scheme                   Scheme       `yaml:"scheme"`
	DateFormats              []string     `yaml:"date_formats"`
	AllowedExtensions        []string     `yaml:"allowed_extensions"`
	DefaultExtension         string       `yaml:"default_extension"`
	TenantCases              []TenantCase `yaml:"tenant_cases"`
	ValidateIdentifierExists bool         `yaml:"validate_identifier_exists"`
	// UploaderTag appends _u-xxxxxx to concat names.
	UploaderTag bool `yaml:"uploader_tag"`
}

// Validate validates the naming configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Scheme, validation.Required, validation.In(SchemeConcat, SchemeTagCodec)),
		validation.Field(&c.DateFormats, validation.Required, validation.Each(validation.In(DateYear, DateMonth, DateDay))),
		validation.Field(&c.AllowedExtensions, validation.Required),
		validation.Field(&c.DefaultExtension, validation.Required),
		validation.Field(&c.TenantCases),
	); err != nil {
		return err
	}
	if !c.allows(c.DefaultExtension) {
		return fmt.Errorf("naming: default extension %q is not in allowed_extensions", c.DefaultExtension)
	}
	return nil
}

func (c *Config) allows(ext string) bool {
	for _, e := range c.AllowedExtensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// DefaultConfig returns the tag-codec configuration used by new deployments.
func DefaultConfig() Config {
	return Config{
		Scheme:            SchemeTagCodec,
		DateFormats:       []string{DateMonth, DateDay},
		AllowedExtensions: []string{"pdf", "png", "jpg", "jpeg", "docx", "xlsx"},
		DefaultExtension:  "pdf",
		TenantCases: []TenantCase{
			{Prefix: "1.7", Position: 3},
			{Prefix: "1.9.5.1", Position: 4},
		},
		UploaderTag: true,
	}
}
