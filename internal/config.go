package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/naming"
)

// Storage drivers.
const (
	StorageDriverFS       = "fs"
	StorageDriverSupabase = "supabase"
)

// Index drivers.
const (
	IndexDriverSQLite   = "sqlite"
	IndexDriverPostgres = "postgres"
)

// tablePrefixRe keeps Postgres table prefixes safe to interpolate.
var tablePrefixRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Storage StorageConfig     `yaml:"storage"`
	Index   IndexConfig       `yaml:"index"`
	Auth    AuthConfig        `yaml:"auth"`
	Naming  naming.Config     `yaml:"naming"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Naming.Validate(); err != nil {
		return fmt.Errorf("naming: %w", err)
	}
	if c.Storage.Driver == StorageDriverFS && c.App.PublicURL == "" {
		return errors.New("app: public_url is required by the fs storage driver")
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// PublicURL is the externally reachable base URL of this service. Signed
	// fs-driver URLs point at it.
	PublicURL   string   `yaml:"public_url"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.PublicURL, is.URL),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SupabaseConfig addresses a Supabase project with its service role key.
type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

// Validate validates the Supabase configuration.
func (c *SupabaseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, is.URL),
		validation.Field(&c.ServiceKey, validation.Required),
	)
}

// Configured reports whether both URL and key are set.
func (c *SupabaseConfig) Configured() bool {
	return c.URL != "" && c.ServiceKey != ""
}

// BucketsConfig names the buckets the service writes to and reads from.
type BucketsConfig struct {
	Intake string `yaml:"intake"`
	Misc   string `yaml:"misc"`
	// Docs holds filed documents. It is indexed and readable but never
	// written by uploads.
	Docs string `yaml:"docs"`
}

// Indexed returns the distinct non-empty buckets in intake, misc, docs order.
func (c *BucketsConfig) Indexed() []string {
	var out []string
	seen := map[string]bool{}
	for _, b := range []string{c.Intake, c.Misc, c.Docs} {
		if b != "" && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// StorageConfig holds object store configuration.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	FS     struct {
		Root string `yaml:"root"`
	} `yaml:"fs"`
	Supabase SupabaseConfig `yaml:"supabase"`
	// SigningSecret signs fs-driver blob tokens.
	SigningSecret string        `yaml:"signing_secret"`
	UploadTTL     time.Duration `yaml:"upload_ttl"`
	DownloadTTL   time.Duration `yaml:"download_ttl"`
	Buckets       BucketsConfig `yaml:"buckets"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(StorageDriverFS, StorageDriverSupabase)),
		validation.Field(&c.UploadTTL, validation.Min(time.Minute)),
		validation.Field(&c.DownloadTTL, validation.Min(time.Minute), validation.Max(7*24*time.Hour)),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Buckets,
		validation.Field(&c.Buckets.Intake, validation.Required),
		validation.Field(&c.Buckets.Misc, validation.Required),
	); err != nil {
		return fmt.Errorf("buckets: %w", err)
	}
	switch c.Driver {
	case StorageDriverFS:
		if c.FS.Root == "" {
			return errors.New("fs.root is required")
		}
		if c.SigningSecret == "" {
			return errors.New("signing_secret is required by the fs driver")
		}
	case StorageDriverSupabase:
		if err := c.Supabase.Validate(); err != nil {
			return fmt.Errorf("supabase: %w", err)
		}
	}
	return nil
}

// IndexConfig holds index database configuration.
type IndexConfig struct {
	Driver string `yaml:"driver"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Postgres struct {
		DSN         string `yaml:"dsn"`
		TablePrefix string `yaml:"table_prefix"`
	} `yaml:"postgres"`
	// SeedFile, if set, is applied on every start.
	SeedFile string `yaml:"seed_file"`
	// Watch keeps the index live with fsnotify (fs storage only).
	Watch bool `yaml:"watch"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(IndexDriverSQLite, IndexDriverPostgres)),
	); err != nil {
		return err
	}
	switch c.Driver {
	case IndexDriverSQLite:
		if c.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	case IndexDriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if err := validation.Validate(c.Postgres.TablePrefix, validation.Match(tablePrefixRe)); err != nil {
			return fmt.Errorf("postgres.table_prefix: %w", err)
		}
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): every request is anonymous, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//   - "jwt": Supabase access tokens checked against JWKSURL.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
	// TokenUser is the user id that token-mode requests act as.
	TokenUser   string   `yaml:"token_user"`
	JWKSURL     string   `yaml:"jwks_url"`
	AdminEmails []string `yaml:"admin_emails"`
	// Supabase enables the password admin endpoint.
	Supabase SupabaseConfig `yaml:"supabase"`
	// MCP is the identity the MCP server composes names for.
	MCP struct {
		UserID string `yaml:"user_id"`
		Email  string `yaml:"email"`
	} `yaml:"mcp"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = string(auth.ModeDisabled)
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(string(auth.ModeDisabled), string(auth.ModeToken), string(auth.ModeJWT))),
		validation.Field(&c.JWKSURL, is.URL),
		validation.Field(&c.AdminEmails, validation.Each(is.EmailFormat)),
	); err != nil {
		return err
	}
	switch auth.Mode(c.Mode) {
	case auth.ModeToken:
		if c.Token == "" {
			return fmt.Errorf("mode is %q but token is empty", auth.ModeToken)
		}
	case auth.ModeJWT:
		if c.JWKSURL == "" {
			return fmt.Errorf("mode is %q but jwks_url is empty", auth.ModeJWT)
		}
	}
	if c.Supabase.URL != "" || c.Supabase.ServiceKey != "" {
		if err := c.Supabase.Validate(); err != nil {
			return fmt.Errorf("supabase: %w", err)
		}
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode != "" && c.Mode != string(auth.ModeDisabled)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	cfg := &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			PublicURL: "http://localhost:8080",
		},
		Storage: StorageConfig{
			Driver:      StorageDriverFS,
			UploadTTL:   2 * time.Hour,
			DownloadTTL: time.Hour,
			Buckets: BucketsConfig{
				Intake: "inbox",
				Misc:   "misc",
				Docs:   "docs",
			},
		},
		Index: IndexConfig{
			Driver: IndexDriverSQLite,
		},
		Auth: AuthConfig{
			Mode: string(auth.ModeDisabled),
		},
		Naming: naming.DefaultConfig(),
	}
	cfg.Storage.FS.Root = "./data"
	cfg.Index.SQLite.Path = "./docintake.db"
	return cfg
}
