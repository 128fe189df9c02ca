package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Remote    RemoteConfig      `yaml:"remote"`
	Policy    PolicyConfig      `yaml:"policy"`
	Sync      SyncConfig        `yaml:"sync"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
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

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RemoteConfig holds the S3-compatible object store connection and
// layout settings. Credentials are typically injected via environment
// expansion in the config file.
type RemoteConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	SourcePrefix    string `yaml:"source_prefix"`
	UserPrefix      string `yaml:"user_prefix"`
	BatchCeiling    int    `yaml:"batch_ceiling"`
	PageSize        int    `yaml:"page_size"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// Validate validates the remote store configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.AccessKey, validation.Required),
		validation.Field(&c.SecretKey, validation.Required),
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.SourcePrefix, validation.Required),
		validation.Field(&c.UserPrefix, validation.Required),
	)
}

// CacheTTL returns the listing cache TTL.
func (c *RemoteConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// PolicyConfig holds the role/instrument policy table settings.
type PolicyConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the policy configuration.
func (c *PolicyConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SyncConfig holds reconciliation scheduling settings.
type SyncConfig struct {
	Workers           int `yaml:"workers"`
	IntervalMinutes   int `yaml:"interval_minutes"`
	DebounceSeconds   int `yaml:"debounce_seconds"`
	RunTimeoutMinutes int `yaml:"run_timeout_minutes"`
	FailureThreshold  int `yaml:"failure_threshold"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Min(1)),
		validation.Field(&c.IntervalMinutes, validation.Min(1)),
		validation.Field(&c.FailureThreshold, validation.Min(1)),
	)
}

// Interval returns the periodic full-sync cadence.
func (c *SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Debounce returns the change-notification coalescing window.
func (c *SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

// RunTimeout returns the per-user run deadline.
func (c *SyncConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// RateLimitConfig bounds calls to the remote store. Calls <= 0 means
// unlimited; WriteCalls <= 0 shares the read budget.
type RateLimitConfig struct {
	ReadCalls     int `yaml:"read_calls"`
	WriteCalls    int `yaml:"write_calls"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.WindowSeconds, validation.Min(1)),
	)
}

// Window returns the rate limiting window.
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./chartd.db",
		},
		Remote: RemoteConfig{
			Endpoint:        "localhost:9000",
			Bucket:          "band",
			SourcePrefix:    "source/",
			UserPrefix:      "users",
			BatchCeiling:    100,
			PageSize:        1000,
			CacheTTLSeconds: 30,
		},
		Policy: PolicyConfig{
			Path:  "config/roles.yaml",
			Watch: true,
		},
		Sync: SyncConfig{
			Workers:           4,
			IntervalMinutes:   15,
			DebounceSeconds:   5,
			RunTimeoutMinutes: 5,
			FailureThreshold:  3,
		},
		RateLimit: RateLimitConfig{
			ReadCalls:     100,
			WriteCalls:    50,
			WindowSeconds: 10,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
