// Package platform provides configuration for the connector service.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete connector configuration. It is read once at
// startup and immutable thereafter.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Queue    QueueConfig    `yaml:"queue"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Address string `yaml:"address"`
}

// SessionConfig configures the session and connection lifecycle.
type SessionConfig struct {
	// DefaultLifetime is the absolute session lifetime, fixed at creation.
	DefaultLifetime time.Duration `yaml:"default_lifetime"`

	// InactivityTimeout is the maximum idle duration before expiry.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// CleanupInterval is the sweeper tick period.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MaxSessionsPerClient caps concurrent sessions per client. Zero
	// means unlimited.
	MaxSessionsPerClient int `yaml:"max_sessions_per_client"`

	// Capabilities is the set of grantable capability names. Empty means
	// everything requested is recognized.
	Capabilities []string `yaml:"capabilities"`
}

// QueueConfig configures the background work queue.
type QueueConfig struct {
	// Capacity bounds the queue; a full queue blocks producers.
	Capacity int `yaml:"capacity"`
}

// AuthConfig configures the authentication provider.
type AuthConfig struct {
	JWT     JWTAuthConfig    `yaml:"jwt"`
	APIKeys APIKeyAuthConfig `yaml:"api_keys"`
}

// JWTAuthConfig configures JWT validation.
type JWTAuthConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Issuer          string `yaml:"issuer"`
	SigningKey      string `yaml:"signing_key"` // HMAC key, usually via ${VAR}
	TenantClaimPath string `yaml:"tenant_claim_path"`
}

// APIKeyAuthConfig configures API key authentication.
type APIKeyAuthConfig struct {
	Enabled bool        `yaml:"enabled"`
	Keys    []APIKeyDef `yaml:"keys"`
}

// APIKeyDef defines an API key by its bcrypt hash.
type APIKeyDef struct {
	Name   string `yaml:"name"`
	Tenant string `yaml:"tenant"`
	Hash   string `yaml:"hash"`
}

// DatabaseConfig configures the optional durable session store. When DSN is
// empty the connector runs on the in-memory registry.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// Configuration defaults.
const (
	defaultServerName      = "mcp-connector"
	defaultServerVersion   = "1.0.0"
	defaultServerAddress   = ":8080"
	defaultLifetime        = time.Hour
	defaultInactivity      = 30 * time.Minute
	defaultCleanupInterval = time.Minute
	defaultQueueCapacity   = 64
	defaultMaxOpenConns    = 25
)

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = defaultServerName
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = defaultServerVersion
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultServerAddress
	}
	if cfg.Session.DefaultLifetime == 0 {
		cfg.Session.DefaultLifetime = defaultLifetime
	}
	if cfg.Session.InactivityTimeout == 0 {
		cfg.Session.InactivityTimeout = defaultInactivity
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = defaultQueueCapacity
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Session.DefaultLifetime < 0 {
		errs = append(errs, "session.default_lifetime must not be negative")
	}
	if c.Session.InactivityTimeout < 0 {
		errs = append(errs, "session.inactivity_timeout must not be negative")
	}
	if c.Session.CleanupInterval <= 0 {
		errs = append(errs, "session.cleanup_interval must be positive")
	}
	if c.Session.MaxSessionsPerClient < 0 {
		errs = append(errs, "session.max_sessions_per_client must not be negative")
	}
	if c.Queue.Capacity <= 0 {
		errs = append(errs, "queue.capacity must be positive")
	}
	if c.Auth.JWT.Enabled {
		if c.Auth.JWT.Issuer == "" {
			errs = append(errs, "auth.jwt.issuer is required when JWT auth is enabled")
		}
		if c.Auth.JWT.SigningKey == "" {
			errs = append(errs, "auth.jwt.signing_key is required when JWT auth is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
