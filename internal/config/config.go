// ABOUTME: Configuration loading and parsing for warden
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete warden configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Policy    PolicyConfig    `yaml:"policy"`
	Redis     RedisConfig     `yaml:"redis"`
	Emergency EmergencyConfig `yaml:"emergency"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds credential secrets. Values are usually supplied via
// ${VAR} expansion so secrets stay out of the file.
type AuthConfig struct {
	// TokenHMACKey keys the device token and API key hashes.
	TokenHMACKey string `yaml:"token_hmac_key"`
	// AdminSecretHash is a bcrypt hash of the admin gateway secret.
	AdminSecretHash string `yaml:"admin_secret_hash"`
	// SessionKeySecret signs session key grants.
	SessionKeySecret string `yaml:"session_key_secret"`
}

// PolicyConfig locates the policy document and its reload cadence.
type PolicyConfig struct {
	Path           string        `yaml:"path"`
	ReloadInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ReloadIntervalRaw string `yaml:"reload_interval"`
}

// RedisConfig holds the optional Redis connection for idempotency and
// lifecycle events. Disabled falls back to the in-memory store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EmergencyConfig holds emergency stop trigger configuration.
type EmergencyConfig struct {
	Commands []string `yaml:"commands"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a
// parsed Config. Environment variables in the format ${VAR_NAME} are
// expanded. Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Auth.TokenHMACKey) < 16 {
		return fmt.Errorf("auth.token_hmac_key must be at least 16 characters")
	}
	if c.Auth.AdminSecretHash == "" {
		return fmt.Errorf("auth.admin_secret_hash is required")
	}
	if len(c.Auth.SessionKeySecret) < 32 {
		return fmt.Errorf("auth.session_key_secret must be at least 32 characters")
	}
	if c.Policy.Path == "" {
		return fmt.Errorf("policy.path is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration
// values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Policy.ReloadIntervalRaw != "" {
		cfg.Policy.ReloadInterval, err = time.ParseDuration(cfg.Policy.ReloadIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing reload_interval %q: %w", cfg.Policy.ReloadIntervalRaw, err)
		}
	}

	return nil
}
