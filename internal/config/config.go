package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brandon/mailsync/pkg/types"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string   `yaml:"database_path"`
	BlobDir      string   `yaml:"blob_dir"`
	LogLevel     string   `yaml:"log_level"`
	SyncInterval Duration `yaml:"sync_interval"`

	Accounts []AccountConfig `yaml:"accounts"`
}

// AccountConfig holds configuration for a single mail account.
type AccountConfig struct {
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	IMAPHost   string `yaml:"imap_host"`
	IMAPPort   int    `yaml:"imap_port"`
	IMAPSecure *bool  `yaml:"imap_secure"`
	SMTPHost   string `yaml:"smtp_host"`
	SMTPPort   int    `yaml:"smtp_port"`
	SMTPSecure *bool  `yaml:"smtp_secure"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Active     *bool  `yaml:"active"`
}

// Duration wraps time.Duration so intervals can be written as "10m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads the configuration from the YAML file at path (optional) and
// applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.DatabasePath = getEnv("DATABASE_PATH", defaultString(cfg.DatabasePath, "data/mailsync.db"))
	cfg.BlobDir = getEnv("BLOB_DIR", defaultString(cfg.BlobDir, "data/blobs"))
	cfg.LogLevel = getEnv("LOG_LEVEL", defaultString(cfg.LogLevel, "info"))

	if raw := os.Getenv("SYNC_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
		}
		cfg.SyncInterval = Duration(parsed)
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = Duration(10 * time.Minute)
	}

	// With no config file, fall back to a single account from environment
	// variables, the way the daemon is usually run in a container.
	if len(cfg.Accounts) == 0 {
		if account, ok := accountFromEnv(); ok {
			cfg.Accounts = append(cfg.Accounts, account)
		}
	}

	for i := range cfg.Accounts {
		applyAccountDefaults(&cfg.Accounts[i])
	}

	return cfg, nil
}

// accountFromEnv builds an account from IMAP_* environment variables.
func accountFromEnv() (AccountConfig, bool) {
	host := getEnv("IMAP_HOST", "")
	if host == "" {
		return AccountConfig{}, false
	}

	return AccountConfig{
		Name:     getEnv("ACCOUNT_NAME", "default"),
		Email:    getEnv("ACCOUNT_EMAIL", getEnv("IMAP_USERNAME", "")),
		IMAPHost: host,
		IMAPPort: getEnvInt("IMAP_PORT", 993),
		Username: getEnv("IMAP_USERNAME", ""),
		Password: getEnv("IMAP_PASSWORD", ""),
	}, true
}

func applyAccountDefaults(acc *AccountConfig) {
	if acc.IMAPPort == 0 {
		acc.IMAPPort = 993
	}
	if acc.SMTPPort == 0 && acc.SMTPHost != "" {
		acc.SMTPPort = 587
	}
	if acc.Email == "" {
		acc.Email = acc.Username
	}
	if acc.Name == "" {
		acc.Name = acc.Email
	}
}

// Account converts the configuration entry into a types.Account. The ID is
// assigned by the store when the account is first persisted.
func (a *AccountConfig) Account() types.Account {
	return types.Account{
		Name:       a.Name,
		Email:      a.Email,
		IMAPHost:   a.IMAPHost,
		IMAPPort:   a.IMAPPort,
		IMAPSecure: boolOrDefault(a.IMAPSecure, true),
		SMTPHost:   a.SMTPHost,
		SMTPPort:   a.SMTPPort,
		SMTPSecure: boolOrDefault(a.SMTPSecure, false),
		Username:   a.Username,
		Password:   a.Password,
		IsActive:   boolOrDefault(a.Active, true),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.BlobDir == "" {
		return fmt.Errorf("blob_dir is required")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Email == "" {
			return fmt.Errorf("account %d: email is required", i+1)
		}
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: imap_host is required", acc.Email)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid imap_port", acc.Email)
		}
		if acc.Username == "" {
			return fmt.Errorf("account %s: username is required", acc.Email)
		}
		if acc.SMTPHost != "" && (acc.SMTPPort < 1 || acc.SMTPPort > 65535) {
			return fmt.Errorf("account %s: invalid smtp_port", acc.Email)
		}
	}

	return nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value != nil {
		return *value
	}
	return fallback
}
