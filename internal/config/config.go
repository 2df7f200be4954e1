package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/driftline/driftline/internal/domain"
)

// Config holds all application configuration
type Config struct {
	Account AccountConfig `mapstructure:"account"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Scope   ScopeConfig   `mapstructure:"scope"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AccountConfig holds the account the connection is built from
type AccountConfig struct {
	Username string `mapstructure:"username"`
	Domain   string `mapstructure:"domain"`
	Token    string `mapstructure:"token"`
	APIURL   string `mapstructure:"api_url"` // optional, overrides https://{username}.{domain}
}

// CacheConfig holds local mirror configuration
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"` // cache root; each connection gets a folder below it
}

// ScopeConfig holds the persisted cache scope. Zero time bounds mean
// unbounded; an empty stream list means all streams.
type ScopeConfig struct {
	Streams  []string `mapstructure:"streams"`
	FromTime float64  `mapstructure:"from_time"`
	ToTime   float64  `mapstructure:"to_time"`
	State    string   `mapstructure:"state"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			Domain: "driftline.io",
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     defaultCachePath(),
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "driftline", "driftline.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "driftline", "driftline.log")
	}
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "driftline")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "driftline")
	}
}

// defaultCachePath returns the default cache root for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "driftline", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "driftline", "cache")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("DRIFTLINE")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	// Set fields individually to ensure correct key names (snake_case)
	viper.Set("account.username", cfg.Account.Username)
	viper.Set("account.domain", cfg.Account.Domain)
	viper.Set("account.token", cfg.Account.Token)
	viper.Set("account.api_url", cfg.Account.APIURL)

	viper.Set("cache.enabled", cfg.Cache.Enabled)
	viper.Set("cache.dir", cfg.Cache.Dir)

	viper.Set("scope.streams", cfg.Scope.Streams)
	viper.Set("scope.from_time", cfg.Scope.FromTime)
	viper.Set("scope.to_time", cfg.Scope.ToTime)
	viper.Set("scope.state", cfg.Scope.State)

	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	return writeConfigFile()
}

// ClearAccountConfig removes the account credentials and the scope tied
// to them while preserving other settings (cache, logging)
func ClearAccountConfig() error {
	viper.Set("account.username", "")
	viper.Set("account.domain", "")
	viper.Set("account.token", "")
	viper.Set("account.api_url", "")

	viper.Set("scope.streams", []string{})
	viper.Set("scope.from_time", 0.0)
	viper.Set("scope.to_time", 0.0)
	viper.Set("scope.state", "")

	return writeConfigFile()
}

func writeConfigFile() error {
	configPath := defaultConfigPath()
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsConfigured returns true if the username and token are set
func (c *Config) IsConfigured() bool {
	return c.Account.Username != "" && c.Account.Token != ""
}

// ScopeFilter converts the persisted scope into a filter. It returns nil
// when no scope has been saved, which callers treat as all-covering.
func (c *Config) ScopeFilter() *domain.Filter {
	sc := c.Scope
	if len(sc.Streams) == 0 && sc.FromTime == 0 && sc.ToTime == 0 && sc.State == "" {
		return nil
	}

	f := &domain.Filter{StreamIDs: sc.Streams}
	if sc.FromTime != 0 {
		f.FromTime = domain.Time(sc.FromTime)
	}
	if sc.ToTime != 0 {
		f.ToTime = domain.Time(sc.ToTime)
	}
	f.State = sc.State
	return f
}

// SetScope replaces the persisted scope with the given filter. A nil
// filter clears it.
func (c *Config) SetScope(f *domain.Filter) {
	if f == nil {
		c.Scope = ScopeConfig{}
		return
	}

	sc := ScopeConfig{Streams: f.StreamIDs, State: f.State}
	if f.FromTime != nil {
		sc.FromTime = *f.FromTime
	}
	if f.ToTime != nil {
		sc.ToTime = *f.ToTime
	}
	c.Scope = sc
}

// ClearCache removes all cached data below the cache root
func ClearCache(dir string) error {
	if dir == "" {
		dir = defaultCachePath()
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// GetCachePath returns the cache root directory
func GetCachePath() string {
	return defaultCachePath()
}
