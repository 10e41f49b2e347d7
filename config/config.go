package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration persisted as TOML.
type Config struct {
	ListenAddress string    `toml:"ListenAddress"`
	DataDir       string    `toml:"DataDir"`
	GenesisFile   string    `toml:"GenesisFile"`
	KeystorePath  string    `toml:"KeystorePath"`
	DurationUnit  string    `toml:"DurationUnit"`
	Env           string    `toml:"Env"`
	Logging       Logging   `toml:"logging"`
	Auth          Auth      `toml:"auth"`
	RateLimit     RateLimit `toml:"rate_limit"`
	Telemetry     Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path. A missing file is
// replaced with defaults which are written back to disk.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %q", path, undecoded[0].String())
	}

	changed := cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if changed {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Default returns the configuration used when no file exists.
func Default(path string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(path)
	return cfg
}

// applyDefaults fills unset fields. It reports whether a path-derived field
// changed so Load can persist it.
func (c *Config) applyDefaults(configPath string) bool {
	changed := false
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./stakevault-data"
	}
	if strings.TrimSpace(c.KeystorePath) == "" {
		c.KeystorePath = defaultKeystorePath(configPath)
		changed = true
	}
	if strings.TrimSpace(c.DurationUnit) == "" {
		c.DurationUnit = "1m"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 600
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 50
	}
	if c.Auth.ClockSkewSeconds == 0 {
		c.Auth.ClockSkewSeconds = 30
	}
	return changed
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "admin.keystore")
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
