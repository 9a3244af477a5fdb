// Package config loads the client configuration from ~/.stanza/config.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	dataDirEnv  = "STANZA_DATA_DIR"
	dataDirName = ".stanza"
	fileName    = "config.yml"
)

type Config struct {
	DeviceID    string `yaml:"device_id"`
	UserID      string `yaml:"user_id"`
	Username    string `yaml:"username"`
	AuthToken   string `yaml:"auth_token,omitempty"`
	DatabaseURL string `yaml:"database_url"`
	FeedURL     string `yaml:"feed_url,omitempty"`

	ListPageSize   int    `yaml:"list_page_size,omitempty"`
	ThreadPageSize int    `yaml:"thread_page_size,omitempty"`
	TypingQuietMS  int    `yaml:"typing_quiet_ms,omitempty"`
	LogLevel       string `yaml:"log_level,omitempty"`
}

// ResolveDataDir returns the config/log/snapshot directory, honoring the
// STANZA_DATA_DIR override.
func ResolveDataDir() string {
	if dir := os.Getenv(dataDirEnv); dir != "" {
		return dir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, dataDirName)
}

func configPath(dataDir string) string {
	return filepath.Join(dataDir, fileName)
}

// LoadOrCreate reads the config file, writing a fresh one with defaults when
// none exists yet. Either way the returned config has every default filled.
func LoadOrCreate(dataDir string) (Config, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return Config{}, fmt.Errorf("create data directory: %w", err)
	}

	path := configPath(dataDir)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Config{}
		cfg.normalizeDefaults()
		if err := Save(dataDir, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	changed := cfg.normalizeDefaults()
	if changed {
		if err := Save(dataDir, cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func Save(dataDir string, cfg Config) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath(dataDir), data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// normalizeDefaults fills zero-valued fields and reports whether anything
// was changed, so the caller can persist the upgraded file.
func (c *Config) normalizeDefaults() bool {
	changed := false
	if c.DeviceID == "" {
		c.DeviceID = uuid.NewString()
		changed = true
	}
	if c.ListPageSize <= 0 {
		c.ListPageSize = 50
		changed = true
	}
	if c.ThreadPageSize <= 0 {
		c.ThreadPageSize = 200
		changed = true
	}
	if c.TypingQuietMS <= 0 {
		c.TypingQuietMS = 2000
		changed = true
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
		changed = true
	}
	return changed
}

// Validate checks the fields the client cannot run without. The file is
// created with these blank; the user fills them in.
func (c Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is not set in %s", fileName)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is not set in %s", fileName)
	}
	return nil
}
