package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OneBotConfig holds connection parameters for the OneBot transport.
type OneBotConfig struct {
	Host        string   `json:"host"`
	HTTPPort    int      `json:"http_port"`
	WSPort      int      `json:"ws_port"`
	AccessToken string   `json:"access_token,omitempty"`
	Prefixes    []string `json:"prefixes"`
}

// WebUIConfig holds settings for the admin web console.
type WebUIConfig struct {
	Listen   string `json:"listen"`
	Password string `json:"password,omitempty"`
}

// PluginConfig holds plugin discovery and cache paths.
type PluginConfig struct {
	Dir      string `json:"dir"`
	CacheDir string `json:"cache_dir"`
	DataDir  string `json:"data_dir"`
	Watch    *bool  `json:"watch,omitempty"`
}

// WatchEnabled returns whether the plugin directory watcher is enabled.
// Defaults to true when unset.
func (c PluginConfig) WatchEnabled() bool {
	if c.Watch == nil {
		return true
	}
	return *c.Watch
}

// LoggingConfig controls the log ring buffer and log files on disk.
type LoggingConfig struct {
	Level         string `json:"level"`
	Dir           string `json:"dir"`
	BufferSize    int    `json:"buffer_size"`
	RetentionDays int    `json:"retention_days"`
	MaxTotalMB    int64  `json:"max_total_mb"`
}

// Config is the top-level daemon configuration parsed from config.json.
// The file is rewritten wholesale on any settings change.
type Config struct {
	OneBot  OneBotConfig  `json:"onebot"`
	WebUI   WebUIConfig   `json:"webui"`
	Plugin  PluginConfig  `json:"plugin"`
	Logging LoggingConfig `json:"logging"`

	path string
}

func applyDefaults(c *Config) {
	if c.OneBot.Host == "" {
		c.OneBot.Host = "127.0.0.1"
	}
	if c.OneBot.HTTPPort == 0 {
		c.OneBot.HTTPPort = 3000
	}
	if c.OneBot.WSPort == 0 {
		c.OneBot.WSPort = 3001
	}
	if len(c.OneBot.Prefixes) == 0 {
		c.OneBot.Prefixes = []string{"/", "!"}
	}
	if c.WebUI.Listen == "" {
		c.WebUI.Listen = ":5000"
	}
	if c.Plugin.Dir == "" {
		c.Plugin.Dir = "./plugins"
	}
	c.Plugin.Dir = expandPath(c.Plugin.Dir)
	if c.Plugin.CacheDir == "" {
		c.Plugin.CacheDir = "./cache/plugins"
	}
	c.Plugin.CacheDir = expandPath(c.Plugin.CacheDir)
	if c.Plugin.DataDir == "" {
		c.Plugin.DataDir = "./data"
	}
	c.Plugin.DataDir = expandPath(c.Plugin.DataDir)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "./logs"
	}
	c.Logging.Dir = expandPath(c.Logging.Dir)
	if c.Logging.BufferSize <= 0 {
		c.Logging.BufferSize = 2000
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
	if c.Logging.MaxTotalMB <= 0 {
		c.Logging.MaxTotalMB = 128
	}
}

func expandPath(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return value
	}

	v = os.ExpandEnv(v)

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return v
	}

	if v == "~" {
		return home
	}
	if strings.HasPrefix(v, "~/") {
		return filepath.Join(home, v[2:])
	}
	return v
}

// LoadConfig reads a JSON configuration file from path and returns a Config
// with defaults applied for any unset fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.path = path
	applyDefaults(&cfg)
	return &cfg, nil
}

// Save rewrites the whole configuration file.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no backing file")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, append(data, '\n'), 0644)
}

// Path returns the backing file path, empty for configs not loaded from disk.
func (c *Config) Path() string {
	return c.path
}

// OverridesDir returns the directory holding per-plugin trigger override files.
func (c *Config) OverridesDir() string {
	return filepath.Join(c.Plugin.DataDir, "configs", "plugins")
}
