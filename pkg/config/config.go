package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the process configuration for google-proxy.
type Config struct {
	Listen  string `yaml:"listen"`
	DBPath  string `yaml:"db_path"`
	BaseURL string `yaml:"base_url"`
	// RequestsPerSecond limits upstream calls per actor. Zero disables the limit.
	RequestsPerSecond float64     `yaml:"requests_per_second"`
	Log               LogConfig   `yaml:"log"`
	Actor             ActorConfig `yaml:"actor"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotated file output instead of stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ActorConfig is the init payload used for the actor hosted by this process.
type ActorConfig struct {
	ID      string    `yaml:"id"`
	StoreID string    `yaml:"store_id"`
	Config  RawConfig `yaml:"config"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		DBPath:  "google-proxy.db",
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Actor: ActorConfig{
			ID:      "google-proxy",
			StoreID: "default",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// InitPayload returns the actor section as an init payload.
func (c *Config) InitPayload() *InitPayload {
	p := &InitPayload{Config: &c.Actor.Config}
	if c.Actor.StoreID != "" {
		id := c.Actor.StoreID
		p.StoreID = &id
	}
	return p
}
