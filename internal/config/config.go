// Package config loads the YAML process configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// StreamConfig configures the upstream websocket connection.
type StreamConfig struct {
	BaseURL           string        `yaml:"baseURL" validate:"required,url"`
	AppVersion        string        `yaml:"appVersion" validate:"required"`
	Channels          []string      `yaml:"channels" validate:"required,min=1,dive,required"`
	Token             string        `yaml:"token"`
	ReconnectInterval time.Duration `yaml:"reconnectInterval" validate:"gt=0"`
	Zoom              int           `yaml:"zoom" validate:"gte=1,lte=20"`
}

// ReconcileConfig configures update filtering and the viewport.
type ReconcileConfig struct {
	MinUpdateInterval time.Duration `yaml:"minUpdateInterval" validate:"gte=0"`
	ViewportPadding   float64       `yaml:"viewportPadding" validate:"gt=0,lte=10"`
}

// ForwardConfig configures the downstream GPS tracker. An empty URL
// disables forwarding.
type ForwardConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	Source  string        `yaml:"source" validate:"required"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// Config is the root configuration structure.
type Config struct {
	Stream    StreamConfig    `yaml:"stream"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Forward   ForwardConfig   `yaml:"forward"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every zero-valued field with its default.
func (c *Config) ApplyDefaults() {
	if c.Stream.BaseURL == "" {
		c.Stream.BaseURL = "wss://zond.api.2gis.ru/api/1.1/user/ws"
	}
	if c.Stream.AppVersion == "" {
		c.Stream.AppVersion = "6.31.0"
	}
	if len(c.Stream.Channels) == 0 {
		c.Stream.Channels = []string{"markers", "sharing", "routes"}
	}
	if c.Stream.ReconnectInterval == 0 {
		c.Stream.ReconnectInterval = 5 * time.Second
	}
	if c.Stream.Zoom == 0 {
		c.Stream.Zoom = 15
	}
	if c.Reconcile.ViewportPadding == 0 {
		c.Reconcile.ViewportPadding = 0.1
	}
	if c.Forward.Timeout == 0 {
		c.Forward.Timeout = 10 * time.Second
	}
	if c.Forward.Source == "" {
		c.Forward.Source = "Friends2GIS"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "friendloc.db"
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads a YAML config file. Fields omitted from the file keep their
// defaults, so partial configs are safe. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yml" && ext != ".yaml" {
		return nil, fmt.Errorf("config file must have .yml or .yaml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
