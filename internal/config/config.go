package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	History  HistoryConfig  `yaml:"history"`
	Training TrainingConfig `yaml:"training"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	MaxImagePixels int64         `yaml:"max_image_pixels"` // Largest accepted width*height
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// ModelConfig contains detection model configuration
type ModelConfig struct {
	ID         string        `yaml:"id"`          // Model identifier passed to the model service (e.g. yolov8n.pt)
	ServiceURL string        `yaml:"service_url"` // Base URL of the model-serving process
	Timeout    time.Duration `yaml:"timeout"`     // Per-inference HTTP timeout
	Workers    int           `yaml:"workers"`     // Max concurrent inference calls
}

// HistoryConfig contains document store configuration for the audit trail
type HistoryConfig struct {
	URL          string        `yaml:"url"` // Empty disables persistence (degraded mode)
	Database     string        `yaml:"database"`
	Collection   string        `yaml:"collection"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
}

// TrainingConfig contains training upload configuration
type TrainingConfig struct {
	UploadDir           string  `yaml:"upload_dir"`
	ChunkSize           int     `yaml:"chunk_size"`
	MaxDiskUsagePercent float64 `yaml:"max_disk_usage_percent"` // Uploads are refused above this; 100 disables the guard
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Addr returns the listen address of the HTTP server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads the configuration file (if any), applies defaults and
// environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Defaults and environment only
		case err != nil:
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse configuration: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultConfigPath returns the first existing default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/detectd/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 50 << 20
	}
	if c.Server.MaxImagePixels == 0 {
		c.Server.MaxImagePixels = 40_000_000
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Model.ID == "" {
		c.Model.ID = "yolov8n.pt"
	}
	if c.Model.ServiceURL == "" {
		c.Model.ServiceURL = "http://127.0.0.1:5000"
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = 30 * time.Second
	}
	if c.Model.Workers == 0 {
		c.Model.Workers = runtime.NumCPU()
	}

	if c.History.Database == "" {
		c.History.Database = "yoloAppDb"
	}
	if c.History.Collection == "" {
		c.History.Collection = "historyLogs"
	}
	if c.History.WriteTimeout == 0 {
		c.History.WriteTimeout = 2 * time.Second
	}
	if c.History.DefaultLimit == 0 {
		c.History.DefaultLimit = 50
	}
	if c.History.MaxLimit == 0 {
		c.History.MaxLimit = 200
	}

	if c.Training.UploadDir == "" {
		c.Training.UploadDir = "./uploads/training_images"
	}
	if c.Training.ChunkSize == 0 {
		c.Training.ChunkSize = 1 << 20
	}
	if c.Training.MaxDiskUsagePercent == 0 {
		c.Training.MaxDiskUsagePercent = 95
	}
}
