package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}

	// Validate log format
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Validate server settings
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("server.port must be between 1 and 65535, got: %d", c.Server.Port))
	}
	if c.Server.MaxUploadBytes < 0 {
		errors = append(errors, fmt.Sprintf("server.max_upload_bytes must be >= 0, got: %d", c.Server.MaxUploadBytes))
	}
	if c.Server.MaxImagePixels < 1 {
		errors = append(errors, fmt.Sprintf("server.max_image_pixels must be >= 1, got: %d", c.Server.MaxImagePixels))
	}

	// Validate model settings
	if c.Model.ID == "" {
		errors = append(errors, "model.id is required")
	}
	if u, err := url.Parse(c.Model.ServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("model.service_url must be an absolute URL, got: %q", c.Model.ServiceURL))
	}
	if c.Model.Timeout < 0 {
		errors = append(errors, fmt.Sprintf("model.timeout must be >= 0, got: %v", c.Model.Timeout))
	}
	if c.Model.Workers < 1 {
		errors = append(errors, fmt.Sprintf("model.workers must be >= 1, got: %d", c.Model.Workers))
	}

	// Validate history settings
	if !collectionNamePattern.MatchString(c.History.Database) {
		errors = append(errors, fmt.Sprintf("history.database must match [A-Za-z0-9_]+, got: %q", c.History.Database))
	}
	if !collectionNamePattern.MatchString(c.History.Collection) {
		errors = append(errors, fmt.Sprintf("history.collection must match [A-Za-z0-9_]+, got: %q", c.History.Collection))
	}
	if c.History.WriteTimeout < 0 {
		errors = append(errors, fmt.Sprintf("history.write_timeout must be >= 0, got: %v", c.History.WriteTimeout))
	}
	if c.History.MaxLimit < 1 {
		errors = append(errors, fmt.Sprintf("history.max_limit must be >= 1, got: %d", c.History.MaxLimit))
	}
	if c.History.DefaultLimit < 1 || c.History.DefaultLimit > c.History.MaxLimit {
		errors = append(errors, fmt.Sprintf("history.default_limit must be between 1 and %d, got: %d", c.History.MaxLimit, c.History.DefaultLimit))
	}

	// Validate training settings
	if c.Training.UploadDir == "" {
		errors = append(errors, "training.upload_dir is required")
	}
	if c.Training.ChunkSize < 1 {
		errors = append(errors, fmt.Sprintf("training.chunk_size must be >= 1, got: %d", c.Training.ChunkSize))
	}
	if c.Training.MaxDiskUsagePercent <= 0 || c.Training.MaxDiskUsagePercent > 100 {
		errors = append(errors, fmt.Sprintf("training.max_disk_usage_percent must be in (0, 100], got: %g", c.Training.MaxDiskUsagePercent))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
