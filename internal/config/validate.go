package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "warning", "error"}
	validLogFormats = []string{"json", "text"}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateFFmpeg(); err != nil {
		return err
	}
	if err := c.JobDefaults().Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr must be set")
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	if strings.TrimSpace(c.Store.DBPath) == "" {
		return errors.New("store.db_path must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !slices.Contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level %q must be one of %s", c.Logging.Level, strings.Join(validLogLevels, ", "))
	}
	if !slices.Contains(validLogFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format %q must be one of %s", c.Logging.Format, strings.Join(validLogFormats, ", "))
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.Name == "" {
		return errors.New("engine.name must be set")
	}
	if c.Engine.LoadTimeoutS <= 0 {
		return errors.New("engine.load_timeout_s must be positive")
	}
	if c.Engine.JobTimeoutS <= 0 {
		return errors.New("engine.job_timeout_s must be positive")
	}
	if c.Engine.QueueSize <= 0 {
		return errors.New("engine.queue_size must be positive")
	}
	if !c.Canvas().Valid() {
		return fmt.Errorf("engine canvas %dx%d must have positive, even dimensions",
			c.Engine.CanvasWidth, c.Engine.CanvasHeight)
	}
	return nil
}

func (c *Config) validateFFmpeg() error {
	if c.FFmpeg.ArtifactURL == "" && strings.TrimSpace(c.FFmpeg.Binary) == "" {
		return errors.New("ffmpeg.binary or ffmpeg.artifact_url must be set")
	}
	if c.FFmpeg.ArtifactSHA256 != "" && len(c.FFmpeg.ArtifactSHA256) != 64 {
		return errors.New("ffmpeg.artifact_sha256 must be a hex-encoded SHA-256 digest")
	}
	return nil
}
