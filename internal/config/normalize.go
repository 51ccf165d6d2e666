package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Engine.Name = strings.ToLower(strings.TrimSpace(c.Engine.Name))
	c.Defaults.Format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Defaults.Format), "."))
	c.Server.ListenAddr = strings.TrimSpace(c.Server.ListenAddr)
	return nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env   string
		field *string
	}{
		{envListenAddr, &c.Server.ListenAddr},
		{envDBPath, &c.Store.DBPath},
		{envLogLevel, &c.Logging.Level},
		{envLogFormat, &c.Logging.Format},
		{envEngine, &c.Engine.Name},
		{envFFmpegBin, &c.FFmpeg.Binary},
		{envWorkDir, &c.FFmpeg.WorkDir},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && strings.TrimSpace(v) != "" {
			*o.field = strings.TrimSpace(v)
		}
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Store.DBPath != ":memory:" {
		if c.Store.DBPath, err = expandPath(c.Store.DBPath); err != nil {
			return fmt.Errorf("store.db_path: %w", err)
		}
	}
	if c.FFmpeg.WorkDir, err = expandPath(c.FFmpeg.WorkDir); err != nil {
		return fmt.Errorf("ffmpeg.work_dir: %w", err)
	}
	if strings.TrimSpace(c.FFmpeg.CacheDir) == "" {
		c.FFmpeg.CacheDir = defaultCacheDir()
	}
	if c.FFmpeg.CacheDir, err = expandPath(c.FFmpeg.CacheDir); err != nil {
		return fmt.Errorf("ffmpeg.cache_dir: %w", err)
	}
	// A bare binary name is looked up on PATH, so only paths are expanded.
	if strings.ContainsAny(c.FFmpeg.Binary, `/\~`) {
		if c.FFmpeg.Binary, err = expandPath(c.FFmpeg.Binary); err != nil {
			return fmt.Errorf("ffmpeg.binary: %w", err)
		}
	}
	return nil
}
