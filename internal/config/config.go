package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/seantiz/stillreel/internal/backend/ffmpeg"
	"github.com/seantiz/stillreel/internal/compose"
	"github.com/seantiz/stillreel/internal/model"
)

//go:embed sample_config.toml
var sampleConfig string

// Server configures the HTTP API.
type Server struct {
	ListenAddr  string `toml:"listen_addr"`
	MaxUploadMB int    `toml:"max_upload_mb"`
}

// Store configures job persistence.
type Store struct {
	DBPath string `toml:"db_path"`
}

// Logging configures the structured logger.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Engine selects and tunes the encoding engine.
type Engine struct {
	Name         string `toml:"name"`
	LoadTimeoutS int    `toml:"load_timeout_s"`
	JobTimeoutS  int    `toml:"job_timeout_s"`
	QueueSize    int    `toml:"queue_size"`
	CanvasWidth  int    `toml:"canvas_width"`
	CanvasHeight int    `toml:"canvas_height"`
}

// FFmpeg configures the ffmpeg engine.
type FFmpeg struct {
	Binary         string `toml:"binary"`
	WorkDir        string `toml:"work_dir"`
	ArtifactURL    string `toml:"artifact_url"`
	ArtifactSHA256 string `toml:"artifact_sha256"`
	CacheDir       string `toml:"cache_dir"`
}

// Defaults are the job settings used when a request leaves them out.
type Defaults struct {
	Duration float64 `toml:"duration"`
	FPS      int     `toml:"fps"`
	Format   string  `toml:"format"`
}

// Config is the complete stillreel configuration.
type Config struct {
	Server   Server   `toml:"server"`
	Store    Store    `toml:"store"`
	Logging  Logging  `toml:"logging"`
	Engine   Engine   `toml:"engine"`
	FFmpeg   FFmpeg   `toml:"ffmpeg"`
	Defaults Defaults `toml:"defaults"`
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads configuration from path, or from the first of $STILLREEL_CONFIG,
// the per-user file and ./stillreel.toml that exists. A missing file is not
// an error. Load returns the resolved path and whether it existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envConfig))
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	userPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(userPath); err == nil && !info.IsDir() {
		return userPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return userPath, false, nil
}

// CreateSample writes a commented sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() slog.Level {
	return ParseLogLevel(c.Logging.Level)
}

// LoadTimeout bounds one engine initialization.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Engine.LoadTimeoutS) * time.Second
}

// JobTimeout bounds one composition job.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Engine.JobTimeoutS) * time.Second
}

// Canvas returns the output frame size.
func (c *Config) Canvas() compose.Canvas {
	return compose.Canvas{Width: c.Engine.CanvasWidth, Height: c.Engine.CanvasHeight}
}

// JobDefaults returns the job settings applied to requests that omit them.
func (c *Config) JobDefaults() model.JobSettings {
	return model.JobSettings{
		DurationPerFrame: c.Defaults.Duration,
		FrameRate:        c.Defaults.FPS,
		Format:           model.OutputFormat(c.Defaults.Format),
	}
}

// FFmpegConfig returns the ffmpeg engine configuration.
func (c *Config) FFmpegConfig() ffmpeg.Config {
	return ffmpeg.Config{
		Binary:         c.FFmpeg.Binary,
		WorkDir:        c.FFmpeg.WorkDir,
		ArtifactURL:    c.FFmpeg.ArtifactURL,
		ArtifactSHA256: c.FFmpeg.ArtifactSHA256,
		CacheDir:       c.FFmpeg.CacheDir,
	}
}

// ParseLogLevel maps a level name to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w at level. format
// selects "text" output; anything else produces JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, defaultCacheSubdir)
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, defaultCacheSubdir)
	}
	return filepath.Join(os.TempDir(), defaultCacheSubdir+"-cache")
}
