package ffmpeg

import (
	"os"
	"path/filepath"
)

// Config holds configuration for the ffmpeg engine.
type Config struct {
	// Binary is the ffmpeg executable, resolved through PATH when it is not
	// an absolute path. Ignored when ArtifactURL is set.
	Binary string

	// WorkDir is the parent directory of the private staging directory.
	// Empty means the system temp directory.
	WorkDir string

	// ArtifactURL, when set, is downloaded once into CacheDir and used as
	// the engine binary.
	ArtifactURL string

	// ArtifactSHA256 is the expected hex digest of the downloaded artifact.
	// Empty disables verification.
	ArtifactSHA256 string

	// CacheDir holds downloaded artifacts across runs.
	CacheDir string
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	cfg := Config{Binary: DefaultBinary}
	if dir, err := os.UserCacheDir(); err == nil {
		cfg.CacheDir = filepath.Join(dir, "stillreel")
	} else {
		cfg.CacheDir = filepath.Join(os.TempDir(), "stillreel-cache")
	}
	return cfg
}
