package ffmpeg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// fetchArtifact makes sure the engine binary from url is installed in
// cacheDir and returns its path. Concurrent processes sharing cacheDir are
// serialized on a lock file so the artifact is downloaded at most once.
func fetchArtifact(ctx context.Context, client *http.Client, url, wantSHA, cacheDir string, logger *slog.Logger) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	dest := filepath.Join(cacheDir, artifactFileName)

	lock := flock.New(dest + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", fmt.Errorf("acquire artifact lock: %w", err)
	}
	if !locked {
		return "", errors.New("acquire artifact lock: not acquired")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release artifact lock", "path", lock.Path(), "error", err)
		}
	}()

	wantSHA = strings.ToLower(strings.TrimSpace(wantSHA))
	if sum, err := fileSHA256(dest); err == nil {
		if wantSHA == "" || sum == wantSHA {
			logger.Debug("engine artifact cached", "path", dest)
			return dest, nil
		}
		logger.Warn("cached engine artifact checksum mismatch, downloading again", "path", dest, "sha256", sum)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download artifact: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(cacheDir, artifactFileName+".*.part")
	if err != nil {
		return "", fmt.Errorf("create artifact temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if wantSHA != "" && sum != wantSHA {
		return "", fmt.Errorf("artifact checksum mismatch: got %s, want %s", sum, wantSHA)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return "", fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("install artifact: %w", err)
	}

	artifactDownloadsTotal.Inc()
	logger.Info("engine artifact installed", "path", dest, "sha256", sum)
	return dest, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
