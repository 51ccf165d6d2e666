package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/stillreel/internal/backend"
)

// Backend implements the backend.Backend interface using the ffmpeg binary.
type Backend struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	mu        sync.Mutex
	binary    string
	version   string
	workspace string
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend creates an unloaded ffmpeg engine.
func NewBackend(cfg Config, logger *slog.Logger) *Backend {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	return &Backend{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Load resolves the engine binary, downloading it first when an artifact URL
// is configured, and creates a fresh private staging directory.
func (b *Backend) Load(ctx context.Context) error {
	start := time.Now()
	defer func() { loadDuration.Observe(time.Since(start).Seconds()) }()

	bin, err := b.resolveBinary(ctx)
	if err != nil {
		return err
	}

	if b.cfg.WorkDir != "" {
		if err := os.MkdirAll(b.cfg.WorkDir, 0o755); err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
	}
	ws, err := os.MkdirTemp(b.cfg.WorkDir, workspacePrefix)
	if err != nil {
		return fmt.Errorf("create staging workspace: %w", err)
	}

	b.mu.Lock()
	previous := b.workspace
	b.binary = bin
	b.workspace = ws
	b.version = ""
	b.mu.Unlock()

	if previous != "" {
		if err := os.RemoveAll(previous); err != nil {
			b.logger.Warn("failed to remove previous staging workspace", "path", previous, "error", err)
		}
	}

	b.logger.Info("ffmpeg engine loaded", "binary", bin, "workspace", ws)
	return nil
}

func (b *Backend) resolveBinary(ctx context.Context) (string, error) {
	if url := strings.TrimSpace(b.cfg.ArtifactURL); url != "" {
		path, err := fetchArtifact(ctx, b.client, url, b.cfg.ArtifactSHA256, b.cfg.CacheDir, b.logger)
		if err != nil {
			return "", fmt.Errorf("fetch engine artifact: %w", err)
		}
		return path, nil
	}
	path, err := exec.LookPath(b.cfg.Binary)
	if err != nil {
		return "", fmt.Errorf("binary %q not found: %w", b.cfg.Binary, err)
	}
	return path, nil
}

// Verify runs "ffmpeg -version" and checks that the binary identifies itself
// as ffmpeg and that the staging workspace exists.
func (b *Backend) Verify(ctx context.Context) error {
	b.mu.Lock()
	bin, ws := b.binary, b.workspace
	b.mu.Unlock()
	if bin == "" || ws == "" {
		return backend.ErrNotLoaded
	}

	if info, err := os.Stat(ws); err != nil || !info.IsDir() {
		return fmt.Errorf("staging workspace %s unavailable: %w", ws, err)
	}

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "-hide_banner", "-version").Output()
	if err != nil {
		return fmt.Errorf("run %s -version: %w", bin, err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	if !strings.HasPrefix(first, versionPrefix) {
		return fmt.Errorf("%s does not identify as ffmpeg: %q", bin, first)
	}
	fields := strings.Fields(strings.TrimPrefix(first, versionPrefix))

	b.mu.Lock()
	if len(fields) > 0 {
		b.version = fields[0]
	}
	b.mu.Unlock()
	return nil
}

// path maps a staging name to a file inside the workspace.
func (b *Backend) path(name string) (string, error) {
	if err := backend.ValidateName(name); err != nil {
		return "", err
	}
	b.mu.Lock()
	ws := b.workspace
	b.mu.Unlock()
	if ws == "" {
		return "", backend.ErrNotLoaded
	}
	return filepath.Join(ws, name), nil
}

// WriteFile writes data to name in the workspace.
func (b *Backend) WriteFile(_ context.Context, name string, data []byte) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// ReadFile reads name from the workspace.
func (b *Backend) ReadFile(_ context.Context, name string) ([]byte, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", name, backend.ErrNotExist)
	}
	return data, err
}

// DeleteFile removes name from the workspace.
func (b *Backend) DeleteFile(_ context.Context, name string) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", name, backend.ErrNotExist)
	}
	return err
}

// Exec runs ffmpeg in the workspace with req.Args. Progress and diagnostics
// are drained concurrently; a non-zero exit is returned as an error carrying
// the last diagnostic lines.
func (b *Backend) Exec(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
	b.mu.Lock()
	bin, ws := b.binary, b.workspace
	b.mu.Unlock()
	if bin == "" || ws == "" {
		return backend.ExecResult{}, backend.ErrNotLoaded
	}

	start := time.Now()
	args := append(append([]string{}, progressArgs...), req.Args...)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = ws

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return backend.ExecResult{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return backend.ExecResult{}, fmt.Errorf("stderr pipe: %w", err)
	}

	b.logger.Debug("starting ffmpeg", "args", strings.Join(req.Args, " "))
	if err := cmd.Start(); err != nil {
		execsTotal.WithLabelValues(resultFailure).Inc()
		return backend.ExecResult{}, fmt.Errorf("start ffmpeg: %w", err)
	}

	tracker := newProgressTracker(req.Args, req.Progress)
	var tail []string
	var g errgroup.Group
	g.Go(func() error {
		return tracker.readProgress(stdout)
	})
	g.Go(func() error {
		var err error
		tail, err = tracker.readDiagnostics(stderr, req.LogWriter)
		return err
	})
	readErr := g.Wait()
	waitErr := cmd.Wait()

	elapsed := time.Since(start)
	execDuration.Observe(elapsed.Seconds())
	result := backend.ExecResult{
		ExitCode:   cmd.ProcessState.ExitCode(),
		DurationMS: int(elapsed.Milliseconds()),
	}

	if waitErr != nil {
		execsTotal.WithLabelValues(resultFailure).Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return result, fmt.Errorf("ffmpeg exited with code %d: %s", result.ExitCode, lastLines(tail, 3))
	}
	if readErr != nil {
		b.logger.Warn("ffmpeg output reader failed", "error", readErr)
	}

	execsTotal.WithLabelValues(resultSuccess).Inc()
	return result, nil
}

func lastLines(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	var buf bytes.Buffer
	for i, l := range lines {
		if i > 0 {
			buf.WriteString(" | ")
		}
		buf.WriteString(strings.TrimSpace(l))
	}
	return buf.String()
}

// Capabilities reports the engine name, verified version and formats.
func (b *Backend) Capabilities() backend.Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	return backend.Capabilities{
		Name:    BackendName,
		Version: b.version,
		Formats: SupportedFormats,
	}
}

// Close removes the staging workspace and forgets the resolved binary.
func (b *Backend) Close() error {
	b.mu.Lock()
	ws := b.workspace
	b.workspace = ""
	b.binary = ""
	b.version = ""
	b.mu.Unlock()

	if ws == "" {
		return nil
	}
	if err := os.RemoveAll(ws); err != nil {
		return fmt.Errorf("remove staging workspace: %w", err)
	}
	return nil
}
