package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotLoaded is returned by namespace and exec calls made before Load succeeded.
var ErrNotLoaded = errors.New("engine not loaded")

// ErrNotExist is returned by ReadFile and DeleteFile for names that were never staged.
var ErrNotExist = errors.New("name does not exist in staging namespace")

// Backend is the interface that all encoding engines must implement.
// Implementations are not required to support concurrent Exec calls; the
// lifecycle manager and pipeline serialize access.
type Backend interface {
	// Load fetches and installs the engine's runtime artifacts.
	Load(ctx context.Context) error

	// Verify reports whether a loaded engine is actually usable. A nil error
	// from Load followed by a Verify failure is treated as a failed load.
	Verify(ctx context.Context) error

	// WriteFile stores data under name in the staging namespace, replacing
	// any existing buffer.
	WriteFile(ctx context.Context, name string, data []byte) error

	// ReadFile returns the buffer stored under name.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// DeleteFile removes name from the staging namespace.
	DeleteFile(ctx context.Context, name string) error

	// Exec runs one engine invocation against the staging namespace.
	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)

	// Capabilities reports the engine's name, version and supported formats.
	Capabilities() Capabilities

	// Close releases the engine instance and its staging namespace.
	Close() error
}

// ExecRequest describes one engine invocation.
type ExecRequest struct {
	Args []string `json:"args"`

	// Progress receives fractional progress samples in [0, 1] in the order the
	// engine produces them. Samples are not guaranteed to be monotonic.
	Progress func(fraction float64) `json:"-"`

	// LogWriter receives engine diagnostic lines as they are produced.
	LogWriter func(line string) `json:"-"`
}

// ExecResult holds the outcome of a completed invocation.
type ExecResult struct {
	ExitCode   int `json:"exit_code"`
	DurationMS int `json:"duration_ms"`
}

// Capabilities describes an engine.
type Capabilities struct {
	Name    string   `json:"name"`
	Version string   `json:"version,omitempty"`
	Formats []string `json:"formats"`
}

// ValidateName rejects staging names that could escape the namespace.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("empty staging name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid staging name %q", name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("staging name %q must not contain path separators", name)
	}
	return nil
}
