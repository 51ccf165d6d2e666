// Package memory provides an in-process engine that keeps its staging
// namespace in memory and simulates encoding. It backs the "memory" engine
// setting (dry runs) and the test suites of the packages above it.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/stillreel/internal/backend"
)

// BackendName is the name used when registering with the backend registry.
const BackendName = "memory"

// Version is reported through Capabilities once loaded.
const Version = "memory-1"

// Options configures latency and failure injection.
type Options struct {
	// LoadDelay simulates artifact fetch time.
	LoadDelay time.Duration
	// LoadErr is returned by every Load call when set.
	LoadErr error
	// VerifyErr is returned by Verify when set, simulating a load that
	// completed without producing a usable engine.
	VerifyErr error
	// ExecDelay simulates encode time; it is honoured with ctx cancellation.
	ExecDelay time.Duration
	// ExecErr makes every Exec fail after emitting progress.
	ExecErr error
	// EmptyOutput makes Exec write a zero-length output buffer.
	EmptyOutput bool
	// SkipOutput makes Exec succeed without writing its output buffer.
	SkipOutput bool
	// Progress overrides the progress samples emitted by Exec.
	Progress []float64

	FailWrite  func(name string) error
	FailRead   func(name string) error
	FailDelete func(name string) error
}

// Backend is an in-memory engine.
type Backend struct {
	opts Options

	mu     sync.Mutex
	files  map[string][]byte
	loaded bool
	execs  [][]string

	loads atomic.Int32
}

var _ backend.Backend = (*Backend)(nil)

// New creates an unloaded in-memory engine.
func New(opts Options) *Backend {
	return &Backend{
		opts:  opts,
		files: make(map[string][]byte),
	}
}

// Load marks the engine loaded after the configured delay.
func (b *Backend) Load(ctx context.Context) error {
	b.loads.Add(1)
	if b.opts.LoadDelay > 0 {
		select {
		case <-time.After(b.opts.LoadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.opts.LoadErr != nil {
		return b.opts.LoadErr
	}
	b.mu.Lock()
	b.loaded = true
	b.mu.Unlock()
	return nil
}

// Verify reports whether Load succeeded.
func (b *Backend) Verify(_ context.Context) error {
	if b.opts.VerifyErr != nil {
		return b.opts.VerifyErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return backend.ErrNotLoaded
	}
	return nil
}

// WriteFile stores a copy of data under name.
func (b *Backend) WriteFile(_ context.Context, name string, data []byte) error {
	if err := backend.ValidateName(name); err != nil {
		return err
	}
	if b.opts.FailWrite != nil {
		if err := b.opts.FailWrite(name); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return backend.ErrNotLoaded
	}
	b.files[name] = slices.Clone(data)
	return nil
}

// ReadFile returns a copy of the buffer stored under name.
func (b *Backend) ReadFile(_ context.Context, name string) ([]byte, error) {
	if b.opts.FailRead != nil {
		if err := b.opts.FailRead(name); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return nil, backend.ErrNotLoaded
	}
	data, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", name, backend.ErrNotExist)
	}
	return slices.Clone(data), nil
}

// DeleteFile removes name.
func (b *Backend) DeleteFile(_ context.Context, name string) error {
	if b.opts.FailDelete != nil {
		if err := b.opts.FailDelete(name); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[name]; !ok {
		return fmt.Errorf("delete %s: %w", name, backend.ErrNotExist)
	}
	delete(b.files, name)
	return nil
}

// Exec checks that every input the arguments reference has been staged,
// emits progress samples and writes a synthetic output buffer named by the
// last argument.
func (b *Backend) Exec(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
	start := time.Now()
	args := slices.Clone(req.Args)

	b.mu.Lock()
	if !b.loaded {
		b.mu.Unlock()
		return backend.ExecResult{}, backend.ErrNotLoaded
	}
	b.execs = append(b.execs, args)
	b.mu.Unlock()

	if len(args) == 0 {
		return backend.ExecResult{ExitCode: 1}, fmt.Errorf("no arguments")
	}
	output := args[len(args)-1]

	if err := b.checkInputs(args); err != nil {
		logLine(req, err.Error())
		return backend.ExecResult{ExitCode: 1}, err
	}
	logLine(req, "memory engine: "+strings.Join(args, " "))

	samples := b.opts.Progress
	if samples == nil {
		samples = []float64{0, 0.5, 1}
	}
	for _, s := range samples {
		if req.Progress != nil {
			req.Progress(s)
		}
	}

	if b.opts.ExecDelay > 0 {
		select {
		case <-time.After(b.opts.ExecDelay):
		case <-ctx.Done():
			return backend.ExecResult{ExitCode: -1}, ctx.Err()
		}
	}

	if b.opts.ExecErr != nil {
		logLine(req, b.opts.ExecErr.Error())
		return backend.ExecResult{ExitCode: 1}, b.opts.ExecErr
	}

	if !b.opts.SkipOutput {
		var data []byte
		if !b.opts.EmptyOutput {
			data = []byte("stillreel memory render\n" + strings.Join(args, " ") + "\n")
		}
		b.mu.Lock()
		b.files[output] = data
		b.mu.Unlock()
	}

	return backend.ExecResult{
		ExitCode:   0,
		DurationMS: int(time.Since(start).Milliseconds()),
	}, nil
}

// checkInputs verifies each "-i" operand exists; concat scripts also have
// every referenced file checked.
func (b *Backend) checkInputs(args []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	concat := false
	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "-f":
			concat = args[i+1] == "concat"
		case "-i":
			name := args[i+1]
			data, ok := b.files[name]
			if !ok {
				return fmt.Errorf("%s: No such file or directory", name)
			}
			if concat {
				for _, ref := range scriptRefs(string(data)) {
					if _, ok := b.files[ref]; !ok {
						return fmt.Errorf("%s: referenced by %s: No such file or directory", ref, name)
					}
				}
				concat = false
			}
		}
	}
	return nil
}

func scriptRefs(script string) []string {
	var refs []string
	sc := bufio.NewScanner(strings.NewReader(script))
	for sc.Scan() {
		if ref, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "file "); ok {
			refs = append(refs, strings.Trim(strings.TrimSpace(ref), "'"))
		}
	}
	return refs
}

func logLine(req backend.ExecRequest, line string) {
	if req.LogWriter != nil {
		req.LogWriter(line)
	}
}

// Capabilities reports the engine name and formats.
func (b *Backend) Capabilities() backend.Capabilities {
	caps := backend.Capabilities{
		Name:    BackendName,
		Formats: []string{"mp4", "webm", "avi"},
	}
	b.mu.Lock()
	if b.loaded {
		caps.Version = Version
	}
	b.mu.Unlock()
	return caps
}

// Close drops every staged buffer and unloads the engine.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = make(map[string][]byte)
	b.loaded = false
	return nil
}

// Loads returns how many times Load has been called.
func (b *Backend) Loads() int {
	return int(b.loads.Load())
}

// Names returns the currently staged names in sorted order.
func (b *Backend) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Execs returns the argument lists of every Exec call so far.
func (b *Backend) Execs() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]string, len(b.execs))
	for i, args := range b.execs {
		out[i] = slices.Clone(args)
	}
	return out
}
