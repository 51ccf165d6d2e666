package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seantiz/stillreel/internal/backend"
)

// DefaultLoadTimeout bounds a load when the manager is built with a zero timeout.
const DefaultLoadTimeout = 5 * time.Minute

const loadKey = "engine"

// ErrShutdown is returned to callers of a load that Shutdown overtook.
var ErrShutdown = errors.New("engine shut down during load")

// Manager guards one engine instance.
type Manager struct {
	backend     backend.Backend
	logger      *slog.Logger
	loadTimeout time.Duration

	group singleflight.Group
	loads atomic.Int64

	mu     sync.Mutex
	state  State
	reason error
	// gen is bumped by Shutdown; a load started under an older gen discards
	// its result.
	gen        uint64
	cancelLoad context.CancelFunc
}

// NewManager returns a manager for b in the Uninitialized state. The engine
// is not loaded until the first EnsureReady.
func NewManager(b backend.Backend, loadTimeout time.Duration, logger *slog.Logger) *Manager {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	observeState(Uninitialized)
	return &Manager{
		backend:     b,
		logger:      logger,
		loadTimeout: loadTimeout,
	}
}

// EnsureReady returns the loaded engine, loading it first if needed.
//
// A Ready engine is returned without side effects. While a load is in flight
// every caller joins it and observes the same outcome. The load itself runs
// detached from ctx; cancelling ctx only stops this caller from waiting.
func (m *Manager) EnsureReady(ctx context.Context) (backend.Backend, error) {
	if m.ready() {
		return m.backend, nil
	}

	ch := m.group.DoChan(loadKey, func() (any, error) {
		return nil, m.load()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return m.backend, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for engine: %w", ctx.Err())
	}
}

func (m *Manager) ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Ready
}

// load runs one initialization attempt. A load that finished between the
// caller's ready check and joining the flight is not repeated.
func (m *Manager) load() error {
	m.mu.Lock()
	if m.state == Ready {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(Loading, nil)
	gen := m.gen
	ctx, cancel := context.WithTimeout(context.Background(), m.loadTimeout)
	m.cancelLoad = cancel
	m.mu.Unlock()
	defer cancel()

	m.loads.Add(1)
	name := m.backend.Capabilities().Name
	m.logger.Info("loading engine", "engine", name)

	start := time.Now()
	err := m.backend.Load(ctx)
	if err == nil {
		if verr := m.backend.Verify(ctx); verr != nil {
			err = fmt.Errorf("verify: %w", verr)
		}
	}
	elapsed := time.Since(start)

	var initErr *InitError
	if err != nil {
		initErr = &InitError{Err: err}
	}

	m.mu.Lock()
	m.cancelLoad = nil
	if m.gen != gen {
		// Shutdown already released the engine; undo whatever this load built.
		cerr := m.backend.Close()
		m.mu.Unlock()
		m.logger.Warn("discarding engine load overtaken by shutdown", "engine", name, "error", err, "close_error", cerr)
		return ErrShutdown
	}
	if initErr != nil {
		m.setStateLocked(Failed, initErr)
	} else {
		m.setStateLocked(Ready, nil)
	}
	m.mu.Unlock()

	if initErr != nil {
		engineLoadsTotal.WithLabelValues("failure").Inc()
		m.logger.Error("engine load failed",
			"engine", name,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return initErr
	}

	engineLoadsTotal.WithLabelValues("success").Inc()
	m.logger.Info("engine ready",
		"engine", name,
		"version", m.backend.Capabilities().Version,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (m *Manager) setStateLocked(s State, reason error) {
	m.state = s
	m.reason = reason
	observeState(s)
}

// State returns the current state and, when Failed, the reason.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.reason
}

// Loads returns the number of initialization attempts so far.
func (m *Manager) Loads() int {
	return int(m.loads.Load())
}

// Capabilities describes the managed engine.
func (m *Manager) Capabilities() backend.Capabilities {
	return m.backend.Capabilities()
}

// Shutdown releases the engine and returns the manager to Uninitialized.
// A load still in flight is canceled and its result discarded; its callers
// get ErrShutdown.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if m.cancelLoad != nil {
		m.cancelLoad()
		m.cancelLoad = nil
	}
	err := m.backend.Close()
	m.setStateLocked(Uninitialized, nil)
	m.logger.Info("engine shut down", "engine", m.backend.Capabilities().Name)
	if err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	return nil
}
