package staging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/seantiz/stillreel/internal/backend"
)

// Area stages buffers into a backend's namespace.
type Area struct {
	ns     backend.Backend
	logger *slog.Logger
}

// NewArea returns an Area writing into ns.
func NewArea(ns backend.Backend, logger *slog.Logger) *Area {
	return &Area{ns: ns, logger: logger}
}

// Put writes data under name, overwriting any existing buffer.
func (a *Area) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Name: name, Err: err}
	}
	if err := a.ns.WriteFile(ctx, name, data); err != nil {
		return &WriteError{Name: name, Err: err}
	}
	return nil
}

// Take reads the buffer stored under name.
func (a *Area) Take(ctx context.Context, name string) ([]byte, error) {
	data, err := a.ns.ReadFile(ctx, name)
	if err != nil {
		return nil, &ReadError{Name: name, Err: err}
	}
	return data, nil
}

// Discard deletes name. A name that was never written is not a failure;
// anything else is logged and swallowed.
func (a *Area) Discard(ctx context.Context, name string) {
	err := a.ns.DeleteFile(ctx, name)
	if err == nil || errors.Is(err, backend.ErrNotExist) {
		return
	}
	a.logger.Warn("failed to discard staged buffer",
		"name", name,
		"error", err,
		"impact", "buffer left in engine namespace",
	)
}

// Session tracks every name staged for one job so all of them can be
// released together on any exit path.
type Session struct {
	area *Area

	mu       sync.Mutex
	names    []string
	seen     map[string]bool
	released bool
}

// NewSession starts tracking names for one job.
func (a *Area) NewSession() *Session {
	return &Session{area: a, seen: make(map[string]bool)}
}

// Reserve records name for release without writing it, for buffers the
// engine creates itself such as the encoded output.
func (s *Session) Reserve(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seen[name] {
		s.seen[name] = true
		s.names = append(s.names, name)
	}
}

// Put stages data under name and records it for release. The name is
// recorded before the write so a partially written buffer is still removed.
func (s *Session) Put(ctx context.Context, name string, data []byte) error {
	s.Reserve(name)
	return s.area.Put(ctx, name, data)
}

// Take reads a staged buffer.
func (s *Session) Take(ctx context.Context, name string) ([]byte, error) {
	return s.area.Take(ctx, name)
}

// Names returns the names recorded so far in staging order.
func (s *Session) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// Release discards every recorded name. It runs at most once.
func (s *Session) Release(ctx context.Context) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	names := s.names
	s.mu.Unlock()

	for _, name := range names {
		s.area.Discard(ctx, name)
	}
}
