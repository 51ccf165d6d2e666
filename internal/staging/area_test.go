package staging_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/seantiz/stillreel/internal/backend/memory"
	"github.com/seantiz/stillreel/internal/model"
	"github.com/seantiz/stillreel/internal/staging"
)

func newArea(t *testing.T, opts memory.Options) (*staging.Area, *memory.Backend, *bytes.Buffer) {
	t.Helper()
	mem := memory.New(opts)
	if err := mem.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	return staging.NewArea(mem, logger), mem, &logs
}

func TestFrameNames(t *testing.T) {
	names := []string{
		staging.FrameName(0, "png"),
		staging.FrameName(1, "png"),
		staging.FrameName(10, "jpg"),
		staging.FrameName(999, "png"),
	}
	want := []string{"img000.png", "img001.png", "img010.jpg", "img999.png"}
	if !slices.Equal(names, want) {
		t.Errorf("FrameName = %v, want %v", names, want)
	}
	if !slices.IsSorted(names) {
		t.Error("frame names do not sort in frame order")
	}
	for _, reserved := range []string{staging.ScriptName, staging.AudioName, staging.OutputName(model.FormatMP4)} {
		if strings.HasPrefix(reserved, "img") {
			t.Errorf("reserved name %q collides with frame prefix", reserved)
		}
	}
	if got := staging.OutputName(model.FormatWebM); got != "out.webm" {
		t.Errorf("OutputName = %q, want out.webm", got)
	}
}

func TestPutTakeOverwrite(t *testing.T) {
	area, _, _ := newArea(t, memory.Options{})
	ctx := context.Background()

	if err := area.Put(ctx, "list.txt", []byte("one")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := area.Put(ctx, "list.txt", []byte("two")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, err := area.Take(ctx, "list.txt")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if string(got) != "two" {
		t.Errorf("Take = %q, want %q", got, "two")
	}
}

func TestPutFailureIsWriteError(t *testing.T) {
	boom := errors.New("disk full")
	area, _, _ := newArea(t, memory.Options{FailWrite: func(string) error { return boom }})

	err := area.Put(context.Background(), "img000.png", []byte("x"))
	var werr *staging.WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("Put error = %v, want *WriteError", err)
	}
	if werr.Name != "img000.png" || !errors.Is(err, boom) {
		t.Errorf("WriteError = %+v", werr)
	}
}

func TestTakeMissingIsReadError(t *testing.T) {
	area, _, _ := newArea(t, memory.Options{})
	_, err := area.Take(context.Background(), "out.mp4")
	var rerr *staging.ReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("Take error = %v, want *ReadError", err)
	}
}

func TestDiscardSwallowsErrors(t *testing.T) {
	area, _, logs := newArea(t, memory.Options{FailDelete: func(string) error { return errors.New("busy") }})
	area.Discard(context.Background(), "img000.png")
	if !strings.Contains(logs.String(), "failed to discard staged buffer") {
		t.Errorf("expected warning log, got %q", logs.String())
	}
}

func TestDiscardMissingIsSilent(t *testing.T) {
	area, _, logs := newArea(t, memory.Options{})
	area.Discard(context.Background(), "never-written")
	if logs.Len() != 0 {
		t.Errorf("unexpected log output %q", logs.String())
	}
}

func TestSessionReleaseRemovesEverything(t *testing.T) {
	area, mem, _ := newArea(t, memory.Options{})
	ctx := context.Background()

	s := area.NewSession()
	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, staging.FrameName(i, "png"), []byte{byte(i)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.Put(ctx, staging.ScriptName, []byte("script")); err != nil {
		t.Fatalf("Put script: %v", err)
	}
	s.Reserve("out.mp4")
	s.Reserve("out.mp4")

	if got := len(s.Names()); got != 5 {
		t.Errorf("Names() = %d entries, want 5", got)
	}

	s.Release(ctx)
	if names := mem.Names(); len(names) != 0 {
		t.Errorf("namespace after Release = %v, want empty", names)
	}
	s.Release(ctx)
}

func TestSessionReleaseCoversFailedWrite(t *testing.T) {
	area, mem, _ := newArea(t, memory.Options{FailWrite: func(name string) error {
		if name == staging.ScriptName {
			return errors.New("no space")
		}
		return nil
	}})
	ctx := context.Background()

	s := area.NewSession()
	if err := s.Put(ctx, staging.FrameName(0, "png"), []byte("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, staging.ScriptName, []byte("s")); err == nil {
		t.Fatal("expected script write to fail")
	}
	s.Release(ctx)
	if names := mem.Names(); len(names) != 0 {
		t.Errorf("namespace after Release = %v, want empty", names)
	}
}

