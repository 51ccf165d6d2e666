package compose

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/stillreel/internal/lifecycle"
	"github.com/seantiz/stillreel/internal/staging"
)

var (
	// ErrEmptyInput is returned when a job has no frames.
	ErrEmptyInput = errors.New("no frames to compose")

	// ErrInvalidSettings wraps every settings or frame-order validation failure.
	ErrInvalidSettings = errors.New("invalid job settings")

	// ErrBusy is returned when Run is called while another job is running
	// on the same pipeline.
	ErrBusy = errors.New("pipeline is busy with another job")
)

// EncodeError reports that the engine invocation failed or produced no output.
type EncodeError struct {
	ExitCode int
	Err      error
}

func (e *EncodeError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("encode failed (exit code %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("encode failed: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Error kinds reported by ErrorKind.
const (
	KindEngineInit      = "engine_init"
	KindStagingWrite    = "staging_write"
	KindStagingRead     = "staging_read"
	KindEncode          = "encode"
	KindEmptyInput      = "empty_input"
	KindInvalidSettings = "invalid_settings"
	KindBusy            = "busy"
	KindCanceled        = "canceled"
	KindInternal        = "internal"
)

// ErrorKind classifies an error returned by Run. It returns "" for nil.
// Explicit cancellation wins over the stage the job was in when it happened;
// deadlines are attributed to the stage that ran out of time.
func ErrorKind(err error) string {
	var (
		initErr   *lifecycle.InitError
		writeErr  *staging.WriteError
		readErr   *staging.ReadError
		encodeErr *EncodeError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrEmptyInput):
		return KindEmptyInput
	case errors.Is(err, ErrInvalidSettings):
		return KindInvalidSettings
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.As(err, &initErr):
		return KindEngineInit
	case errors.As(err, &writeErr):
		return KindStagingWrite
	case errors.As(err, &readErr):
		return KindStagingRead
	case errors.As(err, &encodeErr):
		return KindEncode
	case errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
