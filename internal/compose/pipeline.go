package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/stillreel/internal/backend"
	"github.com/seantiz/stillreel/internal/lifecycle"
	"github.com/seantiz/stillreel/internal/model"
	"github.com/seantiz/stillreel/internal/staging"
)

// Stage is the pipeline's position within one job.
type Stage int

// Job stages in order. Failed may follow any stage before Done.
const (
	StageIdle Stage = iota
	StageStaging
	StageEncoding
	StageFinalizing
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageIdle:       "idle",
	StageStaging:    "staging",
	StageEncoding:   "encoding",
	StageFinalizing: "finalizing",
	StageDone:       "done",
	StageFailed:     "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Request is one composition job.
type Request struct {
	Frames   []model.Frame
	Audio    *model.AudioTrack
	Settings model.JobSettings

	// Progress receives whole percentages in the order the engine reports them.
	Progress func(percent int)
	// Stage receives every stage transition.
	Stage func(Stage)
	// Log receives engine diagnostic lines.
	Log func(line string)
}

// Pipeline runs composition jobs against the engine owned by a lifecycle
// manager, one job at a time.
type Pipeline struct {
	engine *lifecycle.Manager
	canvas Canvas
	logger *slog.Logger

	mu sync.Mutex
}

// NewPipeline returns a pipeline rendering onto canvas. A zero canvas
// selects DefaultCanvas.
func NewPipeline(engine *lifecycle.Manager, canvas Canvas, logger *slog.Logger) *Pipeline {
	if canvas == (Canvas{}) {
		canvas = DefaultCanvas
	}
	return &Pipeline{engine: engine, canvas: canvas, logger: logger}
}

// Canvas returns the output frame size.
func (p *Pipeline) Canvas() Canvas {
	return p.canvas
}

// Validate checks a request without touching the engine.
func Validate(req Request) error {
	if len(req.Frames) == 0 {
		return ErrEmptyInput
	}
	if err := req.Settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	for i, f := range req.Frames {
		if f.Index != i {
			return fmt.Errorf("%w: frame at position %d has index %d", ErrInvalidSettings, i, f.Index)
		}
		if len(f.Data) == 0 {
			return fmt.Errorf("%w: frame %d is empty", ErrInvalidSettings, i)
		}
	}
	if req.Audio != nil && len(req.Audio.Data) == 0 {
		return fmt.Errorf("%w: audio track is empty", ErrInvalidSettings)
	}
	return nil
}

// Run composes one video. Every buffer staged for the job is released before
// Run returns, whatever the outcome, including cancellation of ctx.
func (p *Pipeline) Run(ctx context.Context, req Request) (result model.JobResult, err error) {
	if err := Validate(req); err != nil {
		return model.JobResult{}, err
	}
	if !p.mu.TryLock() {
		return model.JobResult{}, ErrBusy
	}
	defer p.mu.Unlock()

	setStage := func(s Stage) {
		if req.Stage != nil {
			req.Stage(s)
		}
	}
	defer func() {
		if err != nil {
			setStage(StageFailed)
		}
	}()

	start := time.Now()
	logger := p.logger.With("frames", len(req.Frames), "format", req.Settings.Format)

	eng, err := p.engine.EnsureReady(ctx)
	if err != nil {
		return model.JobResult{}, err
	}

	setStage(StageStaging)
	sess := staging.NewArea(eng, p.logger).NewSession()
	defer sess.Release(context.WithoutCancel(ctx))

	reporter := NewReporter(req.Progress)
	reporter.Reset()

	names := make([]string, len(req.Frames))
	for i, f := range req.Frames {
		names[i] = staging.FrameName(f.Index, f.Ext())
		if err := sess.Put(ctx, names[i], f.Data); err != nil {
			return model.JobResult{}, err
		}
	}
	if err := sess.Put(ctx, staging.ScriptName, []byte(BuildScript(names, req.Settings.DurationPerFrame))); err != nil {
		return model.JobResult{}, err
	}
	hasAudio := req.Audio != nil
	if hasAudio {
		if err := sess.Put(ctx, staging.AudioName, req.Audio.Data); err != nil {
			return model.JobResult{}, err
		}
	}
	output := staging.OutputName(req.Settings.Format)
	sess.Reserve(output)

	setStage(StageEncoding)
	total := req.Settings.TotalDuration(len(req.Frames))
	args := Plan(req.Settings, hasAudio, total, p.canvas)
	logger.Info("encoding", "total_seconds", total, "audio", hasAudio)

	sample, detach := reporter.Attach()
	res, err := eng.Exec(ctx, backend.ExecRequest{
		Args:     args,
		Progress: sample,
		LogWriter: func(line string) {
			logger.Debug("engine output", "line", line)
			if req.Log != nil {
				req.Log(line)
			}
		},
	})
	detach()
	if err != nil {
		return model.JobResult{}, &EncodeError{ExitCode: res.ExitCode, Err: err}
	}

	setStage(StageFinalizing)
	data, err := sess.Take(ctx, output)
	if err != nil {
		return model.JobResult{}, err
	}
	if len(data) == 0 {
		return model.JobResult{}, &EncodeError{Err: errors.New("engine produced an empty output")}
	}

	setStage(StageDone)
	logger.Info("composition finished",
		"output_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return model.JobResult{Data: data, MIMEType: req.Settings.Format.MIMEType()}, nil
}
