package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/stillreel/internal/compose"
	"github.com/seantiz/stillreel/internal/model"
	"github.com/seantiz/stillreel/internal/store"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultQueueSize  = 16
	DefaultJobTimeout = 10 * time.Minute
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("job queue is full")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("engine is stopped")

	// ErrJobFinished is returned by Cancel for a job that already ended.
	ErrJobFinished = errors.New("job already finished")

	// ErrJobCanceled is the cancellation cause of a job stopped by Cancel.
	ErrJobCanceled = errors.New("job canceled")
)

// Config tunes the job runner.
type Config struct {
	QueueSize  int
	JobTimeout time.Duration
}

// Input is what a caller submits for one job.
type Input struct {
	Frames   []model.Frame
	Audio    *model.AudioTrack
	Settings model.JobSettings
}

// task is one queued job. canceled and cancel are guarded by Engine.tasksMu.
type task struct {
	job   *model.Job
	input Input

	canceled bool
	ctx      context.Context
	cancel   context.CancelCauseFunc
}

// Engine orchestrates asynchronous job execution.
type Engine struct {
	store      store.Store
	pipeline   *compose.Pipeline
	logger     *slog.Logger
	jobTimeout time.Duration

	progress *Broker[int]
	logs     *Broker[string]

	mu      sync.RWMutex
	stopped bool
	queue   chan *task

	tasksMu sync.Mutex
	tasks   map[string]*task

	ctx     context.Context
	cancel  context.CancelFunc
	worker  sync.WaitGroup
	pending sync.WaitGroup
}

// NewEngine creates a job runner. Call Start before submitting.
func NewEngine(s store.Store, p *compose.Pipeline, cfg Config, logger *slog.Logger) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      s,
		pipeline:   p,
		logger:     logger,
		jobTimeout: cfg.JobTimeout,
		progress:   NewBroker[int](),
		logs:       NewBroker[string](),
		queue:      make(chan *task, cfg.QueueSize),
		tasks:      make(map[string]*task),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Progress returns the broker streaming whole-percent progress per job.
func (e *Engine) Progress() *Broker[int] {
	return e.progress
}

// Logs returns the broker streaming engine log lines per job.
func (e *Engine) Logs() *Broker[string] {
	return e.logs
}

// QueueCapacity reports how many jobs may wait behind the running one.
func (e *Engine) QueueCapacity() int {
	return cap(e.queue)
}

// Start launches the worker.
func (e *Engine) Start() {
	e.worker.Go(e.run)
}

// Stop rejects new submissions, cancels the running job, fails every job
// still queued and waits for the worker to exit or ctx to end.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.queue)
	}
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for worker: %w", ctx.Err())
	}
}

// Wait blocks until every submitted job has finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// Submit validates the input, records a pending job and queues it. The
// returned job is a copy of the stored record.
func (e *Engine) Submit(ctx context.Context, in Input) (*model.Job, error) {
	if err := compose.Validate(compose.Request{Frames: in.Frames, Audio: in.Audio, Settings: in.Settings}); err != nil {
		return nil, err
	}

	j := &model.Job{
		ID:               model.NewID(),
		Status:           model.StatusPending,
		Format:           string(in.Settings.Format),
		FrameCount:       len(in.Frames),
		DurationPerFrame: in.Settings.DurationPerFrame,
		FrameRate:        in.Settings.FrameRate,
		HasAudio:         in.Audio != nil,
		CreatedAt:        time.Now().UTC(),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return nil, ErrStopped
	}

	if err := e.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	jCopy := *j
	t := &task{job: &jCopy, input: in}
	e.track(t)
	e.pending.Add(1)
	select {
	case e.queue <- t:
		queueDepth.Inc()
	default:
		e.pending.Done()
		e.forget(t)
		e.finishFailed(j, nil, compose.KindBusy, ErrQueueFull.Error())
		e.closeStreams(j.ID)
		return nil, ErrQueueFull
	}

	e.logger.Info("job queued", "job_id", j.ID, "frames", j.FrameCount, "format", j.Format)
	return j, nil
}

// run drains the queue one job at a time until Stop closes it.
func (e *Engine) run() {
	for t := range e.queue {
		queueDepth.Dec()
		switch {
		case !e.begin(t):
			// Canceled while queued and already recorded as failed.
		case e.ctx.Err() != nil:
			e.finishFailed(t.job, nil, compose.KindCanceled, "engine stopped before the job started")
			e.closeStreams(t.job.ID)
		default:
			e.execute(t)
		}
		e.forget(t)
		e.pending.Done()
	}
}

func (e *Engine) track(t *task) {
	e.tasksMu.Lock()
	e.tasks[t.job.ID] = t
	e.tasksMu.Unlock()
}

// begin gives t its own cancelable context unless it was canceled while
// queued.
func (e *Engine) begin(t *task) bool {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	if t.canceled {
		return false
	}
	t.ctx, t.cancel = context.WithCancelCause(e.ctx)
	return true
}

func (e *Engine) forget(t *task) {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	delete(e.tasks, t.job.ID)
	if t.cancel != nil {
		t.cancel(nil)
	}
}

// Cancel stops a job. A queued job is failed immediately and skipped by the
// worker; a running job has its context canceled and fails once the pipeline
// unwinds and releases its staged names. A job that finishes before the
// cancellation lands keeps its result.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.tasksMu.Lock()
	t, ok := e.tasks[id]
	if !ok || t.canceled {
		e.tasksMu.Unlock()
		if _, err := e.store.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrJobFinished
	}
	if t.cancel != nil {
		t.cancel(ErrJobCanceled)
		e.tasksMu.Unlock()
		e.logger.Info("job cancel requested", "job_id", id)
		return nil
	}
	t.canceled = true
	e.tasksMu.Unlock()

	e.finishFailed(t.job, nil, compose.KindCanceled, "job canceled before it started")
	e.closeStreams(id)
	e.logger.Info("queued job canceled", "job_id", id)
	return nil
}

// execute runs one job through the pipeline: pending -> staging -> encoding
// -> finalizing -> completed, or failed from any of them.
func (e *Engine) execute(t *task) {
	j := t.job
	defer e.closeStreams(j.ID)

	ctx, cancel := context.WithTimeout(t.ctx, e.jobTimeout)
	defer cancel()

	logger := e.logger.With("job_id", j.ID)

	// Log lines are persisted for history, then published for live streams.
	var seq atomic.Int32
	var lastProgress atomic.Int32
	lastProgress.Store(-1)

	req := compose.Request{
		Frames:   t.input.Frames,
		Audio:    t.input.Audio,
		Settings: t.input.Settings,
		Progress: func(pct int) {
			if lastProgress.Swap(int32(pct)) != int32(pct) {
				if err := e.store.UpdateJobProgress(context.Background(), j.ID, pct); err != nil {
					logger.Error("failed to persist progress", "progress", pct, "error", err)
				}
			}
			e.progress.Publish(j.ID, pct)
		},
		Stage: func(s compose.Stage) {
			status, ok := stageStatus[s]
			if !ok {
				return
			}
			if err := e.store.UpdateJobStatus(context.Background(), j.ID, status); err != nil {
				logger.Error("failed to record stage", "stage", s.String(), "error", err)
			}
		},
		Log: func(line string) {
			currentSeq := int(seq.Add(1) - 1)
			if err := e.store.InsertLogLine(context.Background(), j.ID, currentSeq, line); err != nil {
				logger.Error("failed to persist log line", "seq", currentSeq, "error", err)
			}
			e.logs.Publish(j.ID, line)
		},
	}

	// Captured before the pipeline runs so started_at is consistent across
	// success and every failure path.
	start := time.Now().UTC()
	res, err := e.pipeline.Run(ctx, req)
	elapsed := time.Since(start)
	jobDuration.WithLabelValues(j.Format).Observe(elapsed.Seconds())

	if err != nil {
		kind := compose.ErrorKind(err)
		msg := err.Error()
		switch {
		case errors.Is(context.Cause(t.ctx), ErrJobCanceled):
			kind = compose.KindCanceled
			msg = fmt.Sprintf("%v: %v", ErrJobCanceled, err)
		case errors.Is(err, context.DeadlineExceeded) && e.ctx.Err() == nil:
			msg = fmt.Sprintf("job timed out after %s: %v", e.jobTimeout, err)
		}
		logger.Warn("job failed", "error_kind", kind, "error", err, "duration_ms", elapsed.Milliseconds())
		e.finishFailed(j, &start, kind, msg)
		return
	}

	now := time.Now().UTC()
	dur := int(elapsed.Milliseconds())
	completed := &model.Job{
		ID:         j.ID,
		Status:     model.StatusCompleted,
		Progress:   100,
		Output:     res.Data,
		MIMEType:   res.MIMEType,
		DurationMS: &dur,
		StartedAt:  &start,
		FinishedAt: &now,
	}
	if err := e.store.UpdateJob(context.Background(), completed); err != nil {
		logger.Error("failed to update completed job", "error", err)
	}
	jobsTotal.WithLabelValues(j.Format, model.StatusCompleted).Inc()
	logger.Info("job completed", "output_bytes", len(res.Data), "duration_ms", dur)
}

var stageStatus = map[compose.Stage]string{
	compose.StageStaging:    model.StatusStaging,
	compose.StageEncoding:   model.StatusEncoding,
	compose.StageFinalizing: model.StatusFinalizing,
}

// finishFailed marks a job failed. startedAt is nil if the job never ran.
func (e *Engine) finishFailed(j *model.Job, startedAt *time.Time, kind, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	current, err := e.store.GetJob(context.Background(), j.ID)
	progress := 0
	if err == nil {
		progress = current.Progress
	}

	failed := &model.Job{
		ID:         j.ID,
		Status:     model.StatusFailed,
		Progress:   progress,
		Error:      errMsg,
		ErrorKind:  kind,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}
	if err := e.store.UpdateJob(context.Background(), failed); err != nil {
		e.logger.Error("failed to update failed job", "job_id", j.ID, "error", err)
	}
	jobsTotal.WithLabelValues(j.Format, model.StatusFailed).Inc()
}

func (e *Engine) closeStreams(id string) {
	e.progress.Close(id)
	e.logs.Close(id)
}
