package store

import (
	"context"
	"errors"

	"github.com/seantiz/stillreel/internal/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobStats holds aggregate job statistics.
type JobStats struct {
	Total            int            `json:"total"`
	CountByStatus    map[string]int `json:"count_by_status"`
	CountByFormat    map[string]int `json:"count_by_format"`
	AvgDurationMS    float64        `json:"avg_duration_ms"`
	TotalOutputBytes int64          `json:"total_output_bytes"`
}

// Store defines the persistence operations for jobs.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	// GetJob returns the job record without its encoded output.
	GetJob(ctx context.Context, id string) (*model.Job, error)
	GetJobOutput(ctx context.Context, id string) ([]byte, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	UpdateJob(ctx context.Context, j *model.Job) error
	FailUnfinishedJobs(ctx context.Context, reason string) (int, error)
	GetJobStats(ctx context.Context) (*JobStats, error)
	InsertLogLine(ctx context.Context, jobID string, seq int, line string) error
	GetLogLines(ctx context.Context, jobID string) ([]model.LogLine, error)
	Close() error
}
