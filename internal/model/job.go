package model

import "time"

// Job status constants. A job moves through the composition stages in order
// and ends in exactly one terminal status.
const (
	StatusPending    = "pending"
	StatusStaging    = "staging"
	StatusEncoding   = "encoding"
	StatusFinalizing = "finalizing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusStaging: true,
		StatusFailed:  true,
	},
	StatusStaging: {
		StatusEncoding: true,
		StatusFailed:   true,
	},
	StatusEncoding: {
		StatusFinalizing: true,
		StatusFailed:     true,
	},
	StatusFinalizing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final job status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// LogLine represents a single persisted engine log line from a job.
type LogLine struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Job is the persisted record of one composition request.
type Job struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Format           string     `json:"format"`
	FrameCount       int        `json:"frame_count"`
	DurationPerFrame float64    `json:"duration_per_frame"`
	FrameRate        int        `json:"frame_rate"`
	HasAudio         bool       `json:"has_audio"`
	Progress         int        `json:"progress"`
	Output           []byte     `json:"-"`
	OutputSize       int        `json:"output_size,omitempty"`
	MIMEType         string     `json:"mime_type,omitempty"`
	Error            string     `json:"error,omitempty"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	DurationMS       *int       `json:"duration_ms,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}
