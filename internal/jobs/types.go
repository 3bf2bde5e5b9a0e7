package jobs

import (
	"time"

	"github.com/google/uuid"
)

// NewID allocates a job identifier. Exposed so the submission path can
// reserve the id before creating the record: upload directories are
// namespaced by it.
func NewID() string {
	return uuid.NewString()
}

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Options carries per-request overrides layered over the configured defaults.
type Options map[string]any

// Job is one row per submitted request. Paths are exclusively owned by the
// job; no two jobs share a path.
type Job struct {
	ID        string    `json:"job_id"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	ImagePath string    `json:"input_image_path"`
	AudioPath string    `json:"input_audio_path"`
	VideoPath string    `json:"output_video_path"`
	Options   Options   `json:"options"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.Options != nil {
		opts := make(Options, len(job.Options))
		for k, v := range job.Options {
			opts[k] = v
		}
		tmp.Options = opts
	}
	return &tmp
}
