package jobs

import "context"

// Store persists job metadata for queue restart recovery. Persistence is a
// serialization sink: failures never alter in-memory job state.
type Store interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
}
