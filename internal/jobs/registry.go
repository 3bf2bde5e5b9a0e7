package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns the canonical state of every job. A single coarse lock covers
// the whole map: contention is low and torn reads matter more than
// parallelism. All reads return snapshots.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// CreateRequest carries everything needed to allocate a job record.
// ID may be pre-allocated by the caller (the submission path reserves it to
// namespace upload directories); empty means allocate one here.
type CreateRequest struct {
	ID        string
	ImagePath string
	AudioPath string
	VideoPath string
	Options   Options
}

func (r *Registry) Create(req CreateRequest) *Job {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	job := &Job{
		ID:        id,
		Status:    StatusQueued,
		Progress:  0.0,
		Message:   "Queued",
		ImagePath: req.ImagePath,
		AudioPath: req.AudioPath,
		VideoPath: req.VideoPath,
		Options:   req.Options,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[id] = job
	snapshot := cloneJob(job)
	r.mu.Unlock()
	return snapshot
}

func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	snapshot := cloneJob(job)
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return snapshot, true
}

func (r *Registry) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		ret = append(ret, cloneJob(job))
	}
	return ret
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Status   *Status
	Progress *float64
	Message  *string
	Error    *string
}

// Update applies a partial update and bumps UpdatedAt. Unknown ids report
// ok=false instead of failing: progress callbacks race job cleanup and are
// best-effort. Progress never regresses once it has reached 1.0.
func (r *Registry) Update(id string, patch Patch) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Progress != nil && !(job.Progress >= 1.0 && *patch.Progress < 1.0) {
		job.Progress = *patch.Progress
	}
	if patch.Message != nil {
		job.Message = *patch.Message
	}
	if patch.Error != nil {
		job.Error = *patch.Error
	}
	job.UpdatedAt = time.Now().UTC()
	return cloneJob(job), true
}

// Hydrate restores a job loaded from the persistent store. Existing records
// win; hydration only fills gaps after a restart.
func (r *Registry) Hydrate(job *Job) {
	if job == nil || job.ID == "" {
		return
	}
	r.mu.Lock()
	if _, exists := r.jobs[job.ID]; !exists {
		r.jobs[job.ID] = cloneJob(job)
	}
	r.mu.Unlock()
}

func statusPtr(s Status) *Status  { return &s }
func floatPtr(f float64) *float64 { return &f }
func stringPtr(v string) *string  { return &v }
