package jobs

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/avatarlabs/avatar-studio/internal/cache"
	"github.com/avatarlabs/avatar-studio/pkg/file"
	"github.com/avatarlabs/avatar-studio/pkg/log"
)

const maxErrorLen = 4000

// Worker is the single consumer of the queue. Generation is intentionally
// serialized: one heavy compute job at a time keeps a single machine's
// GPU/CPU from being oversubscribed.
type Worker struct {
	registry *Registry
	queue    *Queue
	store    Store

	backend       string
	backendConfig map[string]any
	gen           Generator
	cache         *cache.Cache // nil disables caching

	inflight singleflight.Group
}

type WorkerConfig struct {
	Backend       string
	BackendConfig map[string]any
	Generator     Generator
	Cache         *cache.Cache
	Store         Store
}

func NewWorker(registry *Registry, queue *Queue, cfg WorkerConfig) *Worker {
	return &Worker{
		registry:      registry,
		queue:         queue,
		store:         cfg.Store,
		backend:       cfg.Backend,
		backendConfig: cfg.BackendConfig,
		gen:           cfg.Generator,
		cache:         cfg.Cache,
	}
}

// Run drains the queue until ctx is done. Cancellation only stops pulling the
// next job; a job already dispatched to a generator runs to completion.
func (w *Worker) Run(ctx context.Context) {
	log.Info("Worker started, backend=%s", w.backend)
	for {
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			log.Info("Worker stopped: %v", err)
			return
		}
		w.process(context.WithoutCancel(ctx), id)
	}
}

func (w *Worker) process(ctx context.Context, id string) {
	job, ok := w.registry.Get(id)
	if !ok {
		// Job vanished between enqueue and dequeue; nothing to report.
		return
	}

	w.registry.Update(id, Patch{
		Status:   statusPtr(StatusRunning),
		Progress: floatPtr(0.01),
		Message:  stringPtr("Starting"),
	})

	if err := w.execute(ctx, job); err != nil {
		w.registry.Update(id, Patch{
			Status:   statusPtr(StatusFailed),
			Progress: floatPtr(1.0),
			Message:  stringPtr("Failed"),
			Error:    stringPtr(truncate(err.Error(), maxErrorLen)),
		})
	}

	w.persist(ctx, id)
}

// execute runs the cache-or-generate path and applies the terminal success
// transition itself. Any returned error becomes the job's terminal failure.
func (w *Worker) execute(ctx context.Context, job *Job) error {
	if w.cache == nil {
		if err := w.runGenerate(ctx, job); err != nil {
			return err
		}
		if !file.Exists(job.VideoPath) {
			return fmt.Errorf("generator reported success but produced no output at %s", job.VideoPath)
		}
		w.succeed(job.ID, "Ready")
		return nil
	}

	digest, err := w.cache.Fingerprint(w.backend, w.backendConfig, job.ImagePath, job.AudioPath, job.Options)
	if err != nil {
		return fmt.Errorf("compute cache fingerprint: %w", err)
	}

	if cached, ok := w.cache.Lookup(digest); ok {
		if err := file.Copy(cached, job.VideoPath); err != nil {
			return fmt.Errorf("copy cached artifact: %w", err)
		}
		w.succeed(job.ID, "Ready (cache hit)")
		return nil
	}

	// Per-fingerprint single-flight: a second identical request appearing
	// while this one is still computing reuses the same artifact instead of
	// generating twice.
	artifact, err, shared := w.inflight.Do(digest, func() (any, error) {
		if err := w.runGenerate(ctx, job); err != nil {
			return nil, err
		}
		if !file.Exists(job.VideoPath) {
			return nil, fmt.Errorf("generator reported success but produced no output at %s", job.VideoPath)
		}
		stored, err := w.cache.Store(digest, job.VideoPath)
		if err != nil {
			log.Warn("Failed to store cache artifact for %s: %v", digest, err)
			return job.VideoPath, nil
		}
		return stored, nil
	})
	if err != nil {
		return err
	}

	src := artifact.(string)
	if src != job.VideoPath {
		if err := file.Copy(src, job.VideoPath); err != nil {
			return fmt.Errorf("copy generated artifact: %w", err)
		}
	}
	if shared {
		w.succeed(job.ID, "Ready (cache hit)")
		return nil
	}
	w.succeed(job.ID, "Ready")
	return nil
}

func (w *Worker) succeed(id, message string) {
	w.registry.Update(id, Patch{
		Progress: floatPtr(1.0),
		Message:  stringPtr(message),
	})
	w.registry.Update(id, Patch{
		Status: statusPtr(StatusSucceeded),
	})
}

// runGenerate dispatches the generator call to its own goroutine and relays
// progress callbacks over a channel, so registry mutation stays on the worker
// goroutine while the callbacks may fire from anywhere. The events channel is
// never closed: a misbehaving generator that keeps calling the progress
// callback after Generate returned just blocks on quit instead of panicking.
func (w *Worker) runGenerate(ctx context.Context, job *Job) error {
	type event struct {
		frac float64
		msg  string
	}
	events := make(chan event, 16)
	done := make(chan error, 1)
	quit := make(chan struct{})

	go func() {
		done <- w.gen.Generate(ctx, job.ImagePath, job.AudioPath, job.VideoPath, job.Options,
			func(frac float64, msg string) {
				select {
				case events <- event{frac: frac, msg: msg}:
				case <-quit:
				}
			})
	}()

	apply := func(ev event) {
		w.registry.Update(job.ID, Patch{
			Progress: floatPtr(clampFraction(ev.frac)),
			Message:  stringPtr(ev.msg),
		})
	}

	for {
		select {
		case ev := <-events:
			apply(ev)
		case err := <-done:
			close(quit)
			// Drain updates already buffered before Generate returned.
			for {
				select {
				case ev := <-events:
					apply(ev)
				default:
					return err
				}
			}
		}
	}
}

// persist writes the latest job state to the store and the job.json snapshot.
// Best-effort: failures are logged, never surfaced into job status.
func (w *Worker) persist(ctx context.Context, id string) {
	latest, ok := w.registry.Get(id)
	if !ok {
		return
	}
	if w.store != nil {
		if err := w.store.UpsertJob(ctx, latest); err != nil {
			log.Error("Failed to persist job %s: %v", id, err)
		}
	}
	if err := WriteMetaSnapshot(latest); err != nil {
		log.Error("Failed to write meta snapshot for job %s: %v", id, err)
	}
}

func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
