package jobs

import (
	"context"

	"github.com/avatarlabs/avatar-studio/pkg/log"
)

// HydrateFromStore restores persisted jobs into the registry after a restart.
// Jobs caught mid-run by the previous process are demoted back to queued and
// re-enqueued together with jobs that never started.
func HydrateFromStore(ctx context.Context, registry *Registry, queue *Queue, store Store) {
	if store == nil {
		return
	}
	loaded, err := store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	for _, job := range loaded {
		if job == nil || job.ID == "" {
			continue
		}
		requeue := false
		if job.Status == StatusRunning || job.Status == StatusQueued {
			job.Status = StatusQueued
			job.Progress = 0.0
			job.Message = "Queued"
			requeue = true
		}
		registry.Hydrate(job)
		if requeue {
			queue.Enqueue(job.ID)
			if err := store.UpsertJob(ctx, job); err != nil {
				log.Error("Failed to persist requeued job %s: %v", job.ID, err)
			}
		}
	}
	log.Info("Hydrated %d jobs from store", len(loaded))
}
