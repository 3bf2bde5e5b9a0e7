package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/avatarlabs/avatar-studio/internal/config"
	"github.com/avatarlabs/avatar-studio/internal/jobs"
	"github.com/avatarlabs/avatar-studio/pkg/file"
	"github.com/avatarlabs/avatar-studio/pkg/log"
)

// AudioPreparer turns a submission's speech input into a WAV file on disk.
// Implemented by the tts engine.
type AudioPreparer interface {
	Synthesize(ctx context.Context, text, outputPath string) error
	Normalize(ctx context.Context, inputPath, outputPath string) (string, error)
}

// AvatarService is the orchestration facade the transport layer talks to:
// it validates submissions, stages inputs on disk, creates job records and
// hands them to the queue.
type AvatarService struct {
	cfg      *config.Config
	registry *jobs.Registry
	queue    *jobs.Queue
	store    jobs.Store
	audio    AudioPreparer
	cron     *cron.Cron

	flushGroup singleflight.Group
}

func NewAvatarService(
	cfg *config.Config,
	registry *jobs.Registry,
	queue *jobs.Queue,
	store jobs.Store,
	audio AudioPreparer,
	c *cron.Cron,
) *AvatarService {
	return &AvatarService{
		cfg:      cfg,
		registry: registry,
		queue:    queue,
		store:    store,
		audio:    audio,
		cron:     c,
	}
}

// SubmitRequest carries a raw multipart submission. Exactly one of Text and
// Audio must be set; OptionsRaw is an optional JSON object.
type SubmitRequest struct {
	ImageFilename string
	Image         io.Reader

	Text string

	AudioFilename string
	Audio         io.Reader

	OptionsRaw string
}

// Submit validates, stages inputs under the job's uploads folder and enqueues
// the job. Validation failures never create a job record.
func (s *AvatarService) Submit(ctx context.Context, req SubmitRequest) (*jobs.Job, error) {
	if req.Image == nil || req.ImageFilename == "" {
		return nil, NewError(ErrValidation, "image file is required")
	}
	hasText := strings.TrimSpace(req.Text) != ""
	hasAudio := req.Audio != nil && req.AudioFilename != ""
	if hasText == hasAudio {
		return nil, NewError(ErrValidation, "provide exactly one of: text or audio")
	}
	options, err := parseOptions(req.OptionsRaw)
	if err != nil {
		return nil, err
	}

	jobID := jobs.NewID()
	paths := PathsForJob(s.cfg.Storage, jobID)
	if err := paths.ensure(); err != nil {
		return nil, err
	}

	imagePath, err := s.saveImage(paths.UploadsDir, req)
	if err != nil {
		return nil, err
	}

	audioPath, err := s.prepareAudio(ctx, paths, req, hasText)
	if err != nil {
		return nil, err
	}

	job := s.registry.Create(jobs.CreateRequest{
		ID:        jobID,
		ImagePath: imagePath,
		AudioPath: audioPath,
		VideoPath: paths.VideoPath,
		Options:   options,
	})
	if s.store != nil {
		if err := s.store.UpsertJob(ctx, job); err != nil {
			log.Error("Failed to persist new job %s: %v", job.ID, err)
		}
	}
	s.queue.Enqueue(job.ID)
	log.Info("Job %s submitted, queue length %d", job.ID, s.queue.Len())
	return job, nil
}

func (s *AvatarService) saveImage(uploadsDir string, req SubmitRequest) (string, error) {
	ext := filepath.Ext(req.ImageFilename)
	if ext == "" {
		ext = ".png"
	}
	imagePath := filepath.Join(uploadsDir, "image"+ext)
	if err := writeStream(imagePath, req.Image); err != nil {
		return "", NewErrorWithCause(ErrInfra, "save image upload", err)
	}
	return imagePath, nil
}

func (s *AvatarService) prepareAudio(ctx context.Context, paths JobPaths, req SubmitRequest, hasText bool) (string, error) {
	if hasText {
		if err := s.audio.Synthesize(ctx, strings.TrimSpace(req.Text), paths.AudioPath); err != nil {
			return "", WrapError(err, ErrExecution, "text-to-speech failed")
		}
		return paths.AudioPath, nil
	}

	ext := filepath.Ext(req.AudioFilename)
	if ext == "" {
		ext = ".wav"
	}
	rawPath := filepath.Join(paths.UploadsDir, "audio"+ext)
	if err := writeStream(rawPath, req.Audio); err != nil {
		return "", NewErrorWithCause(ErrInfra, "save audio upload", err)
	}
	normalized, err := s.audio.Normalize(ctx, rawPath, paths.AudioPath)
	if err != nil {
		return "", WrapError(err, ErrExecution, "audio preprocessing failed")
	}
	return normalized, nil
}

// GetStatus returns a snapshot of the job, or ok=false when the id is
// unknown.
func (s *AvatarService) GetStatus(id string) (*jobs.Job, bool) {
	return s.registry.Get(id)
}

// ListJobs returns snapshots of every known job.
func (s *AvatarService) ListJobs() []*jobs.Job {
	return s.registry.List()
}

// FetchResult resolves the artifact path for a finished job. The error type
// distinguishes unknown job, not-yet-ready and a vanished artifact.
func (s *AvatarService) FetchResult(id string) (string, error) {
	job, ok := s.registry.Get(id)
	if !ok {
		return "", NewError(ErrNotFound, "job not found")
	}
	if job.Status != jobs.StatusSucceeded {
		return "", NewError(ErrNotReady, fmt.Sprintf("job is not ready (status=%s)", job.Status))
	}
	if !file.Exists(job.VideoPath) {
		return "", NewError(ErrInfra, "result file is missing on server")
	}
	return job.VideoPath, nil
}

// Backend reports the generator backend this process runs.
func (s *AvatarService) Backend() string {
	return s.cfg.Generator.Backend
}

// ScheduleFlush registers a periodic task that snapshots every registry
// record into the persistent store, so status updates survive a crash between
// job transitions. Overlapping runs collapse via singleflight.
func (s *AvatarService) ScheduleFlush(ctx context.Context) error {
	if s.store == nil || s.cron == nil {
		return nil
	}
	_, err := s.cron.AddFunc(s.cfg.Storage.FlushCronExpr, func() {
		_, _, _ = s.flushGroup.Do("flush", func() (any, error) {
			s.flush(ctx)
			return nil, nil
		})
	})
	return err
}

func (s *AvatarService) flush(ctx context.Context) {
	start := time.Now()
	flushed := 0
	for _, job := range s.registry.List() {
		if err := s.store.UpsertJob(ctx, job); err != nil {
			log.Error("Failed to flush job %s: %v", job.ID, err)
			continue
		}
		flushed++
	}
	log.Debug("Flushed %d jobs in %s", flushed, time.Since(start))
}

func parseOptions(raw string) (jobs.Options, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return jobs.Options{}, nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, NewErrorWithCause(ErrValidation, "invalid options JSON", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, NewError(ErrValidation, "options must be a JSON object")
	}
	return jobs.Options(obj), nil
}

func writeStream(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
