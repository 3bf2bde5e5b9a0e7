package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarlabs/avatar-studio/internal/cache"
)

// fakeGenerator writes a fixed artifact (or fails) and counts invocations.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	payload []byte
	err     error
	// skipOutput leaves no artifact behind even on a nil error.
	skipOutput bool
}

func (g *fakeGenerator) Generate(_ context.Context, _, _, outputPath string, _ Options, progress ProgressFunc) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	progress(0.3, "Rendering")
	progress(0.9, "Encoding")
	if g.err != nil {
		return g.err
	}
	if g.skipOutput {
		return nil
	}
	return os.WriteFile(outputPath, g.payload, 0o644)
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// memStore is an in-memory Store recording the last upsert per job.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*Job)}
}

func (s *memStore) LoadJobs(context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		ret = append(ret, cloneJob(j))
	}
	return ret, nil
}

func (s *memStore) UpsertJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	s.jobs[job.ID] = cloneJob(job)
	s.mu.Unlock()
	return nil
}

func (s *memStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestJob(t *testing.T, r *Registry, dir, id string) *Job {
	t.Helper()
	return r.Create(CreateRequest{
		ID:        id,
		ImagePath: writeInput(t, dir, id+"-face.png", "png:"+id),
		AudioPath: writeInput(t, dir, id+"-speech.wav", "wav:"+id),
		VideoPath: filepath.Join(dir, id+"-result.mp4"),
		Options:   Options{"fps": float64(25)},
	})
}

func TestWorker_SuccessPath(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	queue := NewQueue()
	store := newMemStore()
	gen := &fakeGenerator{payload: []byte("video")}

	w := NewWorker(registry, queue, WorkerConfig{
		Backend:   "muxer",
		Generator: gen,
		Store:     store,
	})

	job := newTestJob(t, registry, dir, "a")
	w.process(context.Background(), job.ID)

	got, ok := registry.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, "Ready", got.Message)
	assert.Empty(t, got.Error)
	assert.FileExists(t, job.VideoPath)

	// Terminal state is persisted and snapshotted next to the artifact.
	persisted, err := store.LoadJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, StatusSucceeded, persisted[0].Status)
	assert.FileExists(t, filepath.Join(dir, "job.json"))
}

func TestWorker_GeneratorErrorFailsJob(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	queue := NewQueue()
	gen := &fakeGenerator{err: errors.New("model exploded")}

	w := NewWorker(registry, queue, WorkerConfig{Backend: "muxer", Generator: gen})

	job := newTestJob(t, registry, dir, "a")
	w.process(context.Background(), job.ID)

	got, _ := registry.Get(job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Contains(t, got.Error, "model exploded")
}

func TestWorker_MissingArtifactFailsJob(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	queue := NewQueue()
	gen := &fakeGenerator{skipOutput: true}

	w := NewWorker(registry, queue, WorkerConfig{Backend: "muxer", Generator: gen})

	job := newTestJob(t, registry, dir, "a")
	w.process(context.Background(), job.ID)

	got, _ := registry.Get(job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "no output")
}

func TestWorker_ErrorTruncatedToTail(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	queue := NewQueue()
	long := strings.Repeat("x", maxErrorLen) + "the interesting tail"
	gen := &fakeGenerator{err: errors.New(long)}

	w := NewWorker(registry, queue, WorkerConfig{Backend: "muxer", Generator: gen})

	job := newTestJob(t, registry, dir, "a")
	w.process(context.Background(), job.ID)

	got, _ := registry.Get(job.ID)
	assert.Len(t, got.Error, maxErrorLen)
	assert.True(t, strings.HasSuffix(got.Error, "the interesting tail"))
}

// stragglerGenerator fires one extra progress callback from a background
// goroutine after Generate has already returned.
type stragglerGenerator struct {
	release chan struct{}
	fired   chan struct{}
	payload []byte
}

func (g *stragglerGenerator) Generate(_ context.Context, _, _, outputPath string, _ Options, progress ProgressFunc) error {
	progress(0.5, "Rendering")
	go func() {
		<-g.release
		progress(0.95, "Encoding")
		close(g.fired)
	}()
	return os.WriteFile(outputPath, g.payload, 0o644)
}

func TestWorker_LateProgressCallbackIsHarmless(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	queue := NewQueue()
	gen := &stragglerGenerator{
		release: make(chan struct{}),
		fired:   make(chan struct{}),
		payload: []byte("video"),
	}

	w := NewWorker(registry, queue, WorkerConfig{Backend: "muxer", Generator: gen})

	job := newTestJob(t, registry, dir, "a")
	w.process(context.Background(), job.ID)

	got, _ := registry.Get(job.ID)
	require.Equal(t, StatusSucceeded, got.Status)

	// Let the straggling callback run against the finished relay; it must
	// return without panicking and without disturbing the terminal state.
	close(gen.release)
	select {
	case <-gen.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("late progress callback never returned")
	}

	got, _ = registry.Get(job.ID)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, "Ready", got.Message)
}

func TestWorker_CacheHitSkipsGeneration(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	queue := NewQueue()
	c := cache.New(filepath.Join(dir, "cache"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cache"), 0o755))
	gen := &fakeGenerator{payload: []byte("video")}

	w := NewWorker(registry, queue, WorkerConfig{
		Backend:   "muxer",
		Generator: gen,
		Cache:     c,
	})

	// Two jobs with byte-identical inputs and options.
	first := registry.Create(CreateRequest{
		ID:        "a",
		ImagePath: writeInput(t, dir, "face.png", "png"),
		AudioPath: writeInput(t, dir, "speech.wav", "wav"),
		VideoPath: filepath.Join(dir, "a.mp4"),
		Options:   Options{"fps": float64(25)},
	})
	second := registry.Create(CreateRequest{
		ID:        "b",
		ImagePath: first.ImagePath,
		AudioPath: first.AudioPath,
		VideoPath: filepath.Join(dir, "b.mp4"),
		Options:   Options{"fps": float64(25)},
	})

	w.process(context.Background(), first.ID)
	w.process(context.Background(), second.ID)

	assert.Equal(t, 1, gen.callCount(), "second job must come from cache")

	got, _ := registry.Get(second.ID)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, "Ready (cache hit)", got.Message)
	assert.FileExists(t, second.VideoPath)

	data, err := os.ReadFile(second.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))
}

func TestWorker_DifferentOptionsMissCache(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	queue := NewQueue()
	c := cache.New(filepath.Join(dir, "cache"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cache"), 0o755))
	gen := &fakeGenerator{payload: []byte("video")}

	w := NewWorker(registry, queue, WorkerConfig{Backend: "muxer", Generator: gen, Cache: c})

	image := writeInput(t, dir, "face.png", "png")
	audio := writeInput(t, dir, "speech.wav", "wav")
	a := registry.Create(CreateRequest{ID: "a", ImagePath: image, AudioPath: audio,
		VideoPath: filepath.Join(dir, "a.mp4"), Options: Options{"fps": float64(25)}})
	b := registry.Create(CreateRequest{ID: "b", ImagePath: image, AudioPath: audio,
		VideoPath: filepath.Join(dir, "b.mp4"), Options: Options{"fps": float64(30)}})

	w.process(context.Background(), a.ID)
	w.process(context.Background(), b.ID)

	assert.Equal(t, 2, gen.callCount())
}

func TestWorker_VanishedJobIsSkipped(t *testing.T) {
	registry := NewRegistry()
	queue := NewQueue()
	gen := &fakeGenerator{payload: []byte("video")}
	w := NewWorker(registry, queue, WorkerConfig{Backend: "muxer", Generator: gen})

	w.process(context.Background(), "never-created")
	assert.Equal(t, 0, gen.callCount())
}

func TestWorker_RunDrainsQueueInOrder(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	queue := NewQueue()
	gen := &fakeGenerator{payload: []byte("video")}
	w := NewWorker(registry, queue, WorkerConfig{Backend: "muxer", Generator: gen})

	for _, id := range []string{"a", "b", "c"} {
		job := newTestJob(t, registry, dir, id)
		queue.Enqueue(job.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		for _, id := range []string{"a", "b", "c"} {
			job, ok := registry.Get(id)
			if !ok || job.Status != StatusSucceeded {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	// Serialized execution: later jobs finish no earlier than earlier ones.
	a, _ := registry.Get("a")
	c, _ := registry.Get("c")
	assert.False(t, c.UpdatedAt.Before(a.UpdatedAt))
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	registry := NewRegistry()
	queue := NewQueue()
	w := NewWorker(registry, queue, WorkerConfig{Backend: "muxer", Generator: &fakeGenerator{}})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
