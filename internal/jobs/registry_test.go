package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAssignsDefaults(t *testing.T) {
	r := NewRegistry()

	job := r.Create(CreateRequest{
		ImagePath: "/in/face.png",
		AudioPath: "/in/speech.wav",
		VideoPath: "/out/result.mp4",
		Options:   Options{"fps": float64(25)},
	})

	require.NotEmpty(t, job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 0.0, job.Progress)
	assert.Equal(t, "Queued", job.Message)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}

func TestRegistry_CreateKeepsCallerID(t *testing.T) {
	r := NewRegistry()
	job := r.Create(CreateRequest{ID: "job-42"})
	assert.Equal(t, "job-42", job.ID)

	got, ok := r.Get("job-42")
	require.True(t, ok)
	assert.Equal(t, "job-42", got.ID)
}

func TestRegistry_GetReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	job := r.Create(CreateRequest{ID: "a", Options: Options{"k": "v"}})

	// Mutating the snapshot must not leak into the registry.
	job.Message = "tampered"
	job.Options["k"] = "changed"

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Queued", got.Message)
	assert.Equal(t, "v", got.Options["k"])
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_UpdatePartial(t *testing.T) {
	r := NewRegistry()
	r.Create(CreateRequest{ID: "a"})

	got, ok := r.Update("a", Patch{
		Status:   statusPtr(StatusRunning),
		Progress: floatPtr(0.5),
		Message:  stringPtr("Rendering"),
	})
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 0.5, got.Progress)
	assert.Equal(t, "Rendering", got.Message)

	// A patch touching only one field leaves the rest in place.
	got, ok = r.Update("a", Patch{Message: stringPtr("Still rendering")})
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 0.5, got.Progress)
}

func TestRegistry_UpdateUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Update("ghost", Patch{Progress: floatPtr(0.5)})
	assert.False(t, ok)
}

func TestRegistry_ProgressNeverRegressesAfterDone(t *testing.T) {
	r := NewRegistry()
	r.Create(CreateRequest{ID: "a"})

	r.Update("a", Patch{Progress: floatPtr(1.0)})

	// A late callback from the generation goroutine must not pull the bar
	// backwards on a finished job.
	got, ok := r.Update("a", Patch{Progress: floatPtr(0.6), Message: stringPtr("late")})
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, "late", got.Message)
}

func TestRegistry_ListSnapshotsAll(t *testing.T) {
	r := NewRegistry()
	r.Create(CreateRequest{ID: "a"})
	r.Create(CreateRequest{ID: "b"})

	jobs := r.List()
	require.Len(t, jobs, 2)

	ids := map[string]bool{}
	for _, j := range jobs {
		ids[j.ID] = true
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
}

func TestRegistry_HydrateDoesNotOverwrite(t *testing.T) {
	r := NewRegistry()
	r.Create(CreateRequest{ID: "a"})
	r.Update("a", Patch{Status: statusPtr(StatusRunning)})

	r.Hydrate(&Job{ID: "a", Status: StatusFailed})
	r.Hydrate(&Job{ID: "b", Status: StatusSucceeded})

	got, _ := r.Get("a")
	assert.Equal(t, StatusRunning, got.Status)
	got, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
