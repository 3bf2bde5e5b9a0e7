package service

import (
	"os"
	"path/filepath"

	"github.com/avatarlabs/avatar-studio/internal/config"
)

// JobPaths is the storage layout for a single job: a private uploads folder
// for inputs and an outputs folder holding the result video and its metadata
// snapshot.
type JobPaths struct {
	UploadsDir string
	OutputsDir string
	AudioPath  string
	VideoPath  string
}

func PathsForJob(storage config.StorageConfig, jobID string) JobPaths {
	uploads := filepath.Join(storage.UploadsDir(), jobID)
	outputs := filepath.Join(storage.OutputsDir(), jobID)
	return JobPaths{
		UploadsDir: uploads,
		OutputsDir: outputs,
		AudioPath:  filepath.Join(uploads, "audio.wav"),
		VideoPath:  filepath.Join(outputs, "result.mp4"),
	}
}

func (p JobPaths) ensure() error {
	for _, dir := range []string{p.UploadsDir, p.OutputsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return NewErrorWithCause(ErrInfra, "create job directories", err)
		}
	}
	return nil
}
