package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const metaFilename = "job.json"

// WriteMetaSnapshot writes a structured job.json document next to the job's
// output video. The snapshot mirrors the registry record so a job's terminal
// state survives the process.
func WriteMetaSnapshot(job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	dir := filepath.Dir(job.VideoPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create outputs dir: %w", err)
	}

	payload, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job meta: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, metaFilename), payload, 0o644)
}
