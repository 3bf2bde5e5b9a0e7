package jobs

import "context"

// ProgressFunc reports generation progress. Implementations may invoke it any
// number of times, from a goroutine other than the worker's; fractions are
// expected to be non-decreasing but that is not enforced here.
type ProgressFunc func(fraction float64, message string)

// Generator is the one capability contract shared by all video synthesis
// variants. Implementations write a single video file at outputPath or return
// an error.
type Generator interface {
	Generate(ctx context.Context, imagePath, audioPath, outputPath string, options Options, progress ProgressFunc) error
}
