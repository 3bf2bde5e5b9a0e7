package generator

import (
	"context"

	"github.com/avatarlabs/avatar-studio/internal/jobs"
	"github.com/avatarlabs/avatar-studio/internal/media"
	"github.com/avatarlabs/avatar-studio/internal/service"
)

// Muxer is the deterministic demo variant: it loops the still image over the
// audio track. Always available wherever ffmpeg is installed.
type Muxer struct {
	proc        media.Processor
	defaultSize int
	defaultFPS  int
}

func NewMuxer(proc media.Processor, defaultSize, defaultFPS int) *Muxer {
	return &Muxer{
		proc:        proc,
		defaultSize: defaultSize,
		defaultFPS:  defaultFPS,
	}
}

func (m *Muxer) Generate(ctx context.Context, imagePath, audioPath, outputPath string, options jobs.Options, progress jobs.ProgressFunc) error {
	if !m.proc.Available() {
		return service.NewError(service.ErrConfig,
			"ffmpeg is required for the muxer backend; install it and retry")
	}

	size := optInt(options, "video_size", m.defaultSize)
	fps := optInt(options, "video_fps", m.defaultFPS)

	progress(0.1, "Encoding video")
	if err := m.proc.MuxStillImage(ctx, imagePath, audioPath, outputPath, size, fps); err != nil {
		return service.WrapError(err, service.ErrExecution, "still-image mux failed")
	}
	progress(1.0, "Done")
	return nil
}
