package media

import "context"

// Processor is the set of media operations the generators and the transport
// layer need. Backed by ffmpeg/ffprobe on PATH.
type Processor interface {
	Available() bool
	DurationSeconds(ctx context.Context, path string) (float64, error)
	MuxStillImage(ctx context.Context, imagePath, audioPath, outputPath string, size, fps int) error
	ConvertToWAV(ctx context.Context, inputPath, outputPath string) error
	EncodeFrames(ctx context.Context, framePattern string, fps, crf int, outputPath string) error
	MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error
}

func NewProcessor() Processor {
	return NewFfmpeg()
}
