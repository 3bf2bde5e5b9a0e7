package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/avatarlabs/avatar-studio/pkg/log"
)

type ffmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
}

func NewFfmpeg() ffmpeg {
	return ffmpeg{
		ffmpegCmd:  "ffmpeg",
		ffprobeCmd: "ffprobe",
	}
}

// Available reports whether the ffmpeg binary can be found on PATH.
func (ff ffmpeg) Available() bool {
	_, err := exec.LookPath(ff.ffmpegCmd)
	return err == nil
}

// DurationSeconds probes the media duration. When ffprobe is missing it falls
// back to reading the WAV header directly.
func (ff ffmpeg) DurationSeconds(ctx context.Context, path string) (float64, error) {
	if cmdPath, err := exec.LookPath(ff.ffprobeCmd); err == nil {
		cmd := exec.CommandContext(ctx, cmdPath,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		)
		output, err := cmd.Output()
		if err == nil {
			raw := strings.TrimSpace(string(output))
			if dur, err := strconv.ParseFloat(raw, 64); err == nil {
				return dur, nil
			}
		} else {
			log.Warn("ffprobe failed for %s: %v", path, err)
		}
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return wavDurationSeconds(path)
	}
	return 0, fmt.Errorf("cannot determine duration of %s", path)
}

// MuxStillImage builds a video by looping a single image over the audio
// track, cropped to a square for simple playback.
func (ff ffmpeg) MuxStillImage(ctx context.Context, imagePath, audioPath, outputPath string, size, fps int) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,format=yuv420p",
		size, size, size, size,
	)
	return ff.run(ctx, []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-loop", "1",
		"-framerate", strconv.Itoa(fps),
		"-i", imagePath,
		"-i", audioPath,
		"-vf", vf,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "stillimage",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		outputPath,
	})
}

// ConvertToWAV normalizes any audio input to mono 16 kHz pcm_s16le WAV, the
// format every generator expects.
func (ff ffmpeg) ConvertToWAV(ctx context.Context, inputPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return ff.run(ctx, []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outputPath,
	})
}

// EncodeFrames turns a directory of numbered PNG frames into a silent H.264
// video.
func (ff ffmpeg) EncodeFrames(ctx context.Context, framePattern string, fps, crf int, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return ff.run(ctx, []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-framerate", strconv.Itoa(fps),
		"-i", framePattern,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		"-crf", strconv.Itoa(crf),
		"-movflags", "+faststart",
		outputPath,
	})
}

// MuxAudio copies the video stream and adds the audio track, trimming to the
// shorter of the two.
func (ff ffmpeg) MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return ff.run(ctx, []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		outputPath,
	})
}

func (ff ffmpeg) run(ctx context.Context, args []string) error {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return fmt.Errorf("ffmpeg is required but was not found on PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, detail)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

// wavDurationSeconds reads frame count and sample rate from a canonical WAV
// header.
func wavDurationSeconds(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := f.Read(header); err != nil {
		return 0, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, fmt.Errorf("%s is not a RIFF/WAVE file", path)
	}

	var (
		byteRate uint32
		dataSize uint32
	)
	chunk := make([]byte, 8)
	for {
		if _, err := f.Read(chunk); err != nil {
			break
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		switch id {
		case "fmt ":
			fmtChunk := make([]byte, size)
			if _, err := f.Read(fmtChunk); err != nil {
				return 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(fmtChunk) >= 12 {
				byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			}
		case "data":
			dataSize = size
		}
		if id == "data" {
			break
		}
		if id != "fmt " {
			if _, err := f.Seek(int64(size), 1); err != nil {
				break
			}
		}
	}

	if byteRate == 0 || dataSize == 0 {
		return 0, fmt.Errorf("wav header of %s is missing rate or data size", path)
	}
	return float64(dataSize) / float64(byteRate), nil
}
