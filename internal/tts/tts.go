// Package tts synthesizes speech with whatever local engine the host offers.
// macOS ships `say`; Linux typically has espeak or espeak-ng. The output is
// always a WAV file ready for the generators.
package tts

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/avatarlabs/avatar-studio/internal/config"
	"github.com/avatarlabs/avatar-studio/internal/media"
	"github.com/avatarlabs/avatar-studio/internal/service"
	"github.com/avatarlabs/avatar-studio/pkg/log"
)

// Engine wraps the local TTS binaries and the media processor used to
// normalize audio into mono 16 kHz WAV.
type Engine struct {
	proc  media.Processor
	voice string
}

func NewEngine(proc media.Processor, cfg config.TTSConfig) *Engine {
	return &Engine{
		proc:  proc,
		voice: cfg.Voice,
	}
}

// Synthesize renders text into a WAV file at outputPath.
func (e *Engine) Synthesize(ctx context.Context, text, outputPath string) error {
	if !e.proc.Available() {
		return service.NewError(service.ErrConfig,
			"text-to-speech requires ffmpeg on PATH to convert audio formats")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return service.NewErrorWithCause(service.ErrInfra, "create audio dir", err)
	}

	if say, err := exec.LookPath("say"); err == nil {
		return e.synthesizeSay(ctx, say, text, outputPath)
	}
	for _, name := range []string{"espeak-ng", "espeak"} {
		if espeak, err := exec.LookPath(name); err == nil {
			return e.synthesizeEspeak(ctx, espeak, text, outputPath)
		}
	}
	return service.NewError(service.ErrConfig,
		"no local TTS engine found; upload an audio file instead, or install espeak-ng (Linux) / use the built-in say (macOS)")
}

// synthesizeSay renders through an intermediate AIFF because say cannot emit
// WAV directly.
func (e *Engine) synthesizeSay(ctx context.Context, bin, text, outputPath string) error {
	tmpAIFF := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".aiff"
	defer os.Remove(tmpAIFF)

	args := []string{"-o", tmpAIFF}
	if e.voice != "" {
		args = append(args, "-v", e.voice)
	}
	args = append(args, text)
	if err := runCommand(ctx, bin, args...); err != nil {
		return service.WrapError(err, service.ErrExecution, "say failed")
	}
	if err := e.proc.ConvertToWAV(ctx, tmpAIFF, outputPath); err != nil {
		return service.WrapError(err, service.ErrExecution, "convert synthesized audio")
	}
	return nil
}

func (e *Engine) synthesizeEspeak(ctx context.Context, bin, text, outputPath string) error {
	args := []string{"-w", outputPath}
	if voice := e.selectVoice(text); voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args, text)
	if err := runCommand(ctx, bin, args...); err != nil {
		return service.WrapError(err, service.ErrExecution, "espeak failed")
	}
	return nil
}

// selectVoice prefers the configured voice, falling back to the detected
// language of the text. Undetectable text gets the engine default.
func (e *Engine) selectVoice(text string) string {
	if e.voice != "" {
		return e.voice
	}
	iso := whatlanggo.DetectLang(text).Iso6391()
	if iso == "" {
		return ""
	}
	tag := language.All.Make(iso)
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	voice := base.String()
	log.Debug("TTS voice auto-selected: %s", voice)
	return voice
}

// Normalize converts an uploaded audio file to mono 16 kHz WAV at outputPath
// and returns the path to use. WAV uploads pass through untouched.
func (e *Engine) Normalize(ctx context.Context, inputPath, outputPath string) (string, error) {
	if strings.EqualFold(filepath.Ext(inputPath), ".wav") {
		return inputPath, nil
	}
	if !e.proc.Available() {
		// Leave the upload as-is and let the generator cope.
		log.Warn("ffmpeg not available, skipping audio normalization for %s", inputPath)
		return inputPath, nil
	}
	if err := e.proc.ConvertToWAV(ctx, inputPath, outputPath); err != nil {
		return "", service.WrapError(err, service.ErrExecution, "audio conversion failed")
	}
	return outputPath, nil
}

func runCommand(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return service.NewErrorWithCause(service.ErrExecution, msg, err)
		}
		return err
	}
	return nil
}
