package generator

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/avatarlabs/avatar-studio/internal/config"
	"github.com/avatarlabs/avatar-studio/internal/jobs"
	"github.com/avatarlabs/avatar-studio/internal/media"
	"github.com/avatarlabs/avatar-studio/internal/service"
	"github.com/avatarlabs/avatar-studio/pkg/file"
)

// Denoising progress is mapped into this sub-range of the overall scale;
// everything before is setup, everything after is encode/mux.
const (
	svdDenoiseStart = 0.25
	svdDenoiseEnd   = 0.75
)

// SVD drives a Stable Video Diffusion runner process. The runner keeps the
// model loaded, so it is cached per (model, device, dtype) and reused until
// the configuration changes. This backend does no lip-sync: the audio is
// only muxed into the output, optionally padding frames to cover it.
type SVD struct {
	cfg  config.SVDConfig
	proc media.Processor

	hasCUDA func() bool
	hasMPS  func() bool

	mu        sync.Mutex
	runner    *svdRunner
	runnerKey pipeKey
}

type pipeKey struct {
	model  string
	device string
	dtype  string
}

func NewSVD(cfg config.SVDConfig, proc media.Processor) *SVD {
	return &SVD{
		cfg:     cfg,
		proc:    proc,
		hasCUDA: probeCUDA,
		hasMPS:  probeMPS,
	}
}

func probeCUDA() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

// probeMPS reports whether the Metal backend is plausible: Apple Silicon is
// the only host where torch exposes it.
func probeMPS() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

func (s *SVD) Generate(ctx context.Context, imagePath, audioPath, outputPath string, options jobs.Options, progress jobs.ProgressFunc) error {
	if !s.proc.Available() {
		return service.NewError(service.ErrConfig, "ffmpeg is required for the svd backend")
	}

	model := strings.TrimSpace(optString(options, "svd_model", s.cfg.Model))
	if model == "" {
		return service.NewError(service.ErrConfig,
			"SVD model is not configured; set AVATAR_SVD_MODEL to a HF id or local path")
	}

	device := s.selectDevice(options)
	dtype := s.selectDtype(device, options)
	key := pipeKey{model: model, device: device, dtype: dtype}

	runner, err := s.ensureRunner(key, options, progress)
	if err != nil {
		return err
	}

	width := optInt(options, "svd_width", s.cfg.Width)
	height := optInt(options, "svd_height", s.cfg.Height)
	fps := optInt(options, "svd_fps", s.cfg.FPS)
	numFrames := optInt(options, "svd_num_frames", s.cfg.NumFrames)
	steps := optInt(options, "svd_num_inference_steps", s.cfg.NumInferenceSteps)

	decodeChunk := optInt(options, "svd_decode_chunk_size", s.cfg.DecodeChunkSize)
	if _, overridden := options["svd_decode_chunk_size"]; device == "mps" && !overridden {
		// MPS often needs smaller decode chunks.
		decodeChunk = min(decodeChunk, 1)
	}

	if device == "mps" && optBool(options, "svd_auto_downscale", s.cfg.AutoDownscale) {
		maxPixels := optInt(options, "svd_mps_max_pixels", s.cfg.MPSMaxPixels)
		if w, h, ok := downscaleToFit(width, height, maxPixels); ok {
			progress(0.17, fmt.Sprintf("SVD: downscaling for MPS %dx%d -> %dx%d", width, height, w, h))
			width, height = w, h
		}
	}

	workDir, err := os.MkdirTemp(filepath.Dir(outputPath), "svd_")
	if err != nil {
		return service.WrapError(err, service.ErrExecution, "create svd work dir")
	}
	defer os.RemoveAll(workDir)

	framesDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return service.WrapError(err, service.ErrExecution, "create frames dir")
	}

	progress(svdDenoiseStart, "SVD: generating frames")
	frameCount, err := runner.generate(generateRequest{
		Image:             imagePath,
		FramesDir:         framesDir,
		Width:             width,
		Height:            height,
		NumFrames:         numFrames,
		NumInferenceSteps: steps,
		MotionBucketID:    optInt(options, "svd_motion_bucket_id", s.cfg.MotionBucketID),
		NoiseAugStrength:  optFloat(options, "svd_noise_aug_strength", s.cfg.NoiseAugStrength),
		MinGuidanceScale:  optFloat(options, "svd_min_guidance_scale", s.cfg.MinGuidanceScale),
		MaxGuidanceScale:  optFloat(options, "svd_max_guidance_scale", s.cfg.MaxGuidanceScale),
		DecodeChunkSize:   decodeChunk,
		Seed:              optInt(options, "svd_seed", s.cfg.Seed),
	}, func(step, total int) {
		frac := float64(step) / float64(max(1, total))
		progress(svdDenoiseStart+(svdDenoiseEnd-svdDenoiseStart)*frac,
			fmt.Sprintf("SVD: denoising %d/%d", step, total))
	})
	if err != nil {
		// A dead runner should not poison the next job with a stale model.
		s.dropRunner(runner)
		return err
	}
	if frameCount <= 0 {
		s.dropRunner(runner)
		return service.NewError(service.ErrExecution, "SVD runner produced no frames")
	}

	if optBool(options, "svd_extend_to_audio", s.cfg.ExtendToAudio) && fps > 0 {
		strategy := optString(options, "svd_extend_strategy", s.cfg.ExtendStrategy)
		dur, err := s.proc.DurationSeconds(ctx, audioPath)
		if err == nil && dur > 0 {
			target := int(math.Ceil(dur*float64(fps))) + 1
			if target > frameCount {
				if err := extendFrames(framesDir, frameCount, target, strategy); err != nil {
					return service.WrapError(err, service.ErrExecution, "extend frames to audio duration")
				}
			}
		}
	}

	progress(0.82, "SVD: encoding video")
	silent := filepath.Join(workDir, "video.mp4")
	crf := optInt(options, "svd_encode_crf", s.cfg.EncodeCRF)
	if err := s.proc.EncodeFrames(ctx, filepath.Join(framesDir, framePattern), fps, crf, silent); err != nil {
		return service.WrapError(err, service.ErrExecution, "encode svd frames")
	}

	progress(0.92, "SVD: muxing audio")
	if err := s.proc.MuxAudio(ctx, silent, audioPath, outputPath); err != nil {
		return service.WrapError(err, service.ErrExecution, "mux audio track")
	}

	progress(1.0, "Done")
	return nil
}

// selectDevice honors an explicit override, otherwise probes cuda, then mps,
// then falls back to cpu.
func (s *SVD) selectDevice(options jobs.Options) string {
	device := strings.ToLower(strings.TrimSpace(optString(options, "svd_device", s.cfg.Device)))
	if device != "" && device != "auto" {
		return device
	}
	if s.hasCUDA() {
		return "cuda"
	}
	if s.hasMPS() {
		return "mps"
	}
	return "cpu"
}

func (s *SVD) selectDtype(device string, options jobs.Options) string {
	dtype := strings.ToLower(strings.TrimSpace(optString(options, "svd_dtype", s.cfg.Dtype)))
	switch dtype {
	case "float16", "fp16", "half":
		return "float16"
	case "bfloat16", "bf16":
		return "bfloat16"
	case "float32", "fp32":
		return "float32"
	}
	// auto. float16 on mps saves memory; users who hit Metal compatibility
	// issues can pin float32 explicitly.
	switch device {
	case "cuda", "mps":
		return "float16"
	}
	return "float32"
}

// ensureRunner returns the warm runner for key, starting a fresh one when the
// key changed or the previous process died. Model loading happens exactly
// once per key.
func (s *SVD) ensureRunner(key pipeKey, options jobs.Options, progress jobs.ProgressFunc) (*svdRunner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runner != nil && s.runnerKey == key && s.runner.alive() {
		return s.runner, nil
	}
	if s.runner != nil {
		s.runner.close()
		s.runner = nil
	}

	progress(0.08, "SVD: loading model (first run can be slow)")
	runner, err := startSVDRunner(s.cfg.Python, s.cfg.RunnerScript)
	if err != nil {
		return nil, service.WrapError(err, service.ErrConfig,
			"SVD backend requires a python runtime with diffusers installed")
	}

	err = runner.load(loadRequest{
		Model:          key.model,
		Revision:       optString(options, "svd_revision", s.cfg.Revision),
		Variant:        optString(options, "svd_variant", s.cfg.Variant),
		LocalFilesOnly: optBool(options, "svd_local_files_only", s.cfg.LocalFilesOnly),
		Device:         key.device,
		Dtype:          key.dtype,

		EnableAttentionSlicing: optBool(options, "svd_enable_attention_slicing", s.cfg.EnableAttentionSlicing),
		EnableVAESlicing:       optBool(options, "svd_enable_vae_slicing", s.cfg.EnableVAESlicing),
		EnableVAETiling:        optBool(options, "svd_enable_vae_tiling", s.cfg.EnableVAETiling),
		EnableCPUOffload:       optBool(options, "svd_enable_cpu_offload", s.cfg.EnableCPUOffload),
	}, func(msg string) {
		// Memory-reduction toggles are best-effort; a toggle that cannot be
		// enabled is reported and the run continues.
		progress(0.09, msg)
	})
	if err != nil {
		runner.close()
		return nil, err
	}

	s.runner = runner
	s.runnerKey = key
	return runner, nil
}

func (s *SVD) dropRunner(runner *svdRunner) {
	s.mu.Lock()
	if s.runner == runner {
		s.runner.close()
		s.runner = nil
	}
	s.mu.Unlock()
}

// downscaleToFit shrinks width x height to at most maxPixels, preserving
// aspect ratio, snapping both sides down to a multiple of 8 and never going
// below 256. ok is false when the input already fits.
func downscaleToFit(width, height, maxPixels int) (int, int, bool) {
	if maxPixels <= 0 || width*height <= maxPixels {
		return width, height, false
	}
	scale := math.Sqrt(float64(maxPixels) / float64(width*height))
	w := roundDownToMultiple(max(256, int(float64(width)*scale)), 8)
	h := roundDownToMultiple(max(256, int(float64(height)*scale)), 8)
	if w == width && h == height {
		return width, height, false
	}
	return w, h, true
}

func roundDownToMultiple(value, multiple int) int {
	if multiple <= 1 {
		return max(1, value)
	}
	return max(multiple, value/multiple*multiple)
}

const framePattern = "frame_%05d.png"

// extendFrames pads the numbered frame sequence up to target frames, either
// freezing the last frame or looping frames after the first.
func extendFrames(framesDir string, have, target int, strategy string) error {
	frameName := func(i int) string {
		return filepath.Join(framesDir, fmt.Sprintf(framePattern, i))
	}

	if strategy == "loop" && have > 1 {
		// Loop source excludes frame 0 so the sequence never snaps back to
		// the exact conditioning image.
		src := 1
		for i := have; i < target; i++ {
			if err := file.Copy(frameName(src), frameName(i)); err != nil {
				return err
			}
			src++
			if src >= have {
				src = 1
			}
		}
		return nil
	}

	last := frameName(have - 1)
	for i := have; i < target; i++ {
		if err := file.Copy(last, frameName(i)); err != nil {
			return err
		}
	}
	return nil
}
