// Package generator holds the video synthesis variants behind one capability
// contract. Selection is a pure function of the configured backend name,
// resolved once at startup.
package generator

import (
	"fmt"

	"github.com/avatarlabs/avatar-studio/internal/config"
	"github.com/avatarlabs/avatar-studio/internal/jobs"
	"github.com/avatarlabs/avatar-studio/internal/media"
	"github.com/avatarlabs/avatar-studio/internal/service"
)

const (
	BackendMuxer     = "muxer"
	BackendSadTalker = "sadtalker"
	BackendWav2Lip   = "wav2lip"
	BackendSVD       = "svd"
)

// Build maps a backend name to a variant instance. Unknown names fail here,
// at configuration time, never during job processing.
func Build(name string, cfg *config.Config, proc media.Processor) (jobs.Generator, error) {
	switch name {
	case BackendMuxer:
		return NewMuxer(proc, cfg.Generator.VideoSize, cfg.Generator.VideoFPS), nil
	case BackendSadTalker:
		return NewSadTalker(cfg.SadTalker), nil
	case BackendWav2Lip:
		return NewWav2Lip(), nil
	case BackendSVD:
		return NewSVD(cfg.SVD, proc), nil
	default:
		return nil, service.NewError(service.ErrConfig,
			fmt.Sprintf("unknown generator backend: %q", name))
	}
}

// CacheConfig returns the configuration subset that affects a backend's
// output, and nothing else: unrelated settings must not perturb cache keys.
func CacheConfig(name string, cfg *config.Config) map[string]any {
	switch name {
	case BackendSadTalker:
		return map[string]any{
			"sadtalker_repo_dir":   cfg.SadTalker.RepoDir,
			"sadtalker_python":     cfg.SadTalker.Python,
			"sadtalker_size":       cfg.SadTalker.Size,
			"sadtalker_preprocess": cfg.SadTalker.Preprocess,
			"sadtalker_enhancer":   cfg.SadTalker.Enhancer,
		}
	case BackendSVD:
		return map[string]any{
			"svd_model":                    cfg.SVD.Model,
			"svd_revision":                 cfg.SVD.Revision,
			"svd_variant":                  cfg.SVD.Variant,
			"svd_local_files_only":         cfg.SVD.LocalFilesOnly,
			"svd_device":                   cfg.SVD.Device,
			"svd_dtype":                    cfg.SVD.Dtype,
			"svd_width":                    cfg.SVD.Width,
			"svd_height":                   cfg.SVD.Height,
			"svd_fps":                      cfg.SVD.FPS,
			"svd_num_frames":               cfg.SVD.NumFrames,
			"svd_num_inference_steps":      cfg.SVD.NumInferenceSteps,
			"svd_motion_bucket_id":         cfg.SVD.MotionBucketID,
			"svd_noise_aug_strength":       cfg.SVD.NoiseAugStrength,
			"svd_min_guidance_scale":       cfg.SVD.MinGuidanceScale,
			"svd_max_guidance_scale":       cfg.SVD.MaxGuidanceScale,
			"svd_decode_chunk_size":        cfg.SVD.DecodeChunkSize,
			"svd_seed":                     cfg.SVD.Seed,
			"svd_enable_attention_slicing": cfg.SVD.EnableAttentionSlicing,
			"svd_enable_vae_slicing":       cfg.SVD.EnableVAESlicing,
			"svd_enable_vae_tiling":        cfg.SVD.EnableVAETiling,
			"svd_enable_cpu_offload":       cfg.SVD.EnableCPUOffload,
			"svd_extend_to_audio":          cfg.SVD.ExtendToAudio,
			"svd_extend_strategy":          cfg.SVD.ExtendStrategy,
			"svd_auto_downscale":           cfg.SVD.AutoDownscale,
			"svd_mps_max_pixels":           cfg.SVD.MPSMaxPixels,
		}
	default:
		return map[string]any{}
	}
}
