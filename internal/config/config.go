package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Server:
// - AVATAR_ADDR: HTTP listen address (default: :8000)
// - AVATAR_LOG_LEVEL: debug | info | warn | error (default: info)
//
// Storage:
// - AVATAR_STORAGE_DIR: root storage directory (default: storage)
// - AVATAR_ENABLE_CACHE: result cache toggle (default: true)
// - AVATAR_DB_PATH: sqlite database path (default: <storage>/avatar.db)
// - AVATAR_FLUSH_CRON: cron expression for periodic metadata flush (default: @every 1m)
//
// Generator:
// - AVATAR_GENERATOR_BACKEND: muxer | sadtalker | wav2lip | svd (default: muxer)
// - AVATAR_VIDEO_FPS / AVATAR_VIDEO_SIZE: muxer defaults (25 / 512)
//
// SadTalker:
// - AVATAR_SADTALKER_REPO_DIR, AVATAR_SADTALKER_PYTHON,
//   AVATAR_SADTALKER_SIZE, AVATAR_SADTALKER_PREPROCESS, AVATAR_SADTALKER_ENHANCER
//
// Stable Video Diffusion:
// - AVATAR_SVD_MODEL, AVATAR_SVD_DEVICE, AVATAR_SVD_DTYPE, AVATAR_SVD_WIDTH,
//   AVATAR_SVD_HEIGHT, AVATAR_SVD_FPS, AVATAR_SVD_NUM_FRAMES,
//   AVATAR_SVD_NUM_INFERENCE_STEPS, AVATAR_SVD_SEED, ... (see SVDConfig)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Generator GeneratorConfig `json:"generator"`
	SadTalker SadTalkerConfig `json:"sadtalker"`
	SVD       SVDConfig       `json:"svd"`
	TTS       TTSConfig       `json:"tts"`
}

type ServerConfig struct {
	Addr     string `json:"addr"`
	LogLevel string `json:"log_level"`
}

// StorageConfig holds the on-disk layout: per-job uploads and outputs plus the
// flat fingerprint-keyed result cache.
type StorageConfig struct {
	Dir            string `json:"dir"`
	UploadsDirname string `json:"uploads_dirname"`
	OutputsDirname string `json:"outputs_dirname"`
	CacheDirname   string `json:"cache_dirname"`
	EnableCache    bool   `json:"enable_cache"`
	DBPath         string `json:"db_path"`
	FlushCronExpr  string `json:"flush_cron_expr"`
}

func (c StorageConfig) UploadsDir() string { return filepath.Join(c.Dir, c.UploadsDirname) }
func (c StorageConfig) OutputsDir() string { return filepath.Join(c.Dir, c.OutputsDirname) }
func (c StorageConfig) CacheDir() string   { return filepath.Join(c.Dir, c.CacheDirname) }

type GeneratorConfig struct {
	Backend   string `json:"backend"`
	VideoFPS  int    `json:"video_fps"`
	VideoSize int    `json:"video_size"`
}

// SadTalkerConfig configures the external SadTalker inference tool.
type SadTalkerConfig struct {
	RepoDir    string `json:"repo_dir"`
	Python     string `json:"python"`
	Size       int    `json:"size"`
	Preprocess string `json:"preprocess"`
	Enhancer   string `json:"enhancer"`
}

// SVDConfig configures the Stable Video Diffusion image-to-video pipeline.
// Seed < 0 means unseeded.
type SVDConfig struct {
	Model          string `json:"model"`
	Revision       string `json:"revision"`
	Variant        string `json:"variant"`
	LocalFilesOnly bool   `json:"local_files_only"`

	Device string `json:"device"` // auto | cuda | cpu
	Dtype  string `json:"dtype"`  // auto | float16 | bfloat16 | float32

	Width             int     `json:"width"`
	Height            int     `json:"height"`
	FPS               int     `json:"fps"`
	NumFrames         int     `json:"num_frames"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	MotionBucketID    int     `json:"motion_bucket_id"`
	NoiseAugStrength  float64 `json:"noise_aug_strength"`
	MinGuidanceScale  float64 `json:"min_guidance_scale"`
	MaxGuidanceScale  float64 `json:"max_guidance_scale"`
	DecodeChunkSize   int     `json:"decode_chunk_size"`
	Seed              int     `json:"seed"`
	EncodeCRF         int     `json:"encode_crf"`

	EnableAttentionSlicing bool `json:"enable_attention_slicing"`
	EnableVAESlicing       bool `json:"enable_vae_slicing"`
	EnableVAETiling        bool `json:"enable_vae_tiling"`
	EnableCPUOffload       bool `json:"enable_cpu_offload"`

	ExtendToAudio  bool   `json:"extend_to_audio"`
	ExtendStrategy string `json:"extend_strategy"` // freeze | loop

	// MPS has much tighter memory limits than CUDA; oversized inputs are
	// shrunk to at most MPSMaxPixels when AutoDownscale is on.
	AutoDownscale bool `json:"auto_downscale"`
	MPSMaxPixels  int  `json:"mps_max_pixels"`

	RunnerScript string `json:"runner_script"`
	Python       string `json:"python"`
}

// TTSConfig holds text-to-speech configuration.
type TTSConfig struct {
	Voice string `json:"voice"` // espeak-ng voice override; empty means auto-detect
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	storageDir := getEnvString("AVATAR_STORAGE_DIR", "storage")

	config := &Config{
		Server: ServerConfig{
			Addr:     getEnvString("AVATAR_ADDR", ":8000"),
			LogLevel: getEnvString("AVATAR_LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			Dir:            storageDir,
			UploadsDirname: getEnvString("AVATAR_UPLOADS_DIRNAME", "uploads"),
			OutputsDirname: getEnvString("AVATAR_OUTPUTS_DIRNAME", "outputs"),
			CacheDirname:   getEnvString("AVATAR_CACHE_DIRNAME", "cache"),
			EnableCache:    getEnvBool("AVATAR_ENABLE_CACHE", true),
			DBPath:         getEnvString("AVATAR_DB_PATH", filepath.Join(storageDir, "avatar.db")),
			FlushCronExpr:  getEnvString("AVATAR_FLUSH_CRON", "@every 1m"),
		},
		Generator: GeneratorConfig{
			Backend:   getEnvString("AVATAR_GENERATOR_BACKEND", "muxer"),
			VideoFPS:  getEnvInt("AVATAR_VIDEO_FPS", 25),
			VideoSize: getEnvInt("AVATAR_VIDEO_SIZE", 512),
		},
		SadTalker: SadTalkerConfig{
			RepoDir:    getEnvString("AVATAR_SADTALKER_REPO_DIR", filepath.Join("third_party", "SadTalker")),
			Python:     getEnvString("AVATAR_SADTALKER_PYTHON", ""),
			Size:       getEnvInt("AVATAR_SADTALKER_SIZE", 256),
			Preprocess: getEnvString("AVATAR_SADTALKER_PREPROCESS", "crop"),
			Enhancer:   getEnvString("AVATAR_SADTALKER_ENHANCER", ""),
		},
		SVD: SVDConfig{
			Model:          getEnvString("AVATAR_SVD_MODEL", "stabilityai/stable-video-diffusion-img2vid-xt"),
			Revision:       getEnvString("AVATAR_SVD_REVISION", ""),
			Variant:        getEnvString("AVATAR_SVD_VARIANT", "fp16"),
			LocalFilesOnly: getEnvBool("AVATAR_SVD_LOCAL_FILES_ONLY", false),

			Device: getEnvString("AVATAR_SVD_DEVICE", "auto"),
			Dtype:  getEnvString("AVATAR_SVD_DTYPE", "auto"),

			Width:             getEnvInt("AVATAR_SVD_WIDTH", 1024),
			Height:            getEnvInt("AVATAR_SVD_HEIGHT", 576),
			FPS:               getEnvInt("AVATAR_SVD_FPS", 7),
			NumFrames:         getEnvInt("AVATAR_SVD_NUM_FRAMES", 14),
			NumInferenceSteps: getEnvInt("AVATAR_SVD_NUM_INFERENCE_STEPS", 25),
			MotionBucketID:    getEnvInt("AVATAR_SVD_MOTION_BUCKET_ID", 127),
			NoiseAugStrength:  getEnvFloat("AVATAR_SVD_NOISE_AUG_STRENGTH", 0.02),
			MinGuidanceScale:  getEnvFloat("AVATAR_SVD_MIN_GUIDANCE_SCALE", 1.0),
			MaxGuidanceScale:  getEnvFloat("AVATAR_SVD_MAX_GUIDANCE_SCALE", 3.0),
			DecodeChunkSize:   getEnvInt("AVATAR_SVD_DECODE_CHUNK_SIZE", 8),
			Seed:              getEnvInt("AVATAR_SVD_SEED", -1),
			EncodeCRF:         getEnvInt("AVATAR_SVD_ENCODE_CRF", 18),

			EnableAttentionSlicing: getEnvBool("AVATAR_SVD_ENABLE_ATTENTION_SLICING", true),
			EnableVAESlicing:       getEnvBool("AVATAR_SVD_ENABLE_VAE_SLICING", true),
			EnableVAETiling:        getEnvBool("AVATAR_SVD_ENABLE_VAE_TILING", false),
			EnableCPUOffload:       getEnvBool("AVATAR_SVD_ENABLE_CPU_OFFLOAD", false),

			ExtendToAudio:  getEnvBool("AVATAR_SVD_EXTEND_TO_AUDIO", true),
			ExtendStrategy: getEnvString("AVATAR_SVD_EXTEND_STRATEGY", "freeze"),

			AutoDownscale: getEnvBool("AVATAR_SVD_AUTO_DOWNSCALE", true),
			MPSMaxPixels:  getEnvInt("AVATAR_SVD_MPS_MAX_PIXELS", 512*288),

			RunnerScript: getEnvString("AVATAR_SVD_RUNNER_SCRIPT", filepath.Join("scripts", "svd_runner.py")),
			Python:       getEnvString("AVATAR_SVD_PYTHON", "python3"),
		},
		TTS: TTSConfig{
			Voice: getEnvString("AVATAR_TTS_VOICE", ""),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return fmt.Errorf("AVATAR_STORAGE_DIR is required")
	}
	if strings.TrimSpace(c.Generator.Backend) == "" {
		return fmt.Errorf("AVATAR_GENERATOR_BACKEND is required")
	}
	switch c.SVD.ExtendStrategy {
	case "freeze", "loop":
	default:
		return fmt.Errorf("AVATAR_SVD_EXTEND_STRATEGY must be freeze or loop, got %q", c.SVD.ExtendStrategy)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
