package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "muxer", cfg.Generator.Backend)
	assert.Equal(t, "storage", cfg.Storage.Dir)
	assert.True(t, cfg.Storage.EnableCache)
	assert.Equal(t, filepath.Join("storage", "cache"), cfg.Storage.CacheDir())
	assert.Equal(t, filepath.Join("storage", "avatar.db"), cfg.Storage.DBPath)
	assert.Equal(t, "freeze", cfg.SVD.ExtendStrategy)
	assert.Equal(t, -1, cfg.SVD.Seed)
	assert.True(t, cfg.SVD.AutoDownscale)
	assert.Equal(t, 512*288, cfg.SVD.MPSMaxPixels)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("AVATAR_GENERATOR_BACKEND", "sadtalker")
	t.Setenv("AVATAR_ENABLE_CACHE", "off")
	t.Setenv("AVATAR_SVD_NUM_FRAMES", "8")
	t.Setenv("AVATAR_SVD_NOISE_AUG_STRENGTH", "0.05")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sadtalker", cfg.Generator.Backend)
	assert.False(t, cfg.Storage.EnableCache)
	assert.Equal(t, 8, cfg.SVD.NumFrames)
	assert.InDelta(t, 0.05, cfg.SVD.NoiseAugStrength, 1e-9)
}

func TestNewFromEnv_RejectsBadExtendStrategy(t *testing.T) {
	t.Setenv("AVATAR_SVD_EXTEND_STRATEGY", "stretch")

	_, err := NewFromEnv()
	require.Error(t, err)
}

func TestNewFromEnv_Options(t *testing.T) {
	cfg, err := NewFromEnv(func(c *Config) {
		c.Storage.Dir = t.TempDir()
	})
	require.NoError(t, err)
	assert.NotEqual(t, "storage", cfg.Storage.Dir)
}
