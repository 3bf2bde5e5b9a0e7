package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarlabs/avatar-studio/internal/config"
	"github.com/avatarlabs/avatar-studio/internal/jobs"
)

func TestSVD_SelectDtype(t *testing.T) {
	s := NewSVD(config.SVDConfig{Dtype: "auto"}, &fakeProcessor{})

	assert.Equal(t, "float16", s.selectDtype("cuda", nil))
	assert.Equal(t, "float16", s.selectDtype("mps", nil))
	assert.Equal(t, "float32", s.selectDtype("cpu", nil))
	assert.Equal(t, "bfloat16", s.selectDtype("cuda", jobs.Options{"svd_dtype": "bf16"}))
	assert.Equal(t, "float32", s.selectDtype("mps", jobs.Options{"svd_dtype": "fp32"}))
}

func TestSVD_SelectDevice_Override(t *testing.T) {
	s := NewSVD(config.SVDConfig{Device: "auto"}, &fakeProcessor{})
	assert.Equal(t, "cuda", s.selectDevice(jobs.Options{"svd_device": "CUDA"}))

	s = NewSVD(config.SVDConfig{Device: "cpu"}, &fakeProcessor{})
	assert.Equal(t, "cpu", s.selectDevice(nil))
}

func TestSVD_SelectDevice_AutoProbeOrder(t *testing.T) {
	s := NewSVD(config.SVDConfig{Device: "auto"}, &fakeProcessor{})

	s.hasCUDA = func() bool { return true }
	s.hasMPS = func() bool { return true }
	assert.Equal(t, "cuda", s.selectDevice(nil))

	s.hasCUDA = func() bool { return false }
	assert.Equal(t, "mps", s.selectDevice(nil))

	s.hasMPS = func() bool { return false }
	assert.Equal(t, "cpu", s.selectDevice(nil))
}

func TestDownscaleToFit(t *testing.T) {
	// 1024x576 over a 512*288 budget halves both sides.
	w, h, ok := downscaleToFit(1024, 576, 512*288)
	require.True(t, ok)
	assert.Equal(t, 512, w)
	assert.Equal(t, 288, h)

	// Already within budget.
	_, _, ok = downscaleToFit(512, 288, 512*288)
	assert.False(t, ok)

	// Zero budget disables the downscale.
	_, _, ok = downscaleToFit(1024, 576, 0)
	assert.False(t, ok)

	// Sides snap down to multiples of 8 and never drop below 256.
	w, h, ok = downscaleToFit(300, 300, 65536)
	require.True(t, ok)
	assert.Zero(t, w%8)
	assert.Zero(t, h%8)
	assert.GreaterOrEqual(t, w, 256)
	assert.GreaterOrEqual(t, h, 256)
}

func writeFrames(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, fmt.Sprintf(framePattern, i))
		require.NoError(t, os.WriteFile(name, []byte(fmt.Sprintf("frame-%d", i)), 0o644))
	}
}

func readFrame(t *testing.T, dir string, i int) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf(framePattern, i)))
	require.NoError(t, err)
	return string(data)
}

func TestExtendFrames_Freeze(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 3)

	require.NoError(t, extendFrames(dir, 3, 6, "freeze"))

	for i := 3; i < 6; i++ {
		assert.Equal(t, "frame-2", readFrame(t, dir, i))
	}
}

func TestExtendFrames_LoopSkipsFirstFrame(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 3)

	require.NoError(t, extendFrames(dir, 3, 8, "loop"))

	// Appended frames cycle 1,2,1,2,... and never reuse frame 0.
	assert.Equal(t, "frame-1", readFrame(t, dir, 3))
	assert.Equal(t, "frame-2", readFrame(t, dir, 4))
	assert.Equal(t, "frame-1", readFrame(t, dir, 5))
	assert.Equal(t, "frame-2", readFrame(t, dir, 6))
	assert.Equal(t, "frame-1", readFrame(t, dir, 7))
}

func TestExtendFrames_LoopWithSingleFrameFreezes(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 1)

	require.NoError(t, extendFrames(dir, 1, 3, "loop"))

	assert.Equal(t, "frame-0", readFrame(t, dir, 1))
	assert.Equal(t, "frame-0", readFrame(t, dir, 2))
}
