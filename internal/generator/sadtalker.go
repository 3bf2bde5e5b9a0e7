package generator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/avatarlabs/avatar-studio/internal/config"
	"github.com/avatarlabs/avatar-studio/internal/jobs"
	"github.com/avatarlabs/avatar-studio/internal/service"
	"github.com/avatarlabs/avatar-studio/pkg/file"
)

const subprocessOutputTail = 4000

// SadTalker shells out to the third-party SadTalker inference tool and
// collects the newest video it produced.
type SadTalker struct {
	cfg config.SadTalkerConfig
}

func NewSadTalker(cfg config.SadTalkerConfig) *SadTalker {
	return &SadTalker{cfg: cfg}
}

func (s *SadTalker) Generate(ctx context.Context, imagePath, audioPath, outputPath string, options jobs.Options, progress jobs.ProgressFunc) error {
	repoDir, err := filepath.Abs(optString(options, "sadtalker_repo_dir", s.cfg.RepoDir))
	if err != nil {
		return service.WrapError(err, service.ErrConfig, "resolve sadtalker repo dir")
	}
	inferencePy := filepath.Join(repoDir, "inference.py")
	if !file.Exists(inferencePy) {
		return service.NewError(service.ErrConfig,
			fmt.Sprintf("SadTalker repo not found: expected inference.py at %s; clone SadTalker "+
				"there or set AVATAR_SADTALKER_REPO_DIR (or pass sadtalker_repo_dir in options)", inferencePy))
	}

	python := optString(options, "sadtalker_python", s.cfg.Python)
	if python == "" {
		python = "python3"
	} else if !filepath.IsAbs(python) {
		// The venv interpreter is often a symlink into the base install;
		// absolutize without resolving it so venv site-packages stay visible.
		if abs, err := filepath.Abs(python); err == nil {
			python = abs
		}
	}
	if filepath.IsAbs(python) && !file.Exists(python) {
		return service.NewError(service.ErrConfig,
			fmt.Sprintf("SadTalker python not found: %s", python))
	}

	size := optInt(options, "sadtalker_size", s.cfg.Size)
	preprocess := optString(options, "sadtalker_preprocess", s.cfg.Preprocess)
	enhancer := optString(options, "sadtalker_enhancer", s.cfg.Enhancer)
	still := optBool(options, "sadtalker_still", false)
	useCPU := optBool(options, "sadtalker_cpu", false)

	resultDir := filepath.Join(filepath.Dir(outputPath), "sadtalker")
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		return service.WrapError(err, service.ErrExecution, "create sadtalker result dir")
	}

	progress(0.05, "SadTalker: starting")

	args := []string{
		inferencePy,
		"--driven_audio", audioPath,
		"--source_image", imagePath,
		"--checkpoint_dir", filepath.Join(repoDir, "checkpoints"),
		"--result_dir", resultDir,
		"--size", strconv.Itoa(size),
		"--preprocess", preprocess,
	}
	if still {
		args = append(args, "--still")
	}
	if enhancer != "" {
		args = append(args, "--enhancer", enhancer)
	}
	if useCPU {
		args = append(args, "--cpu")
	}

	cmd := exec.CommandContext(ctx, python, args...)
	cmd.Dir = repoDir
	cmd.Env = appendPythonPath(os.Environ(), repoDir)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	progress(0.2, "SadTalker: generating video")
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(output.String())
		if len(tail) > subprocessOutputTail {
			tail = tail[len(tail)-subprocessOutputTail:]
		}
		msg := fmt.Sprintf("SadTalker failed: %v", err)
		if tail != "" {
			msg += "\n--- SadTalker output ---\n" + tail
		}
		return service.NewError(service.ErrExecution, msg)
	}

	progress(0.9, "SadTalker: collecting result")
	newest, ok, err := file.NewestWithExt(resultDir, ".mp4")
	if err != nil {
		return service.WrapError(err, service.ErrExecution, "scan sadtalker results")
	}
	if !ok {
		return service.NewError(service.ErrExecution,
			fmt.Sprintf("SadTalker produced no mp4 in %s", resultDir))
	}

	if err := file.Copy(newest, outputPath); err != nil {
		return service.WrapError(err, service.ErrExecution, "copy sadtalker result")
	}

	progress(1.0, "Done")
	return nil
}

// appendPythonPath prepends dir to PYTHONPATH so local SadTalker imports
// resolve.
func appendPythonPath(env []string, dir string) []string {
	const key = "PYTHONPATH="
	for i, kv := range env {
		if strings.HasPrefix(kv, key) {
			env[i] = key + dir + string(os.PathListSeparator) + strings.TrimPrefix(kv, key)
			return env
		}
	}
	return append(env, key+dir)
}
