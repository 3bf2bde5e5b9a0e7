package generator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/avatarlabs/avatar-studio/internal/service"
)

// svdRunner wraps the long-lived python inference process. Requests go in as
// JSON lines on stdin; events come back as JSON lines on stdout.
type svdRunner struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    *bufio.Scanner
	stderr bytes.Buffer

	mu     sync.Mutex
	closed bool
}

type loadRequest struct {
	Op             string `json:"op"`
	Model          string `json:"model"`
	Revision       string `json:"revision,omitempty"`
	Variant        string `json:"variant,omitempty"`
	LocalFilesOnly bool   `json:"local_files_only"`
	Device         string `json:"device"`
	Dtype          string `json:"dtype"`

	EnableAttentionSlicing bool `json:"enable_attention_slicing"`
	EnableVAESlicing       bool `json:"enable_vae_slicing"`
	EnableVAETiling        bool `json:"enable_vae_tiling"`
	EnableCPUOffload       bool `json:"enable_cpu_offload"`
}

type generateRequest struct {
	Op                string  `json:"op"`
	Image             string  `json:"image"`
	FramesDir         string  `json:"frames_dir"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumFrames         int     `json:"num_frames"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	MotionBucketID    int     `json:"motion_bucket_id"`
	NoiseAugStrength  float64 `json:"noise_aug_strength"`
	MinGuidanceScale  float64 `json:"min_guidance_scale"`
	MaxGuidanceScale  float64 `json:"max_guidance_scale"`
	DecodeChunkSize   int     `json:"decode_chunk_size"`
	Seed              int     `json:"seed"`
}

type runnerEvent struct {
	Type    string `json:"type"` // ready | progress | warn | done | error
	Message string `json:"message,omitempty"`
	Step    int    `json:"step,omitempty"`
	Total   int    `json:"total,omitempty"`
	Frames  int    `json:"frames,omitempty"`
}

func startSVDRunner(python, script string) (*svdRunner, error) {
	if strings.TrimSpace(python) == "" {
		python = "python3"
	}
	pythonPath, err := exec.LookPath(python)
	if err != nil {
		return nil, fmt.Errorf("python interpreter %q not found: %w", python, err)
	}

	// Deliberately not bound to a job context: the runner outlives jobs and
	// is reused while the pipeline configuration stays the same.
	cmd := exec.Command(pythonPath, script)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	r := &svdRunner{
		cmd:   cmd,
		stdin: stdin,
	}
	cmd.Stderr = &r.stderr

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	r.out = scanner

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start svd runner: %w", err)
	}
	return r, nil
}

// load ships the pipeline configuration and blocks until the model is ready.
// Warnings (failed memory optimizations and the like) are relayed through
// onWarn and never abort the load.
func (r *svdRunner) load(req loadRequest, onWarn func(string)) error {
	req.Op = "load"
	if err := r.send(req); err != nil {
		return service.WrapError(err, service.ErrConfig, "send load request to svd runner")
	}

	for {
		ev, err := r.readEvent()
		if err != nil {
			return service.WrapError(r.withStderr(err), service.ErrConfig, "svd runner failed during model load")
		}
		switch ev.Type {
		case "ready":
			return nil
		case "warn":
			if onWarn != nil {
				onWarn(ev.Message)
			}
		case "error":
			return service.NewError(service.ErrConfig, "SVD model load failed: "+ev.Message)
		}
	}
}

// generate runs one denoising pass and returns the number of frames written
// to the request's frames dir.
func (r *svdRunner) generate(req generateRequest, onProgress func(step, total int)) (int, error) {
	req.Op = "generate"
	if err := r.send(req); err != nil {
		return 0, service.WrapError(err, service.ErrExecution, "send generate request to svd runner")
	}

	for {
		ev, err := r.readEvent()
		if err != nil {
			return 0, service.WrapError(r.withStderr(err), service.ErrExecution, "svd runner died mid-generation")
		}
		switch ev.Type {
		case "progress":
			if onProgress != nil {
				onProgress(ev.Step, ev.Total)
			}
		case "done":
			return ev.Frames, nil
		case "error":
			return 0, service.NewError(service.ErrExecution, "SVD generation failed: "+ev.Message)
		}
	}
}

func (r *svdRunner) send(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("svd runner is closed")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = r.stdin.Write(payload)
	return err
}

func (r *svdRunner) readEvent() (runnerEvent, error) {
	if !r.out.Scan() {
		if err := r.out.Err(); err != nil {
			return runnerEvent{}, err
		}
		return runnerEvent{}, io.EOF
	}
	var ev runnerEvent
	if err := json.Unmarshal(r.out.Bytes(), &ev); err != nil {
		return runnerEvent{}, fmt.Errorf("malformed runner event %q: %w", r.out.Text(), err)
	}
	return ev, nil
}

func (r *svdRunner) alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.cmd.ProcessState == nil
}

func (r *svdRunner) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	_ = r.stdin.Close()
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.cmd.Wait()
}

// withStderr decorates a transport-level error with the runner's captured
// stderr tail, which usually holds the actual python traceback.
func (r *svdRunner) withStderr(err error) error {
	tail := strings.TrimSpace(r.stderr.String())
	if tail == "" {
		return err
	}
	if len(tail) > subprocessOutputTail {
		tail = tail[len(tail)-subprocessOutputTail:]
	}
	return fmt.Errorf("%w\n--- runner stderr ---\n%s", err, tail)
}
