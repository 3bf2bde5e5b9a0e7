package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avatarlabs/avatar-studio/internal/jobs"
	"github.com/avatarlabs/avatar-studio/internal/service"
	"github.com/avatarlabs/avatar-studio/pkg/icron"
	"github.com/avatarlabs/avatar-studio/pkg/log"
)

// maxUploadBytes bounds how much of a multipart submission is buffered in
// memory before spilling to temp files.
const maxUploadBytes = 32 << 20

type submitResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

type statusResponse struct {
	JobID            string      `json:"job_id"`
	Status           jobs.Status `json:"status"`
	GeneratorBackend string      `json:"generator_backend"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	Progress         float64     `json:"progress"`
	Message          string      `json:"message,omitempty"`
	Error            string      `json:"error,omitempty"`
	ResultURL        string      `json:"result_url,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	req := service.SubmitRequest{
		Text:       r.FormValue("text"),
		OptionsRaw: r.FormValue("options"),
	}

	if image, header, err := r.FormFile("image"); err == nil {
		defer image.Close()
		req.Image = image
		req.ImageFilename = header.Filename
	}
	if audio, header, err := r.FormFile("audio"); err == nil {
		defer audio.Close()
		req.Audio = audio
		req.AudioFilename = header.Filename
	}

	job, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		log.Warn("Job submission rejected: %v", err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	if id, ok := strings.CutSuffix(rest, "/result"); ok {
		s.serveJobResult(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	s.serveJobStatus(w, strings.TrimSuffix(rest, "/"))
}

func (s *Server) serveJobStatus(w http.ResponseWriter, id string) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	job, ok := s.svc.GetStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, s.statusOf(job))
}

func (s *Server) serveJobResult(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	path, err := s.svc.FetchResult(id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.mp4"`, id))
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := map[string]any{
		"status":            "ok",
		"generator_backend": s.svc.Backend(),
	}
	if next, err := icron.NextTrigger(s.cfg.Storage.FlushCronExpr, time.Now()); err == nil {
		resp["next_flush"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) statusOf(job *jobs.Job) statusResponse {
	resp := statusResponse{
		JobID:            job.ID,
		Status:           job.Status,
		GeneratorBackend: s.svc.Backend(),
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
		Progress:         job.Progress,
		Message:          job.Message,
		Error:            job.Error,
	}
	if job.Status == jobs.StatusSucceeded {
		resp.ResultURL = fmt.Sprintf("/api/v1/jobs/%s/result", job.ID)
	}
	return resp
}

func statusForError(err error) int {
	switch {
	case service.IsErrorType(err, service.ErrValidation):
		return http.StatusBadRequest
	case service.IsErrorType(err, service.ErrNotFound):
		return http.StatusNotFound
	case service.IsErrorType(err, service.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
