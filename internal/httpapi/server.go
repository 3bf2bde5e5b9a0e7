package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/avatarlabs/avatar-studio/internal/config"
	"github.com/avatarlabs/avatar-studio/internal/service"
)

type Server struct {
	svc *service.AvatarService
	cfg *config.Config

	mux    *http.ServeMux
	server *http.Server
}

func NewServer(svc *service.AvatarService, cfg *config.Config) *Server {
	s := &Server{
		svc: svc,
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/jobs", s.handleSubmitJob)
	s.mux.HandleFunc("/api/v1/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/v1/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/health", s.handleHealth)
}
