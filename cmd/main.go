package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/avatarlabs/avatar-studio/internal/cache"
	"github.com/avatarlabs/avatar-studio/internal/config"
	"github.com/avatarlabs/avatar-studio/internal/generator"
	"github.com/avatarlabs/avatar-studio/internal/httpapi"
	"github.com/avatarlabs/avatar-studio/internal/jobs"
	"github.com/avatarlabs/avatar-studio/internal/media"
	"github.com/avatarlabs/avatar-studio/internal/persistence"
	"github.com/avatarlabs/avatar-studio/internal/service"
	"github.com/avatarlabs/avatar-studio/internal/tts"
	"github.com/avatarlabs/avatar-studio/pkg/log"
)

type scheduler interface {
	ScheduleFlush(context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("Failed to open job store: %v", err)
	}
	defer store.Close()

	registry := jobs.NewRegistry()
	queue := jobs.NewQueue()
	jobs.HydrateFromStore(ctx, registry, queue, store)

	proc := media.NewProcessor()
	if !proc.Available() {
		log.Warn("ffmpeg not found on PATH; most backends will refuse to run")
	}

	gen, err := generator.Build(cfg.Generator.Backend, cfg, proc)
	if err != nil {
		log.Fatal("Failed to build generator: %v", err)
	}

	var resultCache *cache.Cache
	if cfg.Storage.EnableCache {
		if err := os.MkdirAll(cfg.Storage.CacheDir(), 0o755); err != nil {
			log.Fatal("Failed to create cache dir: %v", err)
		}
		resultCache = cache.New(cfg.Storage.CacheDir())
	}

	worker := jobs.NewWorker(registry, queue, jobs.WorkerConfig{
		Backend:       cfg.Generator.Backend,
		BackendConfig: generator.CacheConfig(cfg.Generator.Backend, cfg),
		Generator:     gen,
		Cache:         resultCache,
		Store:         store,
	})
	go worker.Run(ctx)

	cronInst := cron.New()
	audio := tts.NewEngine(proc, cfg.TTS)
	svc := service.NewAvatarService(cfg, registry, queue, store, audio, cronInst)
	server := httpapi.NewServer(svc, cfg)

	if err := runWithComponents(ctx, cfg, svc, cronInst, server); err != nil {
		log.Fatal("Server error: %v", err)
	}
}

// runWithComponents wires the long-running pieces together and blocks until
// ctx is cancelled or the HTTP server fails.
func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	sched scheduler,
	cronInst cronEngine,
	server httpServer,
) error {
	if err := sched.ScheduleFlush(ctx); err != nil {
		return err
	}
	cronInst.Start()
	defer func() {
		// Bounded wait for in-flight cron tasks.
		select {
		case <-cronInst.Stop().Done():
		case <-time.After(5 * time.Second):
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.Server.Addr)
		serveErr <- server.ListenAndServe(cfg.Server.Addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
