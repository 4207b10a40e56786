package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"thebrain/backend/features/artifact"
	"thebrain/backend/features/job"
	"thebrain/backend/features/stats"
	"thebrain/backend/internal/config"
	"thebrain/backend/internal/middleware"
	"thebrain/backend/internal/rag"
	"thebrain/backend/internal/storage"
	"thebrain/backend/internal/worker"
)

type Database interface {
	PingContext(ctx context.Context) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, p worker.Point) error
	Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]rag.Hit, error)
	DeletePoint(ctx context.Context, id string) error
	CountPoints(ctx context.Context) (uint64, error)
}

type TriggerPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler         http.Handler
	Scheduler       *worker.Scheduler
	TriggerConsumer *worker.TriggerConsumer

	port int
}

func New(
	cfg *config.Config,
	db Database,
	embedder Embedder,
	vecStore VectorStore,
	generator Generator,
	files *storage.FileStore,
	triggerPub TriggerPublisher,
	logger *slog.Logger,
) (*App, error) {

	// Repositories need the concrete *sql.DB; the interface in the signature
	// keeps construction mockable.
	sqlDB := db.(*sql.DB)

	// Feature: Artifact + Job. The job service fails artifacts when retries
	// run out, the artifact service enqueues jobs; both sides are wired
	// through the repositories so there is no construction cycle.
	artifactRepo := artifact.NewPostgresRepo(sqlDB)
	jobRepo := job.NewPostgresRepo(sqlDB)

	jobService := job.NewService(jobRepo, artifactRepo, triggerPub, logger)
	jobHandler := job.NewHandler(jobService)

	artifactService := artifact.NewService(artifactRepo, jobService, triggerPub, vecStore)
	artifactHandler := artifact.NewHandler(artifactService, files, cfg.MaxUploadSizeMB)

	// Feature: Stats
	statsHandler := stats.NewHandler(artifactRepo, jobRepo, vecStore)

	// Query pipeline
	ragService := rag.NewService(embedder, vecStore, generator)
	ragHandler := rag.NewHandler(ragService, cfg.DevelopmentMode)

	// Worker
	processor := worker.NewProcessor(jobService, artifactRepo, embedder, vecStore, files, logger)
	workerHandler := worker.NewHandler(processor, jobService)
	scheduler := worker.NewScheduler(processor, jobService,
		time.Duration(cfg.WorkerPollSeconds)*time.Second,
		time.Duration(cfg.JobLeaseMinutes)*time.Minute,
		logger)
	triggerConsumer := worker.NewTriggerConsumer(processor, jobService, logger)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /artifacts", middleware.CorrelationID(enableCORS(artifactHandler.Create)))
	mux.Handle("POST /artifacts/upload", middleware.CorrelationID(enableCORS(artifactHandler.Upload)))
	mux.Handle("GET /artifacts", middleware.CorrelationID(enableCORS(artifactHandler.List)))
	mux.Handle("GET /artifacts/{id}", middleware.CorrelationID(enableCORS(artifactHandler.Get)))
	mux.Handle("DELETE /artifacts/{id}", middleware.CorrelationID(enableCORS(artifactHandler.Delete)))
	mux.Handle("POST /artifacts/{id}/reingest", middleware.CorrelationID(enableCORS(artifactHandler.ReIngest)))

	mux.Handle("GET /jobs", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("POST /query", middleware.CorrelationID(enableCORS(ragHandler.Query)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.Get)))

	mux.Handle("POST /worker/process", middleware.CorrelationID(enableCORS(workerHandler.Trigger)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:         mux,
		Scheduler:       scheduler,
		TriggerConsumer: triggerConsumer,
		port:            cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
