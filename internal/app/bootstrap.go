package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"thebrain/backend/internal/adapter/memory"
	"thebrain/backend/internal/adapter/ollama"
	"thebrain/backend/internal/adapter/qdrant"
	"thebrain/backend/internal/config"
	"thebrain/backend/internal/storage"
)

type Dependencies struct {
	DB          *sql.DB
	Embedder    Embedder
	VectorStore VectorStore
	Generator   Generator
	Files       *storage.FileStore
	NSQProducer *nsq.Producer
}

// Bootstrap connects the external dependencies and runs migrations. In
// development mode the Ollama and Qdrant adapters are replaced with
// deterministic in-memory substitutes; the choice is made here, once, so the
// rest of the code never checks the mode.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	files, err := storage.NewFileStore(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("file store error: %w", err)
	}

	deps := &Dependencies{DB: db, Files: files}

	if cfg.DevelopmentMode {
		slog.Warn("development mode enabled, using in-memory adapters")
		deps.Embedder = memory.NewEmbedder()
		deps.VectorStore = memory.NewStore()
		deps.Generator = memory.NewGenerator()
	} else {
		embedder, err := ollama.NewEmbedder(cfg.OllamaURL, cfg.OllamaEmbeddingModel, cfg.EmbeddingDimension)
		if err != nil {
			return nil, fmt.Errorf("ollama embedder error: %w", err)
		}
		generator, err := ollama.NewGenerator(cfg.OllamaURL, cfg.OllamaChatModel)
		if err != nil {
			return nil, fmt.Errorf("ollama generator error: %w", err)
		}
		vecStore, err := qdrant.NewStore(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, cfg.EmbeddingDimension)
		if err != nil {
			return nil, fmt.Errorf("qdrant client error: %w", err)
		}
		if err := EnsureCollectionWithRetry(ctx, vecStore, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			return nil, fmt.Errorf("qdrant collection error: %w", err)
		}
		deps.Embedder = embedder
		deps.VectorStore = vecStore
		deps.Generator = generator
	}

	nsqCfg := nsq.NewConfig()
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	createTopics(cfg.NSQDHTTP)

	deps.NSQProducer = producer
	return deps, nil
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestTrigger)
	}()
}

// EnsureCollectionWithRetry waits out a Qdrant instance that is still
// starting up.
func EnsureCollectionWithRetry(ctx context.Context, store VectorStore, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureCollection(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
