package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"brain"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"brain"`

	OllamaURL            string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaEmbeddingModel string `envconfig:"OLLAMA_EMBEDDING_MODEL" default:"nomic-embed-text"`
	OllamaChatModel      string `envconfig:"OLLAMA_CHAT_MODEL" default:"llama3.2"`
	EmbeddingDimension   int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`

	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"brain-knowledge"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// DevelopmentMode swaps the Ollama and Qdrant adapters for deterministic
	// in-memory substitutes so the pipeline can run without live services.
	DevelopmentMode bool `envconfig:"DEVELOPMENT_MODE" default:"false"`

	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	UploadDir       string `envconfig:"BRAIN_UPLOAD_DIR" default:"./uploads"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`

	// Worker
	WorkerPollSeconds int `envconfig:"WORKER_POLL_SECONDS" default:"60"`
	JobLeaseMinutes   int `envconfig:"JOB_LEASE_MINUTES" default:"10"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may come from the shell, so .env load errors are ignored.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if !c.DevelopmentMode {
		if c.OllamaURL == "" {
			return fmt.Errorf("%w: OLLAMA_URL", ErrMissingRequired)
		}
		if c.QdrantHost == "" {
			return fmt.Errorf("%w: QDRANT_HOST", ErrMissingRequired)
		}
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrMissingRequired)
	}
	return nil
}
