package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Ollama connection
	OllamaURL      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Auth. Empty disables bearer auth.
	APIKey string

	// Model defaults
	DefaultModel       string
	DefaultDetailLevel string

	// Chunking
	ChunkStrategy   string // "outline" or "heuristic"
	OutlineAttempts int

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Storage
	DataDir string
	DBPath  string

	// Upload limits
	MaxUploadBytes int64
	// MaxChars caps extracted document text before outlining.
	MaxChars int
}

func Load() Config {
	// A missing .env is fine; the environment wins over the file.
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8070"),

		OllamaURL:      envOr("OLLAMA_URL", "http://localhost:11434"),
		ConnectTimeout: envDuration("OLLAMA_CONNECT_TIMEOUT", 5*time.Second),
		ReadTimeout:    envDuration("OLLAMA_READ_TIMEOUT", 300*time.Second),

		APIKey: os.Getenv("CARDSMITH_API_KEY"),

		DefaultModel:       envOr("DEFAULT_MODEL", "llama3.1"),
		DefaultDetailLevel: envOr("DEFAULT_DETAIL_LEVEL", "medium"),

		ChunkStrategy:   envOr("CHUNK_STRATEGY", "outline"),
		OutlineAttempts: envInt("OUTLINE_ATTEMPTS", 2),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		DataDir: envOr("DATA_DIR", "data"),
		DBPath:  os.Getenv("DB_PATH"),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB
		MaxChars:       envInt("MAX_EXTRACT_CHARS", 120000),
	}

	if cfg.DBPath == "" {
		cfg.DBPath = cfg.DataDir + "/cardsmith.db"
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.OutlineAttempts <= 0 {
		cfg.OutlineAttempts = 2
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 120000
	}

	return cfg
}

func (c Config) Validate() error {
	switch c.ChunkStrategy {
	case "outline", "heuristic":
	default:
		return fmt.Errorf("CHUNK_STRATEGY must be outline or heuristic, got %q", c.ChunkStrategy)
	}
	switch c.DefaultDetailLevel {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("DEFAULT_DETAIL_LEVEL must be low, medium or high, got %q", c.DefaultDetailLevel)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
