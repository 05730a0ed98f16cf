package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration
	EncryptionKey    string

	DatabaseURL string

	GoogleClientID     string
	GoogleClientSecret string

	ChromaAPIKey   string
	ChromaTenant   string
	ChromaDatabase string

	EmbeddingProvider string
	GeminiApiKey      string
	GeminiEmbedModel  string
	OllamaBaseURL     string
	OllamaModel       string

	// Sync pipeline tuning
	SyncLookbackDays int           // first-run lookback window when no cursor exists
	SyncFolders      []string      // mailbox folders/labels included in a sync run
	SyncMaxMessages  int           // hard cap on messages per run
	SyncPageSize     int           // messages requested per provider page
	SyncWorkers      int           // bounded pool for chunking/embedding
	SyncInterval     time.Duration // periodic scheduler interval, 0 disables
	VectorizeWorkers int           // background retry workers for pending items

	MaxChunkSize   int
	MaxEmbedTokens int

	// Fixed-window rate limits for external dependencies
	MailboxRateWindow   time.Duration
	MailboxRateMax      int
	EmbeddingRateWindow time.Duration
	EmbeddingRateMax    int

	SearchDefaultLimit     int
	SearchDefaultThreshold float64
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	accessExpiry := 15 * time.Minute
	if exp := os.Getenv("JWT_ACCESS_EXPIRY"); exp != "" {
		if parsed, err := time.ParseDuration(exp); err == nil {
			accessExpiry = parsed
		}
	}

	refreshExpiry := 168 * time.Hour // 7 days
	if exp := os.Getenv("JWT_REFRESH_EXPIRY"); exp != "" {
		if parsed, err := time.ParseDuration(exp); err == nil {
			refreshExpiry = parsed
		}
	}

	syncInterval := time.Duration(0)
	if iv := os.Getenv("SYNC_INTERVAL"); iv != "" {
		if parsed, err := time.ParseDuration(iv); err == nil {
			syncInterval = parsed
		}
	}

	return &Config{
		Port:             getEnv("PORT", "8080"),
		JWTSecret:        getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTAccessExpiry:  accessExpiry,
		JWTRefreshExpiry: refreshExpiry,
		EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),

		DatabaseURL: getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=mailrecall port=5432 sslmode=disable"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		ChromaAPIKey:   getEnv("CHROMA_API_KEY", ""),
		ChromaTenant:   getEnv("CHROMA_TENANT", ""),
		ChromaDatabase: getEnv("CHROMA_DATABASE", ""),

		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "auto"),
		GeminiApiKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiEmbedModel:  getEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		SyncLookbackDays: getEnvInt("SYNC_LOOKBACK_DAYS", 30),
		SyncFolders:      getEnvList("SYNC_FOLDERS", []string{"INBOX"}),
		SyncMaxMessages:  getEnvInt("SYNC_MAX_MESSAGES", 500),
		SyncPageSize:     getEnvInt("SYNC_PAGE_SIZE", 100),
		SyncWorkers:      getEnvInt("SYNC_WORKERS", 5),
		SyncInterval:     syncInterval,
		VectorizeWorkers: getEnvInt("VECTORIZE_WORKERS", 3),

		MaxChunkSize:   getEnvInt("MAX_CHUNK_SIZE", 2000),
		MaxEmbedTokens: getEnvInt("MAX_EMBED_TOKENS", 10000),

		MailboxRateWindow:   time.Duration(getEnvInt("MAILBOX_RATE_WINDOW_MS", 60000)) * time.Millisecond,
		MailboxRateMax:      getEnvInt("MAILBOX_RATE_MAX", 120),
		EmbeddingRateWindow: time.Duration(getEnvInt("EMBEDDING_RATE_WINDOW_MS", 60000)) * time.Millisecond,
		EmbeddingRateMax:    getEnvInt("EMBEDDING_RATE_MAX", 300),

		SearchDefaultLimit:     getEnvInt("SEARCH_DEFAULT_LIMIT", 10),
		SearchDefaultThreshold: getEnvFloat("SEARCH_DEFAULT_THRESHOLD", 0.0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
