package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ScanFailurePolicy decides what happens when the external scan capability is
// configured but unavailable: accept the attachment with an "unknown" verdict
// or reject it outright.
type ScanFailurePolicy string

const (
	ScanFailureAccept ScanFailurePolicy = "accept"
	ScanFailureReject ScanFailurePolicy = "reject"
)

type Config struct {
	Port      string
	APISecret string

	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	ArchivePath string

	AllowedMimeTypes  []string
	MaxAttachmentSize int64 // bytes
	ScanFailurePolicy ScanFailurePolicy
	ClamAVEnabled     bool
	ClamAVAddress     string

	BatchSize      int
	PageSize       int64
	WorkerPoolSize int

	EmbeddingProvider  string
	EmbeddingBaseURL   string
	EmbeddingAPIKey    string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbedMaxAttempts   int
	EmbedWorkers       int
	EmbedQueueSize     int

	LexicalFallback     bool
	SearchCandidatePool int

	EncryptionKey string

	GoogleClientID     string
	GoogleClientSecret string
	GmailAccount       string
	GmailAccessToken   string
	GmailRefreshToken  string

	IMAPServer            string
	IMAPPort              int
	IMAPAccount           string
	IMAPEncryptedPassword string

	GoogleProjectID    string
	PubSubSubscription string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		APISecret: getEnv("API_SECRET", "change-me-in-production"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "mailvault"),
		PostgresUser:     getEnv("POSTGRES_USER", "mailvault"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),

		ArchivePath: getEnv("ARCHIVE_PATH", "./archive"),

		AllowedMimeTypes: strings.Split(getEnv("ALLOWED_MIME_TYPES",
			"application/pdf,image/jpeg,image/png,image/gif,text/plain,"+
				"application/msword,application/vnd.openxmlformats-officedocument.wordprocessingml.document,"+
				"application/vnd.ms-excel,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"), ","),
		MaxAttachmentSize: int64(getEnvInt("MAX_ATTACHMENT_SIZE_MB", 10)) * 1024 * 1024,
		ScanFailurePolicy: ScanFailurePolicy(getEnv("SCAN_FAILURE_POLICY", string(ScanFailureAccept))),
		ClamAVEnabled:     getEnvBool("CLAMAV_ENABLED", false),
		ClamAVAddress:     getEnv("CLAMAV_ADDRESS", "tcp://localhost:3310"),

		BatchSize:      getEnvInt("BATCH_SIZE", 50),
		PageSize:       int64(getEnvInt("PAGE_SIZE", 100)),
		WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 5),

		EmbeddingProvider:  getEnv("EMBEDDING_PROVIDER", "ollama"),
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:11434"),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 768),
		EmbedMaxAttempts:   getEnvInt("EMBED_MAX_ATTEMPTS", 3),
		EmbedWorkers:       getEnvInt("EMBED_WORKERS", 3),
		EmbedQueueSize:     getEnvInt("EMBED_QUEUE_SIZE", 1000),

		LexicalFallback:     getEnvBool("LEXICAL_FALLBACK", false),
		SearchCandidatePool: getEnvInt("SEARCH_CANDIDATE_POOL", 500),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GmailAccount:       getEnv("GMAIL_ACCOUNT", ""),
		GmailAccessToken:   getEnv("GMAIL_ACCESS_TOKEN", ""),
		GmailRefreshToken:  getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPServer:            getEnv("IMAP_SERVER", ""),
		IMAPPort:              getEnvInt("IMAP_PORT", 993),
		IMAPAccount:           getEnv("IMAP_ACCOUNT", ""),
		IMAPEncryptedPassword: getEnv("IMAP_ENCRYPTED_PASSWORD", ""),

		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		PubSubSubscription: getEnv("PUBSUB_SUBSCRIPTION", "gmail-updates-sub"),
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
