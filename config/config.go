package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultDiplomaTopic           = "diploma_generation"
	DefaultDiplomaDeadLetterTopic = "diploma_generation_dead"
	DefaultDiplomaBucket          = "diplomas"
)

// Config is the process configuration shared by the API server, the worker and the ops tools.
type Config struct {
	Env      string
	LogLevel string
	APIPort  string

	// database
	DBUser         string
	DBPassword     string
	DBHost         string
	DBPort         string
	DBName         string
	DBMaxOpenConns int
	DBMaxIdleConns int
	SkipMigrations bool

	// redis
	RedisAddress  string
	RedisPassword string
	CacheTTL      time.Duration

	// pubsub
	PubSubProjectID        string
	PubSubCredentialsJSON  string
	DiplomaTopic           string
	DiplomaSubscription    string
	DiplomaDeadLetterTopic string

	// artifact storage
	StorageProvider    string
	GCSCredentialsJSON string
	GCSProjectID       string
	MinioURL           string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioUseSSL        bool
	DiplomaBucket      string

	// worker
	DiplomaTemplate           string
	WorkerScratchDir          string
	WorkerReconnectDelay      time.Duration
	WorkerMaxReconnectDelay   time.Duration
	WorkerMaxDeliveryAttempts int
	WorkerConcurrency         int
	MetricsPort               string

	// reconciliation sweep
	SweepInterval   time.Duration
	SweepStaleAfter time.Duration

	CorsAllowedOrigins []string
}

// LoadConfig reads the environment (and .env when present) into a Config.
func LoadConfig() *Config {
	// Load env from .env
	godotenv.Load()

	cfg := &Config{
		Env:      strings.TrimSpace(os.Getenv("GO_ENV")),
		LogLevel: stringFromEnv("LOG_LEVEL", "info"),
		APIPort:  stringFromEnv("API_PORT", stringFromEnv("PORT", "8080")),

		DBUser:         os.Getenv("DB_USER"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBHost:         stringFromEnv("DB_HOST", "localhost"),
		DBPort:         stringFromEnv("DB_PORT", "3306"),
		DBName:         stringFromEnv("DB_NAME", "diplomas_db"),
		DBMaxOpenConns: intFromEnv("DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns: intFromEnv("DB_MAX_IDLE_CONNS", 25),
		SkipMigrations: boolFromEnv("SKIP_MIGRATIONS", false),

		RedisAddress:  stringFromEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		CacheTTL:      secondsFromEnv("CACHE_TTL_SECONDS", 3600),

		PubSubProjectID:        getPubSubProjectID(),
		PubSubCredentialsJSON:  os.Getenv("PUBSUB_CREDENTIALS_JSON"),
		DiplomaTopic:           stringFromEnv("DIPLOMA_TOPIC", DefaultDiplomaTopic),
		DiplomaDeadLetterTopic: stringFromEnv("DIPLOMA_DEAD_LETTER_TOPIC", DefaultDiplomaDeadLetterTopic),

		StorageProvider:    strings.ToLower(stringFromEnv("STORAGE_PROVIDER", "minio")),
		GCSCredentialsJSON: os.Getenv("GCS_CREDENTIALS_JSON"),
		GCSProjectID:       stringFromEnv("GCS_PROJECT_ID", getPubSubProjectID()),
		MinioURL:           stringFromEnv("MINIO_URL", "localhost:9000"),
		MinioAccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:        boolFromEnv("MINIO_USE_SSL", false),
		DiplomaBucket:      stringFromEnv("DIPLOMA_BUCKET", DefaultDiplomaBucket),

		DiplomaTemplate:           os.Getenv("DIPLOMA_TEMPLATE"),
		WorkerScratchDir:          stringFromEnv("WORKER_SCRATCH_DIR", os.TempDir()),
		WorkerReconnectDelay:      secondsFromEnv("WORKER_RECONNECT_DELAY_SECONDS", 5),
		WorkerMaxReconnectDelay:   secondsFromEnv("WORKER_MAX_RECONNECT_DELAY_SECONDS", 60),
		WorkerMaxDeliveryAttempts: intFromEnv("WORKER_MAX_DELIVERY_ATTEMPTS", 5),
		WorkerConcurrency:         intFromEnv("WORKER_CONCURRENCY", 1),
		MetricsPort:               stringFromEnv("METRICS_PORT", "2112"),

		SweepInterval:   secondsFromEnv("SWEEP_INTERVAL_SECONDS", 60),
		SweepStaleAfter: secondsFromEnv("SWEEP_STALE_AFTER_SECONDS", 600),

		CorsAllowedOrigins: splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}
	// The subscription shares the queue name.
	cfg.DiplomaSubscription = stringFromEnv("DIPLOMA_SUBSCRIPTION", cfg.DiplomaTopic)
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	return cfg
}

// IsProduction reports whether GO_ENV is "production".
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func getPubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func secondsFromEnv(key string, def int) time.Duration {
	n := intFromEnv(key, def)
	if n < 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RetryDelay is the capped exponential delay used by the connect loops: 2^attempt seconds, at most 30s.
func RetryDelay(attempt int) time.Duration {
	sleep := time.Second * time.Duration(1<<min(attempt, 5))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
