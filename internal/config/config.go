package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Service   ServiceConfig
	Upload    UploadConfig
	DB        DBConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Tracing   TracingConfig
	Worker    WorkerConfig
	Reconcile ReconcileConfig
}

type ServiceConfig struct {
	Name      string `envconfig:"SERVICE_NAME" default:"transcribe-upload"`
	Port      string `envconfig:"SERVICE_PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

type UploadConfig struct {
	ChunkSizeMB  int           `envconfig:"CHUNK_SIZE_MB" default:"45"`
	Concurrency  int           `envconfig:"UPLOAD_CONCURRENCY" default:"1"`
	ChunkRetries int           `envconfig:"UPLOAD_CHUNK_RETRIES" default:"0"`
	RetryBackoff time.Duration `envconfig:"UPLOAD_RETRY_BACKOFF" default:"500ms"`
	KeyPrefix    string        `envconfig:"UPLOAD_KEY_PREFIX" default:"medias/"`
	MaxFormMB    int64         `envconfig:"UPLOAD_MAX_FORM_MB" default:"32"`
}

type DBConfig struct {
	// Driver is "mysql" (TiDB/MySQL) or "pgx" (Postgres).
	Driver   string `envconfig:"DB_DRIVER" default:"mysql"`
	DSN      string `envconfig:"DB_DSN"`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"4000"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME" default:"transcription"`
}

type StorageConfig struct {
	// Backend is "minio" or "s3".
	Backend       string `envconfig:"STORAGE_BACKEND" default:"minio"`
	Endpoint      string `envconfig:"STORAGE_ENDPOINT" default:"localhost:9000"`
	AccessKey     string `envconfig:"STORAGE_ACCESS_KEY" default:"minioadmin"`
	SecretKey     string `envconfig:"STORAGE_SECRET_KEY" default:"minioadmin"`
	Bucket        string `envconfig:"STORAGE_BUCKET" default:"transcription"`
	Region        string `envconfig:"STORAGE_REGION" default:"us-east-1"`
	UseSSL        bool   `envconfig:"STORAGE_USE_SSL" default:"false"`
	PublicBaseURL string `envconfig:"STORAGE_PUBLIC_BASE_URL"`
}

// RedisConfig locates the task cache. An empty REDIS_HOST disables caching
// and progress tracking.
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type TracingConfig struct {
	// Endpoint is the OTLP HTTP collector; empty disables export.
	Endpoint    string  `envconfig:"OTLP_ENDPOINT" default:"localhost:4318"`
	SampleRatio float64 `envconfig:"TRACE_SAMPLE_RATIO" default:"1"`
}

type WorkerConfig struct {
	URL        string        `envconfig:"WORKER_URL"`
	Timeout    time.Duration `envconfig:"WORKER_TIMEOUT" default:"30s"`
	RetryMax   int           `envconfig:"WORKER_RETRY_MAX" default:"3"`
	FetchRetry int           `envconfig:"CHUNK_FETCH_RETRY_MAX" default:"3"`
}

type ReconcileConfig struct {
	Interval   time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1h"`
	StaleAfter time.Duration `envconfig:"RECONCILE_STALE_AFTER" default:"24h"`
}

// LoadConfig loads configuration from the environment, reading an optional
// .env file first.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "mysql", "pgx":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	switch c.Storage.Backend {
	case "minio", "s3":
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Upload.ChunkSizeMB <= 0 {
		return fmt.Errorf("CHUNK_SIZE_MB must be positive")
	}
	if c.Upload.Concurrency <= 0 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be positive")
	}
	if c.Upload.ChunkRetries < 0 {
		return fmt.Errorf("UPLOAD_CHUNK_RETRIES must not be negative")
	}
	return nil
}

// GetDSN returns the database connection string for the configured driver
func (c *Config) GetDSN() string {
	if c.DB.DSN != "" {
		return c.DB.DSN
	}
	if c.DB.Driver == "pgx" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			c.DB.User,
			c.DB.Password,
			c.DB.Host,
			c.DB.Port,
			c.DB.Name,
		)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DB.User,
		c.DB.Password,
		c.DB.Host,
		c.DB.Port,
		c.DB.Name,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.Upload.ChunkSizeMB) * 1024 * 1024
}

// KeyPrefix returns the object key prefix, always ending in a slash when set.
func (c *Config) KeyPrefix() string {
	p := strings.TrimPrefix(c.Upload.KeyPrefix, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
