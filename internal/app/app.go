package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/topasiaedu/transcribe-upload/internal/chunker"
	"github.com/topasiaedu/transcribe-upload/internal/config"
	"github.com/topasiaedu/transcribe-upload/internal/handlers"
	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/metrics"
	"github.com/topasiaedu/transcribe-upload/internal/reassembly"
	"github.com/topasiaedu/transcribe-upload/internal/reconcile"
	"github.com/topasiaedu/transcribe-upload/internal/storage"
	"github.com/topasiaedu/transcribe-upload/internal/upload"
)

// ObjectBackend is the object store surface shared by the MinIO and S3 clients.
type ObjectBackend interface {
	upload.ObjectStore
	handlers.ObjectRemover
}

// App holds every wired component of the service.
type App struct {
	Config      *config.Config
	Log         *logger.Logger
	Registry    *prometheus.Registry
	Metrics     *metrics.UploadMetrics
	Store       *storage.SQLStore
	Objects     ObjectBackend
	Cache       *storage.RedisClient
	Service     *upload.Service
	Reassembler *reassembly.Reassembler
	Reconciler  *reconcile.Reconciler

	closers []io.Closer
}

// New connects to every configured backend.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewUploadMetrics(a.Registry)

	log.Info(ctx, fmt.Sprintf("connecting to %s database", cfg.DB.Driver))
	store, err := storage.NewSQLStore(ctx, cfg.DB.Driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store)

	log.Info(ctx, fmt.Sprintf("connecting to %s object storage", cfg.Storage.Backend))
	objects, err := NewObjectBackend(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Objects = objects

	var progress upload.ProgressSink
	if cfg.Redis.Host != "" {
		log.Info(ctx, "connecting to Redis")
		cache, err := storage.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		a.Cache = cache
		a.closers = append(a.closers, cache)
		progress = cache
	}

	a.Service, err = NewService(cfg, objects, store, progress, a.Metrics, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	fetchClient := reassembly.NewHTTPClient(cfg.Worker.FetchRetry, 0, log)
	a.Reassembler = reassembly.NewReassembler(store, fetchClient)

	var cache reconcile.Cache
	if a.Cache != nil {
		cache = a.Cache
	}
	a.Reconciler = reconcile.NewReconciler(store, cache, cfg.Reconcile.StaleAfter, a.Metrics, log)
	return a, nil
}

// NewObjectBackend builds the configured MinIO or S3 client.
func NewObjectBackend(ctx context.Context, cfg *config.Config) (ObjectBackend, error) {
	s := cfg.Storage
	switch s.Backend {
	case "s3":
		endpoint := s.Endpoint
		if endpoint != "" && !strings.Contains(endpoint, "://") {
			scheme := "http://"
			if s.UseSSL {
				scheme = "https://"
			}
			endpoint = scheme + endpoint
		}
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Region:        s.Region,
			AccessKey:     s.AccessKey,
			SecretKey:     s.SecretKey,
			Bucket:        s.Bucket,
			Endpoint:      endpoint,
			PublicBaseURL: s.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		return client, nil
	default:
		client, err := storage.NewMinioClient(ctx, s.Endpoint, s.AccessKey, s.SecretKey, s.Bucket, cfg.KeyPrefix(), s.PublicBaseURL, s.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
		}
		return client, nil
	}
}

// TaskChunkStore is the metadata surface the upload pipeline writes to.
type TaskChunkStore interface {
	upload.TaskStore
	upload.ChunkStore
}

// NewService wires the batch upload pipeline. progress may be nil.
func NewService(cfg *config.Config, objects upload.ObjectStore, store TaskChunkStore, progress upload.ProgressSink, m *metrics.UploadMetrics, log *logger.Logger) (*upload.Service, error) {
	c, err := chunker.NewChunker(cfg.GetChunkSizeBytes(), nil)
	if err != nil {
		return nil, fmt.Errorf("invalid chunk size: %w", err)
	}
	uploader := upload.NewUploader(c, objects, store, upload.Options{
		KeyPrefix:    cfg.KeyPrefix(),
		Concurrency:  cfg.Upload.Concurrency,
		Retries:      cfg.Upload.ChunkRetries,
		RetryBackoff: cfg.Upload.RetryBackoff,
	}, m, log)

	var notifier upload.Notifier
	if cfg.Worker.URL != "" {
		client := reassembly.NewHTTPClient(cfg.Worker.RetryMax, cfg.Worker.Timeout, log)
		notifier = reassembly.NewWorkerNotifier(cfg.Worker.URL, client)
	}
	return upload.NewService(upload.NewRecorder(store), uploader, progress, notifier, m, log), nil
}

// Router returns the HTTP API.
func (a *App) Router() http.Handler {
	var cache handlers.TaskCache
	if a.Cache != nil {
		cache = a.Cache
	}
	return handlers.NewRouter(handlers.Routes{
		Upload:  handlers.NewUploadHandler(a.Service, a.Config.Upload.MaxFormMB<<20, a.Log),
		Tasks:   handlers.NewTaskHandler(a.Store, cache, a.Reassembler, a.Objects, a.Log),
		Folders: handlers.NewFolderHandler(a.Store, a.Log),
		Metrics: promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		Ready: func(r *http.Request) error {
			return a.Store.Ping(r.Context())
		},
	})
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Log.Warn(context.Background(), "failed to close backend", err)
		}
	}
	a.closers = nil
}
