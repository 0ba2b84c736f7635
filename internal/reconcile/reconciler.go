package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/metrics"
	"github.com/topasiaedu/transcribe-upload/internal/models"
)

var tracer = otel.Tracer("transcribe-upload/reconcile")

// TaskStore finds and fails pending tasks whose upload never recorded a chunk.
type TaskStore interface {
	ListOrphanedTasks(ctx context.Context, cutoff time.Time) ([]*models.TranscriptionTask, error)
	FailOrphanedTask(ctx context.Context, id string) (bool, error)
}

// Cache drops stale cached copies of tasks that changed status.
type Cache interface {
	InvalidateTask(ctx context.Context, taskID string) error
}

// Reconciler marks PENDING tasks with no chunk rows as FAILED once they are
// older than staleAfter. Such tasks are left behind when an upload fails
// after its task was created.
type Reconciler struct {
	tasks      TaskStore
	cache      Cache
	staleAfter time.Duration
	metrics    *metrics.UploadMetrics
	log        *logger.Logger
	now        func() time.Time
}

func NewReconciler(tasks TaskStore, cache Cache, staleAfter time.Duration, m *metrics.UploadMetrics, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		tasks:      tasks,
		cache:      cache,
		staleAfter: staleAfter,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// RunOnce fails every orphaned task and returns how many changed.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "reconciler.run_once")
	defer span.End()

	cutoff := r.now().Add(-r.staleAfter)
	orphans, err := r.tasks.ListOrphanedTasks(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to list orphaned tasks: %w", err)
	}

	failed := 0
	for _, task := range orphans {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		ok, err := r.tasks.FailOrphanedTask(ctx, task.ID)
		if err != nil {
			r.log.Warn(r.log.WithTaskID(ctx, task.ID), "failed to mark orphaned task failed", err)
			continue
		}
		if !ok {
			continue
		}
		failed++
		if r.cache != nil {
			if err := r.cache.InvalidateTask(ctx, task.ID); err != nil {
				r.log.Warn(r.log.WithTaskID(ctx, task.ID), "failed to invalidate cached task", err)
			}
		}
	}

	r.metrics.TasksReconciled(failed)
	span.SetAttributes(
		attribute.Int("orphans_found", len(orphans)),
		attribute.Int("orphans_failed", failed),
	)
	if failed > 0 {
		r.log.Info(ctx, fmt.Sprintf("marked %d orphaned task(s) failed", failed))
	}
	return failed, nil
}

// Run calls RunOnce every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error(ctx, "reconcile pass failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
