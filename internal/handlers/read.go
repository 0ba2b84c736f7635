package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/models"
	"github.com/topasiaedu/transcribe-upload/internal/reassembly"
)

// TaskHandler serves task lookups, progress, media and deletion
type TaskHandler struct {
	store     TaskStore
	cache     TaskCache
	assembler MediaAssembler
	objects   ObjectRemover
	log       *logger.Logger
}

// NewTaskHandler creates a new task handler. cache and objects may be nil.
func NewTaskHandler(store TaskStore, cache TaskCache, assembler MediaAssembler, objects ObjectRemover, log *logger.Logger) *TaskHandler {
	return &TaskHandler{store: store, cache: cache, assembler: assembler, objects: objects, log: orNop(log)}
}

// TaskResponse is a task with its chunk rows
type TaskResponse struct {
	Task   *models.TranscriptionTask   `json:"task"`
	Chunks []*models.TranscriptionFile `json:"chunks"`
}

// Get handles GET /tasks/{task_id}
func (th *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get_task",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	taskID := mux.Vars(r)["task_id"]
	span.SetAttributes(attribute.String("task_id", taskID))
	ctx = th.log.WithTaskID(ctx, taskID)

	task, err := th.getTask(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, th.log, w, err)
		return
	}

	chunks, err := th.getChunkMetadata(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, th.log, w, err)
		return
	}
	if chunks == nil {
		chunks = []*models.TranscriptionFile{}
	}

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	writeJSON(w, http.StatusOK, TaskResponse{Task: task, Chunks: chunks})
}

// List handles GET /tasks?folder_id=
func (th *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list_tasks",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	var folderID *string
	if v := r.URL.Query().Get("folder_id"); v != "" {
		folderID = &v
	}
	tasks, err := th.store.ListTasks(ctx, folderID)
	if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, th.log, w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.TranscriptionTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// Progress handles GET /tasks/{task_id}/progress
func (th *TaskHandler) Progress(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get_progress",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	taskID := mux.Vars(r)["task_id"]
	if th.cache == nil {
		writeError(w, http.StatusNotFound, "progress tracking is disabled")
		return
	}
	progress, err := th.cache.GetProgress(ctx, taskID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no progress recorded for task")
		return
	} else if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, th.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// Media handles GET /tasks/{task_id}/media by streaming the reassembled file
func (th *TaskHandler) Media(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get_media",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	taskID := mux.Vars(r)["task_id"]
	ctx = th.log.WithTaskID(ctx, taskID)

	task, err := th.getTask(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, th.log, w, err)
		return
	}

	// Check completeness before any byte of the body is written.
	rows, err := th.assembler.Chunks(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, reassembly.ErrIncompleteChunks) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeStoreError(ctx, th.log, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", task.FileName))
	w.WriteHeader(http.StatusOK)

	n, err := th.assembler.ReassembleRows(ctx, rows, w)
	span.SetAttributes(attribute.Int64("bytes_written", n))
	if err != nil {
		span.RecordError(err)
		th.log.Error(ctx, "media stream aborted", err)
		return
	}
	th.log.Info(ctx, "media streamed")
}

// getTask reads through the cache when one is configured
func (th *TaskHandler) getTask(ctx context.Context, taskID string) (*models.TranscriptionTask, error) {
	if th.cache != nil {
		ctx, cacheSpan := tracer.Start(ctx, "cache_lookup")
		task, err := th.cache.GetTask(ctx, taskID)
		cacheSpan.End()
		if err != nil {
			th.log.Warn(ctx, "cache lookup failed", err)
		} else if task != nil {
			th.log.Debug(ctx, "cache hit")
			return task, nil
		}
	}

	ctx, dbSpan := tracer.Start(ctx, "db_lookup")
	defer dbSpan.End()

	task, err := th.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if th.cache != nil {
		if err := th.cache.SetTask(ctx, task); err != nil {
			th.log.Warn(ctx, "failed to update cache", err)
		}
	}
	return task, nil
}

func (th *TaskHandler) getChunkMetadata(ctx context.Context, taskID string) ([]*models.TranscriptionFile, error) {
	ctx, span := tracer.Start(ctx, "fetch_chunk_metadata")
	defer span.End()

	return th.store.ListChunks(ctx, taskID)
}

func writeStoreError(ctx context.Context, log *logger.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error(ctx, "request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
