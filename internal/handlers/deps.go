package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"

	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/models"
	"github.com/topasiaedu/transcribe-upload/internal/storage"
	"github.com/topasiaedu/transcribe-upload/internal/upload"
)

var tracer = otel.Tracer("transcribe-upload/handlers")

type BatchUploader interface {
	UploadBatch(ctx context.Context, files []models.MediaFile, opts upload.BatchOptions) *upload.BatchResult
}

type TaskStore interface {
	GetTask(ctx context.Context, id string) (*models.TranscriptionTask, error)
	ListTasks(ctx context.Context, folderID *string) ([]*models.TranscriptionTask, error)
	ListChunks(ctx context.Context, taskID string) ([]*models.TranscriptionFile, error)
	DeleteTask(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, to models.TaskStatus, resultURL *string) (*models.TranscriptionTask, error)
}

type FolderStore interface {
	InsertFolder(ctx context.Context, name *string) (*models.TranscriptionFolder, error)
	ListFolders(ctx context.Context) ([]*models.TranscriptionFolder, error)
	RenameFolder(ctx context.Context, id string, name *string) (*models.TranscriptionFolder, error)
	DeleteFolder(ctx context.Context, id string) error
}

// TaskCache is the Redis read-through cache and progress store. A nil
// TaskCache disables caching.
type TaskCache interface {
	GetTask(ctx context.Context, taskID string) (*models.TranscriptionTask, error)
	SetTask(ctx context.Context, task *models.TranscriptionTask) error
	InvalidateTask(ctx context.Context, taskID string) error
	GetProgress(ctx context.Context, taskID string) (*storage.Progress, error)
}

type MediaAssembler interface {
	Chunks(ctx context.Context, taskID string) ([]*models.TranscriptionFile, error)
	ReassembleRows(ctx context.Context, rows []*models.TranscriptionFile, w io.Writer) (int64, error)
}

// ObjectRemover deletes chunk blobs addressed by their public URL.
type ObjectRemover interface {
	KeyFromURL(u string) (string, bool)
	Delete(ctx context.Context, key string) error
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Message: msg})
}

func orNop(log *logger.Logger) *logger.Logger {
	if log == nil {
		return logger.Nop()
	}
	return log
}
