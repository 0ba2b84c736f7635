package upload

import (
	"context"
	"io"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

// ObjectStore writes chunk blobs and resolves their public URLs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PublicURL(key string) string
}

type TaskStore interface {
	InsertTask(ctx context.Context, task *models.TranscriptionTask) (*models.TranscriptionTask, error)
}

// ChunkStore persists every chunk row of one file in a single batch.
type ChunkStore interface {
	InsertChunks(ctx context.Context, files []*models.TranscriptionFile) ([]*models.TranscriptionFile, error)
}

// ProgressSink receives every per-file progress update, keyed by task ID.
type ProgressSink interface {
	SetProgress(ctx context.Context, taskID, fileName string, percent int) error
}

// Notifier tells the transcription worker a task's chunks are ready.
type Notifier interface {
	NotifyUploaded(ctx context.Context, taskID string) error
}
