package models

import (
	"io"
	"time"
)

// TranscriptionFolder groups tasks for the dashboard.
type TranscriptionFolder struct {
	ID        string    `db:"id" json:"id"`
	Name      *string   `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TranscriptionTask is one logical "transcribe this file" unit, independent
// of how many storage chunks back it.
type TranscriptionTask struct {
	ID           string     `db:"id" json:"id"`
	FolderID     *string    `db:"folder_id" json:"folder_id"`
	ResultURL    *string    `db:"result_url" json:"result_url"`
	Status       TaskStatus `db:"status" json:"status"`
	OpenAITaskID *string    `db:"openai_task_id" json:"openai_task_id"`
	FileName     string     `db:"file_name" json:"file_name"`
	Language     string     `db:"language" json:"language"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// TranscriptionFile is the persisted metadata row for one uploaded chunk.
type TranscriptionFile struct {
	ID                  string    `db:"id" json:"id"`
	TranscriptionTaskID string    `db:"transcription_task_id" json:"transcription_task_id"`
	MediaURL            string    `db:"media_url" json:"media_url"`
	ChunkIndex          int       `db:"chunk_index" json:"chunk_index"`
	TotalChunks         int       `db:"total_chunks" json:"total_chunks"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// MediaFile is a caller-supplied file awaiting upload.
type MediaFile struct {
	Name        string
	Size        int64
	ContentType string
	Content     io.ReaderAt
}

// FileChunk is one contiguous byte range of a MediaFile, ready for upload.
type FileChunk struct {
	Blob             *io.SectionReader
	Index            int
	TotalChunks      int
	OriginalFileName string
	ChunkFileName    string
	Size             int64
}
