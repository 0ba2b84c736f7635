package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/topasiaedu/transcribe-upload/internal/config"
	"github.com/topasiaedu/transcribe-upload/internal/models"
	"github.com/topasiaedu/transcribe-upload/internal/storage"
	"github.com/topasiaedu/transcribe-upload/internal/upload"
)

func testConfig() *config.Config {
	return &config.Config{
		Upload: config.UploadConfig{
			ChunkSizeMB:  1,
			Concurrency:  2,
			RetryBackoff: time.Millisecond,
			KeyPrefix:    "medias",
		},
		Worker: config.WorkerConfig{Timeout: time.Second},
	}
}

func TestNewService_UploadsAndNotifiesWorker(t *testing.T) {
	var notified atomic.Value
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		notified.Store(body["transcription_task_id"])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer worker.Close()

	cfg := testConfig()
	cfg.Worker.URL = worker.URL

	objects := storage.NewMemoryObjects("https://cdn.test")
	store := storage.NewMemoryStore()
	service, err := NewService(cfg, objects, store, nil, nil, nil)
	require.NoError(t, err)

	data := bytes.Repeat([]byte{1}, 3<<20)
	result := service.UploadBatch(context.Background(), []models.MediaFile{{
		Name:        "long.mp4",
		Size:        int64(len(data)),
		ContentType: "video/mp4",
		Content:     bytes.NewReader(data),
	}}, upload.BatchOptions{})

	require.NoError(t, result.Err())
	fr := result.Files[0]
	require.True(t, fr.Notified)
	require.Equal(t, fr.TaskID, notified.Load())
	require.Equal(t, 3, fr.TotalChunks)
	require.Len(t, objects.Keys(), 3)
	for _, key := range objects.Keys() {
		require.Regexp(t, `^medias/long_\d+_[a-z0-9]+_chunk00[1-3]of003\.mp4$`, key)
	}
}

func TestNewService_RejectsBadChunkSize(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.ChunkSizeMB = 0
	_, err := NewService(cfg, storage.NewMemoryObjects(""), storage.NewMemoryStore(), nil, nil, nil)
	require.Error(t, err)
}
