package handlers

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/models"
	"github.com/topasiaedu/transcribe-upload/internal/upload"
)

// UploadHandler handles multipart batch uploads
type UploadHandler struct {
	service   BatchUploader
	maxMemory int64
	log       *logger.Logger
}

// NewUploadHandler creates a new upload handler. Form parts beyond
// maxMemory bytes are spooled to temporary files.
func NewUploadHandler(service BatchUploader, maxMemory int64, log *logger.Logger) *UploadHandler {
	return &UploadHandler{service: service, maxMemory: maxMemory, log: orNop(log)}
}

type chunkResponse struct {
	ID         string `json:"id"`
	MediaURL   string `json:"media_url"`
	ChunkIndex int    `json:"chunk_index"`
}

type fileError struct {
	Kind    upload.Kind `json:"kind"`
	Reason  string      `json:"reason"`
	Message string      `json:"message"`
}

type fileResponse struct {
	FileName    string          `json:"file_name"`
	FileSize    int64           `json:"file_size"`
	TaskID      string          `json:"task_id,omitempty"`
	WasChunked  bool            `json:"was_chunked"`
	TotalChunks int             `json:"total_chunks"`
	Chunks      []chunkResponse `json:"chunks,omitempty"`
	Notified    bool            `json:"notified"`
	Error       *fileError      `json:"error,omitempty"`
}

// UploadResponse represents the response for a batch upload
type UploadResponse struct {
	Files     []fileResponse `json:"files"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

// ServeHTTP handles POST /tasks/upload
func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_batch",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	ctx = uh.log.WithRequestID(ctx, requestID(r))

	if err := r.ParseMultipartForm(uh.maxMemory); err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "missing 'files' form field")
		return
	}
	span.SetAttributes(attribute.Int("file_count", len(headers)))

	opts, err := batchOptions(r.MultipartForm, len(headers))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	files := make([]models.MediaFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			span.RecordError(err)
			closeAll(files)
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %q: %v", fh.Filename, err))
			return
		}
		files = append(files, models.MediaFile{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     f,
		})
	}
	defer closeAll(files)

	result := uh.service.UploadBatch(ctx, files, opts)

	resp := UploadResponse{
		Files:     make([]fileResponse, 0, len(result.Files)),
		Succeeded: result.Succeeded(),
		Failed:    result.Failed(),
	}
	for _, fr := range result.Files {
		resp.Files = append(resp.Files, toFileResponse(fr))
	}

	span.SetAttributes(
		attribute.Int("files_succeeded", resp.Succeeded),
		attribute.Int("files_failed", resp.Failed),
	)
	writeJSON(w, batchStatus(result), resp)
}

func batchOptions(form *multipart.Form, count int) (upload.BatchOptions, error) {
	var opts upload.BatchOptions
	if folder := formValue(form, "folder_id"); folder != "" {
		opts.FolderID = &folder
	}
	opts.Language = formValue(form, "language")
	if err := checkLanguage(opts.Language); err != nil {
		return opts, err
	}
	for i := 0; i < count; i++ {
		lang := formValue(form, "language_"+strconv.Itoa(i))
		if lang == "" {
			continue
		}
		if err := checkLanguage(lang); err != nil {
			return opts, err
		}
		if opts.FileLanguages == nil {
			opts.FileLanguages = map[int]string{}
		}
		opts.FileLanguages[i] = lang
	}
	return opts, nil
}

func checkLanguage(code string) error {
	if code == "" {
		return nil
	}
	if _, ok := models.LanguageByCode(code); !ok {
		return fmt.Errorf("unsupported language %q", code)
	}
	return nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// batchStatus is 201 when every file succeeded and 207 when only some did.
// When none did, a batch of invalid files is a 400 and anything else takes
// the status of its first failure.
func batchStatus(result *upload.BatchResult) int {
	switch ok := result.Succeeded(); {
	case ok == len(result.Files):
		return http.StatusCreated
	case ok > 0:
		return http.StatusMultiStatus
	}
	for _, fr := range result.Files {
		if kind := upload.KindOf(fr.Err); kind != upload.KindValidation {
			return upload.MetadataFor(kind).HTTPStatus
		}
	}
	return http.StatusBadRequest
}

func toFileResponse(fr *upload.FileResult) fileResponse {
	resp := fileResponse{
		FileName:    fr.FileName,
		FileSize:    fr.Size,
		TaskID:      fr.TaskID,
		WasChunked:  fr.WasChunked,
		TotalChunks: fr.TotalChunks,
		Notified:    fr.Notified,
	}
	for _, c := range fr.Chunks {
		resp.Chunks = append(resp.Chunks, chunkResponse{ID: c.ID, MediaURL: c.MediaURL, ChunkIndex: c.ChunkIndex})
	}
	if fr.Err != nil {
		kind := upload.KindOf(fr.Err)
		resp.Error = &fileError{
			Kind:    kind,
			Reason:  upload.ReasonOf(fr.Err),
			Message: fr.Err.Error(),
		}
	}
	return resp
}

func closeAll(files []models.MediaFile) {
	for _, f := range files {
		if c, ok := f.Content.(multipart.File); ok {
			c.Close()
		}
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// Delete handles DELETE /tasks/{task_id}. Chunk blobs are removed first,
// then the rows, then any cached copy.
func (th *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_task",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	taskID := mux.Vars(r)["task_id"]
	span.SetAttributes(attribute.String("task_id", taskID))
	ctx = th.log.WithTaskID(ctx, taskID)

	if _, err := th.store.GetTask(ctx, taskID); err != nil {
		span.RecordError(err)
		writeStoreError(ctx, th.log, w, err)
		return
	}

	chunks, err := th.store.ListChunks(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, th.log, w, err)
		return
	}
	if th.objects != nil {
		for _, c := range chunks {
			key, ok := th.objects.KeyFromURL(c.MediaURL)
			if !ok {
				th.log.Warn(ctx, fmt.Sprintf("chunk url %s is not in this bucket", c.MediaURL), nil)
				continue
			}
			if err := th.objects.Delete(ctx, key); err != nil {
				th.log.Warn(ctx, "failed to delete chunk object", err)
			}
		}
	}

	if err := th.store.DeleteTask(ctx, taskID); err != nil {
		span.RecordError(err)
		writeStoreError(ctx, th.log, w, err)
		return
	}

	if th.cache != nil {
		if err := th.cache.InvalidateTask(ctx, taskID); err != nil {
			th.log.Warn(ctx, "failed to invalidate cache", err)
		}
	}

	span.SetAttributes(attribute.Int("chunks_deleted", len(chunks)))
	w.WriteHeader(http.StatusNoContent)
}

// StatusUpdate is the transcription worker's report on a task
type StatusUpdate struct {
	Status    models.TaskStatus `json:"status"`
	ResultURL *string           `json:"result_url"`
}

// UpdateStatus handles PATCH /tasks/{task_id}/status
func (th *TaskHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "update_task_status",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	taskID := mux.Vars(r)["task_id"]
	ctx = th.log.WithTaskID(ctx, taskID)

	var body StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if !body.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", body.Status))
		return
	}
	span.SetAttributes(attribute.String("task_id", taskID), attribute.String("status", string(body.Status)))

	task, err := th.store.UpdateStatus(ctx, taskID, body.Status, body.ResultURL)
	if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, th.log, w, err)
		return
	}

	// Refresh the cached copy; drop it when the refresh fails.
	if th.cache != nil {
		if err := th.cache.SetTask(ctx, task); err != nil {
			th.log.Warn(ctx, "failed to update cache", err)
			if err := th.cache.InvalidateTask(ctx, taskID); err != nil {
				th.log.Warn(ctx, "failed to invalidate cache", err)
			}
		}
	}

	th.log.Info(ctx, fmt.Sprintf("task moved to %s", task.Status))
	writeJSON(w, http.StatusOK, task)
}
