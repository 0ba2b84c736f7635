package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/topasiaedu/transcribe-upload/internal/chunker"
	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/metrics"
	"github.com/topasiaedu/transcribe-upload/internal/models"
)

// BatchOptions applies to every file of one UploadBatch call.
type BatchOptions struct {
	FolderID *string
	// Language is used for files without an entry in FileLanguages.
	Language string
	// FileLanguages overrides the language per file, keyed by position.
	FileLanguages map[int]string
	// OnProgress, when set, is called after every progress change.
	OnProgress func(fileName, taskID string, percent int)
}

func (o BatchOptions) languageFor(i int) string {
	if lang, ok := o.FileLanguages[i]; ok && lang != "" {
		return lang
	}
	return o.Language
}

// FileResult is the outcome of one file. Err is nil on success and an
// *UploadError otherwise.
type FileResult struct {
	FileName    string
	Size        int64
	ContentType string
	TaskID      string
	WasChunked  bool
	TotalChunks int
	Chunks      []*models.TranscriptionFile
	Notified    bool
	Err         error
}

// BatchResult collects per-file outcomes and the latest progress of each
// file, keyed by file name.
type BatchResult struct {
	Files    []*FileResult
	Progress map[string]int
}

func (r *BatchResult) Succeeded() int {
	n := 0
	for _, f := range r.Files {
		if f.Err == nil {
			n++
		}
	}
	return n
}

func (r *BatchResult) Failed() int {
	return len(r.Files) - r.Succeeded()
}

// Err combines every per-file error, or returns nil when all files succeeded.
func (r *BatchResult) Err() error {
	var err error
	for _, f := range r.Files {
		err = multierr.Append(err, f.Err)
	}
	return err
}

// Service runs the validate, create task, upload and persist steps for
// each selected file.
type Service struct {
	recorder *Recorder
	uploader *Uploader
	chunker  *chunker.Chunker
	progress ProgressSink
	notifier Notifier
	metrics  *metrics.UploadMetrics
	log      *logger.Logger
}

// NewService wires a batch service. progress and notifier may be nil.
func NewService(recorder *Recorder, uploader *Uploader, progress ProgressSink, notifier Notifier, m *metrics.UploadMetrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		recorder: recorder,
		uploader: uploader,
		chunker:  uploader.chunker,
		progress: progress,
		notifier: notifier,
		metrics:  m,
		log:      log,
	}
}

// UploadBatch processes files one at a time in the given order. A failing
// file never stops the others, except cancellation, which marks every
// remaining file canceled.
func (s *Service) UploadBatch(ctx context.Context, files []models.MediaFile, opts BatchOptions) *BatchResult {
	ctx, span := tracer.Start(ctx, "service.upload_batch",
		trace.WithAttributes(attribute.Int("file_count", len(files))),
	)
	defer span.End()

	result := &BatchResult{
		Files:    make([]*FileResult, 0, len(files)),
		Progress: make(map[string]int, len(files)),
	}
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			result.Files = append(result.Files, &FileResult{
				FileName: file.Name,
				Size:     file.Size,
				Err:      &UploadError{Kind: KindCanceled, FileName: file.Name, Err: err},
			})
			continue
		}
		result.Files = append(result.Files, s.uploadFile(ctx, file, opts.languageFor(i), opts, result))
	}

	span.SetAttributes(
		attribute.Int("files_succeeded", result.Succeeded()),
		attribute.Int("files_failed", result.Failed()),
	)
	return result
}

func (s *Service) uploadFile(ctx context.Context, file models.MediaFile, language string, opts BatchOptions, batch *BatchResult) *FileResult {
	start := time.Now()
	ctx = s.log.WithFileName(ctx, file.Name)
	res := &FileResult{FileName: file.Name, Size: file.Size}

	fail := func(err *UploadError) *FileResult {
		res.Err = err
		s.metrics.FileFinished(string(err.Kind), time.Since(start))
		s.log.Error(ctx, "file upload failed", err)
		return res
	}

	contentType, err := Validate(file)
	if err != nil {
		return fail(&UploadError{Kind: KindValidation, FileName: file.Name, Err: err})
	}
	file.ContentType = contentType
	res.ContentType = contentType

	plan, err := s.chunker.Plan(file.Size)
	if err != nil {
		return fail(&UploadError{Kind: KindValidation, FileName: file.Name, Err: err})
	}
	res.WasChunked = plan.WasChunked
	res.TotalChunks = plan.TotalChunks

	task, err := s.recorder.CreateTask(ctx, file.Name, opts.FolderID, language)
	if err != nil {
		kind := KindTaskCreation
		switch {
		case ctx.Err() != nil:
			kind = KindCanceled
		case errors.Is(err, models.ErrInvalidArgument):
			kind = KindValidation
		}
		return fail(&UploadError{Kind: kind, FileName: file.Name, Err: err})
	}
	res.TaskID = task.ID
	ctx = s.log.WithTaskID(ctx, task.ID)

	if plan.WasChunked {
		s.log.Info(ctx, fmt.Sprintf("uploading %s in %d chunks", chunker.FormatSize(file.Size), plan.TotalChunks))
	}

	publish := func(percent int) {
		batch.Progress[file.Name] = percent
		if s.progress != nil {
			if err := s.progress.SetProgress(ctx, task.ID, file.Name, percent); err != nil {
				s.log.Warn(ctx, "failed to publish progress", err)
			}
		}
	}
	publish(0)
	report := func(percent int) {
		publish(percent)
		if opts.OnProgress != nil {
			opts.OnProgress(file.Name, task.ID, percent)
		}
	}

	rows, err := s.uploader.Upload(ctx, file, task.ID, report)
	if err != nil {
		var ue *UploadError
		if !errors.As(err, &ue) {
			ue = &UploadError{Kind: KindChunkUpload, FileName: file.Name, Err: err}
		}
		return fail(ue)
	}
	res.Chunks = rows

	if s.notifier != nil {
		if err := s.notifier.NotifyUploaded(ctx, task.ID); err != nil {
			s.log.Warn(ctx, "failed to notify transcription worker", err)
		} else {
			res.Notified = true
		}
	}

	s.metrics.FileFinished("", time.Since(start))
	s.log.Info(ctx, fmt.Sprintf("file uploaded as %d chunk(s)", len(rows)))
	return res
}
