package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/topasiaedu/transcribe-upload/internal/chunker"
	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/metrics"
	"github.com/topasiaedu/transcribe-upload/internal/models"
)

var tracer = otel.Tracer("transcribe-upload/upload")

// ProgressFunc receives the file's completion percentage after every chunk.
type ProgressFunc func(percent int)

// Options tunes how the chunks of one file are written.
type Options struct {
	// KeyPrefix is prepended to every chunk name to form its object key.
	KeyPrefix string
	// Concurrency caps in-flight chunk puts. Values below 2 upload
	// sequentially in ascending index order.
	Concurrency int
	// Retries is the number of extra attempts per chunk put.
	Retries      int
	RetryBackoff time.Duration
}

// Uploader writes a file's chunks to object storage and then records all
// chunk rows for its task in one batch.
type Uploader struct {
	chunker *chunker.Chunker
	objects ObjectStore
	chunks  ChunkStore
	opts    Options
	metrics *metrics.UploadMetrics
	log     *logger.Logger
}

func NewUploader(c *chunker.Chunker, objects ObjectStore, chunks ChunkStore, opts Options, m *metrics.UploadMetrics, log *logger.Logger) *Uploader {
	if log == nil {
		log = logger.Nop()
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	return &Uploader{chunker: c, objects: objects, chunks: chunks, opts: opts, metrics: m, log: log}
}

// Upload splits file, puts every chunk and, only once all puts succeed,
// inserts one row per chunk for taskID. Any failure leaves no rows behind.
// The returned rows are ordered by chunk index.
func (u *Uploader) Upload(ctx context.Context, file models.MediaFile, taskID string, onProgress ProgressFunc) ([]*models.TranscriptionFile, error) {
	ctx, span := tracer.Start(ctx, "uploader.upload",
		trace.WithAttributes(
			attribute.String("task_id", taskID),
			attribute.String("file_name", file.Name),
			attribute.Int64("file_size", file.Size),
		),
	)
	defer span.End()

	chunks, plan, err := u.chunker.Split(file)
	if err != nil {
		span.RecordError(err)
		return nil, &UploadError{Kind: KindValidation, FileName: file.Name, Err: err}
	}
	span.SetAttributes(
		attribute.Int("total_chunks", plan.TotalChunks),
		attribute.Bool("was_chunked", plan.WasChunked),
	)

	p := &filePut{
		uploader:    u,
		taskID:      taskID,
		contentType: file.ContentType,
		total:       plan.TotalChunks,
		rows:        make([]*models.TranscriptionFile, plan.TotalChunks),
		onProgress:  onProgress,
	}
	if u.opts.Concurrency > 1 && len(chunks) > 1 {
		err = p.concurrent(ctx, chunks, u.opts.Concurrency)
	} else {
		err = p.sequential(ctx, chunks)
	}
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("upload_success", false))
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, &UploadError{Kind: KindCanceled, FileName: file.Name, Err: err}
	}

	created, err := u.chunks.InsertChunks(ctx, p.rows)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("upload_success", false))
		kind := KindMetadata
		if ctx.Err() != nil {
			kind = KindCanceled
		}
		return nil, &UploadError{Kind: kind, FileName: file.Name, Err: err}
	}
	sort.Slice(created, func(i, j int) bool { return created[i].ChunkIndex < created[j].ChunkIndex })

	span.SetAttributes(attribute.Bool("upload_success", true))
	return created, nil
}

// filePut tracks the chunks of one file while they are being written.
type filePut struct {
	uploader    *Uploader
	taskID      string
	contentType string
	total       int
	onProgress  ProgressFunc

	mu        sync.Mutex
	rows      []*models.TranscriptionFile
	completed int
}

func (p *filePut) sequential(ctx context.Context, chunks []*models.FileChunk) error {
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return p.chunkError(KindCanceled, c, err)
		}
		if err := p.put(ctx, c); err != nil {
			return p.failure(ctx, c, err)
		}
	}
	return nil
}

func (p *filePut) concurrent(ctx context.Context, chunks []*models.FileChunk, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var unscheduled *models.FileChunk
	for _, c := range chunks {
		if gctx.Err() != nil {
			unscheduled = c
			break
		}
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return p.chunkError(KindCanceled, c, err)
			}
			if err := p.put(gctx, c); err != nil {
				return p.failure(ctx, c, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil && unscheduled != nil {
		err = p.chunkError(KindCanceled, unscheduled, ctx.Err())
	}
	return err
}

// failure classifies a put error, preferring cancellation of the caller's context.
func (p *filePut) failure(ctx context.Context, c *models.FileChunk, err error) error {
	if ctx.Err() != nil {
		return p.chunkError(KindCanceled, c, err)
	}
	return p.chunkError(KindChunkUpload, c, err)
}

func (p *filePut) chunkError(kind Kind, c *models.FileChunk, err error) error {
	return &UploadError{
		Kind:        kind,
		FileName:    c.OriginalFileName,
		ChunkIndex:  c.Index,
		TotalChunks: c.TotalChunks,
		Err:         err,
	}
}

func (p *filePut) put(ctx context.Context, c *models.FileChunk) error {
	u := p.uploader
	key := u.opts.KeyPrefix + c.ChunkFileName

	ctx, span := tracer.Start(ctx, "uploader.put_chunk",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int("chunk_index", c.Index),
			attribute.Int64("chunk_size", c.Size),
		),
	)
	defer span.End()

	attempt := 0
	op := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if _, err := c.Blob.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to rewind chunk: %w", err))
		}
		err := u.objects.Put(ctx, key, c.Blob, c.Size, p.contentType)
		if err != nil && attempt <= u.opts.Retries {
			u.log.Warn(ctx, fmt.Sprintf("chunk %d/%d put failed, retrying", c.Index+1, c.TotalChunks), err)
		}
		return err
	}

	var err error
	if u.opts.Retries > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = u.opts.RetryBackoff
		bo.MaxElapsedTime = 0
		err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(u.opts.Retries)), ctx))
	} else {
		err = op()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
	}
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		span.RecordError(err)
		u.metrics.ChunkFailed()
		return err
	}
	u.metrics.ChunkUploaded(c.Size)

	p.record(&models.TranscriptionFile{
		TranscriptionTaskID: p.taskID,
		MediaURL:            u.objects.PublicURL(key),
		ChunkIndex:          c.Index,
		TotalChunks:         c.TotalChunks,
	})
	return nil
}

// record stores a finished chunk's row and reports progress. Holding the
// lock while reporting keeps the reported percentages non-decreasing.
func (p *filePut) record(row *models.TranscriptionFile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[row.ChunkIndex] = row
	p.completed++
	if p.onProgress != nil {
		p.onProgress(chunker.Progress(p.completed, p.total))
	}
}
