package reassembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

var tracer = otel.Tracer("transcribe-upload/reassembly")

// ErrIncompleteChunks means a task's chunk rows do not cover 0..n-1 exactly once.
var ErrIncompleteChunks = errors.New("incomplete chunk set")

type ChunkLister interface {
	ListChunks(ctx context.Context, taskID string) ([]*models.TranscriptionFile, error)
}

// Reassembler rebuilds an original upload from its chunk rows by fetching
// each chunk URL in index order.
type Reassembler struct {
	chunks ChunkLister
	client *retryablehttp.Client
}

func NewReassembler(chunks ChunkLister, client *retryablehttp.Client) *Reassembler {
	if client == nil {
		client = NewHTTPClient(3, 0, nil)
	}
	return &Reassembler{chunks: chunks, client: client}
}

// Chunks returns the task's rows ordered by chunk index after checking
// that they form a complete set.
func (r *Reassembler) Chunks(ctx context.Context, taskID string) ([]*models.TranscriptionFile, error) {
	rows, err := r.chunks.ListChunks(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	sorted := make([]*models.TranscriptionFile, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ChunkIndex < sorted[j].ChunkIndex })
	if err := CheckComplete(sorted); err != nil {
		return nil, err
	}
	return sorted, nil
}

// CheckComplete verifies rows, already sorted by index, hold indices
// 0..n-1 once each and all agree that there are n chunks.
func CheckComplete(rows []*models.TranscriptionFile) error {
	n := len(rows)
	if n == 0 {
		return fmt.Errorf("%w: no chunks recorded", ErrIncompleteChunks)
	}
	for i, row := range rows {
		if row.ChunkIndex != i {
			return fmt.Errorf("%w: expected chunk %d, found %d", ErrIncompleteChunks, i, row.ChunkIndex)
		}
		if row.TotalChunks != n {
			return fmt.Errorf("%w: chunk %d claims %d total, %d recorded", ErrIncompleteChunks, i, row.TotalChunks, n)
		}
	}
	return nil
}

// Reassemble streams the task's chunks to w in order and returns the bytes
// written. On error w may hold a prefix of the file.
func (r *Reassembler) Reassemble(ctx context.Context, taskID string, w io.Writer) (int64, error) {
	rows, err := r.Chunks(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return r.ReassembleRows(ctx, rows, w)
}

// ReassembleRows streams rows previously returned by Chunks to w in order.
// The set is checked again so callers cannot stream a partial file.
func (r *Reassembler) ReassembleRows(ctx context.Context, rows []*models.TranscriptionFile, w io.Writer) (int64, error) {
	ctx, span := tracer.Start(ctx, "reassembler.reassemble",
		trace.WithAttributes(attribute.Int("total_chunks", len(rows))),
	)
	defer span.End()

	if err := CheckComplete(rows); err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(rows) > 0 {
		span.SetAttributes(attribute.String("task_id", rows[0].TranscriptionTaskID))
	}

	var written int64
	for _, row := range rows {
		n, err := r.fetch(ctx, row, w)
		written += n
		if err != nil {
			span.RecordError(err)
			return written, err
		}
	}

	span.SetAttributes(attribute.Int64("bytes_written", written))
	return written, nil
}

func (r *Reassembler) fetch(ctx context.Context, row *models.TranscriptionFile, w io.Writer) (int64, error) {
	ctx, span := tracer.Start(ctx, "reassembler.fetch_chunk",
		trace.WithAttributes(attribute.Int("chunk_index", row.ChunkIndex)),
	)
	defer span.End()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, row.MediaURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request for chunk %d: %w", row.ChunkIndex, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to download chunk %d: %w", row.ChunkIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("failed to download chunk %d: unexpected status %d", row.ChunkIndex, resp.StatusCode)
		span.RecordError(err)
		return 0, err
	}

	n, err := io.Copy(w, resp.Body)
	span.SetAttributes(attribute.Int64("chunk_size", n))
	if err != nil {
		span.RecordError(err)
		return n, fmt.Errorf("failed to stream chunk %d: %w", row.ChunkIndex, err)
	}
	return n, nil
}
