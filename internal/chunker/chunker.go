package chunker

import (
	"errors"
	"fmt"
	"io"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

const (
	// MaxChunkSize is the default chunk size, kept below the storage provider limit.
	MaxChunkSize int64 = 45 * 1024 * 1024
	// MaxFileSize is the object storage provider's per-object ceiling.
	MaxFileSize int64 = 50 * 1024 * 1024
)

var ErrNegativeSize = errors.New("file size must not be negative")

// ByteRange is the half-open interval [Offset, Offset+Length) of chunk Index.
type ByteRange struct {
	Index  int
	Offset int64
	Length int64
}

// ChunkPlan describes how a file of TotalSize bytes is partitioned.
type ChunkPlan struct {
	TotalSize    int64
	MaxChunkSize int64
	WasChunked   bool
	TotalChunks  int
}

// Range returns the byte range of chunk i.
func (p *ChunkPlan) Range(i int) ByteRange {
	offset := int64(i) * p.MaxChunkSize
	end := offset + p.MaxChunkSize
	if end > p.TotalSize {
		end = p.TotalSize
	}
	return ByteRange{Index: i, Offset: offset, Length: end - offset}
}

// Ranges returns every chunk range in ascending index order.
func (p *ChunkPlan) Ranges() []ByteRange {
	ranges := make([]ByteRange, p.TotalChunks)
	for i := range ranges {
		ranges[i] = p.Range(i)
	}
	return ranges
}

// Chunker handles file chunk planning and splitting
type Chunker struct {
	chunkSize int64
	namer     *Namer
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int64, namer *Namer) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkSize > MaxFileSize {
		return nil, fmt.Errorf("chunk size %s exceeds storage limit %s", FormatSize(chunkSize), FormatSize(MaxFileSize))
	}
	if namer == nil {
		namer = NewNamer()
	}
	return &Chunker{chunkSize: chunkSize, namer: namer}, nil
}

func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// NeedsChunking reports whether a file of the given size must be split.
func (c *Chunker) NeedsChunking(size int64) bool {
	return size > c.chunkSize
}

// Plan computes the chunk layout for a file of the given size.
func (c *Chunker) Plan(size int64) (*ChunkPlan, error) {
	if size < 0 {
		return nil, ErrNegativeSize
	}

	plan := &ChunkPlan{
		TotalSize:    size,
		MaxChunkSize: c.chunkSize,
		WasChunked:   c.NeedsChunking(size),
		TotalChunks:  1,
	}
	if plan.WasChunked {
		plan.TotalChunks = int((size + c.chunkSize - 1) / c.chunkSize)
	}
	return plan, nil
}

// Split slices the file into named chunks backed by section readers over its content.
func (c *Chunker) Split(file models.MediaFile) ([]*models.FileChunk, *ChunkPlan, error) {
	if file.Content == nil {
		return nil, nil, fmt.Errorf("file %q has no content", file.Name)
	}
	plan, err := c.Plan(file.Size)
	if err != nil {
		return nil, nil, err
	}

	chunks := make([]*models.FileChunk, 0, plan.TotalChunks)
	for _, r := range plan.Ranges() {
		chunks = append(chunks, &models.FileChunk{
			Blob:             io.NewSectionReader(file.Content, r.Offset, r.Length),
			Index:            r.Index,
			TotalChunks:      plan.TotalChunks,
			OriginalFileName: file.Name,
			ChunkFileName:    c.namer.Name(file.Name, r.Index, plan.TotalChunks),
			Size:             r.Length,
		})
	}
	return chunks, plan, nil
}

// Progress returns round(100*completed/total), or 0 when total is 0.
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*completed + total) / (2 * total)
}
