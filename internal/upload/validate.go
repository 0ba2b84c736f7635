package upload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

var (
	ErrEmptyFile    = errors.New("file is empty")
	ErrNotMediaFile = errors.New("file is not audio or video")
)

// IsMediaType reports whether a MIME type is audio/* or video/*.
func IsMediaType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	return strings.HasPrefix(mediaType, "audio/") || strings.HasPrefix(mediaType, "video/")
}

// Validate checks that a file can enter the pipeline and returns the content
// type to store its chunks with. A declared audio or video type is trusted;
// otherwise the leading bytes are sniffed.
func Validate(file models.MediaFile) (string, error) {
	if file.Name == "" {
		return "", fmt.Errorf("%w: file name is required", models.ErrInvalidArgument)
	}
	if file.Size < 0 {
		return "", fmt.Errorf("%w: negative size %d", models.ErrInvalidArgument, file.Size)
	}
	if file.Size == 0 {
		return "", ErrEmptyFile
	}
	if file.Content == nil {
		return "", fmt.Errorf("%w: file has no content", models.ErrInvalidArgument)
	}
	if IsMediaType(file.ContentType) {
		return file.ContentType, nil
	}

	detected, err := mimetype.DetectReader(io.NewSectionReader(file.Content, 0, file.Size))
	if err != nil {
		return "", fmt.Errorf("failed to detect content type: %w", err)
	}
	for mt := detected; mt != nil; mt = mt.Parent() {
		if IsMediaType(mt.String()) {
			return mt.String(), nil
		}
	}
	return "", fmt.Errorf("%w: detected %s", ErrNotMediaFile, detected.String())
}
