package upload

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

// Kind classifies why a file failed to upload.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindTaskCreation Kind = "task_creation"
	KindChunkUpload  Kind = "chunk_upload"
	KindMetadata     Kind = "metadata"
	KindCanceled     Kind = "canceled"
)

type Metadata struct {
	HTTPStatus int
	Retryable  bool
	Reason     string
}

var metadataByKind = map[Kind]Metadata{
	KindValidation: {
		HTTPStatus: http.StatusBadRequest,
		Retryable:  false,
		Reason:     "file was rejected",
	},
	KindTaskCreation: {
		HTTPStatus: http.StatusInternalServerError,
		Retryable:  true,
		Reason:     "could not create transcription task",
	},
	KindChunkUpload: {
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Reason:     "could not upload file to storage",
	},
	KindMetadata: {
		HTTPStatus: http.StatusInternalServerError,
		Retryable:  true,
		Reason:     "could not save uploaded file records",
	},
	KindCanceled: {
		HTTPStatus: 499,
		Retryable:  true,
		Reason:     "upload was canceled",
	},
}

// MetadataFor returns the user-facing metadata of a kind.
func MetadataFor(kind Kind) Metadata {
	if meta, ok := metadataByKind[kind]; ok {
		return meta
	}
	return Metadata{HTTPStatus: http.StatusInternalServerError, Reason: "upload failed"}
}

// UploadError is the failure of one file in a batch. ChunkIndex and
// TotalChunks are set only for errors that happened on a specific chunk.
type UploadError struct {
	Kind        Kind
	FileName    string
	ChunkIndex  int
	TotalChunks int
	Err         error
}

func (e *UploadError) Error() string {
	if e.TotalChunks > 0 {
		return fmt.Sprintf("upload %q: %s at chunk %d of %d: %v", e.FileName, e.Kind, e.ChunkIndex+1, e.TotalChunks, e.Err)
	}
	return fmt.Sprintf("upload %q: %s: %v", e.FileName, e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// validationReasons refine the validation reason by the sentinel wrapped in Err.
var validationReasons = []struct {
	err    error
	reason string
}{
	{ErrEmptyFile, "file is empty"},
	{ErrNotMediaFile, "file is not a supported audio or video file"},
	{models.ErrInvalidArgument, "file details are invalid"},
}

// Reason is the message shown to the person who selected the file.
func (e *UploadError) Reason() string {
	if e.Kind == KindValidation {
		for _, vr := range validationReasons {
			if errors.Is(e.Err, vr.err) {
				return vr.reason
			}
		}
	}
	return MetadataFor(e.Kind).Reason
}

// ReasonOf returns the Reason of the first UploadError in err's chain.
func ReasonOf(err error) string {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Reason()
	}
	return MetadataFor("").Reason
}

func (e *UploadError) HTTPStatus() int {
	return MetadataFor(e.Kind).HTTPStatus
}

// KindOf returns the kind of the first UploadError in err's chain, or "".
func KindOf(err error) Kind {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}
