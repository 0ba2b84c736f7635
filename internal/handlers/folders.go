package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/models"
)

// FolderHandler serves the folders tasks are filed under
type FolderHandler struct {
	store    FolderStore
	validate *validator.Validate
	log      *logger.Logger
}

func NewFolderHandler(store FolderStore, log *logger.Logger) *FolderHandler {
	return &FolderHandler{store: store, validate: validator.New(), log: orNop(log)}
}

type folderInput struct {
	Name *string `json:"name" validate:"omitempty,max=255"`
}

func (fh *FolderHandler) decode(w http.ResponseWriter, r *http.Request) (*string, bool) {
	var in folderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return nil, false
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
		if name == "" {
			in.Name = nil
		}
	}
	if err := fh.validate.Struct(in); err != nil {
		writeError(w, http.StatusBadRequest, "folder name must be at most 255 characters")
		return nil, false
	}
	return in.Name, true
}

// List handles GET /folders
func (fh *FolderHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list_folders",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	folders, err := fh.store.ListFolders(ctx)
	if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, fh.log, w, err)
		return
	}
	if folders == nil {
		folders = []*models.TranscriptionFolder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

// Create handles POST /folders
func (fh *FolderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "create_folder",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	name, ok := fh.decode(w, r)
	if !ok {
		return
	}
	folder, err := fh.store.InsertFolder(ctx, name)
	if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, fh.log, w, err)
		return
	}
	span.SetAttributes(attribute.String("folder_id", folder.ID))
	writeJSON(w, http.StatusCreated, folder)
}

// Rename handles PATCH /folders/{folder_id}
func (fh *FolderHandler) Rename(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "rename_folder",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	name, ok := fh.decode(w, r)
	if !ok {
		return
	}
	folder, err := fh.store.RenameFolder(ctx, mux.Vars(r)["folder_id"], name)
	if err != nil {
		span.RecordError(err)
		writeStoreError(ctx, fh.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

// Delete handles DELETE /folders/{folder_id}. Tasks in the folder are kept.
func (fh *FolderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_folder",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	if err := fh.store.DeleteFolder(ctx, mux.Vars(r)["folder_id"]); err != nil {
		span.RecordError(err)
		writeStoreError(ctx, fh.log, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
