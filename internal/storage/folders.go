package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

const folderColumns = `id, name, created_at`

// InsertFolder creates a folder, assigning its ID and creation time
func (s *SQLStore) InsertFolder(ctx context.Context, name *string) (*models.TranscriptionFolder, error) {
	ctx, span := tracer.Start(ctx, "sql.insert_folder")
	defer span.End()

	folder := models.TranscriptionFolder{ID: s.newID(), Name: name, CreatedAt: s.now()}
	query := `INSERT INTO transcription_folders (` + folderColumns + `) VALUES (:id, :name, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, folder); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to insert folder: %w", constraintError(err))
	}

	span.SetAttributes(attribute.String("folder_id", folder.ID))
	return &folder, nil
}

// ListFolders returns every folder, oldest first
func (s *SQLStore) ListFolders(ctx context.Context) ([]*models.TranscriptionFolder, error) {
	ctx, span := tracer.Start(ctx, "sql.list_folders")
	defer span.End()

	var folders []*models.TranscriptionFolder
	query := `SELECT ` + folderColumns + ` FROM transcription_folders ORDER BY created_at ASC`
	if err := s.db.SelectContext(ctx, &folders, query); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	span.SetAttributes(attribute.Int("folder_count", len(folders)))
	return folders, nil
}

// RenameFolder sets a folder's name
func (s *SQLStore) RenameFolder(ctx context.Context, id string, name *string) (*models.TranscriptionFolder, error) {
	ctx, span := tracer.Start(ctx, "sql.rename_folder",
		trace.WithAttributes(attribute.String("folder_id", id)),
	)
	defer span.End()

	var folder models.TranscriptionFolder
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE transcription_folders SET name = ? WHERE id = ?`), name, id); err != nil {
			return err
		}
		sel := tx.Rebind(`SELECT ` + folderColumns + ` FROM transcription_folders WHERE id = ?`)
		if err := tx.GetContext(ctx, &folder, sel, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to rename folder: %w", err)
	}
	return &folder, nil
}

// DeleteFolder removes a folder. Its tasks stay, with no folder.
func (s *SQLStore) DeleteFolder(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "sql.delete_folder",
		trace.WithAttributes(attribute.String("folder_id", id)),
	)
	defer span.End()

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE transcription_tasks SET folder_id = NULL WHERE folder_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM transcription_folders WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}
