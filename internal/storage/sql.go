package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

const (
	taskColumns = `id, folder_id, result_url, status, openai_task_id, file_name, language, created_at`
	fileColumns = `id, transcription_task_id, media_url, chunk_index, total_chunks, created_at`
)

// SQLStore persists transcription tasks and chunk metadata rows. It works
// against MySQL/TiDB ("mysql") and Postgres ("pgx").
type SQLStore struct {
	db    *sqlx.DB
	now   func() time.Time
	newID func() string
}

// NewSQLStore connects to the database and configures the pool
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return NewSQLStoreFromDB(db), nil
}

func NewSQLStoreFromDB(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for migrations.
func (s *SQLStore) DB() *sql.DB {
	return s.db.DB
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertTask inserts a task row, assigning its ID and creation time
func (s *SQLStore) InsertTask(ctx context.Context, task *models.TranscriptionTask) (*models.TranscriptionTask, error) {
	ctx, span := tracer.Start(ctx, "sql.insert_task",
		trace.WithAttributes(attribute.String("file_name", task.FileName)),
	)
	defer span.End()

	row := *task
	row.ID = s.newID()
	row.CreatedAt = s.now()

	query := `INSERT INTO transcription_tasks (` + taskColumns + `)
			  VALUES (:id, :folder_id, :result_url, :status, :openai_task_id, :file_name, :language, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to insert task: %w", constraintError(err))
	}

	span.SetAttributes(attribute.String("task_id", row.ID), attribute.Bool("insert_success", true))
	return &row, nil
}

// InsertChunks inserts every chunk row in one transaction; either all rows
// become visible or none do.
func (s *SQLStore) InsertChunks(ctx context.Context, files []*models.TranscriptionFile) ([]*models.TranscriptionFile, error) {
	ctx, span := tracer.Start(ctx, "sql.insert_chunks",
		trace.WithAttributes(attribute.Int("chunk_count", len(files))),
	)
	defer span.End()

	if len(files) == 0 {
		return nil, nil
	}

	now := s.now()
	rows := make([]models.TranscriptionFile, len(files))
	created := make([]*models.TranscriptionFile, len(files))
	for i, f := range files {
		rows[i] = *f
		rows[i].ID = s.newID()
		rows[i].CreatedAt = now
		created[i] = &rows[i]
	}

	query := `INSERT INTO transcription_files (` + fileColumns + `)
			  VALUES (:id, :transcription_task_id, :media_url, :chunk_index, :total_chunks, :created_at)`

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, query, rows)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to insert chunks: %w", constraintError(err))
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return created, nil
}

// GetTask retrieves a task by ID
func (s *SQLStore) GetTask(ctx context.Context, id string) (*models.TranscriptionTask, error) {
	ctx, span := tracer.Start(ctx, "sql.get_task",
		trace.WithAttributes(attribute.String("task_id", id)),
	)
	defer span.End()

	var task models.TranscriptionTask
	query := s.db.Rebind(`SELECT ` + taskColumns + ` FROM transcription_tasks WHERE id = ?`)
	if err := s.db.GetContext(ctx, &task, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			span.SetAttributes(attribute.Bool("found", false))
			return nil, models.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return &task, nil
}

// ListTasks returns tasks newest first, optionally restricted to one folder
func (s *SQLStore) ListTasks(ctx context.Context, folderID *string) ([]*models.TranscriptionTask, error) {
	ctx, span := tracer.Start(ctx, "sql.list_tasks")
	defer span.End()

	query := `SELECT ` + taskColumns + ` FROM transcription_tasks`
	var args []any
	if folderID != nil {
		query += ` WHERE folder_id = ?`
		args = append(args, *folderID)
	}
	query += ` ORDER BY created_at DESC`

	var tasks []*models.TranscriptionTask
	if err := s.db.SelectContext(ctx, &tasks, s.db.Rebind(query), args...); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	span.SetAttributes(attribute.Int("task_count", len(tasks)))
	return tasks, nil
}

// ListChunks retrieves all chunk rows for a task ordered by chunk_index
func (s *SQLStore) ListChunks(ctx context.Context, taskID string) ([]*models.TranscriptionFile, error) {
	ctx, span := tracer.Start(ctx, "sql.list_chunks",
		trace.WithAttributes(attribute.String("task_id", taskID)),
	)
	defer span.End()

	query := s.db.Rebind(`SELECT ` + fileColumns + `
			  FROM transcription_files
			  WHERE transcription_task_id = ?
			  ORDER BY chunk_index ASC`)

	var files []*models.TranscriptionFile
	if err := s.db.SelectContext(ctx, &files, query, taskID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	span.SetAttributes(attribute.Int("chunk_count", len(files)))
	return files, nil
}

// UpdateStatus moves a task to a new status, rejecting transitions the
// lifecycle does not allow. resultURL is stored when non-nil.
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, to models.TaskStatus, resultURL *string) (*models.TranscriptionTask, error) {
	ctx, span := tracer.Start(ctx, "sql.update_status",
		trace.WithAttributes(attribute.String("task_id", id), attribute.String("status", string(to))),
	)
	defer span.End()

	var updated models.TranscriptionTask
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current models.TranscriptionTask
		sel := tx.Rebind(`SELECT ` + taskColumns + ` FROM transcription_tasks WHERE id = ? FOR UPDATE`)
		if err := tx.GetContext(ctx, &current, sel, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrNotFound
			}
			return err
		}
		if err := models.ValidateTransition(current.Status, to); err != nil {
			return err
		}

		current.Status = to
		if resultURL != nil {
			current.ResultURL = resultURL
		}
		upd := tx.Rebind(`UPDATE transcription_tasks SET status = ?, result_url = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, upd, current.Status, current.ResultURL, id); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidTransition) {
			return nil, err
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}
	return &updated, nil
}

// DeleteTask removes a task and its chunk rows
func (s *SQLStore) DeleteTask(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "sql.delete_task",
		trace.WithAttributes(attribute.String("task_id", id)),
	)
	defer span.End()

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM transcription_files WHERE transcription_task_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM transcription_tasks WHERE id = ?`), id)
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
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// ListOrphanedTasks returns PENDING tasks created before cutoff that have no
// chunk rows.
func (s *SQLStore) ListOrphanedTasks(ctx context.Context, cutoff time.Time) ([]*models.TranscriptionTask, error) {
	ctx, span := tracer.Start(ctx, "sql.list_orphaned_tasks")
	defer span.End()

	query := s.db.Rebind(`SELECT ` + taskColumns + ` FROM transcription_tasks t
			  WHERE t.status = ? AND t.created_at < ?
			  AND NOT EXISTS (SELECT 1 FROM transcription_files f WHERE f.transcription_task_id = t.id)
			  ORDER BY t.created_at ASC`)

	var tasks []*models.TranscriptionTask
	if err := s.db.SelectContext(ctx, &tasks, query, models.StatusPending, cutoff); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list orphaned tasks: %w", err)
	}
	span.SetAttributes(attribute.Int("task_count", len(tasks)))
	return tasks, nil
}

// FailOrphanedTask marks a task FAILED only if it is still PENDING with no
// chunk rows, so a metadata insert landing concurrently wins.
func (s *SQLStore) FailOrphanedTask(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "sql.fail_orphaned_task",
		trace.WithAttributes(attribute.String("task_id", id)),
	)
	defer span.End()

	query := s.db.Rebind(`UPDATE transcription_tasks SET status = ?
			  WHERE id = ? AND status = ?
			  AND NOT EXISTS (SELECT 1 FROM transcription_files f WHERE f.transcription_task_id = ?)`)
	res, err := s.db.ExecContext(ctx, query, models.StatusFailed, id, models.StatusPending, id)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to mark task failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// constraintError maps unique and foreign key violations from either driver
// to ErrConflict and ErrInvalidArgument, keeping the driver error in the chain.
func constraintError(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return fmt.Errorf("%w: %w", models.ErrConflict, err)
		case 1452:
			return fmt.Errorf("%w: %w", models.ErrInvalidArgument, err)
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %w", models.ErrConflict, err)
		case "23503":
			return fmt.Errorf("%w: %w", models.ErrInvalidArgument, err)
		}
	}
	return err
}
