package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

var taskCols = []string{"id", "folder_id", "result_url", "status", "openai_task_id", "file_name", "language", "created_at"}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewSQLStoreFromDB(sqlx.NewDb(db, "mysql"))
	fixed := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	n := 0
	store.newID = func() string {
		n++
		return "id-" + string(rune('0'+n))
	}
	return store, mock
}

func TestSQLStore_InsertTaskAssignsIDAndTime(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO transcription_tasks").
		WithArgs("id-1", nil, nil, models.StatusPending, nil, "lecture.mp4", "auto", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := store.InsertTask(context.Background(), &models.TranscriptionTask{
		Status:   models.StatusPending,
		FileName: "lecture.mp4",
		Language: "auto",
	})
	require.NoError(t, err)
	require.Equal(t, "id-1", got.ID)
	require.Equal(t, store.now(), got.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_InsertChunksCommitsOneBatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transcription_files").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	rows := []*models.TranscriptionFile{
		{TranscriptionTaskID: "t", MediaURL: "u0", ChunkIndex: 0, TotalChunks: 3},
		{TranscriptionTaskID: "t", MediaURL: "u1", ChunkIndex: 1, TotalChunks: 3},
		{TranscriptionTaskID: "t", MediaURL: "u2", ChunkIndex: 2, TotalChunks: 3},
	}
	created, err := store.InsertChunks(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, created, 3)
	for i, row := range created {
		require.NotEmpty(t, row.ID)
		require.Equal(t, i, row.ChunkIndex)
	}
	require.Empty(t, rows[0].ID, "input rows must not be mutated")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_InsertChunksRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transcription_files").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	created, err := store.InsertChunks(context.Background(), []*models.TranscriptionFile{
		{TranscriptionTaskID: "t", MediaURL: "u0", ChunkIndex: 0, TotalChunks: 1},
	})
	require.Error(t, err)
	require.Nil(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_InsertChunksEmptyIsNoop(t *testing.T) {
	store, mock := newMockStore(t)

	created, err := store.InsertChunks(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetTaskNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM transcription_tasks WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(taskCols))

	got, err := store.GetTask(context.Background(), "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
	require.Nil(t, got)
}

func TestSQLStore_UpdateStatusRejectsInvalidTransition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("t1", nil, nil, "COMPLETED", nil, "a.mp3", "en", time.Now()))
	mock.ExpectRollback()

	_, err := store.UpdateStatus(context.Background(), "t1", models.StatusProcessing, nil)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateStatusApplies(t *testing.T) {
	store, mock := newMockStore(t)
	result := "https://cdn/result.txt"

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("t1", nil, nil, "PROCESSING", nil, "a.mp3", "en", time.Now()))
	mock.ExpectExec("UPDATE transcription_tasks SET status").
		WithArgs(models.StatusCompleted, &result, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := store.UpdateStatus(context.Background(), "t1", models.StatusCompleted, &result)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status)
	require.Equal(t, result, *got.ResultURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteTaskMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transcription_files").WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM transcription_tasks").WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.DeleteTask(context.Background(), "t1")
	require.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_FailOrphanedTask(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE transcription_tasks SET status").
		WithArgs(models.StatusFailed, "t1", models.StatusPending, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.FailOrphanedTask(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ConstraintViolationsMapToSentinels(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transcription_files").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 't-0' for key 'uq_transcription_files_chunk'"})
	mock.ExpectRollback()
	_, err := store.InsertChunks(context.Background(), []*models.TranscriptionFile{
		{TranscriptionTaskID: "t", MediaURL: "u0", ChunkIndex: 0, TotalChunks: 1},
	})
	require.ErrorIs(t, err, models.ErrConflict)

	mock.ExpectExec("INSERT INTO transcription_tasks").
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})
	folder := "missing"
	_, err = store.InsertTask(context.Background(), &models.TranscriptionTask{FolderID: &folder, Status: models.StatusPending, FileName: "a.mp3"})
	require.ErrorIs(t, err, models.ErrInvalidArgument)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteFolderDetachesTasks(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transcription_tasks SET folder_id = NULL").WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM transcription_folders").WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteFolder(context.Background(), "f1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RenameFolderMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transcription_folders SET name").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM transcription_folders").WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}))
	mock.ExpectRollback()

	name := "Talks"
	_, err := store.RenameFolder(context.Background(), "f1", &name)
	require.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
