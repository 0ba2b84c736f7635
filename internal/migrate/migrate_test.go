package migrate

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, ValidateEmbedded())
}

func TestInitialMigrationMatchesStoreColumns(t *testing.T) {
	matches, err := fs.Glob(embedded, Dir+"/*_create_transcription_tables.sql")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := fs.ReadFile(embedded, matches[0])
	require.NoError(t, err)
	content := string(data)

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS transcription_folders",
		"CREATE TABLE IF NOT EXISTS transcription_tasks",
		"CREATE TABLE IF NOT EXISTS transcription_files",
		"openai_task_id",
		"UNIQUE (transcription_task_id, chunk_index)",
		"REFERENCES transcription_tasks(id) ON DELETE CASCADE",
		"REFERENCES transcription_folders(id) ON DELETE SET NULL",
		"DROP TABLE IF EXISTS transcription_files",
	} {
		require.Contains(t, content, sub)
	}
	// Child table must be dropped before its parent.
	require.Less(t,
		strings.Index(content, "DROP TABLE IF EXISTS transcription_files"),
		strings.Index(content, "DROP TABLE IF EXISTS transcription_tasks"),
	)
}

func TestValidateRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"migrations/init.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"missing down": {
			"migrations/20260101000000_init.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
		"duplicate version": {
			"migrations/20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"migrations/20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, Validate(fsys))
		})
	}
}

func TestDialect(t *testing.T) {
	d, err := Dialect("pgx")
	require.NoError(t, err)
	require.Equal(t, "postgres", d)

	d, err = Dialect("mysql")
	require.NoError(t, err)
	require.Equal(t, "mysql", d)

	_, err = Dialect("sqlite")
	require.Error(t, err)
}
