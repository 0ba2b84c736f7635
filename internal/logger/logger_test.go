package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithTaskID(context.Background(), "task-123")
	ctx = log.WithFileName(ctx, "lecture.mp4")
	log.Error(ctx, "upload failed", errors.New("boom"))

	out := buf.String()
	require.Contains(t, out, `"task_id":"task-123"`)
	require.Contains(t, out, `"file_name":"lecture.mp4"`)
	require.Contains(t, out, `"error":"boom"`)
	require.Contains(t, out, `"service":"test"`)
}

func TestLoggerLevelFiltersDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: buf})

	log.Debug(context.Background(), "hidden")
	require.Empty(t, buf.String())

	log.Info(context.Background(), "shown")
	require.Contains(t, buf.String(), "shown")
}

func TestParseLevelDefaults(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	require.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
}
