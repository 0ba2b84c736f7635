package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestUploadMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewUploadMetrics(reg)

	m.ChunkUploaded(10)
	m.ChunkUploaded(5)
	m.ChunkFailed()
	m.FileFinished("", time.Second)
	m.FileFinished("chunk_upload", time.Second)
	m.TasksReconciled(2)

	require.Equal(t, 2.0, testutil.ToFloat64(m.chunks.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.chunks.WithLabelValues("error")))
	require.Equal(t, 15.0, testutil.ToFloat64(m.bytes))
	require.Equal(t, 1.0, testutil.ToFloat64(m.files.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.files.WithLabelValues("chunk_upload")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.reconciled))
}

func TestUploadMetricsNilSafe(t *testing.T) {
	var m *UploadMetrics
	m.ChunkUploaded(1)
	m.ChunkFailed()
	m.FileFinished("x", time.Second)
	m.TasksReconciled(1)

	NewUploadMetrics(nil).ChunkUploaded(1)
}
