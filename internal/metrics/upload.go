package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UploadMetrics records chunk and file upload outcomes.
type UploadMetrics struct {
	chunks       *prometheus.CounterVec
	bytes        prometheus.Counter
	files        *prometheus.CounterVec
	fileDuration prometheus.Histogram
	reconciled   prometheus.Counter
}

// NewUploadMetrics registers the upload metrics on the provided registerer.
// A nil registerer yields a recorder whose methods do nothing.
func NewUploadMetrics(reg prometheus.Registerer) *UploadMetrics {
	if reg == nil {
		return &UploadMetrics{}
	}
	chunks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_chunks_total",
		Help: "Chunk uploads by result.",
	}, []string{"result"})
	bytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_chunk_bytes_total",
		Help: "Bytes written to object storage by successful chunk uploads.",
	})
	files := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_files_total",
		Help: "Per-file upload outcomes, labelled by failure kind or \"ok\".",
	}, []string{"outcome"})
	fileDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upload_file_duration_seconds",
		Help:    "Wall time to upload every chunk of one file and persist its metadata.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
	reconciled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_orphaned_tasks_failed_total",
		Help: "Stale pending tasks without chunks that were marked failed.",
	})
	reg.MustRegister(chunks, bytes, files, fileDuration, reconciled)
	return &UploadMetrics{
		chunks:       chunks,
		bytes:        bytes,
		files:        files,
		fileDuration: fileDuration,
		reconciled:   reconciled,
	}
}

func (m *UploadMetrics) ChunkUploaded(size int64) {
	if m == nil || m.chunks == nil {
		return
	}
	m.chunks.WithLabelValues("ok").Inc()
	m.bytes.Add(float64(size))
}

func (m *UploadMetrics) ChunkFailed() {
	if m == nil || m.chunks == nil {
		return
	}
	m.chunks.WithLabelValues("error").Inc()
}

// FileFinished records one file outcome; an empty outcome counts as "ok".
func (m *UploadMetrics) FileFinished(outcome string, duration time.Duration) {
	if m == nil || m.files == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.files.WithLabelValues(outcome).Inc()
	m.fileDuration.Observe(duration.Seconds())
}

func (m *UploadMetrics) TasksReconciled(n int) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.Add(float64(n))
}
