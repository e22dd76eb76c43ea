package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters, labelled by capture source. A nil
// *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	Sessions        *prometheus.GaugeVec
	Chunks          *prometheus.CounterVec
	ChunkSize       *prometheus.HistogramVec
	BlobSize        *prometheus.HistogramVec
	Transcriptions  *prometheus.CounterVec
	TranscribeTime  *prometheus.HistogramVec
	Merges          *prometheus.CounterVec
	TranscriptChars *prometheus.GaugeVec
	Summaries       *prometheus.CounterVec
	SummarizeTime   *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livenote_sessions_recording",
			Help: "Capture sessions currently recording",
		}, []string{"source"}),
		Chunks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livenote_chunks_total",
			Help: "Encoded audio chunks received from the recorder",
		}, []string{"source"}),
		ChunkSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livenote_chunk_size_bytes",
			Help:    "Size of encoded audio chunks",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}, []string{"source"}),
		BlobSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livenote_blob_size_bytes",
			Help:    "Size of header plus latest chunk submitted for transcription",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
		}, []string{"source"}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livenote_transcriptions_total",
			Help: "Transcription calls by outcome (ok, failed)",
		}, []string{"source", "outcome"}),
		TranscribeTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livenote_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}, []string{"source"}),
		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livenote_merges_total",
			Help: "Transcript merges by outcome (anchored, appended, unchanged, skipped)",
		}, []string{"source", "outcome"}),
		TranscriptChars: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livenote_transcript_chars",
			Help: "Length of the running transcript",
		}, []string{"source"}),
		Summaries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livenote_summaries_total",
			Help: "Summarization calls by outcome (ok, failed, stale)",
		}, []string{"source", "outcome"}),
		SummarizeTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livenote_summary_duration_seconds",
			Help:    "Duration of summarization requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"source"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) SessionStarted(source string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(source).Inc()
}

func (m *Metrics) SessionStopped(source string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(source).Dec()
}

func (m *Metrics) RecordChunk(source string, chunkBytes, blobBytes int) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues(source).Inc()
	m.ChunkSize.WithLabelValues(source).Observe(float64(chunkBytes))
	m.BlobSize.WithLabelValues(source).Observe(float64(blobBytes))
}

func (m *Metrics) RecordTranscription(source string, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(source, outcome(ok)).Inc()
	m.TranscribeTime.WithLabelValues(source).Observe(took.Seconds())
}

func (m *Metrics) RecordMerge(source, result string, transcriptChars int) {
	if m == nil {
		return
	}
	m.Merges.WithLabelValues(source, result).Inc()
	m.TranscriptChars.WithLabelValues(source).Set(float64(transcriptChars))
}

func (m *Metrics) RecordSummary(source string, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.Summaries.WithLabelValues(source, outcome(ok)).Inc()
	m.SummarizeTime.WithLabelValues(source).Observe(took.Seconds())
}

// RecordStaleSummary counts a summary discarded because a newer one was
// already applied.
func (m *Metrics) RecordStaleSummary(source string) {
	if m == nil {
		return
	}
	m.Summaries.WithLabelValues(source, "stale").Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
