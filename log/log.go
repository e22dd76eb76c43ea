package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const diagFileName = "diagnostics_log.txt"

var (
	diagLog  atomic.Pointer[zerolog.Logger]
	diagFile *os.File
	logMu    sync.Mutex
	dir      string
)

// ResolveDir picks the log directory: flag, then LIVENOTE_LOG_PATH, then
// the OS default. Relative paths are resolved against the working dir.
func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}
	if envPath := os.Getenv("LIVENOTE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, diagFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	diagFile = f

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	l := zerolog.New(consoleWriter).With().Timestamp().Int("pid", os.Getpid()).Logger()
	diagLog.Store(&l)
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	diagLog.Store(nil)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
}

// logger returns nil before Init; zerolog events built from a nil logger
// path are nil and every method on them is a no-op.
func logger() *zerolog.Logger {
	return diagLog.Load()
}

func level(lvl zerolog.Level) *zerolog.Event {
	l := logger()
	if l == nil {
		return nil
	}
	return l.WithLevel(lvl)
}

func Info(msg string) {
	level(zerolog.InfoLevel).Msg(msg)
}

func Warn(msg string) {
	level(zerolog.WarnLevel).Msg(msg)
}

func Warnf(format string, args ...any) {
	level(zerolog.WarnLevel).Msg(fmt.Sprintf(format, args...))
}

func Error(msg string) {
	level(zerolog.ErrorLevel).Msg(msg)
}

func Errorf(format string, args ...any) {
	level(zerolog.ErrorLevel).Msg(fmt.Sprintf(format, args...))
}

// Session scopes diagnostics to one capture session.
type Session struct {
	ID     string
	Source string
}

func (s Session) event(lvl zerolog.Level) *zerolog.Event {
	return level(lvl).Str("session", s.ID).Str("source", s.Source)
}

func (s Session) Start(transcriber, summarizer string, interval time.Duration) {
	s.event(zerolog.InfoLevel).
		Str("transcriber", transcriber).
		Str("summarizer", summarizer).
		Dur("interval", interval).
		Msg("session_start")
}

func (s Session) StartFailed(err error) {
	s.event(zerolog.ErrorLevel).Err(err).Msg("session_start_failed")
}

func (s Session) Stop(reason string, chunks int) {
	s.event(zerolog.InfoLevel).
		Str("reason", reason).
		Int("chunks", chunks).
		Msg("session_stop")
}

func (s Session) Chunk(seq, size, blobSize int) {
	s.event(zerolog.DebugLevel).
		Int("seq", seq).
		Int("chunk_bytes", size).
		Int("blob_bytes", blobSize).
		Msg("chunk")
}

// TranscriptionMetrics mirrors the per-request network breakdown kept by
// the transcriber clients.
type TranscriptionMetrics struct {
	BlobKB     float64
	DNSTimeMs  float64
	TLSTimeMs  float64
	TTFBMs     float64
	TotalMs    float64
	ConnReused bool
	RateLimit  string
}

func (s Session) Transcription(seq int, provider string, m TranscriptionMetrics) {
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	ev := s.event(zerolog.InfoLevel).
		Int("seq", seq).
		Str("provider", provider).
		Str("conn", connStatus).
		Float64("blob_kb", m.BlobKB).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs)
	if m.RateLimit != "" && m.RateLimit != "?/?" {
		ev = ev.Str("rate_limit", m.RateLimit)
	}
	ev.Msg("transcription")
}

func (s Session) TranscriptionFailed(seq int, err error) {
	s.event(zerolog.WarnLevel).Int("seq", seq).Err(err).Msg("transcription_failed")
}

func (s Session) Merge(iteration, added, total int) {
	s.event(zerolog.InfoLevel).
		Int("iteration", iteration).
		Int("added_chars", added).
		Int("total_chars", total).
		Msg("merge")
}

func (s Session) MergeSkip(seq int, reason string) {
	s.event(zerolog.WarnLevel).Int("seq", seq).Str("reason", reason).Msg("merge_skip")
}

func (s Session) Summary(seq, chars int, took time.Duration, applied bool) {
	s.event(zerolog.InfoLevel).
		Int("seq", seq).
		Int("chars", chars).
		Dur("took", took).
		Bool("applied", applied).
		Msg("summary")
}

func (s Session) SummaryFailed(seq int, err error) {
	s.event(zerolog.WarnLevel).Int("seq", seq).Err(err).Msg("summary_failed")
}
