// Package session runs one live capture session: audio chunks go through
// the ChunkSet to the transcriber, results are merged into a running
// transcript and every change is summarized for the sink.
//
// Each Controller owns a single event loop goroutine. Recorder chunks,
// service completions and stop notifications are posted to it as closures,
// so the chunk set, transcript and summary are only mutated there.
// Transcription and summarization calls run concurrently and complete in
// whatever order the services answer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"livenote/audio"
	"livenote/log"
	"livenote/metrics"
	"livenote/recorder"
	"livenote/summarizer"
	"livenote/transcriber"
	"livenote/transcript"
)

var ErrInvalidState = errors.New("session: invalid state")

type State int

const (
	Idle State = iota
	Recording
	Stopped
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Sink receives every completed summary.
type Sink interface {
	SetContent(summary string)
}

// TranscriptSink is optionally implemented by a Sink that also wants the
// running transcript.
type TranscriptSink interface {
	SetTranscript(text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(summary string)

func (f SinkFunc) SetContent(summary string) { f(summary) }

// Recorder is the part of recorder.Recorder the controller drives.
type Recorder interface {
	OnData(fn func(recorder.Chunk))
	Start(interval time.Duration) error
	Stop()
	State() recorder.State
}

type Config struct {
	Source      audio.Source
	Backend     audio.Context
	Device      string
	Constraints audio.Constraints
	// Interval is the recorder's chunk period.
	Interval time.Duration
	// PollInterval is how often a desktop loopback device is checked.
	PollInterval time.Duration
	// RequestTimeout bounds each transcription and summarization call.
	RequestTimeout time.Duration
	// StrictSummaryOrder drops a summary that completes after a summary of
	// newer text was already applied. Off means last writer wins.
	StrictSummaryOrder bool

	Transcriber transcriber.Transcriber
	Summarizer  summarizer.Summarizer
	Sink        Sink
	Metrics     *metrics.Metrics

	// NewRecorder builds the recorder for the stream's audio track. The
	// default encodes FLAC.
	NewRecorder func(track audio.AudioTrack) Recorder
	// OnLevel receives the input level of every captured buffer.
	OnLevel func(rms float64)
}

// Snapshot is a consistent copy of the controller's published state.
type Snapshot struct {
	ID          string
	Source      audio.Source
	State       State
	Anchor      string
	Transcript  string
	Iteration   int
	Summary     string
	SummarySeq  int
	Chunks      int
	InFlight    int
	Failures    int
	Skipped     int
	StopReason  string
	StartedAt   time.Time
	LastChunkAt time.Time
}

type Controller struct {
	cfg    Config
	id     string
	logger log.Session

	events   chan func()
	loopDone chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	halted   atomic.Bool
	ctx      context.Context

	// Owned by the loop.
	chunks     ChunkSet
	text       transcript.State
	pending    int
	stopped    bool
	summarySeq int
	appliedSeq int
	chunkCount int
	failures   int
	skipped    int

	mu       sync.Mutex
	view     Snapshot
	starting bool
	stream   *audio.Stream
	rec      Recorder
}

func New(cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.NewRecorder == nil {
		onLevel := cfg.OnLevel
		cfg.NewRecorder = func(track audio.AudioTrack) Recorder {
			return recorder.New(track, recorder.Options{OnLevel: onLevel})
		}
	}
	id := uuid.NewString()
	return &Controller{
		cfg:      cfg,
		id:       id,
		logger:   log.Session{ID: id, Source: cfg.Source.String()},
		events:   make(chan func(), 64),
		loopDone: make(chan struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		view:     Snapshot{ID: id, Source: cfg.Source},
	}
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Source() audio.Source { return c.cfg.Source }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.State
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.view
	return s
}

// Done is closed once the controller is stopped and every in-flight
// service call has completed. It never closes for a controller that was
// not started.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Start opens the capture stream and begins recording. ctx bounds opening
// the device only; service calls outlive it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.view.State != Idle || c.starting {
		state := c.view.State
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, state)
	}
	c.starting = true
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		c.logger.StartFailed(err)
		return err
	}

	if c.cfg.Backend == nil || c.cfg.Transcriber == nil || c.cfg.Summarizer == nil {
		return fail(errors.New("session: backend, transcriber and summarizer are required"))
	}

	cfg := audio.CaptureConfig{SampleRate: 16000, Channels: 1}
	if c.cfg.Source == audio.Microphone {
		cfg.Constraints = c.cfg.Constraints
	}
	stream, err := audio.Open(ctx, c.cfg.Backend, audio.Request{
		Source:       c.cfg.Source,
		Device:       c.cfg.Device,
		Config:       cfg,
		PollInterval: c.cfg.PollInterval,
	})
	if err != nil {
		return fail(err)
	}

	rec := c.cfg.NewRecorder(stream.Audio())
	rec.OnData(func(ch recorder.Chunk) {
		if c.halted.Load() {
			return
		}
		c.post(func() { c.onChunk(ch) })
	})
	if err := rec.Start(c.cfg.Interval); err != nil {
		stream.Stop()
		return fail(fmt.Errorf("starting recorder: %w", err))
	}

	c.ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	c.stream = stream
	c.rec = rec
	c.starting = false
	c.view.State = Recording
	c.view.StartedAt = time.Now()
	c.mu.Unlock()

	go c.run()
	go c.watch(stream)

	c.cfg.Metrics.SessionStarted(c.cfg.Source.String())
	c.logger.Start(c.cfg.Transcriber.Name(), c.cfg.Summarizer.Name(), c.cfg.Interval)
	return nil
}

// Stop halts chunk generation, stops the recorder and every stream track,
// and enters Stopped. Calls that are already in flight still complete and
// update the transcript and summary. Stop is a no-op unless the session is
// recording.
func (c *Controller) Stop() {
	c.stop("stop")
}

func (c *Controller) stop(reason string) {
	c.mu.Lock()
	if c.view.State != Recording {
		c.mu.Unlock()
		return
	}
	c.view.State = Stopped
	c.view.StopReason = reason
	stream, rec := c.stream, c.rec
	c.mu.Unlock()

	c.halted.Store(true)
	close(c.stopCh)
	if rec.State() != recorder.Inactive {
		rec.Stop()
	}
	stream.Stop()

	c.cfg.Metrics.SessionStopped(c.cfg.Source.String())
	c.post(func() {
		c.stopped = true
		c.logger.Stop(reason, c.chunkCount)
	})
}

func (c *Controller) watch(stream *audio.Stream) {
	select {
	case <-stream.Ended():
		c.stop("track_ended")
	case <-c.stopCh:
	}
}

func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.loopDone:
	}
}

func (c *Controller) run() {
	defer close(c.loopDone)
	for {
		fn := <-c.events
		fn()
		if c.stopped && c.pending == 0 {
			close(c.done)
			return
		}
	}
}

func (c *Controller) publish(fn func(v *Snapshot)) {
	c.mu.Lock()
	fn(&c.view)
	c.view.Chunks = c.chunkCount
	c.view.InFlight = c.pending
	c.view.Failures = c.failures
	c.view.Skipped = c.skipped
	c.mu.Unlock()
}

func (c *Controller) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
}

func (c *Controller) onChunk(ch recorder.Chunk) {
	blob := c.chunks.Push(ch)
	c.chunkCount++
	c.pending++
	seq := c.chunkCount
	c.publish(func(v *Snapshot) { v.LastChunkAt = ch.At })

	c.logger.Chunk(seq, len(ch.Data), len(blob.Data))
	c.cfg.Metrics.RecordChunk(c.cfg.Source.String(), len(ch.Data), len(blob.Data))

	go func() {
		ctx, cancel := c.callContext()
		defer cancel()
		start := time.Now()
		res, err := c.cfg.Transcriber.Transcribe(ctx, blob.Data, blob.MediaType)
		took := time.Since(start)
		c.post(func() { c.onTranscription(seq, len(blob.Data), res, err, took) })
	}()
}

func (c *Controller) onTranscription(seq, blobSize int, res *transcriber.Result, err error, took time.Duration) {
	c.pending--
	source := c.cfg.Source.String()
	c.cfg.Metrics.RecordTranscription(source, err == nil, took)
	if err != nil {
		c.failures++
		c.publish(func(*Snapshot) {})
		c.logger.TranscriptionFailed(seq, err)
		return
	}

	m := log.TranscriptionMetrics{BlobKB: float64(blobSize) / 1024, TotalMs: float64(took.Milliseconds())}
	if res.Metrics != nil {
		m.DNSTimeMs = float64(res.Metrics.DNS.Milliseconds())
		m.TLSTimeMs = float64(res.Metrics.TLS.Milliseconds())
		m.TTFBMs = float64(res.Metrics.TTFB.Milliseconds())
		m.ConnReused = res.Metrics.ConnReused
	}
	m.RateLimit = res.RateLimit
	c.logger.Transcription(seq, c.cfg.Transcriber.Name(), m)

	outcome, added := c.text.Merge(res.Text)
	c.cfg.Metrics.RecordMerge(source, outcome.String(), len(c.text.Text()))
	switch outcome {
	case transcript.Skipped:
		c.skipped++
		c.publish(func(*Snapshot) {})
		c.logger.MergeSkip(seq, fmt.Sprintf("result shorter than anchor (%d < %d bytes)", len(res.Text), len(c.text.Anchor())))
		return
	case transcript.Unchanged:
		c.publish(func(v *Snapshot) { v.Iteration = c.text.Iteration() })
		return
	}

	text := c.text.Text()
	c.publish(func(v *Snapshot) {
		v.Anchor = c.text.Anchor()
		v.Transcript = text
		v.Iteration = c.text.Iteration()
	})
	c.logger.Merge(c.text.Iteration(), len(added), len(text))
	if ts, ok := c.cfg.Sink.(TranscriptSink); ok {
		ts.SetTranscript(text)
	}
	c.dispatchSummary(text)
}

func (c *Controller) dispatchSummary(text string) {
	c.summarySeq++
	seq := c.summarySeq
	c.pending++
	c.publish(func(*Snapshot) {})

	go func() {
		ctx, cancel := c.callContext()
		defer cancel()
		start := time.Now()
		summary, err := c.cfg.Summarizer.Summarize(ctx, text)
		took := time.Since(start)
		c.post(func() { c.onSummary(seq, summary, err, took) })
	}()
}

func (c *Controller) onSummary(seq int, summary string, err error, took time.Duration) {
	c.pending--
	source := c.cfg.Source.String()
	c.cfg.Metrics.RecordSummary(source, err == nil, took)
	if err != nil {
		c.publish(func(*Snapshot) {})
		c.logger.SummaryFailed(seq, err)
		return
	}

	if c.cfg.StrictSummaryOrder && seq < c.appliedSeq {
		c.cfg.Metrics.RecordStaleSummary(source)
		c.publish(func(*Snapshot) {})
		c.logger.Summary(seq, len(summary), took, false)
		return
	}
	c.appliedSeq = seq
	c.publish(func(v *Snapshot) {
		v.Summary = summary
		v.SummarySeq = seq
	})
	c.logger.Summary(seq, len(summary), took, true)
	if c.cfg.Sink != nil {
		c.cfg.Sink.SetContent(summary)
	}
}
