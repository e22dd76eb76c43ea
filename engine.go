package main

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"livenote/audio"
	"livenote/beep"
	"livenote/config"
	"livenote/log"
	"livenote/metrics"
	"livenote/session"
	"livenote/summarizer"
	"livenote/transcriber"
)

var sources = []audio.Source{audio.Microphone, audio.Desktop}

// engine owns one controller per source. A toggle after Stop builds a fresh
// controller; controllers are never restarted and share no state.
type engine struct {
	cfg     *config.Config
	backend audio.Context
	tr      transcriber.Transcriber
	sum     summarizer.Summarizer
	metrics *metrics.Metrics
	newSink func(audio.Source) session.Sink

	levels [2]atomic.Uint64

	mu       sync.Mutex
	sessions map[audio.Source]*session.Controller
	started  []*session.Controller
	starting map[audio.Source]bool
	pending  sync.WaitGroup
	closed   bool
}

func newEngine(cfg *config.Config, backend audio.Context, m *metrics.Metrics, newSink func(audio.Source) session.Sink) (*engine, error) {
	tr, err := transcriber.New(transcriber.Options{
		Provider:    cfg.Transcription.Provider,
		Language:    cfg.Transcription.Language,
		URL:         cfg.Transcription.URL,
		GroqKey:     cfg.Keys.Groq,
		OpenAIKey:   cfg.Keys.OpenAI,
		DeepgramKey: cfg.Keys.Deepgram,
	})
	if err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	sum, err := summarizer.New(summarizer.Options{
		Provider: cfg.Summarization.Provider,
		Model:    cfg.Summarization.Model,
		BaseURL:  cfg.Summarization.BaseURL,
		Prompt:   cfg.Summarization.Prompt,
	}, cfg.Keys.ByProvider())
	if err != nil {
		return nil, fmt.Errorf("summarizer: %w", err)
	}
	return &engine{
		cfg:      cfg,
		backend:  backend,
		tr:       tr,
		sum:      sum,
		metrics:  m,
		newSink:  newSink,
		sessions: make(map[audio.Source]*session.Controller),
		starting: make(map[audio.Source]bool),
	}, nil
}

// warm opens a connection to the transcription service ahead of the first
// chunk when the client supports it.
func (e *engine) warm() {
	if w, ok := e.tr.(interface{ Warm() }); ok {
		go w.Warm()
	}
}

func (e *engine) sessionConfig(src audio.Source) session.Config {
	cfg := session.Config{
		Source:             src,
		Backend:            e.backend,
		Interval:           e.cfg.Interval,
		RequestTimeout:     e.cfg.RequestTimeout,
		StrictSummaryOrder: e.cfg.Summarization.StrictOrder,
		Transcriber:        e.tr,
		Summarizer:         e.sum,
		Metrics:            e.metrics,
		OnLevel:            func(rms float64) { e.levels[src].Store(math.Float64bits(rms)) },
	}
	if e.newSink != nil {
		cfg.Sink = e.newSink(src)
	}
	switch src {
	case audio.Microphone:
		cfg.Device = e.cfg.Microphone.Device
		cfg.Constraints = audio.Constraints{
			EchoCancellation: e.cfg.Microphone.EchoCancellation,
			NoiseSuppression: e.cfg.Microphone.NoiseSuppression,
			AutoGainControl:  e.cfg.Microphone.AutoGainControl,
		}
	case audio.Desktop:
		cfg.Device = e.cfg.Desktop.Device
		cfg.PollInterval = e.cfg.Desktop.PollInterval
	}
	return cfg
}

// Start begins a new session for src. A session that is still opening its
// device or recording is an error.
func (e *engine) Start(ctx context.Context, src audio.Source) (*session.Controller, error) {
	e.mu.Lock()
	if err := e.busy(src); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	c := session.New(e.sessionConfig(src))
	e.sessions[src] = c
	e.starting[src] = true
	e.pending.Add(1)
	e.mu.Unlock()
	defer e.pending.Done()

	err := c.Start(ctx)

	e.mu.Lock()
	delete(e.starting, src)
	closed := e.closed
	if err == nil {
		e.started = append(e.started, c)
	}
	e.mu.Unlock()

	if err != nil {
		beep.Play(beep.Error)
		log.Errorf("%s: start failed: %v", src, err)
		return c, err
	}
	if closed {
		c.Stop()
		return c, nil
	}
	beep.Play(beep.Start)
	return c, nil
}

// busy must be called with e.mu held.
func (e *engine) busy(src audio.Source) error {
	switch {
	case e.closed:
		return fmt.Errorf("%w: shutting down", session.ErrInvalidState)
	case e.starting[src]:
		return fmt.Errorf("%w: %s is starting", session.ErrInvalidState, src)
	}
	if c := e.sessions[src]; c != nil && c.State() == session.Recording {
		return fmt.Errorf("%w: %s already recording", session.ErrInvalidState, src)
	}
	return nil
}

func (e *engine) Stop(src audio.Source) {
	e.mu.Lock()
	c := e.sessions[src]
	e.mu.Unlock()
	if c != nil && c.State() == session.Recording {
		c.Stop()
		beep.Play(beep.Stop)
	}
}

// Toggle stops src when it is recording and starts a new session otherwise.
// A toggle while a start is still opening the device is ignored.
func (e *engine) Toggle(ctx context.Context, src audio.Source) error {
	e.mu.Lock()
	starting := e.starting[src]
	e.mu.Unlock()
	if starting {
		return nil
	}
	if s, ok := e.Snapshot(src); ok && s.State == session.Recording {
		e.Stop(src)
		return nil
	}
	_, err := e.Start(ctx, src)
	return err
}

// Snapshot reports the latest session for src.
func (e *engine) Snapshot(src audio.Source) (session.Snapshot, bool) {
	e.mu.Lock()
	c := e.sessions[src]
	e.mu.Unlock()
	if c == nil {
		return session.Snapshot{Source: src}, false
	}
	return c.Snapshot(), true
}

func (e *engine) Level(src audio.Source) float64 {
	return math.Float64frombits(e.levels[src].Load())
}

// Wait blocks until the latest session for src is stopped and its in-flight
// calls have completed.
func (e *engine) Wait(ctx context.Context, src audio.Source) error {
	e.mu.Lock()
	c := e.sessions[src]
	e.mu.Unlock()
	if c == nil || c.State() == session.Idle {
		return fmt.Errorf("%w: no %s session started", session.ErrInvalidState, src)
	}
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every session and waits until their in-flight calls have
// completed or ctx is done. Starts still opening a device are stopped as soon
// as they finish; later starts fail.
func (e *engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	for _, src := range sources {
		e.Stop(src)
	}

	opened := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(opened)
	}()
	select {
	case <-opened:
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending starts: %w", ctx.Err())
	}

	e.mu.Lock()
	started := append([]*session.Controller(nil), e.started...)
	e.mu.Unlock()
	for _, c := range started {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s session %s: %w", c.Source(), c.ID(), ctx.Err())
		}
	}
	return nil
}
