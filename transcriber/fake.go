package transcriber

import (
	"context"
	"fmt"
	"sync"
)

// FakeStep scripts one Transcribe call. When Release is set the call
// blocks until it is closed, which lets tests complete calls out of order.
type FakeStep struct {
	Text    string
	Err     error
	Release <-chan struct{}
}

type FakeCall struct {
	Size      int
	MediaType string
	Header    []byte // first four bytes of the audio
}

// FakeTranscriber returns scripted results in call order. Once the script
// runs out every call returns the default text and error.
type FakeTranscriber struct {
	text string
	err  error

	mu    sync.Mutex
	steps []FakeStep
	calls []FakeCall
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{text: text, err: err}
}

func (f *FakeTranscriber) Name() string { return "fake" }

// Script appends steps to the call script.
func (f *FakeTranscriber) Script(steps ...FakeStep) *FakeTranscriber {
	f.mu.Lock()
	f.steps = append(f.steps, steps...)
	f.mu.Unlock()
	return f
}

func (f *FakeTranscriber) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

func (f *FakeTranscriber) Transcribe(ctx context.Context, audio []byte, mediaType string) (*Result, error) {
	f.mu.Lock()
	step := FakeStep{Text: f.text, Err: f.err}
	if len(f.steps) > 0 {
		step = f.steps[0]
		f.steps = f.steps[1:]
	}
	call := FakeCall{Size: len(audio), MediaType: mediaType}
	call.Header = append(call.Header, audio[:min(4, len(audio))]...)
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if step.Release != nil {
		select {
		case <-step.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Err != nil {
		return nil, fmt.Errorf("fake transcriber error: %w", step.Err)
	}
	return &Result{Text: step.Text, Metrics: &NetworkMetrics{}}, nil
}
