package summarizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeSummarizer echoes a condensed form of its input. Tests can override
// the behaviour per call with Func.
type FakeSummarizer struct {
	mu    sync.Mutex
	calls []string
	Func  func(ctx context.Context, call int, text string) (string, error)
}

func NewFake() *FakeSummarizer { return &FakeSummarizer{} }

func (f *FakeSummarizer) Name() string { return "fake" }

func (f *FakeSummarizer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, text)
	fn := f.Func
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, n, text)
	}
	words := strings.Fields(text)
	return fmt.Sprintf("- %d words: %s", len(words), text), nil
}
