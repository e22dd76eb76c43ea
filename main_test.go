package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livenote/audio"
	"livenote/beep"
	"livenote/config"
	"livenote/metrics"
	"livenote/session"
	"livenote/transcriber"
)

func init() { beep.Disable() }

// syncBuffer is a bytes.Buffer safe for the sinks' goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Interval = 100 * time.Millisecond
	cfg.RequestTimeout = 5 * time.Second
	cfg.Desktop.PollInterval = 50 * time.Millisecond
	cfg.Transcription.Provider = "fake"
	cfg.Summarization.Provider = "fake"
	return cfg
}

// oneSecond is 16 kHz mono 16-bit silence.
func oneSecond() []byte { return make([]byte, 16000*2) }

func newTestEngine(t *testing.T, backend audio.Context, text string, out *syncBuffer) *engine {
	t.Helper()
	var newSink func(audio.Source) session.Sink
	if out != nil {
		newSink = printSinks(out)
	}
	eng, err := newEngine(testConfig(), backend, metrics.New(), newSink)
	require.NoError(t, err)
	eng.tr = transcriber.NewFake(text, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	})
	return eng
}

func TestEngineToggleBuildsFreshSessions(t *testing.T) {
	eng := newTestEngine(t, audio.NewFakeContext(oneSecond(), true), "hi", nil)
	ctx := context.Background()

	require.NoError(t, eng.Toggle(ctx, audio.Microphone))
	first, ok := eng.Snapshot(audio.Microphone)
	require.True(t, ok)
	assert.Equal(t, session.Recording, first.State)

	require.NoError(t, eng.Toggle(ctx, audio.Microphone))
	stopped, _ := eng.Snapshot(audio.Microphone)
	assert.Equal(t, session.Stopped, stopped.State)

	require.NoError(t, eng.Toggle(ctx, audio.Microphone))
	second, _ := eng.Snapshot(audio.Microphone)
	assert.Equal(t, session.Recording, second.State)
	assert.NotEqual(t, first.ID, second.ID)

	desk, ok := eng.Snapshot(audio.Desktop)
	assert.False(t, ok, "desktop untouched")
	assert.Equal(t, session.Idle, desk.State)
}

func TestEngineStartWhileRecording(t *testing.T) {
	eng := newTestEngine(t, audio.NewFakeContext(oneSecond(), true), "hi", nil)
	_, err := eng.Start(context.Background(), audio.Microphone)
	require.NoError(t, err)
	_, err = eng.Start(context.Background(), audio.Microphone)
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestEngineStartDenied(t *testing.T) {
	fake := audio.NewFakeContext(oneSecond(), true)
	fake.Deny(audio.ErrDeviceUnavailable)
	eng := newTestEngine(t, fake, "hi", nil)

	err := eng.Toggle(context.Background(), audio.Desktop)
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	s, _ := eng.Snapshot(audio.Desktop)
	assert.Equal(t, session.Idle, s.State)
	assert.Error(t, eng.Wait(context.Background(), audio.Desktop))
}

// slowBackend delays opening a capture, like a device behind a permission
// prompt.
type slowBackend struct {
	*audio.FakeContext
	delay time.Duration
}

func (b *slowBackend) NewCapture(device *audio.DeviceInfo, cfg audio.CaptureConfig) (audio.CaptureDevice, error) {
	time.Sleep(b.delay)
	return b.FakeContext.NewCapture(device, cfg)
}

func TestEngineDoubleToggleWhileOpening(t *testing.T) {
	fake := audio.NewFakeContext(oneSecond(), true)
	eng := newTestEngine(t, &slowBackend{FakeContext: fake, delay: 50 * time.Millisecond}, "hi", nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, eng.Toggle(ctx, audio.Microphone))
		}()
	}
	wg.Wait()

	require.Len(t, fake.Captures(), 1)
	s, _ := eng.Snapshot(audio.Microphone)
	assert.Equal(t, session.Recording, s.State)

	require.NoError(t, eng.Toggle(ctx, audio.Microphone))
	s, _ = eng.Snapshot(audio.Microphone)
	assert.Equal(t, session.Stopped, s.State)
	assert.True(t, fake.Captures()[0].Stopped())

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, eng.Shutdown(waitCtx))
}

func TestEngineShutdownDuringStart(t *testing.T) {
	fake := audio.NewFakeContext(oneSecond(), true)
	eng := newTestEngine(t, &slowBackend{FakeContext: fake, delay: 50 * time.Millisecond}, "hi", nil)

	started := make(chan error, 1)
	go func() {
		_, err := eng.Start(context.Background(), audio.Microphone)
		started <- err
	}()
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return eng.starting[audio.Microphone]
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Shutdown(ctx))
	require.NoError(t, <-started)

	s, _ := eng.Snapshot(audio.Microphone)
	assert.Equal(t, session.Stopped, s.State)
	require.Len(t, fake.Captures(), 1)
	assert.True(t, fake.Captures()[0].Stopped())

	_, err := eng.Start(context.Background(), audio.Microphone)
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestHeadlessScript(t *testing.T) {
	out := &syncBuffer{}
	eng := newTestEngine(t, audio.NewFakeContext(oneSecond(), true), "hello world", out)

	script := strings.Join([]string{
		"start mic",
		"sleep 600",
		"stop",
		"wait mic",
		"status",
		"bogus",
		"quit",
		"start desktop", // never reached
	}, "\n")
	err := runHeadless(context.Background(), eng, nil, strings.NewReader(script), out)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "[microphone] transcript: hello world\n")
	assert.Contains(t, got, "[microphone] summary:\n- 2 words: hello world\n")
	assert.Contains(t, got, "microphone: stopped chunks=")
	assert.Contains(t, got, "desktop: idle")
	assert.Contains(t, got, `error: unknown command "bogus"`)

	_, started := eng.Snapshot(audio.Desktop)
	assert.False(t, started)
}

func TestHeadlessAutostartAndEOF(t *testing.T) {
	out := &syncBuffer{}
	eng := newTestEngine(t, audio.NewFakeContext(oneSecond(), true), "hello", out)

	err := runHeadless(context.Background(), eng, []audio.Source{audio.Microphone, audio.Desktop},
		strings.NewReader("sleep 500\n"), out)
	require.NoError(t, err)

	for _, src := range sources {
		s, ok := eng.Snapshot(src)
		require.True(t, ok, src.String())
		assert.Equal(t, session.Stopped, s.State, src.String())
		assert.Zero(t, s.InFlight, src.String())
	}
	assert.Contains(t, out.String(), "[desktop] summary:")
}

func TestReplay(t *testing.T) {
	out := &syncBuffer{}
	fake := audio.NewFakeContext(oneSecond(), true)
	eng := newTestEngine(t, fake, "replayed words", out)

	require.NoError(t, replay(context.Background(), eng, fake, audio.Microphone))

	s, _ := eng.Snapshot(audio.Microphone)
	assert.Equal(t, session.Stopped, s.State)
	assert.Positive(t, s.Chunks)
	assert.Equal(t, "replayed words", s.Transcript)
	assert.Contains(t, out.String(), "[microphone] summary:\n- 2 words: replayed words\n")
}

func TestListDevices(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, listDevices(&buf, audio.NewFakeContext(nil, false)))
	assert.Equal(t, "microphone:\n  Fake Microphone\ndesktop:\n  Monitor of Fake Output\n", buf.String())
}

func TestParseSources(t *testing.T) {
	got, err := parseSources([]string{"mic", "desktop"})
	require.NoError(t, err)
	assert.Equal(t, []audio.Source{audio.Microphone, audio.Desktop}, got)

	_, err = parseSources([]string{"speaker"})
	assert.Error(t, err)
}

func TestWrapText(t *testing.T) {
	for _, tt := range []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"hello world", 20, []string{"hello world"}},
		{"hello world", 5, []string{"hello", "world"}},
		{"abcdefgh ij", 3, []string{"abc", "def", "gh", "ij"}},
		{"één twee", 3, []string{"één", "twe", "e"}},
	} {
		assert.Equal(t, tt.want, wrapText(tt.text, tt.width), tt.text)
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestTUIToggleAndRender(t *testing.T) {
	eng := newTestEngine(t, audio.NewFakeContext(oneSecond(), true), "hi", nil)
	var model tea.Model = newTUIModel(context.Background(), eng, nil)
	model, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 30})

	model, cmd := model.Update(key("m"))
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, toggledMsg{}, msg)
	model, _ = model.Update(msg)
	model, _ = model.Update(tickMsg(time.Now()))

	view := model.View()
	assert.Contains(t, view, "REC microphone")
	assert.Contains(t, view, "desktop standby")

	model, _ = model.Update(summaryMsg{src: audio.Microphone, text: "- the gist"})
	model, _ = model.Update(transcriptMsg{src: audio.Microphone, text: "hi there"})
	view = model.View()
	assert.Contains(t, view, "- the gist")
	assert.Contains(t, view, "hi there")

	_, cmd = model.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTUIShowsStartError(t *testing.T) {
	fake := audio.NewFakeContext(oneSecond(), true)
	fake.Deny(audio.ErrDeviceUnavailable)
	eng := newTestEngine(t, fake, "hi", nil)
	var model tea.Model = newTUIModel(context.Background(), eng, nil)
	model, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 30})

	_, cmd := model.Update(key("d"))
	model, _ = model.Update(cmd())
	assert.Contains(t, model.View(), "desktop unavailable")
}

func TestTUICopyWithoutSummary(t *testing.T) {
	eng := newTestEngine(t, audio.NewFakeContext(nil, false), "", nil)
	var model tea.Model = newTUIModel(context.Background(), eng, nil)
	model, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	model, cmd := model.Update(key("c"))
	assert.Nil(t, cmd)
	assert.Contains(t, model.View(), "nothing to copy yet")
}

func TestAppVersionAndUsage(t *testing.T) {
	var out bytes.Buffer
	app := newApp(strings.NewReader(""), &out)
	require.NoError(t, app.Run([]string{"livenote", "--log-path", t.TempDir(), "--version"}))
	assert.Contains(t, out.String(), "livenote version dev")

	err := newApp(strings.NewReader(""), &out).Run([]string{"livenote", "--log-path", t.TempDir(), "replay"})
	assert.ErrorContains(t, err, "usage: livenote replay")
}
