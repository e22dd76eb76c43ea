package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = CaptureConfig{SampleRate: 16000, Channels: 1}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestOpenMicrophoneDelivers(t *testing.T) {
	pcm := make([]byte, 4096)
	ctx := NewFakeContext(pcm, false)

	s, err := Open(context.Background(), ctx, Request{
		Source: Microphone,
		Config: CaptureConfig{SampleRate: 16000, Channels: 1, Constraints: Constraints{EchoCancellation: true}},
	})
	require.NoError(t, err)
	defer s.Stop()

	var got atomic.Int64
	s.Audio().SetCallback(func(data []byte, _ uint32) { got.Add(int64(len(data))) })

	caps := ctx.Captures()
	require.Len(t, caps, 1)
	assert.True(t, caps[0].Config().Constraints.EchoCancellation)
	waitClosed(t, caps[0].AudioDone(), "audio done")
	assert.Equal(t, int64(len(pcm)), got.Load())
}

func TestOpenPermissionDenied(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	ctx.Deny(errors.New("permission denied"))

	for _, src := range []Source{Microphone, Desktop} {
		_, err := Open(context.Background(), ctx, Request{Source: src, Config: testConfig})
		assert.ErrorIs(t, err, ErrDeviceUnavailable, src.String())
	}
}

func TestOpenUnknownDevice(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	_, err := Open(context.Background(), ctx, Request{Source: Microphone, Device: "nope", Config: testConfig})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestOpenCancelledContext(t *testing.T) {
	c, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(c, NewFakeContext(nil, false), Request{Source: Microphone, Config: testConfig})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenDisplayDiscardsVideo(t *testing.T) {
	display := WithDisplay(NewFakeContext(nil, false))

	s, err := Open(context.Background(), display, Request{Source: Desktop, Config: testConfig})
	require.NoError(t, err)
	defer s.Stop()

	tracks := s.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, KindAudio, tracks[0].Kind())

	video := display.VideoTracks()
	require.Len(t, video, 1)
	assert.True(t, video[0].Stopped())
}

func TestOpenDisplayKeepsFirstAudioTrack(t *testing.T) {
	display := WithDisplay(NewFakeContext(nil, false))
	display.ExtraAudio = 2

	s, err := Open(context.Background(), display, Request{Source: Desktop, Config: testConfig})
	require.NoError(t, err)
	defer s.Stop()

	require.Len(t, s.Tracks(), 1)
	caps := display.Captures()
	require.Len(t, caps, 3)
	assert.False(t, caps[0].Stopped())
	assert.True(t, caps[1].Stopped())
	assert.True(t, caps[2].Stopped())
}

func TestOpenDesktopDropsConstraints(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	s, err := Open(context.Background(), ctx, Request{
		Source: Desktop,
		Config: CaptureConfig{SampleRate: 16000, Channels: 1, Constraints: Constraints{AutoGainControl: true}},
	})
	require.NoError(t, err)
	defer s.Stop()

	caps := ctx.Captures()
	require.Len(t, caps, 1)
	assert.Equal(t, Constraints{}, caps[0].Config().Constraints)
	assert.True(t, caps[0].Device().Loopback)
}

func TestStreamEndsWhenTrackTerminates(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	s, err := Open(context.Background(), ctx, Request{Source: Microphone, Config: testConfig})
	require.NoError(t, err)
	defer s.Stop()

	ctx.Captures()[0].End()
	waitClosed(t, s.Ended(), "stream end")
}

func TestStreamEndsWhenLoopbackRemoved(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	devices, _ := ctx.LoopbackDevices()
	require.NotEmpty(t, devices)

	s, err := Open(context.Background(), ctx, Request{
		Source:       Desktop,
		Config:       testConfig,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Stop()

	ctx.RemoveLoopback(devices[0].Name)
	waitClosed(t, s.Ended(), "stream end")
}

func TestStreamStopDoesNotEnd(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	s, err := Open(context.Background(), ctx, Request{Source: Microphone, Config: testConfig})
	require.NoError(t, err)

	s.Stop()
	s.Stop()
	assert.True(t, ctx.Captures()[0].Stopped())

	select {
	case <-s.Ended():
		t.Fatal("stream reported ended after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestParseSource(t *testing.T) {
	for in, want := range map[string]Source{"mic": Microphone, "Microphone": Microphone, "desktop": Desktop, "system": Desktop} {
		got, err := ParseSource(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSource("camera")
	assert.Error(t, err)
}
