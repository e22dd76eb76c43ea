package recorder

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/mewkiz/flac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livenote/audio"
	"livenote/encoder"
)

// manualTrack lets a test push PCM by hand.
type manualTrack struct {
	mu sync.Mutex
	cb audio.DataCallback
}

func (t *manualTrack) Kind() audio.TrackKind  { return audio.KindAudio }
func (t *manualTrack) Label() string          { return "manual" }
func (t *manualTrack) Stop()                  {}
func (t *manualTrack) Ended() <-chan struct{} { return nil }
func (t *manualTrack) ClearCallback()         { t.SetCallback(nil) }
func (t *manualTrack) SetCallback(cb audio.DataCallback) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

func (t *manualTrack) push(samples int) {
	t.mu.Lock()
	cb := t.cb
	t.mu.Unlock()
	if cb == nil {
		return
	}
	data := make([]byte, samples*2)
	for i := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(i%200-100)))
	}
	cb(data, uint32(samples))
}

type collector struct {
	mu     sync.Mutex
	chunks []Chunk
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 64)}
}

func (c *collector) add(ch Chunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, ch)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Chunk {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.chunks) >= n {
			out := append([]Chunk(nil), c.chunks...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d chunks", n)
		}
	}
}

func waitFrames(t *testing.T, r *Recorder, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		frames := r.enc.TotalFrames()
		r.mu.Unlock()
		if frames >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("encoder never reached %d frames", want)
}

func TestRecorderStates(t *testing.T) {
	r := New(&manualTrack{}, Options{})
	assert.Equal(t, Inactive, r.State())
	assert.ErrorIs(t, r.Pause(), ErrInvalidState)
	assert.ErrorIs(t, r.RequestData(), ErrInvalidState)

	require.NoError(t, r.Start(time.Hour))
	assert.Equal(t, Recording, r.State())
	assert.ErrorIs(t, r.Start(time.Hour), ErrInvalidState)

	require.NoError(t, r.Pause())
	assert.Equal(t, Paused, r.State())
	require.NoError(t, r.Resume())
	assert.Equal(t, Recording, r.State())

	r.Stop()
	assert.Equal(t, Inactive, r.State())
	r.Stop()
	assert.ErrorIs(t, r.Start(time.Hour), ErrInvalidState)
}

func TestRecorderRejectsZeroInterval(t *testing.T) {
	r := New(&manualTrack{}, Options{})
	assert.Error(t, r.Start(0))
	assert.Equal(t, Inactive, r.State())
}

func TestRecorderFirstChunkHasHeader(t *testing.T) {
	track := &manualTrack{}
	r := New(track, Options{})
	c := newCollector()
	r.OnData(c.add)
	require.NoError(t, r.Start(time.Hour))
	defer r.Stop()

	track.push(encoder.BlockSize)
	waitFrames(t, r, encoder.BlockSize)
	require.NoError(t, r.RequestData())

	chunks := c.wait(t, 1)
	assert.Equal(t, 0, chunks[0].Seq)
	assert.Equal(t, encoder.MediaTypeFLAC, chunks[0].MediaType)
	assert.True(t, bytes.HasPrefix(chunks[0].Data, []byte("fLaC")))
}

func TestRecorderHeaderPlusLatestDecodes(t *testing.T) {
	track := &manualTrack{}
	r := New(track, Options{})
	c := newCollector()
	r.OnData(c.add)
	require.NoError(t, r.Start(time.Hour))
	defer r.Stop()

	for i := range 3 {
		track.push(encoder.BlockSize)
		waitFrames(t, r, uint64(encoder.BlockSize*(i+1)))
		require.NoError(t, r.RequestData())
		c.wait(t, i+1)
	}
	chunks := c.wait(t, 3)
	assert.False(t, bytes.HasPrefix(chunks[2].Data, []byte("fLaC")))

	blob := append(append([]byte(nil), chunks[0].Data...), chunks[2].Data...)
	stream, err := flac.New(bytes.NewReader(blob))
	require.NoError(t, err)
	defer stream.Close()

	var samples int
	for {
		f, err := stream.ParseNext()
		if err != nil {
			break
		}
		samples += int(f.Subframes[0].NSamples)
	}
	assert.Equal(t, 2*encoder.BlockSize, samples)
}

func TestRecorderTicks(t *testing.T) {
	track := &manualTrack{}
	r := New(track, Options{})
	c := newCollector()
	r.OnData(c.add)
	require.NoError(t, r.Start(20*time.Millisecond))
	defer r.Stop()

	chunks := c.wait(t, 1)
	assert.Equal(t, 0, chunks[0].Seq)

	track.push(encoder.BlockSize)
	chunks = c.wait(t, 2)
	assert.Equal(t, 1, chunks[1].Seq)
}

func TestRecorderPauseDropsAudio(t *testing.T) {
	track := &manualTrack{}
	r := New(track, Options{})
	require.NoError(t, r.Start(time.Hour))
	defer r.Stop()

	require.NoError(t, r.Pause())
	track.push(2 * encoder.BlockSize)
	require.NoError(t, r.Resume())
	track.push(encoder.BlockSize)
	waitFrames(t, r, encoder.BlockSize)

	r.mu.Lock()
	frames := r.enc.TotalFrames()
	r.mu.Unlock()
	assert.Equal(t, uint64(encoder.BlockSize), frames)
}

func TestRecorderNoChunkAfterStop(t *testing.T) {
	track := &manualTrack{}
	r := New(track, Options{})
	c := newCollector()
	r.OnData(c.add)
	require.NoError(t, r.Start(5*time.Millisecond))
	c.wait(t, 1)
	r.Stop()

	c.mu.Lock()
	n := len(c.chunks)
	c.mu.Unlock()
	track.push(encoder.BlockSize)
	time.Sleep(30 * time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, n, len(c.chunks))
}

func TestRecorderLevel(t *testing.T) {
	track := &manualTrack{}
	var mu sync.Mutex
	var levels []float64
	r := New(track, Options{OnLevel: func(v float64) {
		mu.Lock()
		levels = append(levels, v)
		mu.Unlock()
	}})
	require.NoError(t, r.Start(time.Hour))
	defer r.Stop()

	track.push(256)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, levels, 1)
	assert.Greater(t, levels[0], 0.0)
	assert.Less(t, levels[0], 1.0)
}
