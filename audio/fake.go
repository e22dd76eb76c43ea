package audio

import (
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
	fakeSampleRate    = 16000
)

// FakeContext replays PCM through capture devices. It stands in for the
// platform backend in tests and the replay command.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu       sync.Mutex
	denyErr  error
	devices  []DeviceInfo
	loopback []DeviceInfo
	captures []*FakeCapture
}

func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{
		pcm:      pcm,
		realtime: realtime,
		devices:  []DeviceInfo{{ID: "fake-mic", Name: "Fake Microphone"}},
		loopback: []DeviceInfo{{ID: "fake-mic.monitor", Name: "Monitor of Fake Output", Loopback: true}},
	}
}

// NewFakeContextFromWAV loads a 16 kHz mono 16-bit WAV file.
func NewFakeContextFromWAV(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContext(data, realtime), nil
}

// Deny makes every following NewCapture fail with err, the way a refused
// permission prompt would.
func (f *FakeContext) Deny(err error) {
	f.mu.Lock()
	f.denyErr = err
	f.mu.Unlock()
}

// RemoveLoopback drops a loopback device from the listing, simulating an
// unplugged output.
func (f *FakeContext) RemoveLoopback(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loopback = slices.DeleteFunc(f.loopback, func(d DeviceInfo) bool { return d.Name == name })
}

// Captures returns every capture device created so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.captures)
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.devices), nil
}

func (f *FakeContext) LoopbackDevices() ([]DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.loopback), nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyErr != nil {
		return nil, f.denyErr
	}
	c := &FakeCapture{
		pcm:        f.pcm,
		realtime:   f.realtime,
		device:     device,
		config:     config,
		audioDone:  make(chan struct{}),
		terminated: make(chan struct{}),
	}
	f.captures = append(f.captures, c)
	return c, nil
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	device    *DeviceInfo
	config    CaptureConfig
	audioDone chan struct{}

	cb         atomic.Pointer[DataCallback]
	terminated chan struct{}
	termOnce   sync.Once
	stopped    atomic.Bool

	mu       sync.Mutex
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone closes once the whole PCM buffer has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) Config() CaptureConfig { return f.config }

func (f *FakeCapture) Device() *DeviceInfo { return f.device }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.cb.Store(&cb)
}

func (f *FakeCapture) ClearCallback() {
	f.cb.Store(nil)
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// End terminates the capture as if the OS had revoked it.
func (f *FakeCapture) End() {
	f.termOnce.Do(func() { close(f.terminated) })
}

func (f *FakeCapture) Terminated() <-chan struct{} { return f.terminated }

// Stopped reports whether Stop has been called.
func (f *FakeCapture) Stopped() bool { return f.stopped.Load() }

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	go f.feed(f.stopCh, f.feedDone)
	return nil
}

func (f *FakeCapture) feed(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Duration(fakeFrameSize) * time.Second / fakeSampleRate
	silence := make([]byte, chunkBytes)
	pos := 0
	finished := false

	for {
		select {
		case <-stop:
			return
		case <-f.terminated:
			return
		default:
		}

		cb := f.cb.Load()
		if cb == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		switch {
		case pos < len(f.pcm):
			end := min(pos+chunkBytes, len(f.pcm))
			chunk := make([]byte, end-pos)
			copy(chunk, f.pcm[pos:end])
			(*cb)(chunk, uint32(len(chunk)/fakeBytesPerFrame))
			pos = end
		case !finished:
			finished = true
			close(f.audioDone)
		case f.realtime:
			(*cb)(silence, fakeFrameSize)
		}

		wait := interval
		if !f.realtime {
			wait = 0
			if finished {
				wait = 10 * time.Millisecond
			}
		}
		if wait > 0 {
			select {
			case <-stop:
				return
			case <-time.After(wait):
			}
		}
	}
}

func (f *FakeCapture) Stop() {
	f.stopped.Store(true)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {}

// FakeDisplay is a FakeContext that captures a display share: one audio
// track plus a video track, and ExtraAudio more audio tracks after those.
type FakeDisplay struct {
	*FakeContext
	ExtraAudio int

	mu    sync.Mutex
	video []*FakeVideoTrack
}

func WithDisplay(f *FakeContext) *FakeDisplay {
	return &FakeDisplay{FakeContext: f}
}

func (d *FakeDisplay) CaptureDisplay(config CaptureConfig) ([]Track, error) {
	dev, err := d.NewCapture(&DeviceInfo{ID: "display", Name: "Entire Screen"}, config)
	if err != nil {
		return nil, err
	}
	if err := dev.Start(); err != nil {
		return nil, err
	}
	video := &FakeVideoTrack{}
	d.mu.Lock()
	d.video = append(d.video, video)
	d.mu.Unlock()
	tracks := []Track{video, newCaptureTrack(dev, "Entire Screen")}
	for i := range d.ExtraAudio {
		extra, err := d.NewCapture(&DeviceInfo{ID: fmt.Sprintf("tab-%d", i), Name: "Tab Audio"}, config)
		if err != nil {
			return nil, err
		}
		if err := extra.Start(); err != nil {
			return nil, err
		}
		tracks = append(tracks, newCaptureTrack(extra, "Tab Audio"))
	}
	return tracks, nil
}

// VideoTracks returns the video tracks handed out so far.
func (d *FakeDisplay) VideoTracks() []*FakeVideoTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.video)
}

type FakeVideoTrack struct {
	stopped atomic.Bool
}

func (v *FakeVideoTrack) Kind() TrackKind { return KindVideo }
func (v *FakeVideoTrack) Label() string   { return "screen" }
func (v *FakeVideoTrack) Stop()           { v.stopped.Store(true) }
func (v *FakeVideoTrack) Stopped() bool   { return v.stopped.Load() }
