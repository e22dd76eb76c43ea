package audio

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"livenote/log"
)

const DefaultPollInterval = 3 * time.Second

type TrackKind int

const (
	KindAudio TrackKind = iota
	KindVideo
)

func (k TrackKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

type Track interface {
	Kind() TrackKind
	Label() string
	Stop()
}

type AudioTrack interface {
	Track
	SetCallback(cb DataCallback)
	ClearCallback()
	// Ended closes when the track terminates on its own. It does not
	// close on Stop.
	Ended() <-chan struct{}
}

type Request struct {
	Source Source
	Device string // device name; empty selects the default
	Config CaptureConfig
	// PollInterval controls how often a desktop loopback device is checked
	// for removal.
	PollInterval time.Duration
}

// Stream is an open capture: one or more audio tracks, video already
// discarded.
type Stream struct {
	source Source
	tracks []AudioTrack

	ended    chan struct{}
	endOnce  sync.Once
	stopped  chan struct{}
	stopOnce sync.Once
}

func (s *Stream) Source() Source { return s.source }

func (s *Stream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

// Audio returns the track the recorder should read from. Streams hold a
// single audio track; a display share's extra tracks are stopped at open.
func (s *Stream) Audio() AudioTrack { return s.tracks[0] }

// Ended closes when the underlying device stream terminates externally.
func (s *Stream) Ended() <-chan struct{} { return s.ended }

func (s *Stream) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

// Stop stops every track. Safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		for _, t := range s.tracks {
			t.Stop()
		}
	})
}

// Open acquires a stream for req.Source from backend.
func Open(ctx context.Context, backend Context, req Request) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Config.SampleRate == 0 || req.Config.Channels == 0 {
		return nil, fmt.Errorf("invalid capture config: %d Hz, %d channels", req.Config.SampleRate, req.Config.Channels)
	}

	switch req.Source {
	case Microphone:
		return openMicrophone(backend, req)
	case Desktop:
		if dc, ok := backend.(DisplayCapturer); ok {
			return openDisplay(dc, req)
		}
		return openLoopback(backend, req)
	}
	return nil, fmt.Errorf("unsupported source %v", req.Source)
}

func openMicrophone(backend Context, req Request) (*Stream, error) {
	var device *DeviceInfo
	if req.Device != "" {
		devices, err := backend.Devices()
		if err != nil {
			return nil, fmt.Errorf("%w: enumerating devices: %v", ErrDeviceUnavailable, err)
		}
		device = findDevice(devices, req.Device)
		if device == nil {
			return nil, fmt.Errorf("%w: microphone %q not found", ErrDeviceUnavailable, req.Device)
		}
	}

	track, err := startCapture(backend, device, req.Config)
	if err != nil {
		return nil, err
	}
	s := newStream(Microphone, []AudioTrack{track})
	s.watchTracks()
	return s, nil
}

func openLoopback(backend Context, req Request) (*Stream, error) {
	devices, err := backend.LoopbackDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerating loopback devices: %v", ErrDeviceUnavailable, err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no desktop audio source", ErrDeviceUnavailable)
	}
	device := &devices[0]
	if req.Device != "" {
		if device = findDevice(devices, req.Device); device == nil {
			return nil, fmt.Errorf("%w: desktop source %q not found", ErrDeviceUnavailable, req.Device)
		}
	}

	cfg := req.Config
	cfg.Constraints = Constraints{}
	track, err := startCapture(backend, device, cfg)
	if err != nil {
		return nil, err
	}

	s := newStream(Desktop, []AudioTrack{track})
	s.watchTracks()
	interval := req.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	go s.watchDevice(backend, device.Name, interval)
	return s, nil
}

func openDisplay(dc DisplayCapturer, req Request) (*Stream, error) {
	cfg := req.Config
	cfg.Constraints = Constraints{}
	tracks, err := dc.CaptureDisplay(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	var audioTracks []AudioTrack
	for _, t := range tracks {
		at, ok := t.(AudioTrack)
		if !ok || t.Kind() != KindAudio || len(audioTracks) > 0 {
			log.Info("discard_track: " + t.Kind().String() + " " + t.Label())
			t.Stop()
			continue
		}
		audioTracks = append(audioTracks, at)
	}
	if len(audioTracks) == 0 {
		return nil, fmt.Errorf("%w: display share has no audio", ErrDeviceUnavailable)
	}

	s := newStream(Desktop, audioTracks)
	s.watchTracks()
	return s, nil
}

func newStream(source Source, tracks []AudioTrack) *Stream {
	return &Stream{
		source:  source,
		tracks:  tracks,
		ended:   make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (s *Stream) watchTracks() {
	for _, t := range s.tracks {
		go func(t AudioTrack) {
			select {
			case <-t.Ended():
				log.Info("track_ended: " + t.Label())
				s.end()
			case <-s.stopped:
			}
		}(t)
	}
}

// watchDevice polls the backend's loopback list and ends the stream once
// the device disappears.
func (s *Stream) watchDevice(backend Context, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopped:
			return
		case <-ticker.C:
			devices, err := backend.LoopbackDevices()
			if err != nil {
				continue
			}
			if !slices.ContainsFunc(devices, func(d DeviceInfo) bool { return d.Name == name }) {
				log.Info("device_disconnected: " + name)
				s.end()
				return
			}
		}
	}
}

func findDevice(devices []DeviceInfo, name string) *DeviceInfo {
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i]
		}
	}
	return nil
}

func startCapture(backend Context, device *DeviceInfo, cfg CaptureConfig) (*captureTrack, error) {
	dev, err := backend.NewCapture(device, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	label := "system default"
	if device != nil {
		label = device.Name
	}
	return newCaptureTrack(dev, label), nil
}

// captureTrack adapts a started CaptureDevice to AudioTrack.
type captureTrack struct {
	dev   CaptureDevice
	label string
	ended <-chan struct{}
	once  sync.Once
}

func newCaptureTrack(dev CaptureDevice, label string) *captureTrack {
	t := &captureTrack{dev: dev, label: label}
	if term, ok := dev.(Terminator); ok {
		t.ended = term.Terminated()
	}
	return t
}

func (t *captureTrack) Kind() TrackKind             { return KindAudio }
func (t *captureTrack) Label() string               { return t.label }
func (t *captureTrack) SetCallback(cb DataCallback) { t.dev.SetCallback(cb) }
func (t *captureTrack) ClearCallback()              { t.dev.ClearCallback() }
func (t *captureTrack) Ended() <-chan struct{}      { return t.ended }

func (t *captureTrack) Stop() {
	t.once.Do(func() {
		t.dev.ClearCallback()
		t.dev.Stop()
		t.dev.Close()
	})
}
