package audio

import (
	"errors"
	"fmt"
	"strings"
)

const WAVHeaderSize = 44

// ErrDeviceUnavailable is returned when permission is denied or no
// matching device exists.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

type Source int

const (
	Microphone Source = iota
	Desktop
)

func (s Source) String() string {
	switch s {
	case Microphone:
		return "microphone"
	case Desktop:
		return "desktop"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

func ParseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "microphone", "mic":
		return Microphone, nil
	case "desktop", "display", "system":
		return Desktop, nil
	}
	return 0, fmt.Errorf("unknown audio source %q", s)
}

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

// Constraints are processing hints for microphone capture. Backends apply
// what they support and silently ignore the rest.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

type CaptureConfig struct {
	SampleRate  uint32
	Channels    uint32
	Constraints Constraints
}

type DeviceInfo struct {
	ID       string // opaque platform-specific identifier
	Name     string
	Loopback bool // captures what the system is playing
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	LoopbackDevices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

// Terminator is implemented by capture devices that can end without the
// caller asking, e.g. when the OS revokes the device.
type Terminator interface {
	Terminated() <-chan struct{}
}

// DisplayCapturer is implemented by backends that capture a display share.
// The returned tracks may include video.
type DisplayCapturer interface {
	CaptureDisplay(config CaptureConfig) ([]Track, error)
}
