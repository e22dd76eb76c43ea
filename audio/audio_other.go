//go:build !linux

package audio

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) list(kind malgo.DeviceType, loopback bool) ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:       hex.EncodeToString(d.ID.Pointer()[:]),
			Name:     d.Name(),
			Loopback: loopback,
		})
	}
	return result, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	return m.list(malgo.Capture, false)
}

// LoopbackDevices lists playback devices that can be captured in loopback
// mode. miniaudio only supports loopback on WASAPI.
func (m *malgoContext) LoopbackDevices() ([]DeviceInfo, error) {
	if runtime.GOOS != "windows" {
		return nil, nil
	}
	return m.list(malgo.Playback, true)
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	kind := malgo.Capture
	if device != nil && device.Loopback {
		kind = malgo.Loopback
	}
	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	c := &malgoCapture{terminated: make(chan struct{})}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			if cb := c.callback.Load(); cb != nil {
				pcm := make([]byte, len(data))
				copy(pcm, data)
				(*cb)(pcm, frameCount)
			}
		},
		Stop: func() {
			if !c.stopping.Load() {
				c.termOnce.Do(func() { close(c.terminated) })
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device     *malgo.Device
	callback   atomic.Pointer[DataCallback]
	stopping   atomic.Bool
	terminated chan struct{}
	termOnce   sync.Once
	closeOnce  sync.Once
}

func (c *malgoCapture) Start() error {
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	c.stopping.Store(true)
	c.device.Stop()
}

func (c *malgoCapture) Close() {
	c.closeOnce.Do(func() {
		c.stopping.Store(true)
		c.device.Uninit()
	})
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

// Terminated closes when miniaudio stops the device on its own, e.g. when
// it is unplugged or the loopback endpoint goes away.
func (c *malgoCapture) Terminated() <-chan struct{} {
	return c.terminated
}
