//go:build !linux && !windows

package beep

import (
	"encoding/binary"
	"sync"

	"github.com/gen2brain/malgo"
)

var playMu sync.Mutex

func play(samples []int16) {
	if len(samples) == 0 {
		return
	}
	playMu.Lock()
	defer playMu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}
	defer func() {
		ctx.Uninit()
		ctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate

	pos := 0
	done := make(chan struct{})
	var once sync.Once
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			for i := range int(frameCount) {
				var s int16
				if pos < len(samples) {
					s = samples[pos]
					pos++
				}
				binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
			}
			if pos >= len(samples) {
				once.Do(func() { close(done) })
			}
		},
	}
	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		return
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return
	}
	<-done
	device.Stop()
}
