// Package beep plays short audio cues when a capture session starts, stops
// or fails.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
)

type Cue int

const (
	Start Cue = iota
	Stop
	Error
)

func (c Cue) String() string {
	switch c {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "error"
	}
}

const sampleRate = 44100

type tone struct {
	freq     float64
	volume   float64
	decay    float64
	duration float64
	// repeat plays the tone twice with a gap in between.
	repeat bool
}

var tones = map[Cue]tone{
	// high pitch, short
	Start: {freq: 1200, volume: 0.5, decay: 60, duration: 0.2},
	// medium pitch, slightly longer tail
	Stop: {freq: 900, volume: 0.5, decay: 40, duration: 0.2},
	// low pitch double beep
	Error: {freq: 350, volume: 0.6, decay: 30, duration: 0.08, repeat: true},
}

const repeatGap = 0.05

var (
	disabled  atomic.Bool
	soundOnce sync.Once
	sounds    map[Cue][]int16
)

// Disable silences every cue. Headless and replay runs call it.
func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

// Play renders cue on the default output without blocking the caller.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	soundOnce.Do(func() {
		sounds = make(map[Cue][]int16, len(tones))
		for cue := range tones {
			sounds[cue] = Samples(cue)
		}
	})
	go play(sounds[c])
}

// Samples returns cue as 16-bit mono PCM at 44.1 kHz.
func Samples(c Cue) []int16 {
	t, ok := tones[c]
	if !ok {
		return nil
	}
	s := generateTick(t.freq, t.duration, t.volume, t.decay)
	if !t.repeat {
		return s
	}
	gap := make([]int16, int(sampleRate*repeatGap))
	out := make([]int16, 0, 2*len(s)+len(gap))
	out = append(out, s...)
	out = append(out, gap...)
	return append(out, s...)
}

func generateTick(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n)
	for i := range n {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}
