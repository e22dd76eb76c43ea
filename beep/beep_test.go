package beep

import "testing"

func TestSamplesLength(t *testing.T) {
	if got, want := len(Samples(Start)), int(sampleRate*0.2); got != want {
		t.Errorf("start: %d samples, want %d", got, want)
	}
	tick := int(sampleRate * 0.08)
	if got, want := len(Samples(Error)), 2*tick+int(sampleRate*repeatGap); got != want {
		t.Errorf("error: %d samples, want %d", got, want)
	}
	if Samples(Cue(42)) != nil {
		t.Error("unknown cue should have no samples")
	}
}

func TestSamplesDecay(t *testing.T) {
	s := Samples(Stop)
	peak := func(from, to int) int16 {
		var p int16
		for _, v := range s[from:to] {
			if v < 0 {
				v = -v
			}
			p = max(p, v)
		}
		return p
	}
	head, tail := peak(0, 1000), peak(len(s)-1000, len(s))
	if tail >= head {
		t.Errorf("tail peak %d should be below head peak %d", tail, head)
	}
}

func TestDisable(t *testing.T) {
	Disable()
	if Enabled() {
		t.Fatal("Enabled() after Disable()")
	}
	Play(Start) // must not touch the output device
}
