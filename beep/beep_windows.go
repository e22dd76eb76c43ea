//go:build windows

package beep

// No playback on Windows; cues are silent.
func play([]int16) {}
