package encoder

import "time"

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096

	MediaTypeFLAC = "audio/flac"
)

// Encoder turns PCM blocks into a container stream that can be drained
// incrementally. The first Take after construction starts with the
// container header.
type Encoder interface {
	EncodeBlock(block []int16) error
	Take() []byte
	Close() error
	MediaType() string
	TotalFrames() uint64
	EncodeTime() time.Duration
}
