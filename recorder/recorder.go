package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"livenote/audio"
	"livenote/encoder"
)

var ErrInvalidState = errors.New("recorder: invalid state")

type State int

const (
	Inactive State = iota
	Recording
	Paused
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	default:
		return "inactive"
	}
}

// Chunk is the encoded audio produced since the previous chunk. The first
// chunk of a recording starts with the container header, so it can be
// concatenated with any later chunk into a decodable file.
type Chunk struct {
	Seq       int
	Data      []byte
	MediaType string
	At        time.Time
	Frames    uint64 // total PCM frames encoded so far
}

type Options struct {
	// NewEncoder builds the container encoder. Defaults to FLAC.
	NewEncoder func() (encoder.Encoder, error)
	// OnLevel receives the RMS level of every captured buffer, 0..1.
	OnLevel func(rms float64)
}

// Recorder encodes PCM from an audio track and hands out the encoded bytes
// every interval.
type Recorder struct {
	track audio.AudioTrack
	opts  Options

	mu        sync.Mutex
	state     State
	onData    func(Chunk)
	enc       encoder.Encoder
	sampleBuf []int16
	blockChan chan []int16
	seq       int

	encodeDone chan struct{}
	request    chan struct{}
	quit       chan struct{}
	tickDone   chan struct{}
}

func New(track audio.AudioTrack, opts Options) *Recorder {
	if opts.NewEncoder == nil {
		opts.NewEncoder = func() (encoder.Encoder, error) { return encoder.NewFlac() }
	}
	return &Recorder{track: track, opts: opts}
}

// OnData sets the chunk handler. It runs on the recorder's timer goroutine.
func (r *Recorder) OnData(fn func(Chunk)) {
	r.mu.Lock()
	r.onData = fn
	r.mu.Unlock()
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("recorder: interval must be positive, got %v", interval)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Inactive || r.enc != nil {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, r.state)
	}

	enc, err := r.opts.NewEncoder()
	if err != nil {
		return err
	}
	r.enc = enc
	r.blockChan = make(chan []int16, 64)
	r.encodeDone = make(chan struct{})
	r.request = make(chan struct{}, 1)
	r.quit = make(chan struct{})
	r.tickDone = make(chan struct{})
	r.state = Recording

	go func() {
		defer close(r.encodeDone)
		for block := range r.blockChan {
			enc.EncodeBlock(block)
		}
	}()
	go r.tick(interval)

	r.track.SetCallback(r.feed)
	return nil
}

func (r *Recorder) feed(data []byte, _ uint32) {
	if len(data) < 2 {
		return
	}
	if r.opts.OnLevel != nil {
		r.opts.OnLevel(rms(data))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		return
	}
	for i := 0; i+1 < len(data); i += 2 {
		r.sampleBuf = append(r.sampleBuf, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	for len(r.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, r.sampleBuf[:encoder.BlockSize])
		r.sampleBuf = r.sampleBuf[encoder.BlockSize:]
		r.blockChan <- block
	}
}

func (r *Recorder) tick(interval time.Duration) {
	defer close(r.tickDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
		case <-r.request:
		}
		r.emit()
	}
}

func (r *Recorder) emit() {
	r.mu.Lock()
	if r.state == Inactive {
		r.mu.Unlock()
		return
	}
	data := r.enc.Take()
	if len(data) == 0 {
		r.mu.Unlock()
		return
	}
	c := Chunk{
		Seq:       r.seq,
		Data:      data,
		MediaType: r.enc.MediaType(),
		At:        time.Now(),
		Frames:    r.enc.TotalFrames(),
	}
	r.seq++
	fn := r.onData
	r.mu.Unlock()

	if fn != nil {
		fn(c)
	}
}

// RequestData emits the bytes encoded so far without waiting for the next
// tick.
func (r *Recorder) RequestData() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Inactive {
		return fmt.Errorf("%w: request data while inactive", ErrInvalidState)
	}
	select {
	case r.request <- struct{}{}:
	default:
	}
	return nil
}

func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Inactive {
		return fmt.Errorf("%w: pause while inactive", ErrInvalidState)
	}
	r.state = Paused
	return nil
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Inactive {
		return fmt.Errorf("%w: resume while inactive", ErrInvalidState)
	}
	r.state = Recording
	return nil
}

// Stop ends the recording. No chunk is delivered once Stop returns. Calling
// Stop on an inactive recorder does nothing.
func (r *Recorder) Stop() {
	r.track.ClearCallback()

	r.mu.Lock()
	if r.state == Inactive {
		r.mu.Unlock()
		return
	}
	r.state = Inactive
	close(r.blockChan)
	close(r.quit)
	r.mu.Unlock()

	<-r.tickDone
	<-r.encodeDone
	r.enc.Close()
}

func rms(data []byte) float64 {
	var sumSquares float64
	n := len(data) / 2
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}
