package encoder

import (
	"bytes"
	"io"
	"testing"

	"github.com/mewkiz/flac"
)

func sineBlock(n, offset int) []int16 {
	block := make([]int16, n)
	for i := range block {
		block[i] = int16((i + offset) % 1000)
	}
	return block
}

func countSamples(t *testing.T, data []byte) uint64 {
	t.Helper()
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("flac.New: %v", err)
	}
	defer stream.Close()

	var total uint64
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ParseNext: %v", err)
		}
		total += uint64(f.BlockSize)
	}
	return total
}

func TestFlacTakeStartsWithHeader(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.EncodeBlock(sineBlock(BlockSize, 0)); err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}

	first := enc.Take()
	if len(first) < 4 || string(first[:4]) != "fLaC" {
		t.Fatal("first chunk does not start with FLAC magic")
	}
	if got := enc.Take(); got != nil {
		t.Errorf("Take after drain = %d bytes, want nil", len(got))
	}

	if err := enc.EncodeBlock(sineBlock(BlockSize, 7)); err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	second := enc.Take()
	if len(second) == 0 {
		t.Fatal("second chunk is empty")
	}
	if bytes.HasPrefix(second, []byte("fLaC")) {
		t.Error("second chunk must not repeat the header")
	}
}

func TestFlacHeaderPlusLaterChunkDecodes(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	var chunks [][]byte
	for i := range 3 {
		for j := range 2 {
			if err := enc.EncodeBlock(sineBlock(BlockSize, i*10+j)); err != nil {
				t.Fatalf("EncodeBlock: %v", err)
			}
		}
		chunks = append(chunks, enc.Take())
	}

	blob := append(append([]byte{}, chunks[0]...), chunks[2]...)
	if got, want := countSamples(t, blob), uint64(4*BlockSize); got != want {
		t.Errorf("decoded %d samples, want %d", got, want)
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Take()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFlacEncoderPartialBlock(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	partial := sineBlock(BlockSize/4, 0)
	if err := enc.EncodeBlock(partial); err != nil {
		t.Fatalf("EncodeBlock partial: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != uint64(len(partial)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(partial))
	}
	if enc.MediaType() != MediaTypeFLAC {
		t.Errorf("MediaType = %q", enc.MediaType())
	}
}
