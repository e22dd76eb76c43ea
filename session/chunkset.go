package session

import "livenote/recorder"

// Blob is a self-contained audio file built from the header chunk and the
// most recent chunk.
type Blob struct {
	Data      []byte
	MediaType string
}

// ChunkSet keeps the first chunk of a recording and the latest one. The
// first chunk carries the container header, so the two together always
// decode. Older chunks are dropped.
type ChunkSet struct {
	header *recorder.Chunk
	latest *recorder.Chunk
}

// Push stores c and returns the blob to transcribe.
func (s *ChunkSet) Push(c recorder.Chunk) Blob {
	if s.header == nil {
		s.header = &c
		return Blob{Data: c.Data, MediaType: c.MediaType}
	}
	s.latest = &c

	data := make([]byte, 0, len(s.header.Data)+len(c.Data))
	data = append(data, s.header.Data...)
	data = append(data, c.Data...)
	return Blob{Data: data, MediaType: s.header.MediaType}
}

// Len is the number of retained chunks, never more than two.
func (s *ChunkSet) Len() int {
	n := 0
	if s.header != nil {
		n++
	}
	if s.latest != nil {
		n++
	}
	return n
}
