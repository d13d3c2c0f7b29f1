// Big-endian cursor over a byte slice. Every read is bounds-checked and
// leaves the position untouched on failure.
package binfmt

import (
	"encoding/binary"
	"errors"
)

var ErrStreamEOF = errors.New("stream: unexpected end of data")

// Stream reads big-endian values from a byte slice.
type Stream struct {
	data []byte
	pos  int
	end  int
}

// NewStream creates a stream over the given data.
func NewStream(data []byte) *Stream {
	return &Stream{data: data, pos: 0, end: len(data)}
}

// NewStreamAt creates a stream starting at offset within data.
func NewStreamAt(data []byte, offset int) *Stream {
	if offset < 0 {
		offset = 0
	}
	if offset > len(data) {
		offset = len(data)
	}
	return &Stream{data: data, pos: offset, end: len(data)}
}

// Position returns the current read position.
func (s *Stream) Position() int { return s.pos }

// Remaining returns bytes left to read.
func (s *Stream) Remaining() int { return s.end - s.pos }

func (s *Stream) has(n int) bool {
	return n >= 0 && s.pos+n <= s.end
}

// ReadByte reads a single byte.
func (s *Stream) ReadByte() (byte, error) {
	if !s.has(1) {
		return 0, ErrStreamEOF
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

// ReadInt8 reads a signed byte.
func (s *Stream) ReadInt8() (int8, error) {
	b, err := s.ReadByte()
	return int8(b), err
}

// ReadBytes reads n bytes into a new slice.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if !s.has(n) {
		return nil, ErrStreamEOF
	}
	out := make([]byte, n)
	copy(out, s.data[s.pos:s.pos+n])
	s.pos += n
	return out, nil
}

// ReadUint16 reads a big-endian uint16.
func (s *Stream) ReadUint16() (uint16, error) {
	if !s.has(2) {
		return 0, ErrStreamEOF
	}
	v := binary.BigEndian.Uint16(s.data[s.pos:])
	s.pos += 2
	return v, nil
}

// ReadUint32 reads a big-endian uint32.
func (s *Stream) ReadUint32() (uint32, error) {
	if !s.has(4) {
		return 0, ErrStreamEOF
	}
	v := binary.BigEndian.Uint32(s.data[s.pos:])
	s.pos += 4
	return v, nil
}

// ReadInt32 reads a big-endian int32.
func (s *Stream) ReadInt32() (int32, error) {
	v, err := s.ReadUint32()
	return int32(v), err
}

// CString reads a NUL-terminated string starting at off without moving the
// cursor. ok is false if off is out of range or no terminator is found.
func CString(data []byte, off int) (string, bool) {
	if off < 0 || off >= len(data) {
		return "", false
	}
	for i := off; i < len(data); i++ {
		if data[i] == 0 {
			return string(data[off:i]), true
		}
	}
	return "", false
}
