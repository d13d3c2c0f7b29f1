// Package container decodes legacy PowerPC executable containers (PEF and
// 32-bit XCOFF) into the object model. Decoding is pure: it never logs and
// only populates sections, the entry point and the ground-truth function
// list. Symbols are left to the function detector.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"tbscan/internal/obj"
)

// ErrFormat is returned for anything structurally wrong with the input:
// bad signature, tables past the end of the buffer, bad names.
var ErrFormat = errors.New("container: malformed container")

// UnsupportedSectionKindError is returned when a section carries a kind tag
// with no mapping to the object model. It fails the whole decode.
type UnsupportedSectionKindError struct {
	Format string
	Index  int
	Tag    uint32
}

func (e *UnsupportedSectionKindError) Error() string {
	return fmt.Sprintf("container: %s: section %d has unsupported kind 0x%x", e.Format, e.Index, e.Tag)
}

// Format is one container decoder.
type Format interface {
	Name() string
	Match(buf []byte) bool
	Decode(buf []byte, name string) (*obj.Info, error)
}

var formats = []Format{pefFormat{}, xcoffFormat{}}

// Formats returns the registered container decoders in probe order.
func Formats() []Format { return formats }

// Detect returns the decoder whose signature matches buf.
func Detect(buf []byte) (Format, bool) {
	for _, f := range formats {
		if f.Match(buf) {
			return f, true
		}
	}
	return nil, false
}

// Decode identifies the container in buf and decodes it. name is only used
// for the resulting Info and error messages.
func Decode(buf []byte, name string) (*obj.Info, error) {
	f, ok := Detect(buf)
	if !ok {
		return nil, errors.Wrapf(ErrFormat, "%s: unrecognised signature", name)
	}
	info, err := f.Decode(buf, name)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	return info, nil
}

// formatErr builds an ErrFormat carrying a stack and a message.
func formatErr(format string, args ...interface{}) error {
	return errors.Wrapf(ErrFormat, format, args...)
}

// unpackAt decodes a fixed-layout big-endian struct at buf[at:].
func unpackAt(buf []byte, v interface{}, at uint64) (int, error) {
	size, err := struc.Sizeof(v)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if at > uint64(len(buf)) || uint64(size) > uint64(len(buf))-at {
		return 0, formatErr("%d-byte record at 0x%x runs past end of file (0x%x)", size, at, len(buf))
	}
	r := bytes.NewReader(buf[at : at+uint64(size)])
	if err := struc.UnpackWithOrder(r, v, binary.BigEndian); err != nil {
		return 0, errors.Wrap(err, "unpack")
	}
	return size, nil
}

// span returns buf[off:off+n] or an ErrFormat naming what.
func span(buf []byte, off, n uint64, what string) ([]byte, error) {
	if off > uint64(len(buf)) || n > uint64(len(buf))-off {
		return nil, formatErr("%s [0x%x,0x%x) outside file (0x%x bytes)", what, off, off+n, len(buf))
	}
	return buf[off : off+n], nil
}

// knownSet collects ground-truth starts, merging duplicates. The first name
// recorded for a start wins; a later entry may only fill in a missing size
// or name.
type knownSet struct {
	idx  map[obj.SectionAddress]int
	list []obj.KnownFunction
}

func (k *knownSet) add(fn obj.KnownFunction) {
	if k.idx == nil {
		k.idx = make(map[obj.SectionAddress]int)
	}
	if i, ok := k.idx[fn.Addr]; ok {
		prev := &k.list[i]
		if prev.Name == "" {
			prev.Name = fn.Name
		}
		if !prev.SizeKnown && fn.SizeKnown {
			prev.Size, prev.SizeKnown = fn.Size, true
		}
		return
	}
	k.idx[fn.Addr] = len(k.list)
	k.list = append(k.list, fn)
}

func (k *knownSet) sorted() []obj.KnownFunction {
	out := append([]obj.KnownFunction(nil), k.list...)
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}
