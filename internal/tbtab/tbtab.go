// Package tbtab decodes PowerPC traceback tables: the bit-packed records a
// compiler appends after each function body for stack unwinders.
//
// Layout:
//
//	+0x00: reserved    uint32 (always 0; the presence signature)
//	+0x04: version     uint8
//	+0x05: language    uint8
//	+0x06: flags1..4   4 x uint8
//	+0x0a: fixedparms  uint8
//	+0x0b: flags5      uint8
//	+0x0c: optional fields, in this order, each gated by the header:
//	       parminfo  uint32   fixedparms > 0 || floatparms > 0
//	       tb_offset uint32   flags1.HasTBOffset
//	       hand_mask int32    flags2.InterruptHandler
//	       ctl_info  int32 N, N x int32   flags1.ControlledStorage
//	       name      uint16 L, L bytes    flags2.NamePresent
//	       alloca    int8     flags2.AllocaUsed
//
// The record is padded to a 4-byte boundary.
package tbtab

import (
	"encoding/binary"
	"errors"
	"fmt"

	"tbscan/internal/binfmt"
)

// HeaderSize is the size of the fixed header in bytes.
const HeaderSize = 12

var (
	// ErrNoTable means the candidate offset does not host a table at all.
	ErrNoTable = errors.New("tbtab: no traceback table at offset")
	// ErrTruncated means a field the header declares present runs past
	// the end of the buffer. The whole record is rejected.
	ErrTruncated = errors.New("tbtab: truncated record")
)

// TruncatedError names the field that could not be read.
type TruncatedError struct {
	Offset int    // offset of the table
	Field  string // first field that did not fit
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("tbtab: truncated record at 0x%x: %s", e.Offset, e.Field)
}

func (e *TruncatedError) Unwrap() error { return ErrTruncated }

// Header is the fixed 12-byte part of a traceback table.
type Header struct {
	Version     uint8
	LangCode    uint8
	Flags1      Flags1
	Flags2      Flags2
	Flags3      Flags3
	Flags4      Flags4
	FixedParams uint8
	Flags5      Flags5
}

// Language returns the source language and whether the code is one of the
// enumerated values. An unknown code is not a decode failure.
func (h Header) Language() (Language, bool) {
	l := Language(h.LangCode)
	return l, l.Known()
}

// FloatParams is the floating-point parameter count from Flags5.
func (h Header) FloatParams() int { return h.Flags5.FloatParams() }

func (h Header) hasParmInfo() bool {
	return h.FixedParams > 0 || h.FloatParams() > 0
}

// Table is a decoded traceback table. Optional fields are nil when their
// governing flag is clear.
type Table struct {
	Header

	Offset    int     // offset of the reserved word within the section
	ParmInfo  *uint32 // parameter type encoding
	FuncSize  *uint32 // offset from function start to this table
	HandMask  *int32  // interrupts handled
	CtlInfo   []int32 // controlled-storage anchors; nil when absent
	Name      *string // function name, not NUL-terminated
	AllocaReg *int8   // register holding alloca storage

	extLen int
}

// ExtLen is the number of bytes consumed by the optional fields.
func (t *Table) ExtLen() int { return t.extLen }

// Size is the on-disk size of the table including alignment padding.
func (t *Table) Size() int {
	return (HeaderSize + t.extLen + 3) &^ 3
}

// End is the offset just past the table.
func (t *Table) End() int { return t.Offset + t.Size() }

// HasName reports whether a name was decoded.
func (t *Table) HasName() bool { return t.Name != nil }

// FuncName returns the decoded name or "".
func (t *Table) FuncName() string {
	if t.Name == nil {
		return ""
	}
	return *t.Name
}

// Params expands the parameter-type word into one entry per parameter,
// scanning from the most significant bit: '0' is a fixed parameter, '10'
// single precision, '11' double precision.
func (t *Table) Params() []ParamType {
	if t.ParmInfo == nil {
		return nil
	}
	want := int(t.FixedParams) + t.FloatParams()
	bits := *t.ParmInfo
	out := make([]ParamType, 0, want)
	for pos := 0; len(out) < want && pos < 32; {
		if bits&(1<<(31-pos)) == 0 {
			out = append(out, ParamFixed)
			pos++
			continue
		}
		if pos+1 >= 32 {
			break
		}
		if bits&(1<<(30-pos)) == 0 {
			out = append(out, ParamSingle)
		} else {
			out = append(out, ParamDouble)
		}
		pos += 2
	}
	return out
}

// Signature renders the parameter list as a compact string like "(i,i,d)".
func (t *Table) Signature() string {
	ps := t.Params()
	b := make([]byte, 0, 2+2*len(ps))
	b = append(b, '(')
	for i, p := range ps {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, p.String()...)
	}
	return string(append(b, ')'))
}

// TryDecode is the scan primitive: it returns the table at off, or false
// if there is none or it is truncated.
func TryDecode(data []byte, off int) (*Table, bool) {
	t, err := Decode(data, off)
	if err != nil {
		return nil, false
	}
	return t, true
}

// Decode decodes the table whose reserved word is at data[off]. It returns
// ErrNoTable when the reserved word is missing or non-zero, and a
// *TruncatedError when a declared field does not fit.
func Decode(data []byte, off int) (*Table, error) {
	if off < 0 || off > len(data)-4 {
		return nil, ErrNoTable
	}
	if binary.BigEndian.Uint32(data[off:]) != 0 {
		return nil, ErrNoTable
	}
	if off > len(data)-HeaderSize {
		return nil, &TruncatedError{Offset: off, Field: "header"}
	}

	h := data[off+4 : off+HeaderSize]
	t := &Table{
		Header: Header{
			Version:     h[0],
			LangCode:    h[1],
			Flags1:      Flags1(h[2]),
			Flags2:      Flags2(h[3]),
			Flags3:      Flags3(h[4]),
			Flags4:      Flags4(h[5]),
			FixedParams: h[6],
			Flags5:      Flags5(h[7]),
		},
		Offset: off,
	}

	r := extReader{s: binfmt.NewStreamAt(data, off+HeaderSize), off: off}
	start := r.s.Position()

	if t.hasParmInfo() {
		v, err := r.u32("parm_info")
		if err != nil {
			return nil, err
		}
		t.ParmInfo = &v
	}
	if t.Flags1.HasTBOffset() {
		v, err := r.u32("tb_offset")
		if err != nil {
			return nil, err
		}
		t.FuncSize = &v
	}
	if t.Flags2.InterruptHandler() {
		v, err := r.u32("hand_mask")
		if err != nil {
			return nil, err
		}
		m := int32(v)
		t.HandMask = &m
	}
	if t.Flags1.ControlledStorage() {
		anchors, err := r.ctlInfo()
		if err != nil {
			return nil, err
		}
		t.CtlInfo = anchors
	}
	if t.Flags2.NamePresent() {
		name, err := r.name()
		if err != nil {
			return nil, err
		}
		t.Name = &name
	}
	if t.Flags2.AllocaUsed() {
		v, err := r.s.ReadInt8()
		if err != nil {
			return nil, r.truncated("alloca_reg")
		}
		t.AllocaReg = &v
	}

	t.extLen = r.s.Position() - start
	return t, nil
}

// extReader turns stream underruns into TruncatedError for a named field.
type extReader struct {
	s   *binfmt.Stream
	off int
}

func (r *extReader) truncated(field string) error {
	return &TruncatedError{Offset: r.off, Field: field}
}

func (r *extReader) u32(field string) (uint32, error) {
	v, err := r.s.ReadUint32()
	if err != nil {
		return 0, r.truncated(field)
	}
	return v, nil
}

func (r *extReader) ctlInfo() ([]int32, error) {
	n, err := r.s.ReadInt32()
	if err != nil {
		return nil, r.truncated("ctl_info count")
	}
	if n < 0 || int64(n)*4 > int64(r.s.Remaining()) {
		return nil, r.truncated("ctl_info anchors")
	}
	anchors := make([]int32, n)
	for i := range anchors {
		// Cannot fail: the count was checked against Remaining.
		anchors[i], _ = r.s.ReadInt32()
	}
	return anchors, nil
}

func (r *extReader) name() (string, error) {
	l, err := r.s.ReadUint16()
	if err != nil {
		return "", r.truncated("name length")
	}
	b, err := r.s.ReadBytes(int(l))
	if err != nil {
		return "", r.truncated("name")
	}
	return string(b), nil
}
