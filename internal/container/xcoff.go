package container

import (
	"bytes"
	"encoding/binary"

	"tbscan/internal/binfmt"
	"tbscan/internal/obj"
)

// XCOFF32 layout, all big-endian:
//
//	file header       20 bytes
//	auxiliary header  f_opthdr bytes
//	section headers   40 bytes each
//	symbol table      18 bytes per entry, at f_symptr
//	string table      4-byte length, then names
const (
	xcoffMagic32 = 0x01df
	xcoffMagic64 = 0x01f7

	xcoffFileHeaderSize    = 20
	xcoffSectionHeaderSize = 40
	xcoffSymbolSize        = 18
	xcoffExceptEntrySize   = 6
	xcoffAuxEntryOffset    = 16
)

// Section type flags (low 16 bits of s_flags).
const (
	stypDWARF  = 0x0010
	stypTEXT   = 0x0020
	stypDATA   = 0x0040
	stypBSS    = 0x0080
	stypEXCEPT = 0x0100
	stypINFO   = 0x0200
	stypTDATA  = 0x0400
	stypTBSS   = 0x0800
	stypLOADER = 0x1000
	stypDEBUG  = 0x2000
	stypTYPCHK = 0x4000
	stypOVRFLO = 0x8000
)

var xcoffKinds = map[uint16]obj.SectionKind{
	stypTEXT:   obj.SectionCode,
	stypDATA:   obj.SectionData,
	stypTDATA:  obj.SectionData,
	stypBSS:    obj.SectionUninitialized,
	stypTBSS:   obj.SectionUninitialized,
	stypLOADER: obj.SectionReadOnlyData,
	stypDEBUG:  obj.SectionReadOnlyData,
	stypTYPCHK: obj.SectionReadOnlyData,
	stypEXCEPT: obj.SectionReadOnlyData,
	stypINFO:   obj.SectionReadOnlyData,
	stypDWARF:  obj.SectionReadOnlyData,
	stypOVRFLO: obj.SectionReadOnlyData,
}

// Symbol storage classes and csect attributes.
const (
	cEXT     = 2
	cHIDEXT  = 107
	cWEAKEXT = 111

	xtyLD = 2
	xmcPR = 0
)

type xcoffFileHeader struct {
	Magic  uint16
	Nscns  uint16
	Timdat int32
	Symptr uint32
	Nsyms  int32
	Opthdr uint16
	Flags  uint16
}

type xcoffSectionHeader struct {
	Name    [8]byte
	Paddr   uint32
	Vaddr   uint32
	Size    uint32
	Scnptr  uint32
	Relptr  uint32
	Lnnoptr uint32
	Nreloc  uint16
	Nlnno   uint16
	Flags   uint32
}

type xcoffSymbol struct {
	Name   [8]byte
	Value  uint32
	Scnum  int16
	Type   uint16
	Sclass uint8
	Numaux uint8
}

type xcoffCsectAux struct {
	Scnlen   uint32
	Parmhash uint32
	Snhash   uint16
	Smtyp    uint8
	Smclas   uint8
	Stab     uint32
	Snstab   uint16
}

// Flag bits of the file header.
const xcoffFlagShrobj = 0x2000

type xcoffFormat struct{}

func (xcoffFormat) Name() string { return "xcoff" }

func (xcoffFormat) Match(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	m := binary.BigEndian.Uint16(buf)
	return m == xcoffMagic32 || m == xcoffMagic64
}

func (f xcoffFormat) Decode(buf []byte, name string) (*obj.Info, error) {
	var fh xcoffFileHeader
	if _, err := unpackAt(buf, &fh, 0); err != nil {
		return nil, err
	}
	switch fh.Magic {
	case xcoffMagic32:
	case xcoffMagic64:
		return nil, formatErr("xcoff: 64-bit XCOFF is not supported")
	default:
		return nil, formatErr("xcoff: bad magic 0x%04x", fh.Magic)
	}

	kind := obj.KindExecutable
	if fh.Flags&xcoffFlagShrobj != 0 {
		kind = obj.KindSharedLibrary
	}
	info := obj.New(f.Name(), name, kind)

	if fh.Opthdr >= xcoffAuxEntryOffset+4 {
		aux, err := span(buf, xcoffFileHeaderSize, uint64(fh.Opthdr), "xcoff: auxiliary header")
		if err != nil {
			return nil, err
		}
		entry := uint64(binary.BigEndian.Uint32(aux[xcoffAuxEntryOffset:]))
		info.Entry = &entry
	}

	shoff := uint64(xcoffFileHeaderSize) + uint64(fh.Opthdr)
	if _, err := span(buf, shoff, uint64(fh.Nscns)*xcoffSectionHeaderSize, "xcoff: section table"); err != nil {
		return nil, err
	}
	var except *obj.Section
	for i := uint64(0); i < uint64(fh.Nscns); i++ {
		var sh xcoffSectionHeader
		if _, err := unpackAt(buf, &sh, shoff+i*xcoffSectionHeaderSize); err != nil {
			return nil, err
		}
		styp := uint16(sh.Flags)
		k, ok := xcoffKinds[styp]
		if !ok {
			return nil, &UnsupportedSectionKindError{Format: f.Name(), Index: int(i), Tag: sh.Flags}
		}
		secName := string(bytes.TrimRight(sh.Name[:], "\x00"))
		if secName == "" {
			return nil, formatErr("xcoff: section %d has no name", i)
		}
		sec := &obj.Section{
			Name:           secName,
			Kind:           k,
			Address:        uint64(sh.Vaddr),
			VirtualAddress: uint64(sh.Vaddr),
			Size:           uint64(sh.Size),
			FileOffset:     uint64(sh.Scnptr),
			AddressKnown:   true,
			RawKind:        sh.Flags,
		}
		if k != obj.SectionUninitialized && styp != stypOVRFLO && sh.Size > 0 {
			data, err := span(buf, uint64(sh.Scnptr), uint64(sh.Size), "xcoff: section "+secName)
			if err != nil {
				return nil, err
			}
			sec.Data = data
		}
		if _, err := info.AddSection(sec); err != nil {
			return nil, err
		}
		if styp == stypEXCEPT && except == nil {
			except = sec
		}
	}

	if fh.Symptr == 0 || fh.Nsyms <= 0 {
		return info, nil
	}
	st, err := readXCOFFSymtab(buf, uint64(fh.Symptr), uint64(fh.Nsyms))
	if err != nil {
		return nil, err
	}
	var known knownSet
	st.functions(info, &known)
	if except != nil {
		if err := st.exceptions(info, except.Data, &known); err != nil {
			return nil, err
		}
	}
	info.KnownFunctions = known.sorted()
	return info, nil
}

// xcoffSym is a primary symbol table entry plus its csect auxiliary entry.
type xcoffSym struct {
	name   string
	value  uint32
	scnum  int16
	sclass uint8
	csect  *xcoffCsectAux
}

// xcoffSymtab is indexed by raw symbol table index; aux slots are nil.
type xcoffSymtab []*xcoffSym

func readXCOFFSymtab(buf []byte, symptr, nsyms uint64) (xcoffSymtab, error) {
	raw, err := span(buf, symptr, nsyms*xcoffSymbolSize, "xcoff: symbol table")
	if err != nil {
		return nil, err
	}
	strtab := xcoffStringTable(buf, symptr+nsyms*xcoffSymbolSize)

	st := make(xcoffSymtab, nsyms)
	for i := uint64(0); i < nsyms; i++ {
		var s xcoffSymbol
		if _, err := unpackAt(raw, &s, i*xcoffSymbolSize); err != nil {
			return nil, err
		}
		name, err := xcoffSymbolName(s.Name, strtab)
		if err != nil {
			return nil, err
		}
		sym := &xcoffSym{name: name, value: s.Value, scnum: s.Scnum, sclass: s.Sclass}
		if s.Numaux > 0 {
			last := i + uint64(s.Numaux)
			if last >= nsyms {
				return nil, formatErr("xcoff: symbol %d aux entries run past table", i)
			}
			var aux xcoffCsectAux
			if _, err := unpackAt(raw, &aux, last*xcoffSymbolSize); err != nil {
				return nil, err
			}
			sym.csect = &aux
		}
		st[i] = sym
		i += uint64(s.Numaux)
	}
	return st, nil
}

// xcoffStringTable returns the string table following the symbols, or nil
// when there is none. Offsets into it count the 4-byte length prefix.
func xcoffStringTable(buf []byte, off uint64) []byte {
	if off+4 > uint64(len(buf)) {
		return nil
	}
	n := uint64(binary.BigEndian.Uint32(buf[off:]))
	if n < 4 || n > uint64(len(buf))-off {
		return nil
	}
	return buf[off : off+n]
}

func xcoffSymbolName(raw [8]byte, strtab []byte) (string, error) {
	if binary.BigEndian.Uint32(raw[:4]) != 0 {
		return string(bytes.TrimRight(raw[:], "\x00")), nil
	}
	off := binary.BigEndian.Uint32(raw[4:])
	if off == 0 {
		return "", nil
	}
	if off < 4 || uint64(off) >= uint64(len(strtab)) {
		return "", formatErr("xcoff: symbol name offset 0x%x outside string table", off)
	}
	s, ok := binfmt.CString(strtab, int(off))
	if !ok {
		return "", formatErr("xcoff: symbol name at 0x%x is not terminated", off)
	}
	return s, nil
}

// resolve maps a symbol to a Code section address.
func (s *xcoffSym) resolve(info *obj.Info) (obj.SectionAddress, bool) {
	if s.scnum <= 0 {
		return obj.SectionAddress{}, false
	}
	sec := info.Section(obj.SectionIndex(s.scnum - 1))
	if sec == nil || sec.Kind != obj.SectionCode || !sec.Contains(uint64(s.value)) {
		return obj.SectionAddress{}, false
	}
	return obj.SectionAddress{Section: sec.Index, Offset: uint64(s.value) - sec.Address}, true
}

func (s *xcoffSym) isFunctionLabel() bool {
	switch s.sclass {
	case cEXT, cHIDEXT, cWEAKEXT:
	default:
		return false
	}
	return s.csect != nil && s.csect.Smtyp&0x7 == xtyLD && s.csect.Smclas == xmcPR
}

func (st xcoffSymtab) functions(info *obj.Info, known *knownSet) {
	for _, s := range st {
		if s == nil || !s.isFunctionLabel() {
			continue
		}
		if sa, ok := s.resolve(info); ok {
			known.add(obj.KnownFunction{Addr: sa, Name: s.name, Source: "xcoff-symtab"})
		}
	}
}

// exceptions walks the exception section. An entry with reason 0 names the
// function, by symbol index, whose trap entries follow.
func (st xcoffSymtab) exceptions(info *obj.Info, data []byte, known *knownSet) error {
	if len(data)%xcoffExceptEntrySize != 0 {
		return formatErr("xcoff: exception section size 0x%x is not a multiple of %d", len(data), xcoffExceptEntrySize)
	}
	r := binfmt.NewStream(data)
	for r.Remaining() > 0 {
		v, _ := r.ReadUint32()
		_, _ = r.ReadByte() // language
		reason, _ := r.ReadByte()
		if reason != 0 {
			continue
		}
		if uint64(v) >= uint64(len(st)) || st[v] == nil {
			return formatErr("xcoff: exception entry names symbol %d outside symbol table", v)
		}
		s := st[v]
		if sa, ok := s.resolve(info); ok {
			known.add(obj.KnownFunction{Addr: sa, Name: s.name, Source: "xcoff-except"})
		}
	}
	return nil
}
