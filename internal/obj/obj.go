// Package obj is the canonical in-memory representation of a decoded
// executable: sections, symbols, entry point and the ground-truth function
// list. Container decoders populate sections; the function detector
// populates symbols.
package obj

import (
	"errors"
	"fmt"
)

var (
	ErrSectionOverlap    = errors.New("obj: section overlaps another in file offset")
	ErrSymbolOutOfBounds = errors.New("obj: symbol outside its section")
	ErrDuplicateSymbol   = errors.New("obj: symbol already defined at address")
	ErrNoSection         = errors.New("obj: no such section")
)

// Arch identifies the machine architecture.
type Arch string

const ArchPowerPC Arch = "powerpc"

// Kind identifies what sort of image the container holds.
type Kind string

const (
	KindExecutable    Kind = "executable"
	KindSharedLibrary Kind = "shared-library"
	KindObject        Kind = "object"
)

// SectionKind classifies section content.
type SectionKind int

const (
	SectionCode SectionKind = iota
	SectionData
	SectionReadOnlyData
	SectionUninitialized
)

func (k SectionKind) String() string {
	switch k {
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionReadOnlyData:
		return "rodata"
	case SectionUninitialized:
		return "bss"
	default:
		return fmt.Sprintf("SectionKind(%d)", int(k))
	}
}

func (k SectionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// SectionIndex is a dense, zero-based index into Info.Sections. It is
// stable once assigned.
type SectionIndex int

// Section is one contiguous region of the image.
//
// Address and VirtualAddress are kept apart even though they coincide for
// most legacy formats; FileOffset locates Data in the input buffer.
type Section struct {
	Name           string       `json:"name"`
	Kind           SectionKind  `json:"kind"`
	Index          SectionIndex `json:"index"`
	Address        uint64       `json:"address"`
	VirtualAddress uint64       `json:"virtual_address"`
	Size           uint64       `json:"size"`
	FileOffset     uint64       `json:"file_offset"`
	AddressKnown   bool         `json:"address_known"`
	RawKind        uint32       `json:"raw_kind"`
	Packed         bool         `json:"packed,omitempty"`
	Data           []byte       `json:"-"`
}

// End returns one past the last address of the section.
func (s *Section) End() uint64 { return s.Address + s.Size }

// Contains reports whether addr falls within [Address, Address+Size).
func (s *Section) Contains(addr uint64) bool {
	return addr >= s.Address && addr < s.End()
}

// KnownFunction is an authoritative function start supplied by the container
// itself (export table, symbol table, exception table) or by the caller.
type KnownFunction struct {
	Addr      SectionAddress `json:"addr"`
	Name      string         `json:"name,omitempty"`
	Size      uint64         `json:"size,omitempty"`
	SizeKnown bool           `json:"size_known,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// End returns the end offset of a sized ground-truth entry.
func (k KnownFunction) End() (uint64, bool) {
	if !k.SizeKnown {
		return 0, false
	}
	return k.Addr.Offset + k.Size, true
}

// Info is the decoded object. It owns all sections and symbols.
type Info struct {
	Arch           Arch            `json:"arch"`
	Kind           Kind            `json:"kind"`
	Format         string          `json:"format"`
	Name           string          `json:"name"`
	Entry          *uint64         `json:"entry,omitempty"`
	Sections       []*Section      `json:"sections"`
	Symbols        SymbolTable     `json:"symbols"`
	KnownFunctions []KnownFunction `json:"known_functions,omitempty"`
}

// New creates an empty object of the given format.
func New(format, name string, kind Kind) *Info {
	return &Info{
		Arch:   ArchPowerPC,
		Kind:   kind,
		Format: format,
		Name:   name,
	}
}

// AddSection appends s, assigning its index. Sections carrying file bytes
// must not overlap any earlier section in file offset.
func (o *Info) AddSection(s *Section) (SectionIndex, error) {
	if n := uint64(len(s.Data)); n > 0 {
		for _, prev := range o.Sections {
			pn := uint64(len(prev.Data))
			if pn == 0 {
				continue
			}
			if s.FileOffset < prev.FileOffset+pn && prev.FileOffset < s.FileOffset+n {
				return 0, fmt.Errorf("%w: %s [0x%x,0x%x) and %s [0x%x,0x%x)", ErrSectionOverlap,
					s.Name, s.FileOffset, s.FileOffset+n,
					prev.Name, prev.FileOffset, prev.FileOffset+pn)
			}
		}
	}
	s.Index = SectionIndex(len(o.Sections))
	o.Sections = append(o.Sections, s)
	return s.Index, nil
}

// Section returns the section at idx, or nil if out of range.
func (o *Info) Section(idx SectionIndex) *Section {
	if idx < 0 || int(idx) >= len(o.Sections) {
		return nil
	}
	return o.Sections[idx]
}

// SectionByName returns the first section with the given name.
func (o *Info) SectionByName(name string) *Section {
	for _, s := range o.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Resolve maps an absolute address to a section-relative one. When sections
// overlap in address space the first matching section wins, so prefer
// carrying SectionAddress values around instead of absolute addresses.
func (o *Info) Resolve(addr uint64) (SectionAddress, bool) {
	for _, s := range o.Sections {
		if s.Contains(addr) {
			return SectionAddress{Section: s.Index, Offset: addr - s.Address}, true
		}
	}
	return SectionAddress{}, false
}

// Absolute converts a section-relative address to an absolute one.
func (o *Info) Absolute(sa SectionAddress) (uint64, error) {
	s := o.Section(sa.Section)
	if s == nil {
		return 0, fmt.Errorf("%w: %d", ErrNoSection, sa.Section)
	}
	return s.Address + sa.Offset, nil
}

// CodeSections returns the sections whose content kind is Code, in index order.
func (o *Info) CodeSections() []*Section {
	var out []*Section
	for _, s := range o.Sections {
		if s.Kind == SectionCode {
			out = append(out, s)
		}
	}
	return out
}

// AddSymbol validates sym against its section and inserts it into the
// symbol table.
func (o *Info) AddSymbol(sym Symbol) error {
	if sym.Section != nil {
		s := o.Section(*sym.Section)
		if s == nil {
			return fmt.Errorf("%w: %d", ErrNoSection, *sym.Section)
		}
		if !s.Contains(sym.Address) || sym.Address+sym.Size > s.End() {
			return fmt.Errorf("%w: %s at 0x%x+0x%x not in %s [0x%x,0x%x)", ErrSymbolOutOfBounds,
				sym.Name, sym.Address, sym.Size, s.Name, s.Address, s.End())
		}
	}
	return o.Symbols.insert(sym)
}
