package container

import (
	"bytes"

	"tbscan/internal/binfmt"
	"tbscan/internal/obj"
)

// PEF (Preferred Executable Format) layout, all big-endian:
//
//	container header  40 bytes
//	section headers   28 bytes each
//	section name table
//	section contents at containerOffset
//
// The loader section holds the main entry point and the export tables.
const (
	pefHeaderSize        = 40
	pefSectionHeaderSize = 28
	pefLoaderHeaderSize  = 56
	pefExportedSymSize   = 10

	pefSymbolClassCode = 0
)

var (
	pefTag1 = []byte("Joy!")
	pefTag2 = []byte("peff")
	pefArch = []byte("pwpc")
)

// PEF section kinds.
const (
	pefKindCode          = 0
	pefKindUnpackedData  = 1
	pefKindPatternData   = 2
	pefKindConstant      = 3
	pefKindLoader        = 4
	pefKindDebug         = 5
	pefKindExecutable    = 6
	pefKindException     = 7
	pefKindTraceback     = 8
	pefSectionNameAbsent = -1
)

type pefKindInfo struct {
	kind   obj.SectionKind
	name   string
	packed bool
}

var pefKinds = map[uint8]pefKindInfo{
	pefKindCode:         {obj.SectionCode, ".text", false},
	pefKindUnpackedData: {obj.SectionData, ".data", false},
	pefKindPatternData:  {obj.SectionData, ".pdata", true},
	pefKindConstant:     {obj.SectionReadOnlyData, ".rodata", false},
	pefKindLoader:       {obj.SectionReadOnlyData, ".loader", false},
	pefKindDebug:        {obj.SectionReadOnlyData, ".debug", false},
	pefKindExecutable:   {obj.SectionCode, ".xdata", false},
	pefKindException:    {obj.SectionReadOnlyData, ".exception", false},
	pefKindTraceback:    {obj.SectionReadOnlyData, ".traceback", false},
}

type pefContainerHeader struct {
	Tag1             [4]byte
	Tag2             [4]byte
	Architecture     [4]byte
	FormatVersion    uint32
	DateTimeStamp    uint32
	OldDefVersion    uint32
	OldImpVersion    uint32
	CurrentVersion   uint32
	SectionCount     uint16
	InstSectionCount uint16
	ReservedA        uint32
}

type pefSectionHeader struct {
	NameOffset      int32
	DefaultAddress  uint32
	TotalLength     uint32
	UnpackedLength  uint32
	ContainerLength uint32
	ContainerOffset uint32
	SectionKind     uint8
	ShareKind       uint8
	Alignment       uint8
	ReservedA       uint8
}

type pefLoaderHeader struct {
	MainSection              int32
	MainOffset               uint32
	InitSection              int32
	InitOffset               uint32
	TermSection              int32
	TermOffset               uint32
	ImportedLibraryCount     uint32
	TotalImportedSymbolCount uint32
	RelocSectionCount        uint32
	RelocInstrOffset         uint32
	LoaderStringsOffset      uint32
	ExportHashOffset         uint32
	ExportHashTablePower     uint32
	ExportedSymbolCount      uint32
}

type pefExportedSymbol struct {
	ClassAndName uint32
	SymbolValue  uint32
	SectionIndex int16
}

func (s pefExportedSymbol) class() uint8       { return uint8(s.ClassAndName>>24) & 0x0f }
func (s pefExportedSymbol) nameOffset() uint32 { return s.ClassAndName & 0x00ffffff }

type pefFormat struct{}

func (pefFormat) Name() string { return "pef" }

func (pefFormat) Match(buf []byte) bool {
	return len(buf) >= 8 && bytes.Equal(buf[0:4], pefTag1) && bytes.Equal(buf[4:8], pefTag2)
}

func (f pefFormat) Decode(buf []byte, name string) (*obj.Info, error) {
	var hdr pefContainerHeader
	if _, err := unpackAt(buf, &hdr, 0); err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr.Tag1[:], pefTag1) || !bytes.Equal(hdr.Tag2[:], pefTag2) {
		return nil, formatErr("pef: bad signature")
	}
	if !bytes.Equal(hdr.Architecture[:], pefArch) {
		return nil, formatErr("pef: unsupported architecture %q", hdr.Architecture[:])
	}
	if hdr.FormatVersion != 1 {
		return nil, formatErr("pef: unsupported format version %d", hdr.FormatVersion)
	}

	count := uint64(hdr.SectionCount)
	nameTable := pefHeaderSize + count*pefSectionHeaderSize
	if nameTable > uint64(len(buf)) {
		return nil, formatErr("pef: %d section headers run past end of file", count)
	}

	info := obj.New(f.Name(), name, obj.KindExecutable)
	var loader *obj.Section
	for i := uint64(0); i < count; i++ {
		var sh pefSectionHeader
		if _, err := unpackAt(buf, &sh, pefHeaderSize+i*pefSectionHeaderSize); err != nil {
			return nil, err
		}
		ki, ok := pefKinds[sh.SectionKind]
		if !ok {
			return nil, &UnsupportedSectionKindError{Format: f.Name(), Index: int(i), Tag: uint32(sh.SectionKind)}
		}
		secName := ki.name
		if sh.NameOffset != pefSectionNameAbsent {
			n, err := pefSectionName(buf, nameTable, sh.NameOffset)
			if err != nil {
				return nil, err
			}
			secName = n
		}
		data, err := span(buf, uint64(sh.ContainerOffset), uint64(sh.ContainerLength), "pef: section "+secName)
		if err != nil {
			return nil, err
		}
		sec := &obj.Section{
			Name:           secName,
			Kind:           ki.kind,
			Address:        uint64(sh.DefaultAddress),
			VirtualAddress: uint64(sh.DefaultAddress),
			Size:           uint64(sh.TotalLength),
			FileOffset:     uint64(sh.ContainerOffset),
			AddressKnown:   sh.DefaultAddress != 0,
			RawKind:        uint32(sh.SectionKind),
			Packed:         ki.packed,
			Data:           data,
		}
		if _, err := info.AddSection(sec); err != nil {
			return nil, err
		}
		if sh.SectionKind == pefKindLoader && loader == nil {
			loader = sec
		}
	}

	if loader != nil {
		if err := decodePEFLoader(info, loader.Data); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// pefSectionName reads a NUL-terminated name from the section name table.
func pefSectionName(buf []byte, table uint64, off int32) (string, error) {
	if off < 0 || table+uint64(off) >= uint64(len(buf)) {
		return "", formatErr("pef: section name offset %d outside name table", off)
	}
	s, ok := binfmt.CString(buf, int(table)+int(off))
	if !ok || s == "" {
		return "", formatErr("pef: section name at offset %d is not terminated", off)
	}
	return s, nil
}

// decodePEFLoader reads the main entry point and exported code symbols
// from the loader section.
func decodePEFLoader(info *obj.Info, data []byte) error {
	var lh pefLoaderHeader
	if _, err := unpackAt(data, &lh, 0); err != nil {
		return err
	}

	if lh.MainSection >= 0 {
		sec := info.Section(obj.SectionIndex(lh.MainSection))
		if sec == nil {
			return formatErr("pef: loader main section %d does not exist", lh.MainSection)
		}
		entry := sec.Address + uint64(lh.MainOffset)
		info.Entry = &entry
	} else if lh.ExportedSymbolCount > 0 {
		info.Kind = obj.KindSharedLibrary
	}

	n := uint64(lh.ExportedSymbolCount)
	if n == 0 {
		return nil
	}
	// Hash table, then one key per export, then the exported symbols.
	if lh.ExportHashTablePower > 16 {
		return formatErr("pef: export hash table power %d too large", lh.ExportHashTablePower)
	}
	keys := uint64(lh.ExportHashOffset) + 4<<uint64(lh.ExportHashTablePower)
	syms := keys + 4*n
	if _, err := span(data, keys, 4*n+pefExportedSymSize*n, "pef: export tables"); err != nil {
		return err
	}
	strs := uint64(lh.LoaderStringsOffset)
	if strs > uint64(len(data)) {
		return formatErr("pef: loader strings offset 0x%x outside loader section", strs)
	}

	var known knownSet
	ks := binfmt.NewStreamAt(data, int(keys))
	for i := uint64(0); i < n; i++ {
		key, err := ks.ReadUint32()
		if err != nil {
			return formatErr("pef: export key %d: %v", i, err)
		}
		var es pefExportedSymbol
		if _, err := unpackAt(data, &es, syms+i*pefExportedSymSize); err != nil {
			return err
		}
		nameLen := uint64(key >> 16)
		nb, err := span(data, strs+uint64(es.nameOffset()), nameLen, "pef: export name")
		if err != nil {
			return err
		}
		if es.class() != pefSymbolClassCode || es.SectionIndex < 0 {
			continue
		}
		sec := info.Section(obj.SectionIndex(es.SectionIndex))
		if sec == nil || sec.Kind != obj.SectionCode || uint64(es.SymbolValue) >= sec.Size {
			continue
		}
		known.add(obj.KnownFunction{
			Addr:   obj.SectionAddress{Section: sec.Index, Offset: uint64(es.SymbolValue)},
			Name:   string(nb),
			Source: "pef-export",
		})
	}
	info.KnownFunctions = known.sorted()
	return nil
}
