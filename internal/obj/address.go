package obj

import "fmt"

// SectionAddress locates a byte as (section index, offset). It is the unit
// of location throughout detection: several sections may claim the same
// virtual range, so bare absolute addresses are ambiguous.
type SectionAddress struct {
	Section SectionIndex `json:"section"`
	Offset  uint64       `json:"offset"`
}

// Compare orders by section index, then offset. It returns -1, 0 or +1.
func (a SectionAddress) Compare(b SectionAddress) int {
	switch {
	case a.Section < b.Section:
		return -1
	case a.Section > b.Section:
		return 1
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	}
	return 0
}

func (a SectionAddress) Less(b SectionAddress) bool { return a.Compare(b) < 0 }

// Add returns a displaced by n bytes within the same section.
func (a SectionAddress) Add(n uint64) SectionAddress {
	return SectionAddress{Section: a.Section, Offset: a.Offset + n}
}

func (a SectionAddress) String() string {
	return fmt.Sprintf("%d:0x%x", a.Section, a.Offset)
}
