package detect

import (
	"strings"

	"tbscan/internal/obj"
	"tbscan/internal/tbtab"
)

// State is the resolution state of a discovered region.
type State int

const (
	StateUnknown State = iota
	StateProbing
	StateTentative // end known, start unresolved
	StateConfirmed // both ends known
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateTentative:
		return "tentative"
	case StateConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Evidence is the set of facts that corroborate a region's start.
type Evidence uint8

const (
	EvidenceGroundTruth Evidence = 1 << iota // authoritative function list
	EvidencePrevious                         // end of the preceding confirmed function
	EvidenceAlignment                        // code-alignment boundary
	EvidenceFuncSize                         // traceback function-size field agrees
)

func (e Evidence) Has(x Evidence) bool { return e&x != 0 }

func (e Evidence) String() string {
	var parts []string
	for _, n := range []struct {
		ev   Evidence
		name string
	}{
		{EvidenceGroundTruth, "ground-truth"},
		{EvidencePrevious, "previous"},
		{EvidenceAlignment, "alignment"},
		{EvidenceFuncSize, "func-size"},
	} {
		if e.Has(n.ev) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

func (e Evidence) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// Region is one function discovered from its traceback table. Start and
// End are section offsets; End is the offset of the table itself.
type Region struct {
	Section      obj.SectionIndex `json:"section"`
	Start        uint64           `json:"start"`
	End          uint64           `json:"end"`
	State        State            `json:"state"`
	Evidence     Evidence         `json:"evidence"`
	Name         string           `json:"name,omitempty"`
	Language     string           `json:"language,omitempty"`
	Probed       bool             `json:"probed,omitempty"`       // located from a sized ground-truth entry
	Unterminated bool             `json:"unterminated,omitempty"` // code before the table is not a terminator
	Table        *tbtab.Table     `json:"-"`
}

// Key is the region's position in the ordered region map.
func (r *Region) Key() obj.SectionAddress {
	return obj.SectionAddress{Section: r.Section, Offset: r.End}
}

// TableEnd is the section offset just past the traceback table.
func (r *Region) TableEnd() uint64 { return r.End + uint64(r.Table.Size()) }

// Size is the code size of the function, excluding its table.
func (r *Region) Size() uint64 {
	if r.Start > r.End {
		return 0
	}
	return r.End - r.Start
}

// DiscardKind says why a decoded candidate was dropped.
type DiscardKind string

const (
	DiscardDuplicate           DiscardKind = "duplicate"
	DiscardOverlap             DiscardKind = "overlap"
	DiscardTail                DiscardKind = "tail"
	DiscardGroundTruthConflict DiscardKind = "ground-truth-conflict"
)

// Discard records a candidate table that was decoded and then dropped.
type Discard struct {
	Addr   obj.SectionAddress `json:"addr"`
	Kind   DiscardKind        `json:"kind"`
	Reason string             `json:"reason"`
}
