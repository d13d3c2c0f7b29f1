package detect

import (
	"fmt"

	"tbscan/internal/binfmt"
)

// Report is the outcome of one detection pass. Nothing in it is fatal.
type Report struct {
	Sections        int           `json:"sections"`
	Confirmed       int           `json:"confirmed"`
	Tentative       int           `json:"tentative"`
	GroundTruthOnly int           `json:"ground_truth_only"`
	Regions         []*Region     `json:"regions"`
	Discards        []Discard     `json:"discards"`
	Diags           []binfmt.Diag `json:"diags"`
}

// ByState returns the regions in the given state, in address order.
func (r *Report) ByState(s State) []*Region {
	var out []*Region
	for _, reg := range r.Regions {
		if reg.State == s {
			out = append(out, reg)
		}
	}
	return out
}

// DiscardCount returns how many discards of the given kind were recorded.
func (r *Report) DiscardCount(kind DiscardKind) int {
	n := 0
	for _, d := range r.Discards {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Report) String() string {
	return fmt.Sprintf("sections=%d confirmed=%d tentative=%d ground-truth-only=%d discarded=%d diags=%d",
		r.Sections, r.Confirmed, r.Tentative, r.GroundTruthOnly, len(r.Discards), len(r.Diags))
}
