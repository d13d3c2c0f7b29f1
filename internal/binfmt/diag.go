// Package binfmt provides shared diagnostics and a bounds-checked big-endian
// reader for legacy PowerPC container and traceback parsing.
package binfmt

import "fmt"

// DiagKind classifies a diagnostic message.
type DiagKind string

const (
	DiagTruncated       DiagKind = "truncated"
	DiagInvalid         DiagKind = "invalid"
	DiagUnknownLanguage DiagKind = "unknown_language"
	DiagAmbiguous       DiagKind = "ambiguous"
	DiagDuplicate       DiagKind = "duplicate"
	DiagOverlap         DiagKind = "overlap"
)

// Diag records a non-fatal issue encountered during detection.
type Diag struct {
	Offset uint64   `json:"offset"`
	Kind   DiagKind `json:"kind"`
	Msg    string   `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Offset, d.Msg)
}

// Diags accumulates diagnostics. A nil *Diags discards everything, so
// callers that don't care can pass nil.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(offset uint64, kind DiagKind, msg string) {
	if d == nil {
		return
	}
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(offset uint64, kind DiagKind, format string, args ...any) {
	if d == nil {
		return
	}
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

func (d *Diags) Items() []Diag {
	if d == nil {
		return nil
	}
	return d.items
}

func (d *Diags) Len() int {
	if d == nil {
		return 0
	}
	return len(d.items)
}

// Count returns how many diagnostics of the given kind were recorded.
func (d *Diags) Count(kind DiagKind) int {
	n := 0
	for _, it := range d.Items() {
		if it.Kind == kind {
			n++
		}
	}
	return n
}
