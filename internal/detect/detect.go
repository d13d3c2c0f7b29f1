// Package detect recovers function boundaries from traceback tables.
//
// Detection runs tail-first: every table found in a code section marks the
// end of a function, and the start is then corroborated from the preceding
// function, the code alignment or the ground-truth function list. Only
// confirmed functions are inserted into the symbol table.
package detect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"tbscan/internal/binfmt"
	"tbscan/internal/disasm"
	"tbscan/internal/obj"
	"tbscan/internal/tbtab"
)

// Options controls the scan.
type Options struct {
	SkipTailCheck bool   // accept tables without code and terminator before them
	FuncAlign     uint64 // code alignment used for corroboration; 0 = default
	MaxSteps      int    // words examined per section; 0 = default
}

const (
	DefaultFuncAlign = 16
	DefaultMaxSteps  = 10_000_000
)

// DefaultOptions returns the options the CLI starts from.
func DefaultOptions() Options {
	return Options{FuncAlign: DefaultFuncAlign, MaxSteps: DefaultMaxSteps}
}

func (o Options) effectiveAlign() uint64 {
	if o.FuncAlign > 0 {
		return o.FuncAlign
	}
	return DefaultFuncAlign
}

func (o Options) effectiveMaxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return DefaultMaxSteps
}

// Detect scans every code section of info, resolves function starts and
// inserts a function symbol for each confirmed region and each unclaimed
// ground-truth entry. Diagnostics go to diags (which may be nil) and are
// mirrored into the report.
func Detect(info *obj.Info, known []obj.KnownFunction, opts Options, diags *binfmt.Diags) *Report {
	d := &detector{
		info:    info,
		opts:    opts,
		rep:     &Report{},
		diags:   &binfmt.Diags{},
		claimed: make(map[obj.SectionAddress]bool),
	}
	gt := groupKnown(known)

	for _, s := range info.CodeSections() {
		if len(s.Data) == 0 {
			continue
		}
		if s.Packed {
			d.diags.Addf(s.Address, binfmt.DiagInvalid, "%s: packed section not scanned", s.Name)
			continue
		}
		d.rep.Sections++
		m := d.scan(s, gt[s.Index])
		d.resolve(s, m.regs, gt[s.Index])
	}
	d.emit(gt)

	d.rep.Diags = d.diags.Items()
	for _, it := range d.rep.Diags {
		diags.Add(it.Offset, it.Kind, it.Msg)
	}
	return d.rep
}

type detector struct {
	info    *obj.Info
	opts    Options
	rep     *Report
	diags   *binfmt.Diags
	claimed map[obj.SectionAddress]bool
}

// groupKnown splits ground truth per section, sorted by offset, first
// entry per address winning.
func groupKnown(known []obj.KnownFunction) map[obj.SectionIndex][]obj.KnownFunction {
	out := make(map[obj.SectionIndex][]obj.KnownFunction)
	for _, k := range known {
		out[k.Addr.Section] = append(out[k.Addr.Section], k)
	}
	for idx, list := range out {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Addr.Offset < list[j].Addr.Offset })
		dedup := list[:0]
		for i, k := range list {
			if i > 0 && k.Addr.Offset == dedup[len(dedup)-1].Addr.Offset {
				continue
			}
			dedup = append(dedup, k)
		}
		out[idx] = dedup
	}
	return out
}

// regionMap keeps regions ordered by table offset within one section.
type regionMap struct {
	regs []*Region
}

func (m *regionMap) search(off uint64) int {
	return sort.Search(len(m.regs), func(i int) bool { return m.regs[i].End >= off })
}

func (m *regionMap) get(off uint64) *Region {
	if i := m.search(off); i < len(m.regs) && m.regs[i].End == off {
		return m.regs[i]
	}
	return nil
}

// conflict returns a region whose table intersects [off, end).
func (m *regionMap) conflict(off, end uint64) *Region {
	i := m.search(off)
	if i > 0 && m.regs[i-1].TableEnd() > off {
		return m.regs[i-1]
	}
	if i < len(m.regs) && m.regs[i].End < end {
		return m.regs[i]
	}
	return nil
}

func (m *regionMap) insert(r *Region) {
	i := m.search(r.End)
	m.regs = append(m.regs, nil)
	copy(m.regs[i+1:], m.regs[i:])
	m.regs[i] = r
}

func word(data []byte, off uint64) uint32 {
	return binary.BigEndian.Uint32(data[off:])
}

// skipPadding advances off past zero words.
func skipPadding(data []byte, off uint64) uint64 {
	for off+4 <= uint64(len(data)) && word(data, off) == 0 {
		off += 4
	}
	return off
}

func (d *detector) abs(s *obj.Section, off uint64) uint64 { return s.Address + off }

func (d *detector) discard(s *obj.Section, off uint64, kind DiscardKind, format string, args ...any) {
	reason := fmt.Sprintf(format, args...)
	d.rep.Discards = append(d.rep.Discards, Discard{
		Addr:   obj.SectionAddress{Section: s.Index, Offset: off},
		Kind:   kind,
		Reason: reason,
	})
	switch kind {
	case DiscardDuplicate:
		d.diags.Add(d.abs(s, off), binfmt.DiagDuplicate, reason)
	case DiscardOverlap:
		d.diags.Add(d.abs(s, off), binfmt.DiagOverlap, reason)
	}
}

func (d *detector) newRegion(s *obj.Section, tb *tbtab.Table, probed bool) *Region {
	lang, ok := tb.Language()
	if !ok {
		d.diags.Addf(d.abs(s, uint64(tb.Offset)), binfmt.DiagUnknownLanguage,
			"traceback table language code %d", tb.LangCode)
	}
	return &Region{
		Section:  s.Index,
		End:      uint64(tb.Offset),
		State:    StateProbing,
		Name:     tb.FuncName(),
		Language: lang.String(),
		Table:    tb,
		Probed:   probed,
	}
}

// scan finds the traceback tables of one section. Sized ground-truth
// entries are probed first since they predict where their table sits; the
// linear scan then walks the section word by word, resuming after each
// accepted table.
func (d *detector) scan(s *obj.Section, known []obj.KnownFunction) *regionMap {
	data := s.Data
	size := uint64(len(data))
	m := &regionMap{}

	for _, k := range known {
		end, ok := k.End()
		if !ok || end%4 != 0 || end+4 > size {
			continue
		}
		tb, ok := tbtab.TryDecode(data, int(end))
		if !ok {
			continue
		}
		if c := m.conflict(end, uint64(tb.End())); c != nil {
			d.discard(s, end, DiscardOverlap, "table overlaps the table at 0x%x", c.End)
			continue
		}
		m.insert(d.newRegion(s, tb, true))
	}

	limit := d.opts.effectiveMaxSteps()
	steps := 0
	for off := uint64(0); off+4 <= size; {
		if steps >= limit {
			d.diags.Addf(d.abs(s, off), binfmt.DiagTruncated, "%s: scan stopped after %d words", s.Name, limit)
			break
		}
		steps++
		if word(data, off) != 0 {
			off += 4
			continue
		}
		if r := m.get(off); r != nil {
			if _, ok := tbtab.TryDecode(data, int(off)); ok {
				d.discard(s, off, DiscardDuplicate, "table at 0x%x already decoded", off)
			}
			off = skipPadding(data, r.TableEnd())
			continue
		}
		tb, err := tbtab.Decode(data, int(off))
		if err != nil {
			if errors.Is(err, tbtab.ErrTruncated) {
				d.diags.Add(d.abs(s, off), binfmt.DiagTruncated, err.Error())
			}
			off += 4
			continue
		}
		unterminated := false
		if !d.opts.SkipTailCheck {
			if off < 4 || word(data, off-4) == 0 {
				d.discard(s, off, DiscardTail, "no code before table")
				off = skipPadding(data, off)
				continue
			}
			// A call to a routine that does not return can end a function.
			unterminated = !disasm.IsTerminator(word(data, off-4))
		}
		if c := m.conflict(off, uint64(tb.End())); c != nil {
			d.discard(s, off, DiscardOverlap, "table overlaps the table at 0x%x", c.End)
			off += 4
			continue
		}
		r := d.newRegion(s, tb, false)
		r.Unterminated = unterminated
		m.insert(r)
		off = skipPadding(data, r.TableEnd())
	}
	return m
}

// funcSizeStart is the start implied by the table's function-size field.
func funcSizeStart(r *Region) (uint64, bool) {
	if r.Table.FuncSize == nil {
		return 0, false
	}
	n := uint64(*r.Table.FuncSize)
	if n == 0 || n > r.End {
		return 0, false
	}
	return r.End - n, true
}

func startDecodes(data []byte, off uint64) bool {
	if off+4 > uint64(len(data)) {
		return false
	}
	_, ok := disasm.Decode(data[off : off+4])
	return ok
}

// predictedBy returns the sized ground-truth entry that ends at the table
// offset end and starts at or after floor.
func predictedBy(known []obj.KnownFunction, end, floor uint64) *obj.KnownFunction {
	for i := range known {
		if e, ok := known[i].End(); ok && e == end && known[i].Addr.Offset >= floor {
			return &known[i]
		}
	}
	return nil
}

// resolve fixes the start of each region in address order.
func (d *detector) resolve(s *obj.Section, regs []*Region, known []obj.KnownFunction) {
	align := d.opts.effectiveAlign()
	var prev *Region
	lower := uint64(0)
	floor := uint64(0) // end of the last confirmed table
	ki := 0

	for _, r := range regs {
		end := r.End

		var gt *obj.KnownFunction
		for ki < len(known) && known[ki].Addr.Offset < end {
			if known[ki].Addr.Offset >= lower {
				gt = &known[ki]
			}
			ki++
		}
		if r.Probed {
			if k := predictedBy(known, end, floor); k != nil {
				gt = k
			}
		}

		bounded := false
		if gt != nil {
			if gtEnd, ok := gt.End(); ok && gtEnd != end && gtEnd > gt.Addr.Offset {
				if gtEnd > end {
					d.discard(s, end, DiscardGroundTruthConflict,
						"ground truth %s at 0x%x ends at 0x%x", gt.Name, gt.Addr.Offset, gtEnd)
					lower, prev = r.TableEnd(), nil
					continue
				}
				// The entry is a whole function ahead of this one.
				lower, bounded, gt = gtEnd, true, nil
			}
		}

		if gt != nil {
			r.Start = gt.Addr.Offset
			r.State = StateConfirmed
			r.Evidence = EvidenceGroundTruth
			if r.Name == "" {
				r.Name = gt.Name
			}
			d.claimed[gt.Addr] = true
			if f, ok := funcSizeStart(r); ok {
				if f == r.Start {
					r.Evidence |= EvidenceFuncSize
				} else {
					d.diags.Addf(d.abs(s, end), binfmt.DiagAmbiguous,
						"function size puts start at 0x%x, ground truth at 0x%x", f, r.Start)
				}
			}
		} else {
			b := skipPadding(s.Data, lower)
			var ev Evidence
			if bounded || prev != nil && prev.State == StateConfirmed {
				ev |= EvidencePrevious
			}
			if (s.Address+b)%align == 0 {
				ev |= EvidenceAlignment
			}
			f, hasF := funcSizeStart(r)
			switch {
			case b >= end:
				r.Start, r.State = lower, StateTentative
			case ev != 0 && hasF && f != b:
				r.Start, r.State = b, StateTentative
				d.diags.Addf(d.abs(s, end), binfmt.DiagAmbiguous,
					"start 0x%x disagrees with function size (0x%x)", b, f)
			case ev != 0:
				r.Start, r.State, r.Evidence = b, StateConfirmed, ev
				if hasF {
					r.Evidence |= EvidenceFuncSize
				}
			case hasF:
				r.Start, r.State = f, StateTentative
			default:
				r.Start, r.State = b, StateTentative
			}
			if r.State == StateConfirmed && r.Unterminated {
				r.State = StateTentative
				d.diags.Addf(d.abs(s, end), binfmt.DiagAmbiguous, "no terminator before table at 0x%x", end)
			}
			if r.State == StateConfirmed && !startDecodes(s.Data, r.Start) {
				r.State = StateTentative
				d.diags.Addf(d.abs(s, r.Start), binfmt.DiagAmbiguous, "start 0x%x does not decode", r.Start)
			}
		}

		d.rep.Regions = append(d.rep.Regions, r)
		switch r.State {
		case StateConfirmed:
			d.rep.Confirmed++
			floor = r.TableEnd()
		case StateTentative:
			d.rep.Tentative++
		}
		lower, prev = r.TableEnd(), r
	}
}

// PlaceholderName is the synthesized name for an unnamed function.
func PlaceholderName(addr uint64) string {
	return fmt.Sprintf("sub_%x", addr)
}

func (d *detector) addSymbol(sym obj.Symbol) {
	if err := d.info.AddSymbol(sym); err != nil {
		kind := binfmt.DiagInvalid
		if errors.Is(err, obj.ErrDuplicateSymbol) {
			kind = binfmt.DiagDuplicate
		}
		d.diags.Add(sym.Address, kind, err.Error())
	}
}

// emit inserts confirmed regions and unclaimed ground truth into the
// symbol table.
func (d *detector) emit(gt map[obj.SectionIndex][]obj.KnownFunction) {
	for _, r := range d.rep.Regions {
		if r.State != StateConfirmed {
			continue
		}
		s := d.info.Section(r.Section)
		sym := obj.Symbol{
			Name:      r.Name,
			Address:   d.abs(s, r.Start),
			Section:   obj.InSection(r.Section),
			Size:      r.Size(),
			SizeKnown: true,
			Kind:      obj.SymbolFunction,
			Flags:     obj.FlagTraceback,
			Language:  r.Language,
		}
		if sym.Name == "" {
			sym.Name = PlaceholderName(sym.Address)
			sym.Flags |= obj.FlagAutoGenerated
		}
		if r.Evidence.Has(EvidenceGroundTruth) {
			sym.Flags |= obj.FlagGroundTruth
		}
		if r.Table.Flags1.GlobalLinkage() {
			sym.Flags |= obj.FlagGlobal
		}
		d.addSymbol(sym)
	}

	idxs := make([]obj.SectionIndex, 0, len(gt))
	for idx := range gt {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })

	for _, idx := range idxs {
		s := d.info.Section(idx)
		if s == nil {
			continue
		}
		list := gt[idx]
		for i, k := range list {
			if d.claimed[k.Addr] || k.Addr.Offset >= s.Size {
				continue
			}
			size, sized := k.Size, k.SizeKnown
			if !sized {
				next := s.Size
				if i+1 < len(list) {
					next = list[i+1].Addr.Offset
				}
				for _, r := range d.rep.Regions {
					if r.Section != idx {
						continue
					}
					if r.State == StateConfirmed && r.Start > k.Addr.Offset && r.Start < next {
						next = r.Start
					}
					if r.End > k.Addr.Offset && r.End < next {
						next = r.End
					}
				}
				size = next - k.Addr.Offset
			}
			sym := obj.Symbol{
				Name:      k.Name,
				Address:   d.abs(s, k.Addr.Offset),
				Section:   obj.InSection(idx),
				Size:      size,
				SizeKnown: sized,
				Kind:      obj.SymbolFunction,
				Flags:     obj.FlagGroundTruth,
			}
			if sym.Name == "" {
				sym.Name = PlaceholderName(sym.Address)
				sym.Flags |= obj.FlagAutoGenerated
			}
			d.addSymbol(sym)
			d.rep.GroundTruthOnly++
		}
	}
}
