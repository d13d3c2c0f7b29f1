package disasm

import "golang.org/x/arch/ppc64/ppc64asm"

const (
	regTOC  = 2  // r2 = table of contents pointer
	sprCTR  = 9  // SPR number of the count register
	slotCTR = 32 // tracker slot for CTR, after r0..r31
)

// CallEdge represents a call site extracted from disassembly.
type CallEdge struct {
	FromPC     uint64 `json:"from_pc"`
	Kind       string `json:"kind"`                // "bl", "bctrl" or "blrl"
	TargetPC   uint64 `json:"target_pc,omitempty"` // resolved VA for bl
	TargetName string `json:"target_name,omitempty"`
	Reg        string `json:"reg,omitempty"` // "ctr" or "lr" for indirect calls
	Via        string `json:"via,omitempty"` // provenance of CTR: "TOC+0x18", ""
}

// RegDef records the last definition of a register within the window.
type RegDef struct {
	Annotation string // e.g. "TOC+0x18"
	Age        int    // instructions since definition
}

// RegTracker tracks last-def provenance for r0..r31 and CTR.
// Definitions older than the window are expired.
type RegTracker struct {
	defs [slotCTR + 1]RegDef
	w    int
}

// NewRegTracker creates a tracker with the given window size.
func NewRegTracker(w int) *RegTracker {
	return &RegTracker{w: w}
}

// Reset clears all tracked definitions. Call between functions.
func (rt *RegTracker) Reset() {
	for i := range rt.defs {
		rt.defs[i] = RegDef{}
	}
}

// Tick ages all definitions by 1 and expires those beyond the window.
func (rt *RegTracker) Tick() {
	for i := range rt.defs {
		if rt.defs[i].Annotation != "" {
			rt.defs[i].Age++
			if rt.defs[i].Age > rt.w {
				rt.defs[i] = RegDef{}
			}
		}
	}
}

// Define records that register rd was defined with the given annotation.
func (rt *RegTracker) Define(rd int, annotation string) {
	if rd < 0 || rd > slotCTR {
		return
	}
	rt.defs[rd] = RegDef{Annotation: annotation, Age: 0}
}

// Lookup returns the annotation for register rd, or "" if expired/unknown.
func (rt *RegTracker) Lookup(rd int) string {
	if rd < 0 || rd > slotCTR {
		return ""
	}
	return rt.defs[rd].Annotation
}

// Kill clears the definition for a register (e.g. when overwritten by a
// non-annotated instruction).
func (rt *RegTracker) Kill(rd int) {
	if rd < 0 || rd > slotCTR {
		return
	}
	rt.defs[rd] = RegDef{}
}

// gpr returns the GPR number of a, or -1.
func gpr(a ppc64asm.Arg) int {
	r, ok := a.(ppc64asm.Reg)
	if !ok || r < ppc64asm.R0 || r > ppc64asm.R31 {
		return -1
	}
	return int(r - ppc64asm.R0)
}

// isMTCTR detects mtctr rS (mtspr 9,rS) and returns rS.
func isMTCTR(inst Inst) (rs int, ok bool) {
	if !inst.Valid || inst.Op != ppc64asm.MTSPR {
		return 0, false
	}
	if spr, isSPR := inst.Args[0].(ppc64asm.SpReg); !isSPR || spr != sprCTR {
		return 0, false
	}
	rs = gpr(inst.Args[1])
	return rs, rs >= 0
}

// isMR detects mr rA,rS (or rA,rS,rS) and returns both registers.
func isMR(inst Inst) (ra, rs int, ok bool) {
	if !inst.Valid || inst.Op != ppc64asm.OR {
		return 0, 0, false
	}
	ra, rs = gpr(inst.Args[0]), gpr(inst.Args[1])
	if ra < 0 || rs < 0 || rs != gpr(inst.Args[2]) {
		return 0, 0, false
	}
	return ra, rs, true
}

// dstRegOfInst returns the GPR written by a load or arithmetic instruction,
// or -1 if not detected. Used by the register tracker to know which register
// an annotated instruction defines.
func dstRegOfInst(inst Inst) int {
	if !inst.Valid {
		return -1
	}
	switch inst.Op {
	case ppc64asm.LWZ, ppc64asm.LWZU, ppc64asm.LWZX, ppc64asm.LHZ, ppc64asm.LHA, ppc64asm.LBZ,
		ppc64asm.ADDI, ppc64asm.ADDIS, ppc64asm.ADD, ppc64asm.SUBF, ppc64asm.MFSPR:
		return gpr(inst.Args[0])
	case ppc64asm.ORI, ppc64asm.ORIS, ppc64asm.OR, ppc64asm.AND, ppc64asm.RLWINM:
		// Logical forms write RA, the first operand.
		return gpr(inst.Args[0])
	}
	return -1
}

// ExtractCallEdges scans instructions for bl, bctrl and blrl call sites.
// Uses register tracking with window w to attribute bctrl targets to the
// load that fed CTR. annotators are run per-instruction to populate the
// register tracker. symbols resolves bl target addresses to names.
func ExtractCallEdges(insts []Inst, symbols SymbolLookup, annotators []Annotator, w int) []CallEdge {
	rt := NewRegTracker(w)
	var edges []CallEdge

	for _, inst := range insts {
		if br := DecodeBranch(inst.Raw, inst.Addr); br != nil && br.Link {
			switch {
			case br.HasTarget && br.Target == inst.Addr+4:
				// bcl 20,31,$+4 reads the PC; it is not a call.
			case br.HasTarget:
				e := CallEdge{FromPC: inst.Addr, Kind: "bl", TargetPC: br.Target}
				if symbols != nil {
					if name, found := symbols(br.Target); found {
						e.TargetName = name
					}
				}
				edges = append(edges, e)
			case br.Indirect:
				edges = append(edges, CallEdge{FromPC: inst.Addr, Kind: "bctrl", Reg: "ctr", Via: rt.Lookup(slotCTR)})
			default:
				edges = append(edges, CallEdge{FromPC: inst.Addr, Kind: "blrl", Reg: "lr"})
			}
			rt.Tick()
			continue
		}

		// mtctr carries the source register's provenance into CTR.
		if rs, ok := isMTCTR(inst); ok {
			rt.Tick()
			if via := rt.Lookup(rs); via != "" {
				rt.Define(slotCTR, via)
			} else {
				rt.Kill(slotCTR)
			}
			continue
		}
		if ra, rs, ok := isMR(inst); ok {
			rt.Tick()
			if via := rt.Lookup(rs); via != "" {
				rt.Define(ra, via)
			} else {
				rt.Kill(ra)
			}
			continue
		}

		var annotation string
		for _, ann := range annotators {
			if s := ann(inst); s != "" {
				annotation = s
				break
			}
		}

		rd := dstRegOfInst(inst)
		rt.Tick()
		if rd < 0 {
			continue
		}
		if annotation != "" {
			rt.Define(rd, annotation)
		} else {
			rt.Kill(rd)
		}
	}

	return edges
}
