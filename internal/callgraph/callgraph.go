package callgraph

import (
	"github.com/zboralski/lattice"

	"tbscan/internal/disasm"
	"tbscan/internal/obj"
)

// callTrackWindow is how many instructions a TOC-loaded register keeps its
// provenance while waiting for an mtctr/bctrl.
const callTrackWindow = 8

// FuncInfo holds the data needed to build call graph and CFG for one function.
type FuncInfo struct {
	Name      string
	Addr      uint64
	Insts     []disasm.Inst
	CallEdges []disasm.CallEdge
}

// SymbolLookup resolves absolute addresses to the function symbols of info.
func SymbolLookup(info *obj.Info) disasm.SymbolLookup {
	names := make(map[uint64]string)
	for _, s := range info.Symbols.Functions() {
		if _, dup := names[s.Address]; !dup {
			names[s.Address] = s.Name
		}
	}
	return disasm.PlaceholderLookup(names)
}

// Collect disassembles every sized function symbol of info and extracts
// its call edges. Symbols whose bytes are not present are skipped.
func Collect(info *obj.Info, annotators []disasm.Annotator, maxSteps int) []FuncInfo {
	lookup := SymbolLookup(info)
	var out []FuncInfo
	for _, sym := range info.Symbols.Functions() {
		code := Code(info, sym)
		if len(code) == 0 {
			continue
		}
		insts := disasm.Disassemble(code, disasm.Options{
			BaseAddr: sym.Address,
			MaxSteps: maxSteps,
			Symbols:  lookup,
		})
		out = append(out, FuncInfo{
			Name:      sym.Name,
			Addr:      sym.Address,
			Insts:     insts,
			CallEdges: disasm.ExtractCallEdges(insts, lookup, annotators, callTrackWindow),
		})
	}
	return out
}

// Code returns the bytes of a function symbol, or nil.
func Code(info *obj.Info, sym obj.Symbol) []byte {
	if sym.Section == nil || sym.Size == 0 {
		return nil
	}
	s := info.Section(*sym.Section)
	if s == nil || sym.Address < s.Address {
		return nil
	}
	off := sym.Address - s.Address
	end := off + sym.Size
	if end > uint64(len(s.Data)) {
		return nil
	}
	return s.Data[off:end]
}

// callee picks the display name of an edge's target.
func callee(e disasm.CallEdge) string {
	if e.TargetName != "" {
		return e.TargetName
	}
	return e.Via
}

// BuildCallGraph constructs a lattice.Graph from disassembled functions.
// Each function becomes a node. Each resolved call edge becomes an edge.
// Unresolved indirect calls (no TargetName or Via) are skipped.
func BuildCallGraph(funcs []FuncInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, e := range f.CallEdges {
			c := callee(e)
			if c == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: c,
			})
		}
	}
	g.Dedup()
	return g
}
