package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"tbscan/internal/disasm"
)

// BuildCFG constructs a lattice.CFGGraph from disassembled functions.
// Each FuncInfo is converted to a lattice.FuncCFG via disasm.BuildCFG
// then mapped to lattice types.
func BuildCFG(funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		dcfg := disasm.BuildCFG(f.Name, f.Insts)
		cg.Funcs = append(cg.Funcs, convertFuncCFG(&dcfg, f.CallEdges))
	}
	return cg
}

// BuildFuncCFG builds a single-function lattice.FuncCFG from instructions and call edges.
// Returns the FuncCFG and the number of basic blocks (for filtering trivial functions).
func BuildFuncCFG(name string, insts []disasm.Inst, edges []disasm.CallEdge) (*lattice.FuncCFG, int) {
	dcfg := disasm.BuildCFG(name, insts)
	return convertFuncCFG(&dcfg, edges), len(dcfg.Blocks)
}

// convertFuncCFG maps a disasm.FuncCFG to a lattice.FuncCFG.
// Call edges are mapped into blocks by matching instruction PCs.
func convertFuncCFG(dcfg *disasm.FuncCFG, edges []disasm.CallEdge) *lattice.FuncCFG {
	edgeByPC := make(map[uint64]disasm.CallEdge, len(edges))
	for _, e := range edges {
		edgeByPC[e.FromPC] = e
	}

	lcfg := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}
		for _, ds := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: ds.BlockID,
				Cond:    ds.Cond,
			})
		}
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			e, ok := edgeByPC[dcfg.Insts[idx].Addr]
			if !ok {
				continue
			}
			c := callee(e)
			if c == "" {
				if e.Kind == "bl" {
					c = fmt.Sprintf("0x%x", e.TargetPC)
				} else {
					c = e.Kind
				}
			}
			lb.Calls = append(lb.Calls, lattice.CallSite{
				Offset: idx,
				Callee: c,
			})
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
