package disasm

import "sort"

// BasicBlock represents a sequence of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into FuncCFG.Insts (inclusive)
	End     int    // index into FuncCFG.Insts (exclusive)
	Succs   []Succ // successor edges
	IsEntry bool
	IsTerm  bool // ends with blr, bctr, a trap or a branch out of the function
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = taken/true, "F" = fallthrough/false
}

// FuncCFG is a per-function control flow graph.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Inst
}

// blockEnd classifies the last instruction of a block. Calls (bl, bctrl)
// return and are ordinary instructions here.
func blockEnd(inst Inst) (br *BranchInfo, term bool) {
	if IsTrap(inst.Raw) {
		return nil, true
	}
	br = DecodeBranch(inst.Raw, inst.Addr)
	if br == nil || br.Link {
		return nil, false
	}
	return br, false
}

// BuildCFG constructs a control flow graph from a function's instruction stream.
// The algorithm:
//  1. Find block leaders: index 0, branch targets, instructions after terminators.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges from each block's last instruction.
func BuildCFG(name string, insts []Inst) FuncCFG {
	if len(insts) == 0 {
		return FuncCFG{Name: name, Insts: insts}
	}

	funcStart := insts[0].Addr
	funcEnd := insts[len(insts)-1].Addr + 4

	addrToIdx := make(map[uint64]int, len(insts))
	for i, inst := range insts {
		addrToIdx[inst.Addr] = i
	}

	// Pass 1: Identify block leaders.
	leaders := make(map[int]bool)
	leaders[0] = true

	for i, inst := range insts {
		br, term := blockEnd(inst)
		if br == nil && !term {
			continue
		}
		if i+1 < len(insts) {
			leaders[i+1] = true
		}
		if br != nil && br.HasTarget && br.Target >= funcStart && br.Target < funcEnd {
			if idx, ok := addrToIdx[br.Target]; ok {
				leaders[idx] = true
			}
		}
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: Partition into blocks.
	blocks := make([]BasicBlock, len(sorted))
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(insts)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = BasicBlock{
			ID:      i,
			Start:   start,
			End:     end,
			IsEntry: start == 0,
		}
		leaderToBlock[start] = i
	}

	// Pass 3: Compute successors.
	for i := range blocks {
		blk := &blocks[i]
		last := insts[blk.End-1]
		br, term := blockEnd(last)
		next, hasNext := leaderToBlock[blk.End]

		switch {
		case term:
			blk.IsTerm = true
			continue
		case br == nil:
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next})
			}
			continue
		}

		targetBlockID := -1
		if br.HasTarget && br.Target >= funcStart && br.Target < funcEnd {
			if idx, ok := addrToIdx[br.Target]; ok {
				if bid, ok := leaderToBlock[idx]; ok {
					targetBlockID = bid
				}
			}
		}

		if br.Cond {
			if targetBlockID >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: targetBlockID, Cond: "T"})
			}
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next, Cond: "F"})
			}
			continue
		}
		if targetBlockID >= 0 {
			blk.Succs = append(blk.Succs, Succ{BlockID: targetBlockID})
		} else {
			// blr, bctr, or a tail branch out of the function.
			blk.IsTerm = true
		}
	}

	return FuncCFG{
		Name:   name,
		Blocks: blocks,
		Insts:  insts,
	}
}
