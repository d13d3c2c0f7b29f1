package disasm

import "testing"

// makeInst creates a synthetic Inst at the given address with raw encoding.
func makeInst(addr uint64, raw uint32) Inst {
	return Inst{Addr: addr, Raw: raw, Size: 4}
}

func TestBuildCFG_Linear(t *testing.T) {
	// mflr, bl, blr: the call does not split the block.
	insts := []Inst{
		makeInst(0x1000, opMFLR0),
		makeInst(0x1004, 0x48000101), // bl
		makeInst(0x1008, opBLR),
	}
	cfg := BuildCFG("linear", insts)
	if len(cfg.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(cfg.Blocks))
	}
	blk := cfg.Blocks[0]
	if blk.Start != 0 || blk.End != 3 {
		t.Errorf("block range = [%d,%d), want [0,3)", blk.Start, blk.End)
	}
	if !blk.IsTerm || !blk.IsEntry {
		t.Error("block should be the terminal entry block")
	}
	if len(blk.Succs) != 0 {
		t.Errorf("succs = %d, want 0", len(blk.Succs))
	}
}

func TestBuildCFG_ConditionalBranch(t *testing.T) {
	//   0x1000: mflr r0
	//   0x1004: beq 0x1010
	//   0x1008: nop
	//   0x100c: b 0x1014
	//   0x1010: nop
	//   0x1014: blr
	insts := []Inst{
		makeInst(0x1000, opMFLR0),
		makeInst(0x1004, 0x4182000c),
		makeInst(0x1008, opNOP),
		makeInst(0x100c, 0x48000008),
		makeInst(0x1010, opNOP),
		makeInst(0x1014, opBLR),
	}
	cfg := BuildCFG("cond", insts)

	// Block 0: [0,2) mflr, beq
	// Block 1: [2,4) nop, b
	// Block 2: [4,5) nop (beq target)
	// Block 3: [5,6) blr (b target)
	if len(cfg.Blocks) != 4 {
		t.Fatalf("blocks = %d, want 4", len(cfg.Blocks))
	}
	want := []struct {
		start, end int
		succs      []Succ
		term       bool
	}{
		{0, 2, []Succ{{BlockID: 2, Cond: "T"}, {BlockID: 1, Cond: "F"}}, false},
		{2, 4, []Succ{{BlockID: 3}}, false},
		{4, 5, []Succ{{BlockID: 3}}, false},
		{5, 6, nil, true},
	}
	for i, w := range want {
		b := cfg.Blocks[i]
		if b.Start != w.start || b.End != w.end || b.IsTerm != w.term {
			t.Errorf("block %d = [%d,%d) term=%v, want [%d,%d) term=%v", i, b.Start, b.End, b.IsTerm, w.start, w.end, w.term)
		}
		if len(b.Succs) != len(w.succs) {
			t.Errorf("block %d succs = %+v, want %+v", i, b.Succs, w.succs)
			continue
		}
		for j := range w.succs {
			if b.Succs[j] != w.succs[j] {
				t.Errorf("block %d succ %d = %+v, want %+v", i, j, b.Succs[j], w.succs[j])
			}
		}
	}
}

func TestBuildCFG_TailBranchAndTrap(t *testing.T) {
	insts := []Inst{
		makeInst(0x1000, 0x4182000c), // beq 0x100c
		makeInst(0x1004, 0x48010000), // b out of the function
		makeInst(0x1008, opNOP),
		makeInst(0x100c, opTRAP),
	}
	cfg := BuildCFG("tail", insts)
	if len(cfg.Blocks) != 4 {
		t.Fatalf("blocks = %d, want 4", len(cfg.Blocks))
	}
	if !cfg.Blocks[1].IsTerm || len(cfg.Blocks[1].Succs) != 0 {
		t.Errorf("tail branch block = %+v", cfg.Blocks[1])
	}
	if !cfg.Blocks[3].IsTerm {
		t.Error("trap block should be terminal")
	}
}

func TestBuildCFG_Empty(t *testing.T) {
	cfg := BuildCFG("empty", nil)
	if len(cfg.Blocks) != 0 {
		t.Errorf("blocks = %d, want 0", len(cfg.Blocks))
	}
}
