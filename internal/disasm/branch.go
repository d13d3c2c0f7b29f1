package disasm

import "golang.org/x/arch/ppc64/ppc64asm"

// PowerPC branch classification on top of ppc64asm. These functions identify
// basic-block terminators and extract branch targets.

// BranchInfo describes a decoded branch instruction.
type BranchInfo struct {
	Target    uint64 // absolute target address when HasTarget
	HasTarget bool   // false for branches through LR or CTR
	Cond      bool   // true if conditional (has fallthrough)
	Link      bool   // sets LR (a call)
	IsRet     bool   // true for blr
	Indirect  bool   // branch through CTR
}

// boAlways is the BO bit pattern meaning "branch always".
const boAlways = 0x14

// trapAlways is the TO field of an unconditional trap.
const trapAlways = 31

func branchAlways(bo ppc64asm.Arg) bool {
	imm, ok := bo.(ppc64asm.Imm)
	return ok && imm&boAlways == boAlways
}

func branchTarget(arg ppc64asm.Arg, pc uint64) (uint64, bool) {
	switch a := arg.(type) {
	case ppc64asm.PCRel:
		return uint64(int64(pc) + int64(a)), true
	case ppc64asm.Label:
		return uint64(a), true
	}
	return 0, false
}

// DecodeBranch attempts to decode a branch instruction from raw encoding at the given PC.
// Returns nil if the instruction is not a branch.
func DecodeBranch(raw uint32, pc uint64) *BranchInfo {
	inst, ok := DecodeWord(raw)
	if !ok {
		return nil
	}
	switch inst.Op {
	case ppc64asm.B, ppc64asm.BA, ppc64asm.BL, ppc64asm.BLA:
		t, _ := branchTarget(inst.Args[0], pc)
		link := inst.Op == ppc64asm.BL || inst.Op == ppc64asm.BLA
		return &BranchInfo{Target: t, HasTarget: true, Link: link}
	case ppc64asm.BC, ppc64asm.BCA, ppc64asm.BCL, ppc64asm.BCLA:
		t, _ := branchTarget(inst.Args[2], pc)
		link := inst.Op == ppc64asm.BCL || inst.Op == ppc64asm.BCLA
		return &BranchInfo{Target: t, HasTarget: true, Cond: !branchAlways(inst.Args[0]), Link: link}
	case ppc64asm.BCLR, ppc64asm.BCLRL:
		link := inst.Op == ppc64asm.BCLRL
		return &BranchInfo{Cond: !branchAlways(inst.Args[0]), Link: link, IsRet: !link}
	case ppc64asm.BCCTR, ppc64asm.BCCTRL:
		return &BranchInfo{Cond: !branchAlways(inst.Args[0]), Link: inst.Op == ppc64asm.BCCTRL, Indirect: true}
	}
	return nil
}

// IsTrap reports whether raw is an unconditional trap (tw 31,rA,rB or
// twi 31,rA,SI).
func IsTrap(raw uint32) bool {
	inst, ok := DecodeWord(raw)
	if !ok || (inst.Op != ppc64asm.TW && inst.Op != ppc64asm.TWI) {
		return false
	}
	to, ok := inst.Args[0].(ppc64asm.Imm)
	return ok && to == trapAlways
}

// IsTerminator reports whether control never falls through raw: an
// unconditional branch without link (b, ba, blr, bctr) or an unconditional
// trap. Calls return to the next instruction and do not count.
func IsTerminator(raw uint32) bool {
	if IsTrap(raw) {
		return true
	}
	br := DecodeBranch(raw, 0)
	return br != nil && !br.Cond && !br.Link
}

// IsBranchTerminator returns true if the instruction ends a basic block:
// any branch without link, conditional or not, and unconditional traps.
func IsBranchTerminator(raw uint32) bool {
	if IsTrap(raw) {
		return true
	}
	br := DecodeBranch(raw, 0)
	return br != nil && !br.Link
}
