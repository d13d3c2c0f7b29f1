package tbtab

// Each flag byte of the fixed header gets its own type so that accessors
// cannot be applied to the wrong byte. Bit positions follow the AIX/PowerOpen
// traceback layout, most significant bit first.

// Flags1 is the first flag byte (header offset 6).
type Flags1 uint8

const (
	f1GlobalLinkage     Flags1 = 0x80
	f1OutOfLinePrologue Flags1 = 0x40
	f1HasTBOffset       Flags1 = 0x20
	f1InternalProcedure Flags1 = 0x10
	f1ControlledStorage Flags1 = 0x08
	f1TOCLess           Flags1 = 0x04
	f1FPPresent         Flags1 = 0x02
	f1FPLogOrAbort      Flags1 = 0x01
)

func (f Flags1) GlobalLinkage() bool { return f&f1GlobalLinkage != 0 }
func (f Flags1) OutOfLinePrologue() bool { return f&f1OutOfLinePrologue != 0 }
func (f Flags1) HasTBOffset() bool { return f&f1HasTBOffset != 0 }
func (f Flags1) InternalProcedure() bool { return f&f1InternalProcedure != 0 }
func (f Flags1) ControlledStorage() bool { return f&f1ControlledStorage != 0 }
func (f Flags1) TOCLess() bool { return f&f1TOCLess != 0 }
func (f Flags1) FloatingPointPresent() bool { return f&f1FPPresent != 0 }
func (f Flags1) FPLogOrAbort() bool { return f&f1FPLogOrAbort != 0 }

// Flags2 is the second flag byte (header offset 7).
type Flags2 uint8

const (
	f2InterruptHandler Flags2 = 0x80
	f2NamePresent      Flags2 = 0x40
	f2AllocaUsed       Flags2 = 0x20
	f2OnCondMask       Flags2 = 0x1c
	f2OnCondShift             = 2
	f2CRSaved          Flags2 = 0x02
	f2LRSaved          Flags2 = 0x01
)

func (f Flags2) InterruptHandler() bool { return f&f2InterruptHandler != 0 }
func (f Flags2) NamePresent() bool { return f&f2NamePresent != 0 }
func (f Flags2) AllocaUsed() bool { return f&f2AllocaUsed != 0 }
func (f Flags2) CRSaved() bool { return f&f2CRSaved != 0 }
func (f Flags2) LRSaved() bool { return f&f2LRSaved != 0 }

// OnCondition returns the 3-bit on-condition directive.
func (f Flags2) OnCondition() OnCondition {
	return OnCondition((f & f2OnCondMask) >> f2OnCondShift)
}

// Flags3 is the third flag byte (header offset 8).
type Flags3 uint8

const (
	f3BackchainStored Flags3 = 0x80
	f3Fixup           Flags3 = 0x40
	f3FPRSavedMask    Flags3 = 0x3f
)

func (f Flags3) BackchainStored() bool { return f&f3BackchainStored != 0 }
func (f Flags3) Fixup() bool { return f&f3Fixup != 0 }

// FPRsSaved is the number of floating-point registers saved (6 bits).
func (f Flags3) FPRsSaved() int { return int(f & f3FPRSavedMask) }

// Flags4 is the fourth flag byte (header offset 9).
type Flags4 uint8

const (
	f4HasExtTable   Flags4 = 0x80
	f4HasVectorInfo Flags4 = 0x40
	f4GPRSavedMask  Flags4 = 0x3f
)

func (f Flags4) HasExtTable() bool { return f&f4HasExtTable != 0 }
func (f Flags4) HasVectorInfo() bool { return f&f4HasVectorInfo != 0 }

// GPRsSaved is the number of general-purpose registers saved (6 bits).
func (f Flags4) GPRsSaved() int { return int(f & f4GPRSavedMask) }

// Flags5 is the last header byte (offset 11), after the fixed-parameter count.
type Flags5 uint8

const (
	f5FPParmsMask  Flags5 = 0xfe
	f5FPParmsShift        = 1
	f5ParmsOnStack Flags5 = 0x01
)

// FloatParams is the 7-bit floating-point parameter count. The byte is
// masked first, then shifted.
func (f Flags5) FloatParams() int { return int((f & f5FPParmsMask) >> f5FPParmsShift) }

func (f Flags5) ParmsOnStack() bool { return f&f5ParmsOnStack != 0 }

// OnCondition is the on-condition directive stored in Flags2.
type OnCondition uint8

const (
	WalkOnCond    OnCondition = 0 // walk the stack without restoring state
	DiscardOnCond OnCondition = 1 // walk the stack and discard
	InvokeOnCond  OnCondition = 2 // invoke a specific system routine
)

func (c OnCondition) String() string {
	switch c {
	case WalkOnCond:
		return "walk"
	case DiscardOnCond:
		return "discard"
	case InvokeOnCond:
		return "invoke"
	default:
		return "reserved"
	}
}
