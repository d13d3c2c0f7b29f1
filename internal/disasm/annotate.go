package disasm

import (
	"fmt"

	"golang.org/x/arch/ppc64/ppc64asm"
)

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation. Receives the full Inst for access
// to both raw encoding and address.
type Annotator func(inst Inst) string

// tocLoad returns the destination register and displacement of
// lwz rD,d(r2).
func tocLoad(inst Inst) (rd int, disp int64, ok bool) {
	if !inst.Valid || inst.Op != ppc64asm.LWZ {
		return 0, 0, false
	}
	off, isOff := inst.Args[1].(ppc64asm.Offset)
	if !isOff || gpr(inst.Args[2]) != regTOC {
		return 0, 0, false
	}
	rd = gpr(inst.Args[0])
	return rd, int64(off), rd >= 0
}

// TOCAnnotator annotates loads through the TOC pointer. entries maps a TOC
// displacement to a display name and may be nil.
func TOCAnnotator(entries map[int64]string) Annotator {
	return func(inst Inst) string {
		_, disp, ok := tocLoad(inst)
		if !ok {
			return ""
		}
		if s, found := entries[disp]; found {
			return fmt.Sprintf("TOC%+#x %s", disp, s)
		}
		return fmt.Sprintf("TOC%+#x", disp)
	}
}

// TracebackAnnotator marks the reserved word of each traceback table in
// the listing. tables maps the table address to the function it describes.
func TracebackAnnotator(tables map[uint64]string) Annotator {
	return func(inst Inst) string {
		if name, ok := tables[inst.Addr]; ok {
			return "traceback table: " + name
		}
		return ""
	}
}
