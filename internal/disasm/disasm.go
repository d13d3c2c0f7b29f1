// Package disasm provides 32-bit PowerPC disassembly for legacy code
// sections. Instructions are big-endian and always four bytes.
package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/ppc64/ppc64asm"
)

// Inst is a decoded PowerPC instruction with address and raw bytes.
type Inst struct {
	Addr     uint64
	Raw      uint32
	Size     int  // always 4
	Valid    bool // false for words that do not decode
	Op       ppc64asm.Op
	Args     ppc64asm.Args
	Mnemonic string
	Operands string
	Text     string // full disassembly line
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	BaseAddr uint64       // VA of the first byte in Data
	MaxSteps int          // maximum instructions to decode; 0 = 10M
	Symbols  SymbolLookup // optional symbol resolver
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Decode decodes the single big-endian word at data[0:4]. Prefixed
// (8-byte) encodings do not exist on 32-bit parts and are rejected, as is
// the all-zero word, which ppc64asm returns without an opcode.
func Decode(data []byte) (ppc64asm.Inst, bool) {
	if len(data) < 4 {
		return ppc64asm.Inst{}, false
	}
	inst, err := ppc64asm.Decode(data[:4], binary.BigEndian)
	if err != nil || inst.Len != 4 || inst.Op == 0 {
		return ppc64asm.Inst{}, false
	}
	return inst, true
}

// DecodeWord is Decode for a raw instruction word.
func DecodeWord(raw uint32) (ppc64asm.Inst, bool) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], raw)
	return Decode(buf[:])
}

// Disassemble decodes PowerPC instructions from a byte region.
// Returns decoded instructions up to MaxSteps or end of data.
func Disassemble(data []byte, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	n := len(data) / 4
	if n > maxSteps {
		n = maxSteps
	}

	result := make([]Inst, 0, n)
	for i := 0; i < n; i++ {
		off := i * 4
		raw := binary.BigEndian.Uint32(data[off : off+4])
		addr := opts.BaseAddr + uint64(off)

		out := Inst{Addr: addr, Raw: raw, Size: 4}
		inst, ok := Decode(data[off : off+4])
		if !ok {
			out.Mnemonic = ".long"
			out.Operands = fmt.Sprintf("0x%08x", raw)
			out.Text = fmt.Sprintf(".long 0x%08x", raw)
		} else {
			out.Valid = true
			out.Op = inst.Op
			out.Args = inst.Args
			out.Text = ppc64asm.GNUSyntax(inst, addr)
			// Split into mnemonic and operands.
			parts := strings.SplitN(out.Text, " ", 2)
			out.Mnemonic = parts[0]
			if len(parts) > 1 {
				out.Operands = parts[1]
			}
		}
		result = append(result, out)
	}
	return result
}

// Format renders a slice of instructions as stable text output.
// Each line: <addr>  <hex bytes>  <disasm>  ; <comments>
// Annotators are checked in order; first non-empty result is used.
func Format(insts []Inst, lookup SymbolLookup, annotators ...Annotator) string {
	var b strings.Builder
	for _, inst := range insts {
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "\n%s:\n", name)
			}
		}
		fmt.Fprintf(&b, "0x%08x  ", inst.Addr)
		// Raw bytes in file order.
		fmt.Fprintf(&b, "%02x %02x %02x %02x  ",
			byte(inst.Raw>>24), byte(inst.Raw>>16), byte(inst.Raw>>8), byte(inst.Raw))
		b.WriteString(inst.Text)
		// Branch target comment.
		commented := false
		if lookup != nil {
			if br := DecodeBranch(inst.Raw, inst.Addr); br != nil && br.HasTarget {
				if name, ok := lookup(br.Target); ok {
					fmt.Fprintf(&b, "  ; <%s>", name)
					commented = true
				}
			}
		}
		if !commented {
			for _, ann := range annotators {
				if s := ann(inst); s != "" {
					fmt.Fprintf(&b, "  ; %s", s)
					break
				}
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// DisasmOne decodes a single PowerPC instruction from its raw encoding.
// Returns the disassembly text, or "" if decoding fails.
func DisasmOne(raw uint32, addr uint64) string {
	inst, ok := DecodeWord(raw)
	if !ok {
		return ""
	}
	return ppc64asm.GNUSyntax(inst, addr)
}

// PlaceholderLookup returns a SymbolLookup over a fixed set of names,
// typically function entry points.
func PlaceholderLookup(entryPoints map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		if name, ok := entryPoints[addr]; ok {
			return name, true
		}
		return "", false
	}
}
