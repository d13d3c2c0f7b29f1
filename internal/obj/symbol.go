package obj

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SymbolKind classifies what a symbol names.
type SymbolKind int

const (
	SymbolUnknown SymbolKind = iota
	SymbolFunction
	SymbolData
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolFunction:
		return "function"
	case SymbolData:
		return "data"
	default:
		return "unknown"
	}
}

func (k SymbolKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// SymbolFlags is a bit set describing where a symbol came from.
type SymbolFlags uint32

const (
	FlagAutoGenerated SymbolFlags = 1 << iota // placeholder name
	FlagTraceback                             // derived from a traceback table
	FlagGroundTruth                           // from the authoritative function list
	FlagGlobal                                // global linkage
	FlagTentative                             // start not corroborated
)

func (f SymbolFlags) Has(flag SymbolFlags) bool { return f&flag != 0 }

func (f SymbolFlags) String() string {
	var parts []string
	names := []struct {
		flag SymbolFlags
		name string
	}{
		{FlagAutoGenerated, "auto"},
		{FlagTraceback, "traceback"},
		{FlagGroundTruth, "ground-truth"},
		{FlagGlobal, "global"},
		{FlagTentative, "tentative"},
	}
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

func (f SymbolFlags) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// Symbol is one entry of the symbol table. A nil Section makes it an ABS
// symbol, exempt from section bounds.
type Symbol struct {
	Name      string        `json:"name"`
	Address   uint64        `json:"address"`
	Section   *SectionIndex `json:"section,omitempty"`
	Size      uint64        `json:"size"`
	SizeKnown bool          `json:"size_known"`
	Kind      SymbolKind    `json:"kind"`
	Flags     SymbolFlags   `json:"flags"`
	Language  string        `json:"language,omitempty"`
}

// InSection returns a pointer suitable for Symbol.Section.
func InSection(idx SectionIndex) *SectionIndex { return &idx }

// key orders ABS symbols before sectioned ones.
func (s *Symbol) key() (int, uint64) {
	if s.Section == nil {
		return -1, s.Address
	}
	return int(*s.Section), s.Address
}

// SymbolTable keeps symbols ordered by (section, address). Insertion is
// append-only from the caller's point of view.
type SymbolTable struct {
	syms []Symbol
}

func (t *SymbolTable) Len() int { return len(t.syms) }

// All returns the symbols in (section, address) order.
func (t *SymbolTable) All() []Symbol { return t.syms }

func (t SymbolTable) MarshalJSON() ([]byte, error) {
	if t.syms == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.syms)
}

// lowerBound returns the first position whose key is >= (sec, addr).
func (t *SymbolTable) lowerBound(sec int, addr uint64) int {
	return sort.Search(len(t.syms), func(i int) bool {
		s, a := t.syms[i].key()
		return s > sec || (s == sec && a >= addr)
	})
}

func (t *SymbolTable) insert(sym Symbol) error {
	sec, addr := sym.key()
	i := t.lowerBound(sec, addr)
	j := i
	for ; j < len(t.syms); j++ {
		s, a := t.syms[j].key()
		if s != sec || a != addr {
			break
		}
		if sym.Size > 0 && t.syms[j].Size > 0 {
			return fmt.Errorf("%w: 0x%x (%s, existing %s)", ErrDuplicateSymbol, addr, sym.Name, t.syms[j].Name)
		}
	}
	t.syms = append(t.syms, Symbol{})
	copy(t.syms[j+1:], t.syms[j:])
	t.syms[j] = sym
	return nil
}

// At returns the symbols defined exactly at addr in the given section.
func (t *SymbolTable) At(sec SectionIndex, addr uint64) []Symbol {
	i := t.lowerBound(int(sec), addr)
	j := i
	for j < len(t.syms) {
		s, a := t.syms[j].key()
		if s != int(sec) || a != addr {
			break
		}
		j++
	}
	return t.syms[i:j]
}

// Lookup returns the sized symbol covering addr in the given section.
func (t *SymbolTable) Lookup(sec SectionIndex, addr uint64) (Symbol, bool) {
	i := t.lowerBound(int(sec), addr+1)
	for i > 0 {
		i--
		s, a := t.syms[i].key()
		if s != int(sec) {
			break
		}
		sym := t.syms[i]
		if a == addr || (sym.Size > 0 && addr < a+sym.Size) {
			return sym, true
		}
		if sym.Size > 0 {
			break
		}
	}
	return Symbol{}, false
}

// Functions returns the function symbols in table order.
func (t *SymbolTable) Functions() []Symbol {
	var out []Symbol
	for _, s := range t.syms {
		if s.Kind == SymbolFunction {
			out = append(out, s)
		}
	}
	return out
}
