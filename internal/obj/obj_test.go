package obj

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestInfo(t *testing.T) *Info {
	t.Helper()
	o := New("pef", "test", KindExecutable)
	if _, err := o.AddSection(&Section{Name: ".text", Kind: SectionCode, Address: 0x1000, Size: 0x100, FileOffset: 0x40, Data: make([]byte, 0x100)}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.AddSection(&Section{Name: ".data", Kind: SectionData, Address: 0x1000, Size: 0x80, FileOffset: 0x140, Data: make([]byte, 0x80)}); err != nil {
		t.Fatal(err)
	}
	return o
}

func TestAddSectionAssignsIndex(t *testing.T) {
	o := newTestInfo(t)
	if len(o.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(o.Sections))
	}
	for i, s := range o.Sections {
		if int(s.Index) != i {
			t.Errorf("section %s index = %d, want %d", s.Name, s.Index, i)
		}
	}
	if o.SectionByName(".data") != o.Sections[1] {
		t.Error("SectionByName(.data) mismatch")
	}
	if o.Section(5) != nil || o.Section(-1) != nil {
		t.Error("out-of-range Section should be nil")
	}
}

func TestAddSectionRejectsFileOverlap(t *testing.T) {
	o := newTestInfo(t)
	_, err := o.AddSection(&Section{Name: ".bad", FileOffset: 0x13f, Data: make([]byte, 4)})
	if !errors.Is(err, ErrSectionOverlap) {
		t.Fatalf("expected ErrSectionOverlap, got %v", err)
	}
	// Sections without file bytes never overlap.
	if _, err := o.AddSection(&Section{Name: ".bss", Kind: SectionUninitialized, Size: 0x1000}); err != nil {
		t.Fatalf("bss: %v", err)
	}
	// Adjacent is fine.
	if _, err := o.AddSection(&Section{Name: ".rodata", FileOffset: 0x1c0, Data: make([]byte, 4)}); err != nil {
		t.Fatalf("adjacent: %v", err)
	}
}

func TestSectionAddressOrder(t *testing.T) {
	a := SectionAddress{Section: 0, Offset: 0x100}
	b := SectionAddress{Section: 0, Offset: 0x200}
	c := SectionAddress{Section: 1, Offset: 0}
	if !a.Less(b) || !b.Less(c) || !a.Less(c) {
		t.Error("expected a < b < c")
	}
	if a.Compare(a) != 0 || c.Compare(a) != 1 {
		t.Error("Compare mismatch")
	}
	if got := a.Add(0x10); got.Offset != 0x110 || got.Section != 0 {
		t.Errorf("Add = %v", got)
	}
	if a.String() != "0:0x100" {
		t.Errorf("String = %q", a.String())
	}
}

func TestResolveAndAbsolute(t *testing.T) {
	o := newTestInfo(t)
	sa, ok := o.Resolve(0x1010)
	if !ok || sa.Section != 0 || sa.Offset != 0x10 {
		t.Fatalf("Resolve(0x1010) = %v, %v", sa, ok)
	}
	abs, err := o.Absolute(SectionAddress{Section: 1, Offset: 0x20})
	if err != nil || abs != 0x1020 {
		t.Errorf("Absolute = 0x%x, %v", abs, err)
	}
	if _, err := o.Absolute(SectionAddress{Section: 9}); !errors.Is(err, ErrNoSection) {
		t.Errorf("expected ErrNoSection, got %v", err)
	}
}

func TestAddSymbolBounds(t *testing.T) {
	o := newTestInfo(t)
	tests := []struct {
		name string
		sym  Symbol
		want error
	}{
		{"inside", Symbol{Name: "f", Address: 0x1000, Size: 0x100, Section: InSection(0)}, nil},
		{"past end", Symbol{Name: "g", Address: 0x10f0, Size: 0x20, Section: InSection(0)}, ErrSymbolOutOfBounds},
		{"before start", Symbol{Name: "h", Address: 0xff0, Size: 4, Section: InSection(0)}, ErrSymbolOutOfBounds},
		{"zero size at end", Symbol{Name: "i", Address: 0x1100, Section: InSection(0)}, ErrSymbolOutOfBounds},
		{"abs anywhere", Symbol{Name: "abs", Address: 0xdeadbeef, Size: 8}, nil},
		{"bad section", Symbol{Name: "x", Address: 0x1000, Section: InSection(7)}, ErrNoSection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.AddSymbol(tt.sym)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAddSymbolUniqueness(t *testing.T) {
	o := newTestInfo(t)
	if err := o.AddSymbol(Symbol{Name: "a", Address: 0x1010, Size: 0x10, Section: InSection(0)}); err != nil {
		t.Fatal(err)
	}
	err := o.AddSymbol(Symbol{Name: "b", Address: 0x1010, Size: 0x8, Section: InSection(0)})
	if !errors.Is(err, ErrDuplicateSymbol) {
		t.Fatalf("expected ErrDuplicateSymbol, got %v", err)
	}
	// Zero-size aliases are permitted.
	for _, name := range []string{"alias1", "alias2"} {
		if err := o.AddSymbol(Symbol{Name: name, Address: 0x1010, Section: InSection(0)}); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	// Same address, different section is a different key.
	if err := o.AddSymbol(Symbol{Name: "d", Address: 0x1010, Size: 0x8, Section: InSection(1)}); err != nil {
		t.Fatal(err)
	}
	if got := len(o.Symbols.At(0, 0x1010)); got != 3 {
		t.Errorf("At(0, 0x1010) = %d symbols, want 3", got)
	}
}

func TestSymbolTableOrderAndLookup(t *testing.T) {
	o := newTestInfo(t)
	for _, s := range []Symbol{
		{Name: "c", Address: 0x1080, Size: 0x20, Section: InSection(0), Kind: SymbolFunction},
		{Name: "a", Address: 0x1000, Size: 0x40, Section: InSection(0), Kind: SymbolFunction},
		{Name: "abs", Address: 0x5, Kind: SymbolData},
		{Name: "d", Address: 0x1000, Size: 0x10, Section: InSection(1), Kind: SymbolData},
	} {
		if err := o.AddSymbol(s); err != nil {
			t.Fatal(err)
		}
	}
	var names []string
	for _, s := range o.Symbols.All() {
		names = append(names, s.Name)
	}
	if got := strings.Join(names, ","); got != "abs,a,c,d" {
		t.Errorf("order = %s, want abs,a,c,d", got)
	}
	if s, ok := o.Symbols.Lookup(0, 0x1010); !ok || s.Name != "a" {
		t.Errorf("Lookup(0x1010) = %v, %v", s.Name, ok)
	}
	if _, ok := o.Symbols.Lookup(0, 0x1050); ok {
		t.Error("Lookup(0x1050) should miss the gap")
	}
	if s, ok := o.Symbols.Lookup(1, 0x1004); !ok || s.Name != "d" {
		t.Errorf("Lookup(1, 0x1004) = %v, %v", s.Name, ok)
	}
	if got := len(o.Symbols.Functions()); got != 2 {
		t.Errorf("Functions = %d, want 2", got)
	}
}

func TestInfoJSON(t *testing.T) {
	o := newTestInfo(t)
	if err := o.AddSymbol(Symbol{Name: "f", Address: 0x1000, Size: 4, SizeKnown: true, Section: InSection(0),
		Kind: SymbolFunction, Flags: FlagTraceback | FlagGlobal}); err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(o)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"kind":"code"`, `"kind":"function"`, `"flags":"traceback,global"`, `"format":"pef"`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON missing %s: %s", want, s)
		}
	}
}
