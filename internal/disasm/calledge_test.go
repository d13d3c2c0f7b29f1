package disasm

import "testing"

const (
	opLWZr12TOC = 0x81820018 // lwz r12,24(r2)
	opMTCTRr12  = 0x7d8903a6 // mtctr r12
	opMRr3r12   = 0x7d836378 // mr r3,r12
	opMTCTRr3   = 0x7c6903a6 // mtctr r3
	opLWZr3SP   = 0x80610000 // lwz r3,0(r1)
)

func TestRegTracker(t *testing.T) {
	rt := NewRegTracker(3)

	rt.Define(5, "TOC+0x8")
	if got := rt.Lookup(5); got != "TOC+0x8" {
		t.Errorf("after define: got %q", got)
	}

	// Age 1, 2, 3: still valid.
	rt.Tick()
	rt.Tick()
	rt.Tick()
	if got := rt.Lookup(5); got != "TOC+0x8" {
		t.Errorf("at age 3: got %q", got)
	}

	// Age 4: expired.
	rt.Tick()
	if got := rt.Lookup(5); got != "" {
		t.Errorf("at age 4: got %q, want empty", got)
	}
}

func TestRegTrackerKillAndBounds(t *testing.T) {
	rt := NewRegTracker(8)
	rt.Define(slotCTR, "TOC+0x10")
	rt.Kill(slotCTR)
	if got := rt.Lookup(slotCTR); got != "" {
		t.Errorf("after kill: got %q", got)
	}
	rt.Define(40, "x")
	if got := rt.Lookup(40); got != "" {
		t.Errorf("out of range register tracked: %q", got)
	}
}

func TestExtractCallEdges_BL(t *testing.T) {
	insts := Disassemble(words(opNOP, 0x48000009, opNOP), Options{BaseAddr: 0x1000})
	symbols := PlaceholderLookup(map[uint64]string{0x100c: "target_func"})

	edges := ExtractCallEdges(insts, symbols, nil, 8)
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(edges))
	}
	e := edges[0]
	if e.Kind != "bl" || e.FromPC != 0x1004 {
		t.Errorf("edge = %+v", e)
	}
	if e.TargetPC != 0x100c {
		t.Errorf("target = 0x%x, want 0x100c", e.TargetPC)
	}
	if e.TargetName != "target_func" {
		t.Errorf("name = %q", e.TargetName)
	}
}

func TestExtractCallEdges_BCTRL_WithProvenance(t *testing.T) {
	insts := Disassemble(words(opLWZr12TOC, opMTCTRr12, opBCTRL), Options{BaseAddr: 0x1000})
	edges := ExtractCallEdges(insts, nil, []Annotator{TOCAnnotator(nil)}, 8)
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(edges))
	}
	e := edges[0]
	if e.Kind != "bctrl" || e.Reg != "ctr" {
		t.Errorf("edge = %+v", e)
	}
	if e.Via != "TOC+0x18" {
		t.Errorf("via = %q, want TOC+0x18", e.Via)
	}
}

func TestExtractCallEdges_ProvenanceThroughMove(t *testing.T) {
	insts := Disassemble(words(opLWZr12TOC, opMRr3r12, opMTCTRr3, opBCTRL), Options{})
	edges := ExtractCallEdges(insts, nil, []Annotator{TOCAnnotator(map[int64]string{0x18: "qsort"})}, 8)
	if len(edges) != 1 || edges[0].Via != "TOC+0x18 qsort" {
		t.Fatalf("edges = %+v", edges)
	}
}

func TestExtractCallEdges_ProvenanceKilled(t *testing.T) {
	// r12 is reloaded from the stack before the mtctr.
	insts := Disassemble(words(opLWZr12TOC, 0x81810000, opMTCTRr12, opBCTRL), Options{})
	edges := ExtractCallEdges(insts, nil, []Annotator{TOCAnnotator(nil)}, 8)
	if len(edges) != 1 || edges[0].Via != "" {
		t.Fatalf("edges = %+v", edges)
	}
}

func TestExtractCallEdges_SkipsPCRead(t *testing.T) {
	insts := Disassemble(words(opPCRead, opMFLR0, opBLR), Options{BaseAddr: 0x1000})
	if edges := ExtractCallEdges(insts, nil, nil, 8); len(edges) != 0 {
		t.Errorf("bcl 20,31,$+4 produced edges: %+v", edges)
	}
}

func TestExtractCallEdges_BLRL(t *testing.T) {
	insts := Disassemble(words(0x4e800021), Options{})
	edges := ExtractCallEdges(insts, nil, nil, 8)
	if len(edges) != 1 || edges[0].Kind != "blrl" || edges[0].Reg != "lr" {
		t.Fatalf("edges = %+v", edges)
	}
}
