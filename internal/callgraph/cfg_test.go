package callgraph

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/zboralski/lattice/render"

	"tbscan/internal/disasm"
	"tbscan/internal/obj"
)

func words(ws ...uint32) []byte {
	b := make([]byte, 0, 4*len(ws))
	for _, w := range ws {
		b = binary.BigEndian.AppendUint32(b, w)
	}
	return b
}

func TestBuildCFG_DOTOutput(t *testing.T) {
	// entry (B0):
	//   0x1000: mflr r0
	//   0x1004: bl   0x1100      ; call "foo"
	//   0x1008: beq  0x1018      ; conditional -> B2
	//
	// fallthrough (B1):
	//   0x100c: nop
	//   0x1010: bl   0x1210      ; call "bar"
	//   0x1014: b    0x1020      ; jump -> B3
	//
	// taken (B2):
	//   0x1018: bl   0x1318      ; call "baz"
	//   0x101c: blr
	//
	// join (B3):
	//   0x1020: blr
	code := words(
		0x7c0802a6,
		0x480000fd,
		0x41820010,
		0x60000000,
		0x48000201,
		0x4800000c,
		0x48000301,
		0x4e800020,
		0x4e800020,
	)
	lookup := disasm.PlaceholderLookup(map[uint64]string{0x1100: "foo", 0x1210: "bar", 0x1318: "baz"})
	insts := disasm.Disassemble(code, disasm.Options{BaseAddr: 0x1000, Symbols: lookup})
	edges := disasm.ExtractCallEdges(insts, lookup, nil, 8)
	if len(edges) != 3 {
		t.Fatalf("edges = %+v", edges)
	}

	cfg := BuildCFG([]FuncInfo{{Name: "entry", Insts: insts, CallEdges: edges}})
	if len(cfg.Funcs) != 1 {
		t.Fatalf("expected 1 function, got %d", len(cfg.Funcs))
	}
	f := cfg.Funcs[0]
	if f.Name != "entry" {
		t.Errorf("func name = %q", f.Name)
	}
	if len(f.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(f.Blocks))
	}

	b0 := f.Blocks[0]
	if len(b0.Calls) != 1 || b0.Calls[0].Callee != "foo" || b0.Calls[0].Offset != 1 {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if len(b0.Succs) != 2 {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}

	b1 := f.Blocks[1]
	if len(b1.Calls) != 1 || b1.Calls[0].Callee != "bar" {
		t.Errorf("B1 calls = %+v", b1.Calls)
	}
	if len(b1.Succs) != 1 || b1.Succs[0].BlockID != 3 {
		t.Errorf("B1 succs = %+v", b1.Succs)
	}

	b2 := f.Blocks[2]
	if len(b2.Calls) != 1 || b2.Calls[0].Callee != "baz" || !b2.Term {
		t.Errorf("B2 = %+v", b2)
	}
	if !f.Blocks[3].Term {
		t.Error("B3 should be terminal")
	}

	dot := render.DOTCFG(cfg, "tbscan CFG example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildFuncCFG_UnnamedCallee(t *testing.T) {
	insts := disasm.Disassemble(words(0x480000fd, 0x4e800421, 0x4e800020), disasm.Options{BaseAddr: 0x1000})
	edges := disasm.ExtractCallEdges(insts, nil, nil, 8)
	lcfg, n := BuildFuncCFG("f", insts, edges)
	if n != 1 {
		t.Fatalf("blocks = %d, want 1", n)
	}
	calls := lcfg.Blocks[0].Calls
	if len(calls) != 2 || calls[0].Callee != "0x10fc" || calls[1].Callee != "bctrl" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestBuildCallGraph_DOTOutput(t *testing.T) {
	funcs := []FuncInfo{
		{
			Name: "main",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x1004, Kind: "bl", TargetPC: 0x2000, TargetName: "init"},
				{FromPC: 0x1010, Kind: "bl", TargetPC: 0x3000, TargetName: "run"},
			},
		},
		{
			Name: "init",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x2008, Kind: "bl", TargetPC: 0x4000, TargetName: "log"},
			},
		},
		{
			Name: "run",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x3004, Kind: "bl", TargetPC: 0x4000, TargetName: "log"},
				{FromPC: 0x3010, Kind: "bctrl", Reg: "ctr", Via: "TOC+0x18 qsort"},
				{FromPC: 0x3014, Kind: "bctrl", Reg: "ctr"},
			},
		},
		{
			Name: "log",
		},
	}

	cg := BuildCallGraph(funcs)
	if len(cg.Nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(cg.Nodes))
	}
	if len(cg.Edges) != 5 {
		t.Errorf("expected 5 edges, got %d: %+v", len(cg.Edges), cg.Edges)
	}

	var via bool
	for _, e := range cg.Edges {
		if e.Caller == "run" && strings.HasSuffix(e.Callee, "qsort") {
			via = true
		}
	}
	if !via {
		t.Errorf("provenance edge missing: %+v", cg.Edges)
	}

	dot := render.DOT(cg, "tbscan call graph example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestCollect(t *testing.T) {
	//   0x1000: mflr r0
	//   0x1004: bl   0x1010
	//   0x1008: mtlr r0
	//   0x100c: blr
	//   0x1010: blr          ; leaf
	data := words(0x7c0802a6, 0x4800000d, 0x7c0803a6, 0x4e800020, 0x4e800020)
	info := obj.New("test", "test", obj.KindExecutable)
	idx, err := info.AddSection(&obj.Section{
		Name: ".text", Kind: obj.SectionCode, Address: 0x1000, Size: uint64(len(data)), Data: data,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []obj.Symbol{
		{Name: "main", Address: 0x1000, Size: 0x10},
		{Name: "leaf", Address: 0x1010, Size: 4},
	} {
		s.Section = obj.InSection(idx)
		s.SizeKnown = true
		s.Kind = obj.SymbolFunction
		if err := info.AddSymbol(s); err != nil {
			t.Fatal(err)
		}
	}

	funcs := Collect(info, nil, 0)
	if len(funcs) != 2 {
		t.Fatalf("functions = %d, want 2", len(funcs))
	}
	if len(funcs[0].Insts) != 4 || len(funcs[1].Insts) != 1 {
		t.Errorf("inst counts = %d, %d", len(funcs[0].Insts), len(funcs[1].Insts))
	}
	if len(funcs[0].CallEdges) != 1 || funcs[0].CallEdges[0].TargetName != "leaf" {
		t.Fatalf("main edges = %+v", funcs[0].CallEdges)
	}

	cg := BuildCallGraph(funcs)
	if len(cg.Edges) != 1 || cg.Edges[0].Caller != "main" || cg.Edges[0].Callee != "leaf" {
		t.Errorf("graph edges = %+v", cg.Edges)
	}
}

func TestCodeOutOfRange(t *testing.T) {
	info := obj.New("test", "test", obj.KindExecutable)
	idx, _ := info.AddSection(&obj.Section{Name: ".text", Kind: obj.SectionCode, Address: 0x1000, Size: 0x100, Data: make([]byte, 8)})
	sym := obj.Symbol{Name: "f", Address: 0x1004, Size: 0x10, Section: obj.InSection(idx)}
	if Code(info, sym) != nil {
		t.Error("expected nil for bytes past the section data")
	}
	sym.Section = nil
	if Code(info, sym) != nil {
		t.Error("expected nil for an ABS symbol")
	}
}
