package main

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tbscan/internal/disasm"
	"tbscan/internal/obj"
	"tbscan/internal/output"
)

const (
	opMFLR0 = 0x7c0802a6
	opNOP   = 0x60000000
	opBLR   = 0x4e800020

	codeAddr = 0x1000
	codeOff  = 0x50
)

func appendTable(b []byte, name string, global bool) []byte {
	var f1 byte
	if global {
		f1 = 0x80
	}
	b = append(b, 0, 0, 0, 0, 0, 0, f1, 0x40, 0, 0, 0, 0)
	b = binary.BigEndian.AppendUint16(b, uint16(len(name)))
	b = append(b, name...)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// sampleCode is main [0x0,0x10) calling helper [0x30,0x3c), each followed
// by a named traceback table.
func sampleCode() []byte {
	var b []byte
	for _, w := range []uint32{opMFLR0, 0x48000000 | 0x2c | 1, opNOP, opBLR} {
		b = binary.BigEndian.AppendUint32(b, w)
	}
	b = appendTable(b, "main", true)
	for len(b) < 0x30 {
		b = append(b, 0)
	}
	for _, w := range []uint32{opMFLR0, opNOP, opBLR} {
		b = binary.BigEndian.AppendUint32(b, w)
	}
	return appendTable(b, "helper", false)
}

// writePEF writes a PEF container with one unnamed code section.
func writePEF(t *testing.T) string {
	t.Helper()
	code := sampleCode()
	n := uint32(len(code))

	b := []byte("Joy!peffpwpc")
	b = binary.BigEndian.AppendUint32(b, 1)
	b = append(b, make([]byte, 16)...)
	b = binary.BigEndian.AppendUint16(b, 1)
	b = binary.BigEndian.AppendUint16(b, 1)
	b = binary.BigEndian.AppendUint32(b, 0)

	b = binary.BigEndian.AppendUint32(b, 0xffffffff)
	b = binary.BigEndian.AppendUint32(b, codeAddr)
	b = binary.BigEndian.AppendUint32(b, n)
	b = binary.BigEndian.AppendUint32(b, n)
	b = binary.BigEndian.AppendUint32(b, n)
	b = binary.BigEndian.AppendUint32(b, codeOff)
	b = append(b, 0, 1, 4, 0)
	for len(b) < codeOff {
		b = append(b, 0)
	}
	b = append(b, code...)

	path := filepath.Join(t.TempDir(), "sample.pef")
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// readJSONL reads a JSONL file into a slice of T.
func readJSONL[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var records []T
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("%s line %d: %v", path, len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestScanWritesSymbols(t *testing.T) {
	in := writePEF(t)
	out := t.TempDir()
	if err := cmdScan([]string{"--in", in, "--out", out, "--no-color"}); err != nil {
		t.Fatalf("cmdScan: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(out, "symbols.json"))
	if err != nil {
		t.Fatal(err)
	}
	var syms []output.SymbolEntry
	if err := json.Unmarshal(raw, &syms); err != nil {
		t.Fatal(err)
	}
	if len(syms) != 2 {
		t.Fatalf("got %d symbols, want 2: %+v", len(syms), syms)
	}
	if syms[0].Name != "main" || syms[0].Address != codeAddr || syms[0].Size != 0x10 {
		t.Errorf("main = %+v", syms[0])
	}
	if syms[0].Flags != "traceback,global" {
		t.Errorf("main flags = %q", syms[0].Flags)
	}
	if syms[1].Name != "helper" || syms[1].Address != codeAddr+0x30 || syms[1].Size != 0xc {
		t.Errorf("helper = %+v", syms[1])
	}
	for _, name := range []string{"info.json", "report.json"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Error(err)
		}
	}
}

func TestDisasmPipeline(t *testing.T) {
	in := writePEF(t)
	out := t.TempDir()
	if err := cmdDisasm([]string{"--in", in, "--out", out, "--no-color"}); err != nil {
		t.Fatalf("cmdDisasm: %v", err)
	}

	funcs := readJSONL[disasm.FuncRecord](t, filepath.Join(out, "functions.jsonl"))
	if len(funcs) != 2 {
		t.Fatalf("got %d functions, want 2", len(funcs))
	}
	for _, f := range funcs {
		if f.State != "confirmed" || f.Section != ".text" {
			t.Errorf("func %+v", f)
		}
	}

	edges := readJSONL[disasm.CallEdgeRecord](t, filepath.Join(out, "call_edges.jsonl"))
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1: %+v", len(edges), edges)
	}
	if e := edges[0]; e.FromFunc != "main" || e.Kind != "bl" || e.Target != "helper" || e.FromPC != "0x1004" {
		t.Errorf("edge = %+v", e)
	}

	asm, err := os.ReadFile(filepath.Join(out, "asm", "main.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(asm), "traceback table: main") {
		t.Errorf("listing does not mark the table:\n%s", asm)
	}
}

func TestGraphWritesDOT(t *testing.T) {
	in := writePEF(t)
	out := t.TempDir()
	if err := cmdGraph([]string{"--in", in, "--out", out, "--reach", "--no-color"}); err != nil {
		t.Fatalf("cmdGraph: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(out, "callgraph.dot")); err != nil || fi.Size() == 0 {
		t.Errorf("callgraph.dot: %v", err)
	}
	dot, err := os.ReadFile(filepath.Join(out, "reachable.dot"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(dot), "n_main -> n_helper") {
		t.Errorf("reachable.dot:\n%s", dot)
	}
}

func TestMissingInput(t *testing.T) {
	if err := cmdScan([]string{}); err == nil || !strings.Contains(err.Error(), "--in") {
		t.Errorf("err = %v", err)
	}
	if err := cmdScan([]string{"--in", filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("expected read error")
	}
}

func TestParseKnown(t *testing.T) {
	info := obj.New("test", "test", obj.KindExecutable)
	if _, err := info.AddSection(&obj.Section{Name: ".text", Kind: obj.SectionCode, Address: 0x1000, Size: 0x100}); err != nil {
		t.Fatal(err)
	}
	in := `# user starts
0x1000
0x1040 0x20 helper
0x1080 do the thing   # trailing comment
`
	got, err := parseKnown(strings.NewReader(in), info)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].Addr.Offset != 0 || got[0].SizeKnown || got[0].Name != "" {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1].Addr.Offset != 0x40 || !got[1].SizeKnown || got[1].Size != 0x20 || got[1].Name != "helper" {
		t.Errorf("entry 1 = %+v", got[1])
	}
	if got[2].Name != "do the thing" || got[2].Source != "user" {
		t.Errorf("entry 2 = %+v", got[2])
	}

	if _, err := parseKnown(strings.NewReader("0x9000\n"), info); err == nil {
		t.Error("address outside sections accepted")
	}
	if _, err := parseKnown(strings.NewReader("zz\n"), info); err == nil {
		t.Error("bad address accepted")
	}
}
