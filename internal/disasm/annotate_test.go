package disasm

import "testing"

func TestTOCAnnotator(t *testing.T) {
	tests := []struct {
		raw     uint32
		entries map[int64]string
		want    string
	}{
		{opLWZr12TOC, nil, "TOC+0x18"},
		{opLWZr12TOC, map[int64]string{0x18: "printf"}, "TOC+0x18 printf"},
		{0x8062fff8, nil, "TOC-0x8"}, // lwz r3,-8(r2)
		{opLWZr3SP, nil, ""},         // stack load
		{opNOP, nil, ""},
	}
	for _, tt := range tests {
		inst := Disassemble(words(tt.raw), Options{})[0]
		if got := TOCAnnotator(tt.entries)(inst); got != tt.want {
			t.Errorf("0x%08x: got %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestTOCLoadRegister(t *testing.T) {
	inst := Disassemble(words(opLWZr12TOC), Options{})[0]
	rd, disp, ok := tocLoad(inst)
	if !ok || rd != 12 || disp != 0x18 {
		t.Errorf("tocLoad = r%d, %d, %v", rd, disp, ok)
	}
	if got := dstRegOfInst(inst); got != 12 {
		t.Errorf("dstRegOfInst = %d, want 12", got)
	}
}
