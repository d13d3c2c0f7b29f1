package disasm

// FuncRecord is one line in functions.jsonl.
type FuncRecord struct {
	PC        string `json:"pc"`
	Size      int    `json:"size"`
	Name      string `json:"name"`
	Section   string `json:"section"`
	State     string `json:"state"`
	Language  string `json:"language,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	FromFunc string `json:"from_func"`
	FromPC   string `json:"from_pc"`
	Kind     string `json:"kind"`             // "bl", "bctrl" or "blrl"
	Target   string `json:"target,omitempty"` // resolved name or "0x..." for bl
	Reg      string `json:"reg,omitempty"`    // "ctr" or "lr"
	Via      string `json:"via,omitempty"`    // provenance for bctrl
}
