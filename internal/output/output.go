// Package output writes tbscan results to files.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tbscan/internal/detect"
	"tbscan/internal/disasm"
	"tbscan/internal/obj"
)

// WriteInfoJSON writes the decoded object (sections, entry point, ground
// truth and symbols) to info.json.
func WriteInfoJSON(dir string, info *obj.Info) error {
	return writeJSON(filepath.Join(dir, "info.json"), info)
}

// WriteReportJSON writes the detection report to report.json.
func WriteReportJSON(dir string, rep *detect.Report) error {
	return writeJSON(filepath.Join(dir, "report.json"), rep)
}

// SymbolEntry represents a named code address.
type SymbolEntry struct {
	Address uint64 `json:"address"`
	Name    string `json:"name"`
	Size    uint64 `json:"size,omitempty"`
	Flags   string `json:"flags,omitempty"`
}

// Symbols flattens the function symbols of info.
func Symbols(info *obj.Info) []SymbolEntry {
	out := []SymbolEntry{}
	for _, s := range info.Symbols.Functions() {
		out = append(out, SymbolEntry{Address: s.Address, Name: s.Name, Size: s.Size, Flags: s.Flags.String()})
	}
	return out
}

// WriteSymbolsJSON writes symbols to symbols.json.
func WriteSymbolsJSON(dir string, symbols []SymbolEntry) error {
	return writeJSON(filepath.Join(dir, "symbols.json"), symbols)
}

// WriteASM writes disassembled instructions to asm/<name>.txt.
func WriteASM(dir string, name string, insts []disasm.Inst, lookup disasm.SymbolLookup, annotators ...disasm.Annotator) error {
	path := filepath.Join(dir, "asm", SanitizeFilename(name)+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}

	text := disasm.Format(insts, lookup, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

// WriteDOT writes a Graphviz document to <name>.dot, creating parent
// directories as needed.
func WriteDOT(dir, name, dot string) (string, error) {
	path := filepath.Join(dir, name+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(dot), 0644); err != nil {
		return "", fmt.Errorf("output: write %s: %w", path, err)
	}
	return path, nil
}

// JSONL writes one JSON value per line.
type JSONL struct {
	path string
	f    *os.File
	enc  *json.Encoder
	n    int
}

// CreateJSONL creates dir/name for line-oriented output.
func CreateJSONL(dir, name string) (*JSONL, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("output: create %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONL{path: path, f: f, enc: enc}, nil
}

func (w *JSONL) Encode(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("output: write %s: %w", w.path, err)
	}
	w.n++
	return nil
}

// Path is the file being written.
func (w *JSONL) Path() string { return w.path }

// Count is the number of records written so far.
func (w *JSONL) Count() int { return w.n }

func (w *JSONL) Close() error { return w.f.Close() }

// SanitizeFilename makes a symbol name safe for use as a filename.
func SanitizeFilename(name string) string {
	r := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	s := r.Replace(name)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
