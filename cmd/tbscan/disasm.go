package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"tbscan/internal/callgraph"
	"tbscan/internal/detect"
	"tbscan/internal/disasm"
	"tbscan/internal/obj"
	"tbscan/internal/output"
)

// pipeline is everything derived from the detected symbols: disassembly,
// call edges and the JSONL records.
type pipeline struct {
	info       *obj.Info
	funcs      []callgraph.FuncInfo
	records    []disasm.FuncRecord
	edges      []disasm.CallEdgeRecord   // all call edges
	funcEdges  [][]disasm.CallEdgeRecord // call edges per entry of funcs
	lookup     disasm.SymbolLookup
	annotators []disasm.Annotator
	regions    map[uint64]*detect.Region // by absolute start
}

func buildPipeline(info *obj.Info, rep *detect.Report, maxSteps int) *pipeline {
	p := &pipeline{
		info:    info,
		lookup:  callgraph.SymbolLookup(info),
		regions: make(map[uint64]*detect.Region),
	}

	tables := make(map[uint64]string)
	for _, r := range rep.Regions {
		s := info.Section(r.Section)
		if s == nil {
			continue
		}
		name := r.Name
		if name == "" {
			name = detect.PlaceholderName(s.Address + r.Start)
		}
		tables[s.Address+r.End] = name
		if r.State == detect.StateConfirmed {
			p.regions[s.Address+r.Start] = r
		}
	}
	p.annotators = []disasm.Annotator{disasm.TOCAnnotator(nil), disasm.TracebackAnnotator(tables)}

	syms := make(map[uint64]obj.Symbol)
	for _, s := range info.Symbols.Functions() {
		if _, dup := syms[s.Address]; !dup {
			syms[s.Address] = s
		}
	}

	p.funcs = callgraph.Collect(info, p.annotators, maxSteps)
	for _, f := range p.funcs {
		p.records = append(p.records, p.funcRecord(syms[f.Addr]))
		var recs []disasm.CallEdgeRecord
		for _, e := range f.CallEdges {
			rec := disasm.CallEdgeRecord{
				FromFunc: f.Name,
				FromPC:   fmt.Sprintf("0x%x", e.FromPC),
				Kind:     e.Kind,
				Reg:      e.Reg,
				Via:      e.Via,
			}
			if e.Kind == "bl" {
				if e.TargetName != "" {
					rec.Target = e.TargetName
				} else {
					rec.Target = fmt.Sprintf("0x%x", e.TargetPC)
				}
			}
			recs = append(recs, rec)
		}
		p.funcEdges = append(p.funcEdges, recs)
		p.edges = append(p.edges, recs...)
	}
	return p
}

func (p *pipeline) funcRecord(sym obj.Symbol) disasm.FuncRecord {
	rec := disasm.FuncRecord{
		PC:       fmt.Sprintf("0x%x", sym.Address),
		Size:     int(sym.Size),
		Name:     sym.Name,
		State:    "ground-truth",
		Language: sym.Language,
	}
	if sym.Section != nil {
		if s := p.info.Section(*sym.Section); s != nil {
			rec.Section = s.Name
		}
	}
	if r, ok := p.regions[sym.Address]; ok {
		rec.State = r.State.String()
		rec.Signature = r.Table.Signature()
	}
	return rec
}

// listing returns the function's instructions followed by its traceback
// table words, so the table shows up annotated in the asm file.
func (p *pipeline) listing(f callgraph.FuncInfo, maxSteps int) []disasm.Inst {
	r, ok := p.regions[f.Addr]
	if !ok {
		return f.Insts
	}
	s := p.info.Section(r.Section)
	end := r.TableEnd()
	if end > uint64(len(s.Data)) {
		end = uint64(len(s.Data))
	}
	tail := disasm.Disassemble(s.Data[r.End:end], disasm.Options{
		BaseAddr: s.Address + r.End,
		MaxSteps: maxSteps,
	})
	return append(append([]disasm.Inst(nil), f.Insts...), tail...)
}

// roots are the reachability roots: the entry point and global symbols.
func (p *pipeline) roots() []string {
	var roots []string
	if p.info.Entry != nil {
		if name, ok := p.lookup(*p.info.Entry); ok {
			roots = append(roots, name)
		}
	}
	for _, s := range p.info.Symbols.Functions() {
		if s.Flags.Has(obj.FlagGlobal) {
			roots = append(roots, s.Name)
		}
	}
	return roots
}

func cmdDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	sf := addScanFlags(fs)
	limit := fs.Int("limit", 0, "max functions to disassemble (0 = all)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := mkdirOut(*sf.out); err != nil {
		return err
	}

	info, rep, err := sf.run()
	if err != nil {
		return err
	}
	p := buildPipeline(info, rep, *sf.maxSteps)

	n := len(p.funcs)
	if *limit > 0 && *limit < n {
		n = *limit
	}

	funcsOut, err := output.CreateJSONL(*sf.out, "functions.jsonl")
	if err != nil {
		return err
	}
	defer funcsOut.Close()
	edgesOut, err := output.CreateJSONL(*sf.out, "call_edges.jsonl")
	if err != nil {
		return err
	}
	defer edgesOut.Close()

	var indirect, annotated int
	for i := 0; i < n; i++ {
		f := p.funcs[i]
		if err := output.WriteASM(*sf.out, f.Name, p.listing(f, *sf.maxSteps), p.lookup, p.annotators...); err != nil {
			return fmt.Errorf("write asm %s: %w", f.Name, err)
		}
		if err := funcsOut.Encode(p.records[i]); err != nil {
			return err
		}
		for _, e := range p.funcEdges[i] {
			if err := edgesOut.Encode(e); err != nil {
				return err
			}
			if e.Kind != "bl" {
				indirect++
				if e.Via != "" {
					annotated++
				}
			}
		}
	}

	if err := output.WriteReportJSON(*sf.out, rep); err != nil {
		return fmt.Errorf("write report.json: %w", err)
	}
	if err := output.WriteSymbolsJSON(*sf.out, output.Symbols(info)); err != nil {
		return fmt.Errorf("write symbols.json: %w", err)
	}

	fmt.Fprintf(os.Stderr, "wrote %d function disassemblies to %s\n", n, filepath.Join(*sf.out, "asm"))
	fmt.Fprintf(os.Stderr, "wrote %s (%d functions)\n", funcsOut.Path(), funcsOut.Count())
	fmt.Fprintf(os.Stderr, "wrote %s (%d edges, %d indirect: %d annotated)\n",
		edgesOut.Path(), edgesOut.Count(), indirect, annotated)
	return nil
}
