package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zboralski/lattice"
	lrender "github.com/zboralski/lattice/render"

	"tbscan/internal/callgraph"
	"tbscan/internal/output"
	"tbscan/internal/render"
)

func cmdGraph(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	sf := addScanFlags(fs)
	cfgFlag := fs.Bool("cfg", false, "write per-function CFGs to cfg/")
	reach := fs.Bool("reach", false, "write the reachable subgraph to reachable.dot")
	title := fs.String("title", "", "graph title (defaults to the input file name)")

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
	if *title == "" {
		*title = info.Name
	}
	p := buildPipeline(info, rep, *sf.maxSteps)

	cg := callgraph.BuildCallGraph(p.funcs)
	path, err := output.WriteDOT(*sf.out, "callgraph", lrender.DOT(cg, *title))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d nodes, %d edges)\n", path, len(cg.Nodes), len(cg.Edges))

	if *cfgFlag {
		n := 0
		for _, f := range p.funcs {
			lcfg, nblocks := callgraph.BuildFuncCFG(f.Name, f.Insts, f.CallEdges)
			if nblocks < 2 {
				continue
			}
			g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}
			name := filepath.Join("cfg", output.SanitizeFilename(f.Name))
			if _, err := output.WriteDOT(*sf.out, name, lrender.DOTCFG(g, f.Name)); err != nil {
				return err
			}
			n++
		}
		fmt.Fprintf(os.Stderr, "wrote %d per-function CFG DOTs to %s\n", n, filepath.Join(*sf.out, "cfg"))
	}

	if *reach {
		entries := render.FindEntryPoints(p.records, p.edges, p.roots())
		reachable := render.ReachableSet(entries, p.edges)
		fmt.Fprintf(os.Stderr, "entry points: %d, reachable functions: %d / %d\n",
			len(entries), len(reachable), len(p.records))
		dot := render.ReachabilityDOT(p.records, p.edges, reachable, entries, *title+" (reachable)", render.NASA)
		path, err := output.WriteDOT(*sf.out, "reachable", dot)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", path, len(dot))
	}

	printStats(render.ComputeStats(p.records, p.edges))
	return nil
}

func printStats(s render.CallgraphStats) {
	fmt.Fprintf(os.Stderr, "functions: %d (%d confirmed)\n", s.TotalFunctions, s.Confirmed)
	fmt.Fprintf(os.Stderr, "call edges: %d (%d bl, %d indirect, %d annotated)\n",
		s.TotalEdges, s.BLEdges, s.IndirectEdges, s.IndirectAnnotated)
	for _, prov := range []string{render.ProvDirect, render.ProvTOC, render.ProvLR, render.ProvUnresolved} {
		if n := s.ProvCounts[prov]; n > 0 {
			fmt.Fprintf(os.Stderr, "  %-10s %d\n", prov, n)
		}
	}
	for i, c := range s.TopCallees {
		if i == 5 {
			break
		}
		fmt.Fprintf(os.Stderr, "  callee %-32s %d\n", c.Name, c.Count)
	}
}
