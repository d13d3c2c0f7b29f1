package render

import (
	"fmt"
	"sort"
	"strings"

	"tbscan/internal/disasm"
)

// FindEntryPoints returns the roots for a reachability walk. When roots is
// non-empty (the image entry point and exports) only those names that
// appear in funcs are returned. Otherwise every function with no incoming
// bl edge is a root.
func FindEntryPoints(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord, roots []string) []string {
	var entries []string
	if len(roots) > 0 {
		known := make(map[string]bool, len(funcs))
		for _, f := range funcs {
			known[f.Name] = true
		}
		seen := make(map[string]bool, len(roots))
		for _, r := range roots {
			if known[r] && !seen[r] {
				seen[r] = true
				entries = append(entries, r)
			}
		}
		sort.Strings(entries)
		return entries
	}

	blTargets := make(map[string]bool)
	for _, e := range edges {
		if e.Kind == "bl" && e.Target != "" {
			blTargets[e.Target] = true
		}
	}
	for _, f := range funcs {
		if !blTargets[f.Name] {
			entries = append(entries, f.Name)
		}
	}
	sort.Strings(entries)
	return entries
}

// ReachableSet performs BFS from entry points following bl edges
// and returns the set of all reachable function names.
func ReachableSet(entryPoints []string, edges []disasm.CallEdgeRecord) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.Kind == "bl" && e.Target != "" {
			adj[e.FromFunc] = append(adj[e.FromFunc], e.Target)
		}
	}

	reachable := make(map[string]bool)
	queue := make([]string, 0, len(entryPoints))
	for _, ep := range entryPoints {
		if !reachable[ep] {
			reachable[ep] = true
			queue = append(queue, ep)
		}
	}

	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		for _, target := range adj[fn] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}

// ReachabilityDOT renders a callgraph filtered to the reachable set,
// clustered by section. Entry points are highlighted and placeholder
// functions are shaded. Only bl edges between reachable functions are shown.
func ReachabilityDOT(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord, reachable map[string]bool, entryPoints []string, title string, t Theme) string {
	entrySet := make(map[string]bool, len(entryPoints))
	for _, ep := range entryPoints {
		entrySet[ep] = true
	}

	funcSection := make(map[string]string, len(funcs))
	for _, f := range funcs {
		funcSection[f.Name] = f.Section
	}

	type edgeKey struct{ from, to string }
	edgeCount := make(map[edgeKey]int)
	for _, e := range edges {
		if e.Kind != "bl" || e.Target == "" {
			continue
		}
		if !reachable[e.FromFunc] || !reachable[e.Target] {
			continue
		}
		edgeCount[edgeKey{e.FromFunc, e.Target}]++
	}
	keys := make([]edgeKey, 0, len(edgeCount))
	for k := range edgeCount {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})

	refNodes := make(map[string]bool)
	for _, k := range keys {
		refNodes[k.from] = true
		refNodes[k.to] = true
	}
	for _, ep := range entryPoints {
		refNodes[ep] = true
	}

	sectionFuncs := make(map[string][]string)
	var loose []string
	for name := range refNodes {
		if sec := funcSection[name]; sec != "" {
			sectionFuncs[sec] = append(sectionFuncs[sec], name)
		} else {
			loose = append(loose, name)
		}
	}
	sections := make([]string, 0, len(sectionFuncs))
	for sec := range sectionFuncs {
		sections = append(sections, sec)
	}
	sort.Strings(sections)

	var b strings.Builder
	b.WriteString("digraph reachable {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  compound=true;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee, color=%q];\n", t.EdgeDirect)
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	writeNode := func(name string) {
		id := dotID(name)
		label := truncLabel(name, 50)
		switch {
		case entrySet[name]:
			fmt.Fprintf(&b, "    %s [label=%q, penwidth=1.5, color=%q];\n", id, label, t.EntryColor)
		case strings.HasPrefix(name, "sub_"):
			fmt.Fprintf(&b, "    %s [label=%q, fillcolor=%q];\n", id, label, t.PlaceholderFill)
		default:
			fmt.Fprintf(&b, "    %s [label=%q];\n", id, label)
		}
	}

	for _, sec := range sections {
		names := sectionFuncs[sec]
		sort.Strings(names)
		fmt.Fprintf(&b, "  subgraph %s {\n", "cluster_"+dotID(sec))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(sec))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			writeNode(name)
		}
		b.WriteString("  }\n")
	}
	sort.Strings(loose)
	for _, name := range loose {
		b.WriteString("  ")
		writeNode(name)
	}
	b.WriteByte('\n')

	for _, k := range keys {
		attrs := fmt.Sprintf("color=%q", t.EdgeDirect)
		if count := edgeCount[k]; count > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(count)*0.1)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
