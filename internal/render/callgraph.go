package render

import (
	"sort"
	"strings"

	"tbscan/internal/disasm"
)

// Provenance categories of a call edge.
const (
	ProvDirect     = "direct"     // bl with a known target
	ProvTOC        = "toc"        // bctrl fed from a TOC load
	ProvLR         = "lr"         // blrl
	ProvUnresolved = "unresolved" // bctrl with no provenance
)

// ClassifyEdgeProv returns the provenance category for a call edge.
func ClassifyEdgeProv(e disasm.CallEdgeRecord) string {
	switch {
	case e.Kind == "bl":
		return ProvDirect
	case e.Kind == "blrl":
		return ProvLR
	case strings.HasPrefix(e.Via, "TOC"):
		return ProvTOC
	default:
		return ProvUnresolved
	}
}

// CallgraphStats summarises a call graph.
type CallgraphStats struct {
	TotalFunctions    int
	Confirmed         int
	TotalEdges        int
	BLEdges           int
	IndirectEdges     int
	IndirectAnnotated int
	ProvCounts        map[string]int
	TopCallers        []NameCount // sorted desc
	TopCallees        []NameCount // sorted desc
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string
	Count int
}

// ComputeStats computes callgraph statistics from JSONL data.
func ComputeStats(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord) CallgraphStats {
	stats := CallgraphStats{
		TotalFunctions: len(funcs),
		TotalEdges:     len(edges),
		ProvCounts:     make(map[string]int),
	}
	for _, f := range funcs {
		if f.State == "confirmed" {
			stats.Confirmed++
		}
	}

	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	for _, e := range edges {
		stats.ProvCounts[ClassifyEdgeProv(e)]++
		callerCount[e.FromFunc]++
		if e.Kind == "bl" {
			stats.BLEdges++
			if e.Target != "" {
				calleeCount[e.Target]++
			}
		} else {
			stats.IndirectEdges++
			if e.Via != "" {
				stats.IndirectAnnotated++
			}
		}
	}

	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending by count
// and then by name.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
