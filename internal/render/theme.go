package render

// Theme holds colors for graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	EdgeDirect string // bl
	EntryColor string // border of root functions

	// Node accents.
	PlaceholderFill string // unnamed functions (sub_xxx)

	// Cluster styling.
	ClusterBorder string // per-section subgraph border
	ClusterLabel  string // per-section subgraph label text
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeDirect: "#424242", // dark gray
	EntryColor: "#0B3D91", // NASA blue

	PlaceholderFill: "#ECEFF1", // blue-gray 50

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}
