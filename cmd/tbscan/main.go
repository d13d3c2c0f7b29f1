package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "info":
		err = cmdInfo(os.Args[2:])
	case "scan":
		err = cmdScan(os.Args[2:])
	case "disasm":
		err = cmdDisasm(os.Args[2:])
	case "graph":
		err = cmdGraph(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `tbscan - PowerPC traceback table scanner for PEF and XCOFF images

Usage:
  tbscan info   --in <path> [--json]                 Decode the container and print sections
  tbscan scan   --in <path> [--out <dir>] [--json]   Recover function boundaries
  tbscan disasm --in <path> --out <dir>              Per-function disassembly and call edges
  tbscan graph  --in <path> --out <dir> [--cfg] [--reach]
                                                     Call graph, CFGs and reachability as DOT

Flags:
  --in <path>           Input PEF or XCOFF32 file
  --out <dir>           Output directory
  --known <file>        Extra ground-truth starts, one "addr [size] [name]" per line
  --no-tail-check       Accept tables not preceded by a terminator
  --align <n>           Code alignment used to corroborate starts (default 16)
  --max-steps <n>       Words examined per section
  --no-color            Disable coloured diagnostics
`)
}
