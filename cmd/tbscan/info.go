package main

import (
	"flag"
	"fmt"
	"os"

	"tbscan/internal/obj"
)

func cmdInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	in := fs.String("in", "", "input PEF or XCOFF32 file")
	jsonOut := fs.Bool("json", false, "output as JSON")

	if err := fs.Parse(args); err != nil {
		return err
	}

	info, err := load(*in)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(info)
	}
	printInfo(info)
	return nil
}

func printInfo(info *obj.Info) {
	fmt.Fprintf(os.Stderr, "%s: %s %s (%s)\n", info.Name, info.Format, info.Kind, info.Arch)
	if info.Entry != nil {
		fmt.Fprintf(os.Stderr, "entry: 0x%x\n", *info.Entry)
	}
	fmt.Fprintf(os.Stderr, "sections: %d\n", len(info.Sections))
	for _, s := range info.Sections {
		addr := fmt.Sprintf("0x%08x", s.Address)
		if !s.AddressKnown {
			addr = "         ?"
		}
		packed := ""
		if s.Packed {
			packed = " packed"
		}
		fmt.Fprintf(os.Stderr, "  [%d] %-10s %-7s %s size=0x%x file=0x%x%s\n",
			s.Index, s.Name, s.Kind, addr, s.Size, s.FileOffset, packed)
	}

	sources := make(map[string]int)
	for _, k := range info.KnownFunctions {
		sources[k.Source]++
	}
	fmt.Fprintf(os.Stderr, "known functions: %d", len(info.KnownFunctions))
	for _, src := range []string{"pef-export", "xcoff-symtab", "xcoff-except"} {
		if n := sources[src]; n > 0 {
			fmt.Fprintf(os.Stderr, " %s=%d", src, n)
		}
	}
	fmt.Fprintln(os.Stderr)
}
