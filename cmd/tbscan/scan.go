package main

import (
	"flag"
	"fmt"
	"os"

	"tbscan/internal/detect"
	"tbscan/internal/output"
)

func cmdScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	sf := addScanFlags(fs)
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	verbose := fs.Bool("v", false, "list every region and discard")

	if err := fs.Parse(args); err != nil {
		return err
	}

	info, rep, err := sf.run()
	if err != nil {
		return err
	}

	if *sf.out != "" {
		if err := mkdirOut(*sf.out); err != nil {
			return err
		}
		if err := output.WriteInfoJSON(*sf.out, info); err != nil {
			return fmt.Errorf("write info.json: %w", err)
		}
		if err := output.WriteReportJSON(*sf.out, rep); err != nil {
			return fmt.Errorf("write report.json: %w", err)
		}
		syms := output.Symbols(info)
		if err := output.WriteSymbolsJSON(*sf.out, syms); err != nil {
			return fmt.Errorf("write symbols.json: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d symbols)\n", *sf.out, len(syms))
	}

	if *jsonOut {
		return printJSON(rep)
	}
	if *verbose {
		printRegions(rep)
	}
	return nil
}

func printRegions(rep *detect.Report) {
	for _, r := range rep.Regions {
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(os.Stderr, "  %-9s sec=%d [0x%x,0x%x) %-24s %s\n",
			r.State, r.Section, r.Start, r.End, name, r.Evidence)
	}
	for _, d := range rep.Discards {
		fmt.Fprintf(os.Stderr, "  discard   %s %s: %s\n", d.Addr, d.Kind, d.Reason)
	}
}
