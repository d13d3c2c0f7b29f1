package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"

	"tbscan/internal/binfmt"
	"tbscan/internal/container"
	"tbscan/internal/detect"
	"tbscan/internal/obj"
)

// scanFlags are the detector flags shared by scan, disasm and graph.
type scanFlags struct {
	in          *string
	out         *string
	known       *string
	noTailCheck *bool
	align       *uint64
	maxSteps    *int
	noColor     *bool
}

func addScanFlags(fs *flag.FlagSet) *scanFlags {
	return &scanFlags{
		in:          fs.String("in", "", "input PEF or XCOFF32 file"),
		out:         fs.String("out", "", "output directory"),
		known:       fs.String("known", "", "file of extra ground-truth starts (addr [size] [name])"),
		noTailCheck: fs.Bool("no-tail-check", false, "accept tables with no code or terminator before them"),
		align:       fs.Uint64("align", detect.DefaultFuncAlign, "code alignment used to corroborate starts"),
		maxSteps:    fs.Int("max-steps", 0, "words examined per section (0 = default)"),
		noColor:     fs.Bool("no-color", false, "disable coloured diagnostics"),
	}
}

func (f *scanFlags) options() detect.Options {
	opts := detect.DefaultOptions()
	opts.SkipTailCheck = *f.noTailCheck
	opts.FuncAlign = *f.align
	if *f.maxSteps > 0 {
		opts.MaxSteps = *f.maxSteps
	}
	return opts
}

// run loads the input and runs the detector over container and user
// ground truth.
func (f *scanFlags) run() (*obj.Info, *detect.Report, error) {
	info, err := load(*f.in)
	if err != nil {
		return nil, nil, err
	}
	known := info.KnownFunctions
	if *f.known != "" {
		extra, err := loadKnown(*f.known, info)
		if err != nil {
			return nil, nil, err
		}
		known = append(append([]obj.KnownFunction(nil), known...), extra...)
	}

	diags := &binfmt.Diags{}
	rep := detect.Detect(info, known, f.options(), diags)
	dw := newDiagWriter(os.Stderr, !*f.noColor)
	for _, d := range diags.Items() {
		dw.print(d)
	}
	fmt.Fprintf(os.Stderr, "%s\n", rep)
	return info, rep, nil
}

// load reads and decodes a container file.
func load(path string) (*obj.Info, error) {
	if path == "" {
		return nil, fmt.Errorf("--in is required")
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	info, err := container.Decode(buf, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return info, nil
}

// loadKnown reads user-supplied function starts. Each non-blank line is
// "addr [size] [name]"; '#' starts a comment. Addresses are absolute and
// must fall inside a section of info.
func loadKnown(path string, info *obj.Info) ([]obj.KnownFunction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("known: %w", err)
	}
	defer f.Close()
	return parseKnown(f, info)
}

func parseKnown(r io.Reader, info *obj.Info) ([]obj.KnownFunction, error) {
	var out []obj.KnownFunction
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("known: line %d: bad address %q", line, fields[0])
		}
		sa, ok := info.Resolve(addr)
		if !ok {
			return nil, fmt.Errorf("known: line %d: 0x%x is outside every section", line, addr)
		}
		k := obj.KnownFunction{Addr: sa, Source: "user"}
		rest := fields[1:]
		if len(rest) > 0 {
			if size, err := strconv.ParseUint(rest[0], 0, 64); err == nil {
				k.Size, k.SizeKnown = size, true
				rest = rest[1:]
			}
		}
		if len(rest) > 0 {
			k.Name = strings.Join(rest, " ")
		}
		out = append(out, k)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("known: %w", err)
	}
	return out, nil
}

var diagStyles = map[binfmt.DiagKind]string{
	binfmt.DiagTruncated:       "red",
	binfmt.DiagInvalid:         "red+b",
	binfmt.DiagUnknownLanguage: "magenta",
	binfmt.DiagAmbiguous:       "yellow",
	binfmt.DiagDuplicate:       "cyan",
	binfmt.DiagOverlap:         "cyan",
}

// diagWriter prints diagnostics, coloured when w is a terminal.
type diagWriter struct {
	w     io.Writer
	color bool
}

func newDiagWriter(w io.Writer, allowColor bool) *diagWriter {
	color := false
	if f, ok := w.(*os.File); ok && allowColor {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &diagWriter{w: w, color: color}
}

func (dw *diagWriter) print(d binfmt.Diag) {
	kind := "[" + string(d.Kind) + "]"
	if dw.color {
		if style, ok := diagStyles[d.Kind]; ok {
			kind = ansi.Color(kind, style)
		}
	}
	fmt.Fprintf(dw.w, "%s 0x%x: %s\n", kind, d.Offset, d.Msg)
}

func mkdirOut(dir string) error {
	if dir == "" {
		return fmt.Errorf("--out is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir output: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
