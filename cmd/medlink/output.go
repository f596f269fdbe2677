package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/medlink/pkg/config"
)

// printer renders command results in the selected format.
type printer struct {
	out    io.Writer
	errOut io.Writer
	format string

	good   *color.Color
	bad    *color.Color
	accent *color.Color
	dim    *color.Color
}

func newPrinter(cmd *cobra.Command, format string) (*printer, error) {
	if !slices.Contains(config.OutputFormats, format) {
		return nil, fmt.Errorf("invalid format '%s': must be one of %v", format, config.OutputFormats)
	}
	mode, _ := cmd.Flags().GetString("color")
	out := cmd.OutOrStdout()
	enabled, err := colorEnabled(mode, out)
	if err != nil {
		return nil, err
	}

	p := &printer{
		out:    out,
		errOut: cmd.ErrOrStderr(),
		format: format,
		good:   color.New(color.FgGreen),
		bad:    color.New(color.FgRed),
		accent: color.New(color.FgCyan, color.Bold),
		dim:    color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.good, p.bad, p.accent, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p, nil
}

// colorEnabled resolves --color. In auto mode colors are used only when
// writing to a terminal, and never for machine-readable formats.
func colorEnabled(mode string, out io.Writer) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		f, ok := out.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	}
	return false, fmt.Errorf("invalid color mode '%s': must be auto, always or never", mode)
}

func (p *printer) writeJSON(v any) error {
	encoder := json.NewEncoder(p.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (p *printer) writeCSV(header []string, rows [][]string) error {
	w := csv.NewWriter(p.out)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

// status prints a progress line. Machine-readable formats keep stdout clean,
// so status lines go to stderr there.
func (p *printer) status(format string, args ...any) {
	w := p.out
	if p.format != "table" {
		w = p.errOut
	}
	p.dim.Fprintf(w, format+"\n", args...)
}

func (p *printer) yesNo(ok bool) string {
	if ok {
		return p.good.Sprint("yes")
	}
	return p.bad.Sprint("no")
}
