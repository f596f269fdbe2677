package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/medlink/internal/capability"
)

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Show adapter power state and optional platform features",
	RunE:  runCaps,
}

var capsFormat string

func init() {
	capsCmd.Flags().StringVarP(&capsFormat, "format", "f", "", "Output format (table, json, csv)")
}

func runCaps(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format := capsFormat
	if format == "" {
		format = cfg.OutputFormat
	}
	out, err := newPrinter(cmd, format)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	facade := s.manager.Adapter()
	caps := facade.Capabilities()
	power := facade.PowerState().String()

	switch out.format {
	case "json":
		features := map[string]bool{}
		for _, f := range capability.Known {
			features[string(f)] = caps.Supported(f)
		}
		return out.writeJSON(struct {
			Platform string          `json:"platform"`
			Power    string          `json:"power"`
			Features map[string]bool `json:"features"`
		}{s.cfg.Platform, power, features})
	case "csv":
		rows := make([][]string, 0, len(capability.Known))
		for _, f := range capability.Known {
			rows = append(rows, []string{string(f), fmt.Sprint(caps.Supported(f))})
		}
		return out.writeCSV([]string{"feature", "supported"}, rows)
	}

	fmt.Fprintf(out.out, "Platform: %s\nPower:    %s\n\n", s.cfg.Platform, power)
	w := tabwriter.NewWriter(out.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FEATURE\tSUPPORTED")
	for _, f := range capability.Known {
		fmt.Fprintf(w, "%s\t%s\n", f, out.yesNo(caps.Supported(f)))
	}
	return w.Flush()
}
