package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/decoder"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <characteristic> <hex-payload>",
	Short: "Decode a captured characteristic payload",
	Long: `Decode a payload captured from a sensor without connecting to it.

The characteristic is a UUID in any notation or a reading kind alias.
The payload is hex; spaces, colons and dashes between bytes are ignored.
Unknown characteristics are shown as raw bytes.`,
	Example: `  medlink decode heart_rate "16 48 ea 03"
  medlink decode 2a19 57
  medlink decode 0aad7ea0-0d60-11e2-8e3c-0002a5d5c51b 00:64:05:03:00:1e:00:62:00:48 --format json`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

var decodeFormat string

func init() {
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "table", "Output format (table, json, csv)")
}

// parsePayload accepts hex with optional byte separators.
func parsePayload(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(strings.TrimSpace(s))
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %w", s, err)
	}
	return data, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	out, err := newPrinter(cmd, decodeFormat)
	if err != nil {
		return err
	}
	data, err := parsePayload(args[1])
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	uuid := decoder.Resolve(args[0])
	reading := decoder.Decode(uuid, data)

	switch out.format {
	case "json":
		return out.writeJSON(struct {
			Characteristic string          `json:"characteristic"`
			Kind           decoder.Kind    `json:"kind"`
			Degraded       bool            `json:"degraded"`
			Reading        decoder.Reading `json:"reading"`
		}{uuid, reading.Kind(), reading.IsDegraded(), reading})
	case "csv":
		return out.writeCSV([]string{"characteristic", "kind", "degraded", "value"},
			[][]string{{uuid, string(reading.Kind()), fmt.Sprint(reading.IsDegraded()), describe(reading)}})
	}

	fmt.Fprintf(out.out, "Characteristic: %s\n", bledb.LookupOr(uuid, uuid))
	fmt.Fprintf(out.out, "Kind:           %s\n", out.accent.Sprint(reading.Kind()))
	fmt.Fprintf(out.out, "Value:          %s\n", describe(reading))
	if reading.IsDegraded() {
		fmt.Fprintf(out.out, "%s\n", out.bad.Sprint("Payload is shorter than the layout; missing fields are zero"))
	}
	return nil
}
