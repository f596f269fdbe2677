package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "medlink",
	Short: "Bluetooth medical sensor connection manager",
	Long: `Command-line front end for the medlink Bluetooth connection manager:

- Scan for nearby LE sensors
- Connect, discover services and stream decoded readings
- Decode captured characteristic payloads offline
- Report which optional adapter features the platform supports

Use --simulate to run every command against built-in simulated sensors.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		printRecentWarnings(os.Stderr)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(capsCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level debug")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().Bool("simulate", false, "Use simulated sensors instead of the Bluetooth adapter")
	rootCmd.PersistentFlags().String("color", "auto", "Colorize output (auto, always, never)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.SetVersionTemplate(fmt.Sprintf("medlink {{.Version}} (commit %s, built %s)\n", commit, date))
}
