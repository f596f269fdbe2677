package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/medlink/internal/logging"
	"github.com/srg/medlink/pkg/config"
)

var (
	historyMu  sync.Mutex
	recentLogs *logging.History
)

// configureLogger creates a logger for cmd. --log-level takes precedence over
// the verbose flag, which takes precedence over the config file. Without any
// of them the logger stays silent but still feeds the warning history.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()
	logger.SetOutput(os.Stderr)

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool(verboseFlagName)
	switch {
	case logLevelStr != "":
		switch logLevelStr {
		case "debug":
			logger.SetLevel(logrus.DebugLevel)
		case "info":
			logger.SetLevel(logrus.InfoLevel)
		case "warn":
			logger.SetLevel(logrus.WarnLevel)
		case "error":
			logger.SetLevel(logrus.ErrorLevel)
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	case cmd.Flags().Changed("config"):
		// level comes from the file
	default:
		logger.SetLevel(logrus.WarnLevel)
		logger.SetOutput(io.Discard)
	}

	history, err := logging.NewHistory(uint32(cfg.HistorySize), logrus.WarnLevel)
	if err != nil {
		return nil, err
	}
	logger.AddHook(history)

	historyMu.Lock()
	recentLogs = history
	historyMu.Unlock()
	return logger, nil
}

// printRecentWarnings writes the warnings captured before a failure, which
// are otherwise hidden when logging is silent.
func printRecentWarnings(w io.Writer) {
	historyMu.Lock()
	history := recentLogs
	historyMu.Unlock()
	if history == nil {
		return
	}

	entries := history.DrainAtLeast(logging.SeverityWarning)
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(w, "Recent warnings:")
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if m := history.Metrics(); m.Overwritten > 0 {
		fmt.Fprintf(w, "  (%d older entries dropped)\n", m.Overwritten)
	}
}
