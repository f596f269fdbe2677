package main

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/medlink/pkg/config"
)

func newLoggerCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().String("config", "", "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		cfgLevel string
		expected logrus.Level
		silent   bool
	}{
		{name: "silent by default", expected: logrus.WarnLevel, silent: true},
		{name: "log-level flag", args: []string{"--log-level", "error"}, expected: logrus.ErrorLevel},
		{name: "verbose flag", args: []string{"--verbose"}, expected: logrus.DebugLevel},
		{name: "log-level wins over verbose", args: []string{"--verbose", "--log-level", "info"}, expected: logrus.InfoLevel},
		{name: "config file level", args: []string{"--config", "medlink.yaml"}, cfgLevel: "debug", expected: logrus.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			if tt.cfgLevel != "" {
				cfg.LogLevel = tt.cfgLevel
			}

			logger, err := configureLogger(newLoggerCmd(t, tt.args...), "verbose", cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
			assert.Equal(t, tt.silent, logger.Out == io.Discard)
		})
	}
}

func TestConfigureLogger_InvalidLevel(t *testing.T) {
	_, err := configureLogger(newLoggerCmd(t, "--log-level", "chatty"), "verbose", config.DefaultConfig())
	assert.ErrorContains(t, err, "invalid log level: chatty")
}

func TestPrintRecentWarnings(t *testing.T) {
	// GOAL: warnings hidden by silent logging are still shown after a failure
	//
	// TEST SCENARIO: silent logger → info and warning logged → only the warning is printed, once
	logger, err := configureLogger(newLoggerCmd(t), "verbose", config.DefaultConfig())
	require.NoError(t, err)

	logger.Info("Adapter capabilities detected")
	logger.Warn("GATT operation failed")

	var out strings.Builder
	printRecentWarnings(&out)
	assert.Contains(t, out.String(), "Recent warnings:")
	assert.Contains(t, out.String(), "GATT operation failed")
	assert.NotContains(t, out.String(), "Adapter capabilities detected")

	out.Reset()
	printRecentWarnings(&out)
	assert.Empty(t, out.String(), "printed warnings MUST be drained")
}
