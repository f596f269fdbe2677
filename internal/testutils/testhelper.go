//go:build test

package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/logging"
)

type TestHelper struct {
	T       *testing.T
	Logger  *logrus.Logger
	History *logging.History
}

// NewTestHelper creates a debug-level logger that writes nowhere and keeps
// the last entries in a history hook for assertions.
func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)

	history, err := logging.NewHistory(256, logrus.DebugLevel)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	logger.AddHook(history)

	return &TestHelper{T: t, Logger: logger, History: history}
}

// Warnings drains the history and returns warning and error messages.
func (h *TestHelper) Warnings() []string {
	var out []string
	for _, e := range h.History.DrainAtLeast(logging.SeverityWarning) {
		out = append(out, e.Message)
	}
	return out
}
