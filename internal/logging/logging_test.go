package logging

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity_Labels(t *testing.T) {
	tests := []struct {
		sev   Severity
		label string
		level logrus.Level
	}{
		{SeverityDefault, "DFLT", logrus.TraceLevel},
		{SeverityVerbose, "VERB", logrus.TraceLevel},
		{SeverityDebug, "DBUG", logrus.DebugLevel},
		{SeverityInfo, "INFO", logrus.InfoLevel},
		{SeverityWarning, "WARN", logrus.WarnLevel},
		{SeverityError, "ERROR", logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.label, tt.sev.String())
			assert.Equal(t, tt.level, tt.sev.Level())

			parsed, err := ParseSeverity(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.sev, parsed)
		})
	}

	_, err := ParseSeverity("loud")
	assert.Error(t, err)
}

func newCapturingLogger(t *testing.T, size uint32) (*logrus.Logger, *History) {
	t.Helper()
	h, err := NewHistory(size, logrus.DebugLevel)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.TraceLevel)
	logger.AddHook(h)
	return logger, h
}

func TestHistory_CapturesInOrder(t *testing.T) {
	logger, h := newCapturingLogger(t, 8)

	logger.WithField("address", "aa").Info("connected")
	logger.Warn("bond lost")
	logger.Trace("below capture level")

	entries := h.Drain()
	require.Len(t, entries, 2)
	assert.Equal(t, "connected", entries[0].Message)
	assert.Equal(t, "aa", entries[0].Fields["address"])
	assert.Equal(t, SeverityWarning, entries[1].Severity)
	assert.Empty(t, h.Drain(), "drain MUST empty the ring")
}

func TestHistory_OverwritesOldest(t *testing.T) {
	logger, h := newCapturingLogger(t, 4)

	for i := 0; i < 10; i++ {
		logger.Infof("line %d", i)
	}

	entries := h.Drain()
	require.NotEmpty(t, entries)
	assert.LessOrEqual(t, len(entries), 4)
	assert.Equal(t, "line 9", entries[len(entries)-1].Message, "newest entry MUST survive")
	assert.Equal(t, int64(10), h.Metrics().Captured)
}

func TestHistory_DrainAtLeast(t *testing.T) {
	logger, h := newCapturingLogger(t, 8)

	logger.Debug("noise")
	logger.Warn("first")
	logger.Error("second")

	warnings := h.DrainAtLeast(SeverityWarning)
	require.Len(t, warnings, 2)
	assert.Equal(t, "first", warnings[0].Message)
	assert.Equal(t, "second", warnings[1].Message)
}

func TestNewHistory_RejectsBadSize(t *testing.T) {
	_, err := NewHistory(0, logrus.InfoLevel)
	assert.Error(t, err)
	_, err = NewHistory(MaxHistorySize+1, logrus.InfoLevel)
	assert.Error(t, err)
}

type captureSink struct {
	lines []string
}

func (c *captureSink) Log(sev Severity, tag, msg string) {
	c.lines = append(c.lines, sev.String()+" "+tag+": "+msg)
}

func TestLogf(t *testing.T) {
	sink := &captureSink{}
	Logf(sink, SeverityInfo, "LeService", "rssi %d", -60)
	Logf(nil, SeverityInfo, "ignored", "x")
	assert.Equal(t, []string{"INFO LeService: rssi -60"}, sink.lines)
}

func TestLogrusSink(t *testing.T) {
	logger, h := newCapturingLogger(t, 4)
	NewLogrusSink(logger).Log(SeverityWarning, "Manager", "adapter lost")

	entries := h.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, "Manager", entries[0].Fields["tag"])
	assert.Equal(t, SeverityWarning, entries[0].Severity)
}
