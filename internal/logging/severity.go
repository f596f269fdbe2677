// Package logging bridges the manager's severity model onto logrus and keeps
// a bounded history of recent log entries.
package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Severity is the level vocabulary used by external log sinks.
type Severity int

const (
	SeverityDefault Severity = iota
	SeverityVerbose
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
)

var severityLabels = map[Severity]string{
	SeverityDefault: "DFLT",
	SeverityVerbose: "VERB",
	SeverityDebug:   "DBUG",
	SeverityInfo:    "INFO",
	SeverityWarning: "WARN",
	SeverityError:   "ERROR",
}

func (s Severity) String() string {
	if label, ok := severityLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Level maps a severity onto the logrus level used to emit it.
// Default and Verbose both collapse to Trace.
func (s Severity) Level() logrus.Level {
	switch s {
	case SeverityError:
		return logrus.ErrorLevel
	case SeverityWarning:
		return logrus.WarnLevel
	case SeverityInfo:
		return logrus.InfoLevel
	case SeverityDebug:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// SeverityFromLevel is the inverse of Severity.Level for entries coming out of logrus.
func SeverityFromLevel(l logrus.Level) Severity {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return SeverityError
	case logrus.WarnLevel:
		return SeverityWarning
	case logrus.InfoLevel:
		return SeverityInfo
	case logrus.DebugLevel:
		return SeverityDebug
	default:
		return SeverityVerbose
	}
}

// ParseSeverity accepts either the short label (WARN) or the long name (warning).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dflt", "default":
		return SeverityDefault, nil
	case "verb", "verbose":
		return SeverityVerbose, nil
	case "dbug", "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	}
	return SeverityDefault, fmt.Errorf("unknown severity %q", s)
}
