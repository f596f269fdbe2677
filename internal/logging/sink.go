package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Sink receives formatted log lines tagged with their origin.
type Sink interface {
	Log(severity Severity, tag string, msg string)
}

// LogrusSink forwards sink lines to a logrus logger, carrying the tag as a field.
type LogrusSink struct {
	logger *logrus.Logger
}

func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	return &LogrusSink{logger: logger}
}

func (s *LogrusSink) Log(severity Severity, tag string, msg string) {
	s.logger.WithField("tag", tag).Log(severity.Level(), msg)
}

// Logf formats and writes to a sink.
func Logf(sink Sink, severity Severity, tag string, format string, args ...any) {
	if sink == nil {
		return
	}
	sink.Log(severity, tag, fmt.Sprintf(format, args...))
}
