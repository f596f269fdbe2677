package logging

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// MaxHistorySize bounds the ring to guard against accidental misconfiguration.
const MaxHistorySize uint32 = 64 * 1024

// Entry is one captured log line.
type Entry struct {
	Time     time.Time
	Severity Severity
	Message  string
	Fields   map[string]any
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %-5s %s", e.Time.Format(time.RFC3339), e.Severity, e.Message)
}

// HistoryMetrics counts hook activity. Overwritten entries are the ones the
// ring dropped to make room.
type HistoryMetrics struct {
	Captured    int64
	Overwritten int64
	Errors      int64
}

// History is a logrus hook that keeps the most recent entries in an
// overwrite-oldest ring. Fire never blocks and never fails the log call.
type History struct {
	buffer  mpmc.RichOverlappedRingBuffer[Entry]
	levels  []logrus.Level
	metrics HistoryMetrics
}

// NewHistory creates a hook capturing entries at or above minLevel severity.
func NewHistory(size uint32, minLevel logrus.Level) (*History, error) {
	if size == 0 {
		return nil, fmt.Errorf("history size must be > 0")
	}
	if size > MaxHistorySize {
		return nil, fmt.Errorf("history size %d exceeds maximum %d", size, MaxHistorySize)
	}

	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}

	return &History{
		buffer: mpmc.NewOverlappedRingBuffer[Entry](size),
		levels: levels,
	}, nil
}

func (h *History) Levels() []logrus.Level {
	return h.levels
}

func (h *History) Fire(e *logrus.Entry) error {
	fields := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		fields[k] = v
	}

	overwrites, err := h.buffer.EnqueueM(Entry{
		Time:     e.Time,
		Severity: SeverityFromLevel(e.Level),
		Message:  e.Message,
		Fields:   fields,
	})
	if err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		return nil
	}
	atomic.AddInt64(&h.metrics.Overwritten, int64(overwrites))
	atomic.AddInt64(&h.metrics.Captured, 1)
	return nil
}

// Drain removes and returns every buffered entry, oldest first.
func (h *History) Drain() []Entry {
	var out []Entry
	for !h.buffer.IsEmpty() {
		e, err := h.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, e)
	}
	return out
}

// DrainAtLeast drains the ring and keeps entries with severity >= min.
func (h *History) DrainAtLeast(min Severity) []Entry {
	all := h.Drain()
	out := all[:0]
	for _, e := range all {
		if e.Severity >= min {
			out = append(out, e)
		}
	}
	return out
}

func (h *History) Metrics() HistoryMetrics {
	return HistoryMetrics{
		Captured:    atomic.LoadInt64(&h.metrics.Captured),
		Overwritten: atomic.LoadInt64(&h.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&h.metrics.Errors),
	}
}
