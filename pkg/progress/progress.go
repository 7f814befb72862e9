// Package progress carries per-file transfer progress to whoever renders it.
package progress

import (
	"math"
	"sync"

	"sshpublish/pkg/logger"
)

// Sink receives fire-and-forget progress events. Implementations must be
// safe for concurrent use.
type Sink interface {
	Report(label string, percent float64)
}

// Func adapts a plain function to a Sink.
type Func func(label string, percent float64)

func (f Func) Report(label string, percent float64) {
	f(label, percent)
}

type Nop struct{}

func (Nop) Report(string, float64) {}

// Percent converts a byte count into a 0..100 value. Empty files are
// complete as soon as they are reported.
func Percent(transferred, total int64) float64 {
	if total <= 0 {
		return 100
	}
	p := float64(transferred) / float64(total) * 100
	return math.Min(100, math.Max(0, p))
}

// LogSink writes progress to a logger, at most once per Step percent for
// each label plus the final 100.
type LogSink struct {
	logger *logger.Logger
	step   float64

	mu   sync.Mutex
	last map[string]float64
}

func NewLogSink(l *logger.Logger, step float64) *LogSink {
	if l == nil {
		l = logger.NewDefault()
	}
	if step <= 0 {
		step = 25
	}
	return &LogSink{
		logger: l,
		step:   step,
		last:   make(map[string]float64),
	}
}

func (s *LogSink) Report(label string, percent float64) {
	s.mu.Lock()
	last, seen := s.last[label]
	emit := !seen || percent >= 100 || percent-last >= s.step
	if percent >= 100 {
		delete(s.last, label)
	} else if emit {
		s.last[label] = percent
	}
	s.mu.Unlock()

	if !emit {
		return
	}
	s.logger.Debug("transfer progress", map[string]any{
		"file":    label,
		"percent": math.Round(percent),
	})
}
