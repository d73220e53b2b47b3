// Package progress defines the reporting contract for long-running
// operations. Reporting is fire-and-forget: a slow or failing sink must
// never abort the operation it observes.
package progress

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Update is a snapshot of an operation's counters.
type Update struct {
	Processed int
	Total     int
	// Counters carries operation-specific tallies, e.g. authorized-so-far
	// for a backup or granted/error/skipped for a restore.
	Counters map[string]int
	// Final marks the terminal update of the operation.
	Final bool
}

// Sink accepts progress updates and renders them however the caller's
// surface requires.
type Sink interface {
	Report(update Update)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(update Update)

// Report calls f.
func (f SinkFunc) Report(update Update) { f(update) }

// Throttled decorates a sink so intermediate updates are forwarded at most
// once per interval. Final updates always pass through.
type Throttled struct {
	sink     Sink
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewThrottled wraps sink with the given minimum update interval.
func NewThrottled(sink Sink, interval time.Duration) *Throttled {
	return &Throttled{sink: sink, interval: interval}
}

// Report forwards the update if the interval has elapsed since the last
// forwarded one, or unconditionally when the update is final.
func (t *Throttled) Report(update Update) {
	t.mu.Lock()
	now := time.Now()
	if !update.Final && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return
	}
	t.last = now
	t.mu.Unlock()
	t.sink.Report(update)
}

// LogSink reports progress through logrus. It is the default sink wired by
// the server for operations triggered over HTTP.
type LogSink struct {
	// Operation names the running operation in each log line.
	Operation string
}

// Report logs the update at info level.
func (s *LogSink) Report(update Update) {
	fields := log.Fields{
		"processed": update.Processed,
		"total":     update.Total,
	}
	for name, value := range update.Counters {
		fields[name] = value
	}
	log.WithFields(fields).Infof("%s progress", s.Operation)
}
