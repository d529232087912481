// Package monitoring holds the process-wide diagnostic logger used by the
// library packages. Binaries under cmd/ log with the standard log package.
package monitoring

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Tagf logs through Logf with a bracketed component tag, e.g. "[cycle] ...".
func Tagf(tag, format string, v ...interface{}) {
	Logf("[%s] %s", tag, fmt.Sprintf(format, v...))
}

// Throttle suppresses repeats of the same message key within an interval.
// It is used for per-cycle warnings that would otherwise flood the log at
// frame rate.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	dropped  map[string]int
	now      func() time.Time
}

// NewThrottle returns a Throttle that lets one message per key through every
// interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		last:     make(map[string]time.Time),
		dropped:  make(map[string]int),
		now:      time.Now,
	}
}

// Tagf logs like Tagf unless key was logged less than interval ago. The
// number of suppressed repeats is appended to the next emitted line.
func (t *Throttle) Tagf(key, tag, format string, v ...interface{}) {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		t.dropped[key]++
		t.mu.Unlock()
		return
	}
	suppressed := t.dropped[key]
	t.last[key] = now
	t.dropped[key] = 0
	t.mu.Unlock()

	msg := fmt.Sprintf(format, v...)
	if suppressed > 0 {
		msg = fmt.Sprintf("%s (suppressed %d repeats)", msg, suppressed)
	}
	Logf("[%s] %s", tag, msg)
}
