package monitor

import (
	"sync"

	"github.com/banshee-data/holotrack/internal/cycle"
)

// History keeps the most recent samples for charts and status queries.
type History struct {
	mu   sync.Mutex
	buf  []cycle.Sample
	next int
	full bool
}

// NewHistory keeps up to size samples.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{buf: make([]cycle.Sample, size)}
}

// ObservePose implements cycle.PoseObserver.
func (h *History) ObservePose(s cycle.Sample) {
	h.mu.Lock()
	h.buf[h.next] = s
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Snapshot returns the retained samples, oldest first.
func (h *History) Snapshot() []cycle.Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]cycle.Sample(nil), h.buf[:h.next]...)
	}
	out := make([]cycle.Sample, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

// Latest returns the newest sample.
func (h *History) Latest() (cycle.Sample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full && h.next == 0 {
		return cycle.Sample{}, false
	}
	i := (h.next - 1 + len(h.buf)) % len(h.buf)
	return h.buf[i], true
}
