package cycle

import (
	"time"

	"github.com/banshee-data/holotrack/internal/pose"
	"github.com/banshee-data/holotrack/internal/tracking"
)

// Metrics receives per-cycle counters. Implementations must be cheap; they
// run on the loop goroutine.
type Metrics interface {
	CycleCompleted(d time.Duration)
	FrameReceived()
	FrameReused()
	InvalidPayload()
	PoseSent()
	IdentityFallback()
}

// noopMetrics is used when no Metrics is configured.
type noopMetrics struct{}

func (noopMetrics) CycleCompleted(time.Duration) {}
func (noopMetrics) FrameReceived()               {}
func (noopMetrics) FrameReused()                 {}
func (noopMetrics) InvalidPayload()              {}
func (noopMetrics) PoseSent()                    {}
func (noopMetrics) IdentityFallback()            {}

// Sample is one transmitted delta pose.
type Sample struct {
	Seq        uint64
	At         time.Time
	Delta      pose.Pose
	State      tracking.State // state of the primary object
	FreshFrame bool           // a new frame was assembled this cycle
}

// PoseObserver is notified after every pose is sent. ObservePose runs on
// the loop goroutine and must not block.
type PoseObserver interface {
	ObservePose(s Sample)
}

// ObserverFunc adapts a function to PoseObserver.
type ObserverFunc func(Sample)

func (f ObserverFunc) ObservePose(s Sample) { f(s) }

// Stats are cumulative loop counters.
type Stats struct {
	Cycles            uint64
	FramesReceived    uint64
	FramesReused      uint64
	InvalidPayloads   uint64
	PosesSent         uint64
	IdentityFallbacks uint64
	Orthonormalized   uint64
	RenderErrors      uint64
}

// PoseMessage is the JSON form of a Sample published on the live feeds.
type PoseMessage struct {
	Session     string      `json:"session,omitempty"`
	Seq         uint64      `json:"seq"`
	At          time.Time   `json:"at"`
	State       string      `json:"state"`
	FreshFrame  bool        `json:"fresh_frame"`
	Translation [3]float32  `json:"translation"`
	Matrix      [16]float32 `json:"matrix"` // row-major
}

// Message converts s for publication.
func (s Sample) Message(session string) PoseMessage {
	x, y, z := s.Delta.TranslationVector()
	return PoseMessage{
		Session:     session,
		Seq:         s.Seq,
		At:          s.At,
		State:       string(s.State),
		FreshFrame:  s.FreshFrame,
		Translation: [3]float32{x, y, z},
		Matrix:      pose.Serialize(s.Delta),
	}
}
