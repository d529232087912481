package tracking

import (
	"sync"

	"github.com/banshee-data/holotrack/internal/frame"
	"github.com/banshee-data/holotrack/internal/pose"
)

// Estimator is the pose tracker. It owns the pose updates of the objects it
// was built with. Failures such as tracking loss are internal to it and
// show up only as an unchanged pose.
type Estimator interface {
	EstimatePoses(f *frame.Frame, refineAll, useTemporalPrior bool)
	ToggleTracking(f *frame.Frame, objectIndex int, flag bool)
	Reset()
}

// StaticEstimator never moves an object. It behaves like a tracker that has
// permanently lost its target.
type StaticEstimator struct{}

func (StaticEstimator) EstimatePoses(*frame.Frame, bool, bool) {}
func (StaticEstimator) ToggleTracking(*frame.Frame, int, bool) {}
func (StaticEstimator) Reset()                                 {}

// SyntheticEstimator advances each locked object by a fixed rotation about
// its Y axis and a fixed translation along X per refinement. It stands in
// for a real tracker on demo rigs and in tests.
type SyntheticEstimator struct {
	objects []*Object
	step    pose.Pose

	mu     sync.Mutex
	locked map[int]bool
	calls  int
}

// NewSyntheticEstimator builds an estimator over objects.
func NewSyntheticEstimator(objects []*Object, stepDeg, stepMM float64) *SyntheticEstimator {
	return &SyntheticEstimator{
		objects: objects,
		step:    pose.Translation(float32(stepMM), 0, 0).Mul(pose.RotationY(stepDeg)),
		locked:  make(map[int]bool),
	}
}

// EstimatePoses advances every locked object once.
func (e *SyntheticEstimator) EstimatePoses(_ *frame.Frame, _, _ bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	for idx, on := range e.locked {
		if !on || idx < 0 || idx >= len(e.objects) {
			continue
		}
		e.objects[idx].Update(func(p pose.Pose) pose.Pose { return p.Mul(e.step) })
	}
}

// ToggleTracking flips the lock on one object.
func (e *SyntheticEstimator) ToggleTracking(_ *frame.Frame, objectIndex int, _ bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked[objectIndex] = !e.locked[objectIndex]
}

// Reset drops every lock.
func (e *SyntheticEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked = make(map[int]bool)
}

// Calls returns how many EstimatePoses calls were made.
func (e *SyntheticEstimator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
