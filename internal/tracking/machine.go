// Package tracking holds the tracked objects and the per-object state
// machine that gates which estimator calls are legal.
package tracking

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/holotrack/internal/frame"
	"github.com/banshee-data/holotrack/internal/monitoring"
)

// State is the tracking state of one object.
type State string

const (
	StateIdle     State = "idle"     // Object rests at its initial pose
	StateTracking State = "tracking" // Estimator is locked on and refining
)

var (
	ErrNotTracking     = errors.New("no object is being tracked")
	ErrAlreadyTracking = errors.New("object is already being tracked")
	ErrUnknownObject   = errors.New("unknown object index")
)

// Machine drives the estimator on behalf of the control loop. All methods
// are safe for concurrent use; transitions are serialized.
type Machine struct {
	est     Estimator
	objects []*Object

	mu     sync.Mutex
	states []State
}

// NewMachine starts every object in StateIdle.
func NewMachine(est Estimator, objects []*Object) *Machine {
	states := make([]State, len(objects))
	for i := range states {
		states[i] = StateIdle
	}
	return &Machine{est: est, objects: objects, states: states}
}

// Objects returns the tracked objects in index order.
func (m *Machine) Objects() []*Object {
	return m.objects
}

// State returns the state of object idx.
func (m *Machine) State(idx int) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(idx); err != nil {
		return "", err
	}
	return m.states[idx], nil
}

// States returns a copy of every object's state.
func (m *Machine) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.states...)
}

// Tracking reports whether any object is in StateTracking.
func (m *Machine) Tracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anyTracking()
}

// Start locks the estimator onto object idx using f as initial evidence and
// immediately runs one full refinement pass.
func (m *Machine) Start(f *frame.Frame, idx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(idx); err != nil {
		return err
	}
	if m.states[idx] == StateTracking {
		return fmt.Errorf("start %q: %w", m.objects[idx].Name, ErrAlreadyTracking)
	}
	m.est.ToggleTracking(f, idx, false)
	m.est.EstimatePoses(f, false, false)
	m.states[idx] = StateTracking
	monitoring.Tagf("tracking", "started tracking %q", m.objects[idx].Name)
	return nil
}

// Stop releases object idx and returns it to its initial pose. It is legal
// from either state.
func (m *Machine) Stop(idx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(idx); err != nil {
		return err
	}
	if m.states[idx] == StateTracking {
		m.est.ToggleTracking(nil, idx, false)
		monitoring.Tagf("tracking", "stopped tracking %q", m.objects[idx].Name)
	}
	m.objects[idx].Reset()
	m.states[idx] = StateIdle
	return nil
}

// Toggle starts object idx when idle and stops it when tracking. It returns
// the new state.
func (m *Machine) Toggle(f *frame.Frame, idx int) (State, error) {
	st, err := m.State(idx)
	if err != nil {
		return "", err
	}
	if st == StateTracking {
		return StateIdle, m.Stop(idx)
	}
	if err := m.Start(f, idx); err != nil {
		return st, err
	}
	return StateTracking, nil
}

// Refine runs the steady-state refinement on f. It is rejected without
// touching the estimator when no object is tracking.
func (m *Machine) Refine(f *frame.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.anyTracking() {
		return ErrNotTracking
	}
	m.est.EstimatePoses(f, false, true)
	return nil
}

// Reset clears the estimator and returns every object to its initial pose
// and StateIdle.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.est.Reset()
	for i, o := range m.objects {
		o.Reset()
		m.states[i] = StateIdle
	}
	monitoring.Tagf("tracking", "reset %d object(s) to initial pose", len(m.objects))
}

func (m *Machine) check(idx int) error {
	if idx < 0 || idx >= len(m.objects) {
		return fmt.Errorf("%w: %d (have %d)", ErrUnknownObject, idx, len(m.objects))
	}
	return nil
}

func (m *Machine) anyTracking() bool {
	for _, s := range m.states {
		if s == StateTracking {
			return true
		}
	}
	return false
}
