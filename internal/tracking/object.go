package tracking

import (
	"sync"

	"github.com/banshee-data/holotrack/internal/config"
	"github.com/banshee-data/holotrack/internal/pose"
)

// Object is one tracked rigid model. The current pose is written by the
// estimator and read by the pose pipeline and the renderer, possibly from
// different goroutines, so every accessor copies under the lock.
type Object struct {
	Name    string
	Mesh    string
	Quality float64
	BBoxMin [3]float64
	BBoxMax [3]float64

	initial       pose.Pose
	reference     pose.Pose
	normalization pose.Pose

	mu      sync.RWMutex
	current pose.Pose
}

// NewObject creates an object resting at its initial pose. The reference
// pose is captured here and never changes.
func NewObject(name string, initial pose.Pose) *Object {
	return &Object{
		Name:          name,
		initial:       initial,
		reference:     initial,
		normalization: pose.Identity(),
		current:       initial,
	}
}

// ObjectFromConfig builds an object from its placement parameters.
func ObjectFromConfig(c config.ObjectConfig) *Object {
	initial := pose.FromPlacement(
		c.Translation[0], c.Translation[1], c.Translation[2],
		c.RotationDeg[0], c.RotationDeg[1], c.RotationDeg[2],
	)
	o := NewObject(c.Name, initial)
	o.Mesh = c.Mesh
	o.Quality = c.Quality
	o.BBoxMin = c.BBoxMin
	o.BBoxMax = c.BBoxMax
	o.normalization = pose.Normalization(c.BBoxMin, c.BBoxMax, c.Scale)
	return o
}

// ObjectsFromConfig builds every configured object in order.
func ObjectsFromConfig(cs []config.ObjectConfig) []*Object {
	out := make([]*Object, 0, len(cs))
	for _, c := range cs {
		out = append(out, ObjectFromConfig(c))
	}
	return out
}

// Pose returns the current camera-to-model pose.
func (o *Object) Pose() pose.Pose {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// SetPose replaces the current pose.
func (o *Object) SetPose(p pose.Pose) {
	o.mu.Lock()
	o.current = p
	o.mu.Unlock()
}

// Update applies fn to the current pose atomically.
func (o *Object) Update(fn func(pose.Pose) pose.Pose) {
	o.mu.Lock()
	o.current = fn(o.current)
	o.mu.Unlock()
}

// Reset restores the initial pose.
func (o *Object) Reset() {
	o.SetPose(o.initial)
}

func (o *Object) InitialPose() pose.Pose   { return o.initial }
func (o *Object) ReferencePose() pose.Pose { return o.reference }

// Normalization maps mesh coordinates into the centred, scaled model space.
func (o *Object) Normalization() pose.Pose { return o.normalization }
