// Package cycle runs the per-frame control loop: take a frame, refine the
// tracked pose, send the delta pose to the peer, draw the overlay and
// handle one operator key.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/banshee-data/holotrack/internal/frame"
	"github.com/banshee-data/holotrack/internal/input"
	"github.com/banshee-data/holotrack/internal/monitoring"
	"github.com/banshee-data/holotrack/internal/pose"
	"github.com/banshee-data/holotrack/internal/render"
	"github.com/banshee-data/holotrack/internal/timeutil"
	"github.com/banshee-data/holotrack/internal/tracking"
	"github.com/banshee-data/holotrack/internal/transport"
)

// Config holds the loop parameters and collaborators. Link, Machine,
// Renderer, Display and Keys are required.
type Config struct {
	Width, Height int
	Frame         frame.Options

	// OrthonormalizeEvery re-projects tracked rotations onto SO(3) every
	// that many cycles. Zero disables it.
	OrthonormalizeEvery int
	LogInterval         time.Duration
	FillMode            render.FillMode
	Colours             []color.RGBA

	Link     Link
	Machine  *tracking.Machine
	Renderer render.Renderer
	Display  render.Display
	Keys     input.KeySource

	Clock     timeutil.Clock
	Metrics   Metrics
	Observers []PoseObserver
}

// Loop is the control loop. Run drives it; Step runs one iteration.
type Loop struct {
	cfg     Config
	clock   timeutil.Clock
	metrics Metrics
	warn    *monitoring.Throttle

	current *frame.Frame
	seq     uint64

	statsMu sync.Mutex
	stats   Stats
	lastLog time.Time
	logged  Stats
}

// New validates cfg and returns a loop whose held frame starts blank.
func New(cfg Config) (*Loop, error) {
	switch {
	case cfg.Link == nil:
		return nil, errors.New("cycle: link is required")
	case cfg.Machine == nil || len(cfg.Machine.Objects()) == 0:
		return nil, errors.New("cycle: at least one tracked object is required")
	case cfg.Renderer == nil:
		return nil, errors.New("cycle: renderer is required")
	case cfg.Display == nil:
		return nil, errors.New("cycle: display is required")
	case cfg.Keys == nil:
		return nil, errors.New("cycle: key source is required")
	case cfg.Width <= 0 || cfg.Height <= 0:
		return nil, fmt.Errorf("cycle: invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.FillMode == "" {
		cfg.FillMode = render.FillSolid
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = 10 * time.Second
	}
	l := &Loop{
		cfg:     cfg,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		warn:    monitoring.NewThrottle(cfg.LogInterval),
		current: frame.Blank(cfg.Width, cfg.Height),
	}
	l.lastLog = l.clock.Now()
	return l, nil
}

// Run iterates until the operator closes the loop, the display requests
// close or ctx is cancelled, all of which return nil. Transport failures
// end the loop with an error.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.cfg.Renderer.MakeContextCurrent(); err != nil {
		return fmt.Errorf("render context: %w", err)
	}
	defer l.cfg.Renderer.ReleaseContext()

	monitoring.Tagf("cycle", "loop started (%dx%d, %d object(s))", l.cfg.Width, l.cfg.Height, len(l.cfg.Machine.Objects()))
	defer l.logStats(true)

	for {
		if ctx.Err() != nil {
			monitoring.Tagf("cycle", "stopping: %v", ctx.Err())
			return nil
		}
		done, err := l.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step runs one iteration. done reports an operator or display close.
func (l *Loop) Step() (done bool, err error) {
	start := l.clock.Now()
	seq := l.seq
	l.seq++

	fresh, err := l.acquire(seq)
	if err != nil {
		return true, err
	}

	m := l.cfg.Machine
	if m.Tracking() {
		if err := m.Refine(l.current); err != nil && !errors.Is(err, tracking.ErrNotTracking) {
			l.warn.Tagf("refine", "cycle", "refine: %v", err)
		}
		l.maybeOrthonormalize(seq)
	}

	delta := l.delta()
	if err := l.cfg.Link.Send(delta); err != nil {
		return true, fmt.Errorf("send pose: %w", err)
	}
	l.count(func(s *Stats) { s.PosesSent++ })
	l.metrics.PoseSent()
	l.notify(seq, start, delta, fresh)

	overlay := l.overlay()

	if k, ok := l.cfg.Keys.PollKey(); ok {
		done = l.dispatch(k)
	}

	if err := l.cfg.Display.Present(overlay); err != nil {
		l.warn.Tagf("present", "cycle", "present overlay: %v", err)
	}
	if l.cfg.Display.CloseRequested() {
		monitoring.Tagf("cycle", "display requested close")
		done = true
	}

	l.count(func(s *Stats) { s.Cycles++ })
	l.metrics.CycleCompleted(l.clock.Since(start))
	l.logStats(false)
	return done, nil
}

// acquire replaces the held frame when a valid payload arrives. A payload
// of the wrong size keeps the previous frame.
func (l *Loop) acquire(seq uint64) (bool, error) {
	payload, err := l.cfg.Link.Frame(seq)
	if err != nil {
		if transport.IsFatal(err) {
			return false, fmt.Errorf("receive frame: %w", err)
		}
		l.invalid(err)
		return false, nil
	}
	if payload == nil {
		l.count(func(s *Stats) { s.FramesReused++ })
		l.metrics.FrameReused()
		return false, nil
	}

	f, err := frame.AssembleWith(payload, l.cfg.Width, l.cfg.Height, l.cfg.Frame)
	if err != nil {
		l.invalid(err)
		return false, nil
	}
	l.current = f
	l.count(func(s *Stats) { s.FramesReceived++ })
	l.metrics.FrameReceived()
	return true, nil
}

func (l *Loop) invalid(err error) {
	l.count(func(s *Stats) {
		s.InvalidPayloads++
		s.FramesReused++
	})
	l.metrics.InvalidPayload()
	l.metrics.FrameReused()
	l.warn.Tagf("invalid", "cycle", "reusing previous frame: %v", err)
}

// delta is the primary object's pose relative to its reference. A
// singular reference yields the identity so the peer still gets a pose.
func (l *Loop) delta() pose.Pose {
	obj := l.cfg.Machine.Objects()[0]
	d, err := pose.Delta(obj.Pose(), obj.ReferencePose())
	if err != nil {
		l.count(func(s *Stats) { s.IdentityFallbacks++ })
		l.metrics.IdentityFallback()
		l.warn.Tagf("singular", "cycle", "object %q: %v; sending identity", obj.Name, err)
		return pose.Identity()
	}
	return d
}

func (l *Loop) maybeOrthonormalize(seq uint64) {
	every := uint64(l.cfg.OrthonormalizeEvery)
	if every == 0 || seq == 0 || seq%every != 0 {
		return
	}
	states := l.cfg.Machine.States()
	for i, obj := range l.cfg.Machine.Objects() {
		if states[i] != tracking.StateTracking {
			continue
		}
		obj.Update(pose.Pose.Orthonormalize)
		l.count(func(s *Stats) { s.Orthonormalized++ })
	}
}

func (l *Loop) overlay() *frame.Frame {
	layers, err := l.cfg.Renderer.RenderOverlayLayers(l.cfg.Machine.Objects(), l.cfg.FillMode, l.cfg.Colours, true)
	if err == nil {
		var out *frame.Frame
		if out, err = render.Composite(l.current, layers); err == nil {
			return out
		}
	}
	l.count(func(s *Stats) { s.RenderErrors++ })
	l.warn.Tagf("render", "cycle", "overlay: %v", err)
	return l.current
}

func (l *Loop) dispatch(k rune) bool {
	m := l.cfg.Machine
	switch k {
	case input.KeyToggleFirst, input.KeyToggleSecond:
		idx := 0
		if k == input.KeyToggleSecond {
			idx = 1
		}
		if idx >= len(m.Objects()) {
			monitoring.Tagf("cycle", "key %q: no object %d configured", k, idx)
			return false
		}
		st, err := m.Toggle(l.current, idx)
		if err != nil {
			monitoring.Tagf("cycle", "key %q: %v", k, err)
			return false
		}
		monitoring.Tagf("cycle", "object %q is now %s", m.Objects()[idx].Name, st)
	case input.KeyReset:
		m.Reset()
	case input.KeyClose:
		monitoring.Tagf("cycle", "close requested by operator")
		return true
	}
	return false
}

func (l *Loop) notify(seq uint64, at time.Time, delta pose.Pose, fresh bool) {
	if len(l.cfg.Observers) == 0 {
		return
	}
	st, _ := l.cfg.Machine.State(0)
	s := Sample{Seq: seq, At: at, Delta: delta, State: st, FreshFrame: fresh}
	for _, o := range l.cfg.Observers {
		o.ObservePose(s)
	}
}

func (l *Loop) count(fn func(*Stats)) {
	l.statsMu.Lock()
	fn(&l.stats)
	l.statsMu.Unlock()
}

// Stats returns a snapshot of the counters. Safe to call from any goroutine.
func (l *Loop) Stats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

// Frame returns the frame currently held by the loop.
func (l *Loop) Frame() *frame.Frame {
	return l.current
}

func (l *Loop) logStats(force bool) {
	elapsed := l.clock.Since(l.lastLog)
	if !force && elapsed < l.cfg.LogInterval {
		return
	}
	s := l.Stats()
	prev := l.logged
	cycles := s.Cycles - prev.Cycles
	rate := 0.0
	if elapsed > 0 {
		rate = float64(cycles) / elapsed.Seconds()
	}
	monitoring.Tagf("cycle", "%d cycles (%.1f/s), frames: %d new %d reused %d invalid, poses sent: %d, identity fallbacks: %d",
		cycles, rate,
		s.FramesReceived-prev.FramesReceived,
		s.FramesReused-prev.FramesReused,
		s.InvalidPayloads-prev.InvalidPayloads,
		s.PosesSent-prev.PosesSent,
		s.IdentityFallbacks-prev.IdentityFallbacks)
	l.logged = s
	l.lastLog = l.clock.Now()
}
