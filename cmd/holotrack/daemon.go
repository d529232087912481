package main

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/holotrack/internal/config"
	"github.com/banshee-data/holotrack/internal/cycle"
	"github.com/banshee-data/holotrack/internal/frame"
	"github.com/banshee-data/holotrack/internal/input"
	"github.com/banshee-data/holotrack/internal/monitor"
	"github.com/banshee-data/holotrack/internal/posedb"
	"github.com/banshee-data/holotrack/internal/posefeed"
	"github.com/banshee-data/holotrack/internal/render"
	"github.com/banshee-data/holotrack/internal/tracking"
	"github.com/banshee-data/holotrack/internal/transport"
)

// Session end reasons recorded in the pose log.
const (
	endClosed    = "closed"
	endCancelled = "cancelled"
)

var overlayColours = []color.RGBA{
	render.DefaultColour,
	{R: 255, G: 128, B: 0, A: 255},
}

// daemon serves peer sessions one at a time. Optional collaborators are
// nil when their feature is disabled.
type daemon struct {
	cfg     *config.SessionConfig
	keys    input.KeySource
	display render.Display

	db        *posedb.DB
	hub       *monitor.Hub
	history   *monitor.History
	metrics   *monitor.Metrics
	health    *monitor.HealthService
	redisAddr string

	mu      sync.Mutex
	status  sessionStatus
	current *cycle.Loop
}

type sessionStatus struct {
	SessionID string      `json:"session_id,omitempty"`
	Peer      string      `json:"peer,omitempty"`
	Live      bool        `json:"live"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	Sessions  int         `json:"sessions"`
	States    []string    `json:"states,omitempty"`
	Stats     cycle.Stats `json:"stats"`
}

func (d *daemon) transportOptions() transport.Options {
	return transport.Options{
		Framing:         transport.Framing(d.cfg.GetFraming()),
		MaxPayloadBytes: d.cfg.GetMaxPayloadBytes(),
		ReadTimeout:     d.cfg.GetReadTimeout(),
		WriteTimeout:    d.cfg.GetWriteTimeout(),
		DrainWindow:     d.cfg.GetDrainWindow(),
	}
}

// Status is served at /api/status.
func (d *daemon) Status() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.status
	if d.current != nil {
		st.Stats = d.current.Stats()
	}
	return st
}

func (d *daemon) setLive(live bool) {
	if d.metrics != nil {
		d.metrics.SetSessionLive(live)
	}
	if d.health != nil {
		d.health.SetSessionLive(live)
	}
}

func (d *daemon) newEstimator(objects []*tracking.Object) tracking.Estimator {
	switch d.cfg.GetEstimator() {
	case config.EstimatorSynthetic:
		return tracking.NewSyntheticEstimator(objects, d.cfg.GetSyntheticStepDeg(), d.cfg.GetSyntheticStepMM())
	default:
		return tracking.StaticEstimator{}
	}
}

// serveSession accepts one peer and runs the control loop until it ends.
// A nil error with closed true means the operator asked to shut down.
func (d *daemon) serveSession(ctx context.Context, lis *transport.Listener) (closed bool, err error) {
	sess, err := lis.Accept(ctx)
	if err != nil {
		return false, err
	}
	defer sess.Close()

	width, height := d.cfg.GetFrameWidth(), d.cfg.GetFrameHeight()
	log.Printf("session %s: peer %s connected (%s framing)", sess.ID, sess.RemoteAddr(), sess.Framing())

	if d.cfg.GetExpectHello() {
		if err := sess.ReadHello(width * height); err != nil {
			return false, err
		}
	}

	started := time.Now()
	if d.db != nil {
		if err := d.db.StartSession(posedb.Session{
			ID:        sess.ID,
			Peer:      sess.RemoteAddr(),
			Width:     width,
			Height:    height,
			Framing:   string(sess.Framing()),
			StartedAt: started,
		}); err != nil {
			log.Printf("session %s: failed to record session start: %v", sess.ID, err)
		}
	}

	objects := tracking.ObjectsFromConfig(d.cfg.GetObjects())
	machine := tracking.NewMachine(d.newEstimator(objects), objects)

	var observers []cycle.PoseObserver
	if d.history != nil {
		observers = append(observers, d.history)
	}
	if d.hub != nil {
		d.hub.SetSession(sess.ID)
		observers = append(observers, d.hub)
	}
	if d.db != nil {
		rec := posedb.NewRecorder(d.db, sess.ID, 0)
		defer rec.Close()
		observers = append(observers, rec)
	}
	if d.redisAddr != "" {
		feed := posefeed.New(d.redisAddr,
			posefeed.WithChannel(d.cfg.GetRedisChannel()),
			posefeed.WithSession(sess.ID))
		defer feed.Close()
		observers = append(observers, feed)
	}

	var link cycle.Link
	if d.cfg.GetAsyncIO() {
		pump := transport.StartPump(ctx, sess)
		defer pump.Stop()
		link = cycle.AsyncLink(pump)
	} else {
		link = cycle.SyncLink(sess, d.cfg.GetReadEvery())
	}

	var metrics cycle.Metrics
	if d.metrics != nil {
		metrics = d.metrics
	}
	loop, err := cycle.New(cycle.Config{
		Width:               width,
		Height:              height,
		Frame:               frame.Options{FlipHorizontal: d.cfg.GetFlipHorizontal()},
		OrthonormalizeEvery: d.cfg.GetOrthonormalizeEvery(),
		LogInterval:         d.cfg.GetLogInterval(),
		Colours:             overlayColours,
		Link:                link,
		Machine:             machine,
		Renderer:            render.NewHeadlessRenderer(width, height, d.cfg.GetCamera()),
		Display:             d.display,
		Keys:                d.keys,
		Metrics:             metrics,
		Observers:           observers,
	})
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	d.current = loop
	d.status = sessionStatus{
		SessionID: sess.ID,
		Peer:      sess.RemoteAddr(),
		Live:      true,
		StartedAt: started,
		Sessions:  d.status.Sessions + 1,
	}
	d.mu.Unlock()
	d.setLive(true)

	runErr := loop.Run(ctx)

	d.setLive(false)
	d.mu.Lock()
	d.status.Live = false
	d.status.Stats = loop.Stats()
	for _, s := range machine.States() {
		d.status.States = append(d.status.States, string(s))
	}
	d.current = nil
	d.mu.Unlock()

	reason := endClosed
	switch {
	case runErr != nil:
		reason = runErr.Error()
	case ctx.Err() != nil:
		reason = endCancelled
	}
	if d.db != nil {
		if err := d.db.EndSession(sess.ID, time.Now(), reason); err != nil {
			log.Printf("session %s: failed to record session end: %v", sess.ID, err)
		}
	}
	log.Printf("session %s ended after %s: %s", sess.ID, time.Since(started).Round(time.Millisecond), reason)

	if runErr != nil {
		return false, fmt.Errorf("session %s: %w", sess.ID, runErr)
	}
	return ctx.Err() == nil, nil
}

// serve accepts sessions until the operator closes one, ctx ends, or
// limit sessions have run (limit 0 serves forever). With keepGoing,
// transport failures end the session but not the daemon.
func (d *daemon) serve(ctx context.Context, lis *transport.Listener, limit int, keepGoing bool) error {
	for n := 0; limit == 0 || n < limit; n++ {
		closed, err := d.serveSession(ctx, lis)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && errors.Is(err, transport.ErrAcceptFailed):
			return err
		case err != nil && keepGoing:
			log.Printf("session failed: %v", err)
		case err != nil:
			return err
		case closed:
			return nil
		}
	}
	return nil
}
