package transport

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/holotrack/internal/monitoring"
	"github.com/banshee-data/holotrack/internal/pose"
)

// Pump moves frame reads and pose writes off the caller's goroutine. The
// receive side keeps only the newest payload and the send side only the
// newest pose, so a slow peer never stalls the caller.
type Pump struct {
	sess   *Session
	frames *Slot[[]byte]
	poses  *Slot[pose.Pose]

	cancel context.CancelFunc
	wg     sync.WaitGroup

	errOnce sync.Once
	errMu   sync.Mutex
	err     error
	done    chan struct{}

	throttle *monitoring.Throttle
}

// PumpStats is a snapshot of the pump counters.
type PumpStats struct {
	FramesReceived uint64
	FramesDropped  uint64
	PosesSubmitted uint64
	PosesDropped   uint64
}

// StartPump launches the reader and writer goroutines for sess.
func StartPump(ctx context.Context, sess *Session) *Pump {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pump{
		sess:     sess,
		frames:   NewSlot[[]byte](),
		poses:    NewSlot[pose.Pose](),
		cancel:   cancel,
		done:     make(chan struct{}),
		throttle: monitoring.NewThrottle(5 * time.Second),
	}
	p.wg.Add(2)
	go p.receiveLoop(ctx)
	go p.sendLoop(ctx)
	return p
}

func (p *Pump) receiveLoop(ctx context.Context) {
	defer p.wg.Done()
	for ctx.Err() == nil {
		payload, err := p.sess.ReceiveFramePayload()
		if err != nil {
			if !IsFatal(err) {
				p.throttle.Tagf("oversize", "transport", "skipping inbound message: %v", err)
				continue
			}
			p.fail(err)
			return
		}
		// The session reuses its buffer.
		cp := make([]byte, len(payload))
		copy(cp, payload)
		p.frames.Put(cp)
	}
}

func (p *Pump) sendLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		next, err := p.poses.Take(ctx)
		if err != nil {
			return
		}
		if err := p.sess.SendPosePayload(next); err != nil {
			p.fail(err)
			return
		}
	}
}

func (p *Pump) fail(err error) {
	p.errOnce.Do(func() {
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
		close(p.done)
	})
}

// LatestFrame returns the newest unconsumed payload, if any.
func (p *Pump) LatestFrame() ([]byte, bool) {
	return p.frames.TryTake()
}

// SubmitPose queues a pose for sending, replacing any pose not yet written.
func (p *Pump) SubmitPose(q pose.Pose) {
	p.poses.Put(q)
}

// Err returns the first fatal error seen by either goroutine, or nil.
func (p *Pump) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Done is closed when the pump hits a fatal error.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Stats returns the current counters.
func (p *Pump) Stats() PumpStats {
	return PumpStats{
		FramesReceived: p.frames.Puts(),
		FramesDropped:  p.frames.Drops(),
		PosesSubmitted: p.poses.Puts(),
		PosesDropped:   p.poses.Drops(),
	}
}

// Stop closes the session and waits for both goroutines to exit.
func (p *Pump) Stop() {
	p.cancel()
	p.sess.Close()
	p.wg.Wait()
}
