package posedb

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/holotrack/internal/cycle"
	"github.com/banshee-data/holotrack/internal/monitoring"
)

// Recorder writes delta poses on a background goroutine. ObservePose never
// blocks the control loop: when the queue is full the sample is dropped
// and counted.
type Recorder struct {
	db        *DB
	sessionID string
	queue     chan DeltaPose
	batchSize int

	wg        sync.WaitGroup
	closeOnce sync.Once
	written   atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	warn      *monitoring.Throttle
}

// NewRecorder starts a recorder for sessionID with room for queueSize
// pending samples.
func NewRecorder(db *DB, sessionID string, queueSize int) *Recorder {
	if queueSize < 1 {
		queueSize = 1024
	}
	r := &Recorder{
		db:        db,
		sessionID: sessionID,
		queue:     make(chan DeltaPose, queueSize),
		batchSize: 64,
		warn:      monitoring.NewThrottle(10 * time.Second),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// ObservePose implements cycle.PoseObserver.
func (r *Recorder) ObservePose(s cycle.Sample) {
	d := DeltaPose{
		SessionID:  r.sessionID,
		Seq:        s.Seq,
		State:      string(s.State),
		FreshFrame: s.FreshFrame,
		Pose:       s.Delta,
		RecordedAt: s.At,
	}
	select {
	case r.queue <- d:
	default:
		n := r.dropped.Add(1)
		r.warn.Tagf("dropped", "posedb", "recorder queue full, %d samples dropped", n)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	batch := make([]DeltaPose, 0, r.batchSize)
	for d := range r.queue {
		batch = append(batch[:0], d)
		// Take whatever else is already waiting.
	fill:
		for len(batch) < r.batchSize {
			select {
			case next, ok := <-r.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		if err := r.db.RecordDeltaPoses(batch); err != nil {
			r.failed.Add(uint64(len(batch)))
			r.warn.Tagf("write", "posedb", "write %d poses: %v", len(batch), err)
			continue
		}
		r.written.Add(uint64(len(batch)))
	}
}

// Close flushes queued samples and stops the writer. Do not call
// ObservePose after Close.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		r.wg.Wait()
		monitoring.Tagf("posedb", "recorder closed: %d written, %d dropped, %d failed",
			r.written.Load(), r.dropped.Load(), r.failed.Load())
	})
}

func (r *Recorder) Written() uint64 { return r.written.Load() }
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
