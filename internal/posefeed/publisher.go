// Package posefeed republishes delta poses on Redis for downstream
// consumers: one JSON message per cycle on a pub/sub channel, and the most
// recent message under a "latest" key.
package posefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/banshee-data/holotrack/internal/cycle"
	"github.com/banshee-data/holotrack/internal/monitoring"
)

const (
	DefaultChannel   = "holotrack:poses"
	DefaultKeyPrefix = "holotrack:"
	defaultQueue     = 256
	publishTimeout   = time.Second
)

// Option configures a Publisher.
type Option func(*Publisher)

// WithChannel sets the pub/sub channel name.
func WithChannel(ch string) Option {
	return func(p *Publisher) {
		if ch != "" {
			p.channel = ch
		}
	}
}

// WithKeyPrefix sets the prefix of the "latest" key.
func WithKeyPrefix(prefix string) Option {
	return func(p *Publisher) { p.prefix = prefix }
}

// WithQueueSize bounds the number of messages waiting to be published.
func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithSession labels messages with a session id.
func WithSession(id string) Option {
	return func(p *Publisher) { p.session = id }
}

// Publisher implements cycle.PoseObserver. ObservePose never blocks; when
// Redis falls behind the queue fills and newer poses are dropped.
type Publisher struct {
	client    *backend.Client
	ownClient bool
	channel   string
	prefix    string
	session   string
	queueSize int

	queue     chan cycle.PoseMessage
	done      chan struct{}
	closeOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	throttle  *monitoring.Throttle
}

// New connects to the Redis server at addr.
func New(addr string, opts ...Option) *Publisher {
	p := NewFromClient(backend.NewClient(&backend.Options{Addr: addr}), opts...)
	p.ownClient = true
	return p
}

// NewFromClient publishes through an existing client. Close does not close
// the client.
func NewFromClient(client *backend.Client, opts ...Option) *Publisher {
	p := &Publisher{
		client:    client,
		channel:   DefaultChannel,
		prefix:    DefaultKeyPrefix,
		queueSize: defaultQueue,
		done:      make(chan struct{}),
		throttle:  monitoring.NewThrottle(10 * time.Second),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan cycle.PoseMessage, p.queueSize)
	go p.run()
	return p
}

// Ping checks connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Channel returns the pub/sub channel name.
func (p *Publisher) Channel() string { return p.channel }

// LatestKey returns the key holding the most recent message.
func (p *Publisher) LatestKey() string { return p.prefix + "latest" }

// ObservePose implements cycle.PoseObserver.
func (p *Publisher) ObservePose(s cycle.Sample) {
	select {
	case p.queue <- s.Message(p.session):
	default:
		n := p.dropped.Add(1)
		p.throttle.Tagf("drop", "posefeed", "queue full, dropped %d poses so far", n)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		if err := p.publish(msg); err != nil {
			p.failed.Add(1)
			p.throttle.Tagf("publish", "posefeed", "publish seq %d: %v", msg.Seq, err)
			continue
		}
		p.published.Add(1)
	}
}

func (p *Publisher) publish(msg cycle.PoseMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal pose: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.Set(ctx, p.LatestKey(), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Close drains queued messages and stops the publisher.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.queue)
		<-p.done
		if p.ownClient {
			err = p.client.Close()
		}
		monitoring.Tagf("posefeed", "closed: %d published, %d dropped, %d failed",
			p.published.Load(), p.dropped.Load(), p.failed.Load())
	})
	return err
}

// Published returns the number of messages accepted by Redis.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Dropped returns the number of poses discarded because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Failed returns the number of messages Redis rejected.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }
