// Package input turns operator key presses into single-rune commands that
// the control loop polls once per cycle without blocking.
package input

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/holotrack/internal/monitoring"
)

// Command keys understood by the control loop.
const (
	KeyToggleFirst  = '1'
	KeyToggleSecond = '2'
	KeyReset        = 'r'
	KeyClose        = 'c'
)

// KeySource is polled once per cycle. PollKey never blocks.
type KeySource interface {
	PollKey() (rune, bool)
	Close() error
}

const keyBuffer = 16

// StreamKeys reads bytes from a stream on a background goroutine. Keys that
// arrive while the buffer is full are dropped.
type StreamKeys struct {
	keys    chan rune
	closeFn func() error
	once    sync.Once
	dropped atomic.Uint64
	done    chan struct{}
}

// NewStreamKeys starts reading r. closeFn, if set, is called by Close and
// should unblock the reader.
func NewStreamKeys(r io.Reader, closeFn func() error) *StreamKeys {
	s := &StreamKeys{
		keys:    make(chan rune, keyBuffer),
		closeFn: closeFn,
		done:    make(chan struct{}),
	}
	go s.read(r)
	return s
}

func (s *StreamKeys) read(r io.Reader) {
	defer close(s.done)
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b == '\r' || b == '\n' {
				continue
			}
			select {
			case s.keys <- rune(b):
			default:
				s.dropped.Add(1)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				monitoring.Tagf("input", "key reader stopped: %v", err)
			}
			return
		}
	}
}

// PollKey returns the oldest unread key, if any.
func (s *StreamKeys) PollKey() (rune, bool) {
	select {
	case k := <-s.keys:
		return k, true
	default:
		return 0, false
	}
}

// Dropped returns the number of keys lost to a full buffer.
func (s *StreamKeys) Dropped() uint64 { return s.dropped.Load() }

// Done is closed once the reader goroutine exits.
func (s *StreamKeys) Done() <-chan struct{} { return s.done }

func (s *StreamKeys) Close() error {
	var err error
	s.once.Do(func() {
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}

// ScriptedKeys replays a fixed script, one character per poll. A '.' is a
// cycle with no key; once the script is exhausted no more keys arrive.
type ScriptedKeys struct {
	mu     sync.Mutex
	script []rune
	pos    int
}

func NewScriptedKeys(script string) *ScriptedKeys {
	return &ScriptedKeys{script: []rune(script)}
}

func (s *ScriptedKeys) PollKey() (rune, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.script) {
		return 0, false
	}
	k := s.script[s.pos]
	s.pos++
	if k == '.' {
		return 0, false
	}
	return k, true
}

// Polls returns how many times PollKey consumed a script position.
func (s *ScriptedKeys) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *ScriptedKeys) Close() error { return nil }

// NoKeys never yields a key.
type NoKeys struct{}

func (NoKeys) PollKey() (rune, bool) { return 0, false }
func (NoKeys) Close() error          { return nil }
