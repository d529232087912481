// Package transport owns the single TCP connection to the headset peer. It
// reads frame payloads and writes pose payloads and knows nothing about
// tracking.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/holotrack/internal/monitoring"
	"github.com/banshee-data/holotrack/internal/pose"
)

// Framing selects how messages are delimited on the stream.
type Framing string

const (
	// FramingRaw treats whatever bytes are available as one message. This is
	// the protocol the headset client speaks; message boundaries depend on
	// how the stream happens to be segmented.
	FramingRaw Framing = "raw"
	// FramingLengthPrefixed sends a 4-byte little-endian length before
	// every message in both directions.
	FramingLengthPrefixed Framing = "length-prefixed"
)

const headerSize = 4

// Options configure a Session.
type Options struct {
	Framing Framing
	// MaxPayloadBytes bounds one inbound message.
	MaxPayloadBytes int
	// ReadTimeout and WriteTimeout set per-operation deadlines. Zero blocks
	// forever.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// DrainWindow is how long a raw read waits for more bytes after the
	// previous chunk before it considers the message complete.
	DrainWindow time.Duration
}

// Session is one accepted peer connection. Reads and writes may run on
// different goroutines; concurrent reads (or concurrent writes) serialize.
type Session struct {
	ID string

	conn net.Conn
	opts Options

	readMu sync.Mutex
	rbuf   []byte

	writeMu sync.Mutex
	wbuf    []byte

	closeOnce sync.Once
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn, opts Options) *Session {
	if opts.Framing == "" {
		opts.Framing = FramingRaw
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = 1 << 20
	}
	return &Session{
		ID:   uuid.NewString(),
		conn: conn,
		opts: opts,
		wbuf: make([]byte, 0, headerSize+pose.WireSize),
	}
}

// Listener accepts the peer connection.
type Listener struct {
	ln   net.Listener
	opts Options
}

// Listen binds addr for TCP.
func Listen(addr string, opts Options) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBindFailed, addr, err)
	}
	return &Listener{ln: ln, opts: opts}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept blocks until one peer connects or ctx is cancelled.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrAcceptFailed, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrAcceptFailed, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	s := NewSession(conn, l.opts)
	monitoring.Tagf("transport", "accepted peer %s (session %s, framing %s)", conn.RemoteAddr(), s.ID, s.opts.Framing)
	return s, nil
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// AcceptConnection binds addr, waits for exactly one peer and stops
// listening. Only one peer is served per process run.
func AcceptConnection(ctx context.Context, addr string, opts Options) (*Session, error) {
	l, err := Listen(addr, opts)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	monitoring.Tagf("transport", "waiting for peer on %s", l.Addr())
	return l.Accept(ctx)
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Framing returns the session framing mode.
func (s *Session) Framing() Framing {
	return s.opts.Framing
}

// ReadHello consumes the 4-byte little-endian pixel count the headset sends
// right after connecting and checks it against the configured frame size.
func (s *Session) ReadHello(expectedPixels int) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.setReadDeadline()
	var hello [4]byte
	if _, err := io.ReadFull(s.conn, hello[:]); err != nil {
		return classify("hello", err)
	}
	got := int(int32(binary.LittleEndian.Uint32(hello[:])))
	if got != expectedPixels {
		return fmt.Errorf("%w: peer announced %d pixels, expected %d", ErrHandshake, got, expectedPixels)
	}
	return nil
}

// ReceiveFramePayload blocks until one inbound message is available. The
// returned slice is reused by the next call; callers that keep it must copy.
// The byte count is not checked against any frame size here.
func (s *Session) ReceiveFramePayload() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.rbuf == nil {
		s.rbuf = make([]byte, s.opts.MaxPayloadBytes)
	}
	if s.opts.Framing == FramingLengthPrefixed {
		return s.receivePrefixed()
	}
	return s.receiveRaw()
}

func (s *Session) receiveRaw() ([]byte, error) {
	s.setReadDeadline()
	n, err := s.conn.Read(s.rbuf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, classify("read", err)
	}

	// Keep collecting while bytes arrive within the drain window.
	total := n
	for err == nil && total < len(s.rbuf) && s.opts.DrainWindow > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.opts.DrainWindow))
		n, err = s.conn.Read(s.rbuf[total:])
		total += n
	}
	s.conn.SetReadDeadline(time.Time{})

	// A disconnect after some data still delivers the data; the next call
	// reports the disconnect.
	return s.rbuf[:total], nil
}

func (s *Session) receivePrefixed() ([]byte, error) {
	s.setReadDeadline()
	var hdr [headerSize]byte
	if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
		return nil, classify("read header", err)
	}
	size := int64(binary.LittleEndian.Uint32(hdr[:]))

	if size > int64(len(s.rbuf)) {
		if _, err := io.CopyN(io.Discard, s.conn, size); err != nil {
			return nil, classify("discard payload", err)
		}
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, size, len(s.rbuf))
	}

	if _, err := io.ReadFull(s.conn, s.rbuf[:size]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, classify("read payload", err)
	}
	return s.rbuf[:size], nil
}

// SendPosePayload writes one pose: exactly pose.WireSize bytes, preceded by
// the 4-byte length header in length-prefixed mode.
func (s *Session) SendPosePayload(p pose.Pose) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	out := s.wbuf[:0]
	if s.opts.Framing == FramingLengthPrefixed {
		out = binary.LittleEndian.AppendUint32(out, pose.WireSize)
	}
	out = pose.AppendEncoded(out, p)

	if s.opts.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	if _, err := s.conn.Write(out); err != nil {
		return classify("write", err)
	}
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *Session) setReadDeadline() {
	if s.opts.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}
}
