package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/banshee-data/holotrack/internal/pose"
)

// Peer is the client end of the protocol: it plays the headset role for
// tools and tests.
type Peer struct {
	conn    net.Conn
	framing Framing
}

// Dial connects to a tracking server.
func Dial(ctx context.Context, addr string, framing Framing) (*Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewPeer(conn, framing), nil
}

// NewPeer wraps an established connection.
func NewPeer(conn net.Conn, framing Framing) *Peer {
	if framing == "" {
		framing = FramingRaw
	}
	return &Peer{conn: conn, framing: framing}
}

// SendHello announces the frame pixel count.
func (p *Peer) SendHello(pixels int) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(pixels)))
	if _, err := p.conn.Write(b[:]); err != nil {
		return classify("write hello", err)
	}
	return nil
}

// SendFrame writes one frame payload.
func (p *Peer) SendFrame(payload []byte) error {
	if p.framing == FramingLengthPrefixed {
		var hdr [headerSize]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
		if _, err := p.conn.Write(hdr[:]); err != nil {
			return classify("write header", err)
		}
	}
	if _, err := p.conn.Write(payload); err != nil {
		return classify("write frame", err)
	}
	return nil
}

// ReadPose blocks for the next pose payload. A zero timeout waits forever.
func (p *Peer) ReadPose(timeout time.Duration) (pose.Pose, error) {
	if timeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(timeout))
		defer p.conn.SetReadDeadline(time.Time{})
	}
	if p.framing == FramingLengthPrefixed {
		var hdr [headerSize]byte
		if _, err := io.ReadFull(p.conn, hdr[:]); err != nil {
			return pose.Pose{}, classify("read header", err)
		}
		if n := binary.LittleEndian.Uint32(hdr[:]); n != pose.WireSize {
			return pose.Pose{}, fmt.Errorf("%w: pose message of %d bytes", ErrTruncated, n)
		}
	}
	var buf [pose.WireSize]byte
	if _, err := io.ReadFull(p.conn, buf[:]); err != nil {
		return pose.Pose{}, classify("read pose", err)
	}
	return pose.Deserialize(buf[:])
}

// Write sends b unframed, for replaying a captured byte stream.
func (p *Peer) Write(b []byte) (int, error) {
	n, err := p.conn.Write(b)
	if err != nil {
		return n, classify("write", err)
	}
	return n, nil
}

// Close closes the connection.
func (p *Peer) Close() error {
	return p.conn.Close()
}
