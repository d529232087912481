package cycle

import (
	"github.com/banshee-data/holotrack/internal/pose"
	"github.com/banshee-data/holotrack/internal/transport"
)

// Link is the loop's view of the transport for one cycle.
type Link interface {
	// Frame returns a new payload for cycle seq, or nil when none is read
	// this cycle. The payload is only valid until the next call.
	Frame(seq uint64) ([]byte, error)
	// Send transmits one delta pose.
	Send(p pose.Pose) error
}

// Conn is the blocking half of a transport session.
type Conn interface {
	ReceiveFramePayload() ([]byte, error)
	SendPosePayload(p pose.Pose) error
}

type syncLink struct {
	conn      Conn
	readEvery uint64
}

// SyncLink reads on the calling goroutine every readEvery cycles,
// starting with the first, and writes every pose synchronously.
func SyncLink(conn Conn, readEvery int) Link {
	if readEvery < 1 {
		readEvery = 1
	}
	return &syncLink{conn: conn, readEvery: uint64(readEvery)}
}

func (l *syncLink) Frame(seq uint64) ([]byte, error) {
	if seq%l.readEvery != 0 {
		return nil, nil
	}
	return l.conn.ReceiveFramePayload()
}

func (l *syncLink) Send(p pose.Pose) error {
	return l.conn.SendPosePayload(p)
}

type asyncLink struct {
	pump *transport.Pump
}

// AsyncLink takes the newest payload the pump has received, if any, every
// cycle and hands poses to the pump writer. Fatal pump errors surface on
// the next call.
func AsyncLink(p *transport.Pump) Link {
	return &asyncLink{pump: p}
}

func (l *asyncLink) Frame(uint64) ([]byte, error) {
	if err := l.pump.Err(); err != nil {
		return nil, err
	}
	payload, _ := l.pump.LatestFrame()
	return payload, nil
}

func (l *asyncLink) Send(p pose.Pose) error {
	if err := l.pump.Err(); err != nil {
		return err
	}
	l.pump.SubmitPose(p)
	return nil
}
