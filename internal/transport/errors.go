package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// Transport errors. Everything except ErrPayloadTooLarge ends the session;
// see IsFatal.
var (
	ErrBindFailed      = errors.New("bind failed")
	ErrAcceptFailed    = errors.New("accept failed")
	ErrDisconnected    = errors.New("peer disconnected")
	ErrTruncated       = errors.New("truncated message")
	ErrTimeout         = errors.New("transport deadline exceeded")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrHandshake       = errors.New("handshake mismatch")
)

// IsFatal reports whether err must terminate the session. An oversized
// length-prefixed message is skipped on the wire and the stream stays in
// sync, so it is the one recoverable transport error.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrPayloadTooLarge)
}

// classify maps a low-level I/O error onto the transport taxonomy.
func classify(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: %v", ErrTruncated, op, err)
	default:
		// EOF, reset, broken pipe and closed connections all mean the peer
		// is gone.
		return fmt.Errorf("%w: %s: %v", ErrDisconnected, op, err)
	}
}
