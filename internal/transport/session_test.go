package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/holotrack/internal/pose"
	"github.com/banshee-data/holotrack/internal/testutil"
)

func rawOptions() Options {
	return Options{
		Framing:         FramingRaw,
		MaxPayloadBytes: 4096,
		DrainWindow:     50 * time.Millisecond,
	}
}

func prefixedOptions(max int) Options {
	return Options{
		Framing:         FramingLengthPrefixed,
		MaxPayloadBytes: max,
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestSession_ReadHello(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, rawOptions())
	peer := NewPeer(client, FramingRaw)

	require.NoError(t, peer.SendHello(1408*792))
	require.NoError(t, sess.ReadHello(1408*792))
}

func TestSession_ReadHelloMismatch(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, rawOptions())
	peer := NewPeer(client, FramingRaw)

	require.NoError(t, peer.SendHello(640*480))
	err := sess.ReadHello(1408 * 792)
	assert.ErrorIs(t, err, ErrHandshake)
	assert.True(t, IsFatal(err))
}

func TestSession_RawReceive(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, rawOptions())

	want := pattern(1000)
	_, err := client.Write(want)
	require.NoError(t, err)

	got, err := sess.ReceiveFramePayload()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSession_RawReceiveCapsAtMaxPayload(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	opts := rawOptions()
	opts.MaxPayloadBytes = 100
	sess := NewSession(server, opts)

	_, err := client.Write(pattern(150))
	require.NoError(t, err)

	first, err := sess.ReceiveFramePayload()
	require.NoError(t, err)
	assert.Len(t, first, 100)

	rest, err := sess.ReceiveFramePayload()
	require.NoError(t, err)
	assert.Len(t, rest, 50)
}

func TestSession_LengthPrefixedReceive(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, prefixedOptions(4096))
	peer := NewPeer(client, FramingLengthPrefixed)

	a, b := pattern(300), bytes.Repeat([]byte{0xAB}, 17)
	require.NoError(t, peer.SendFrame(a))
	require.NoError(t, peer.SendFrame(b))

	got, err := sess.ReceiveFramePayload()
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = sess.ReceiveFramePayload()
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestSession_LengthPrefixedOversizeIsSkipped(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, prefixedOptions(16))
	peer := NewPeer(client, FramingLengthPrefixed)

	require.NoError(t, peer.SendFrame(pattern(32)))
	require.NoError(t, peer.SendFrame([]byte{1, 2, 3, 4, 5, 6, 7, 8}))

	_, err := sess.ReceiveFramePayload()
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.False(t, IsFatal(err))

	got, err := sess.ReceiveFramePayload()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, got)
}

func TestSession_LengthPrefixedTruncated(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, prefixedOptions(4096))

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 100)
	_, err := client.Write(append(hdr[:], pattern(10)...))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = sess.ReceiveFramePayload()
	assert.ErrorIs(t, err, ErrTruncated)
	assert.True(t, IsFatal(err))
}

func TestSession_Disconnect(t *testing.T) {
	t.Parallel()
	for _, framing := range []Framing{FramingRaw, FramingLengthPrefixed} {
		t.Run(string(framing), func(t *testing.T) {
			t.Parallel()
			server, client := testutil.LoopbackPair(t)
			sess := NewSession(server, Options{Framing: framing, MaxPayloadBytes: 64})
			require.NoError(t, client.Close())

			_, err := sess.ReceiveFramePayload()
			assert.ErrorIs(t, err, ErrDisconnected)
		})
	}
}

func TestSession_ReadTimeout(t *testing.T) {
	t.Parallel()
	server, _ := testutil.LoopbackPair(t)
	opts := rawOptions()
	opts.ReadTimeout = 30 * time.Millisecond
	sess := NewSession(server, opts)

	start := time.Now()
	_, err := sess.ReceiveFramePayload()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsFatal(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSession_SendPosePayloadRaw(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, rawOptions())

	require.NoError(t, sess.SendPosePayload(pose.Translation(1, 2, 3)))

	var buf [pose.WireSize + 1]byte
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf[:])
	require.NoError(t, err)
	require.Equal(t, pose.WireSize, n, "raw mode writes exactly one 64-byte payload")

	got, err := pose.Deserialize(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, pose.Translation(1, 2, 3), got)
}

func TestSession_SendPosePayloadPrefixed(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, prefixedOptions(64))
	peer := NewPeer(client, FramingLengthPrefixed)

	want := pose.FromPlacement(15, 0, 500, 195, -10, -20)
	require.NoError(t, sess.SendPosePayload(want))

	got, err := peer.ReadPose(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSession_SendAfterClose(t *testing.T) {
	t.Parallel()
	server, _ := testutil.LoopbackPair(t)
	sess := NewSession(server, rawOptions())
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	err := sess.SendPosePayload(pose.Identity())
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestListener_AcceptAndDial(t *testing.T) {
	t.Parallel()
	l, err := Listen("127.0.0.1:0", prefixedOptions(1024))
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peerCh := make(chan *Peer, 1)
	go func() {
		p, err := Dial(ctx, l.Addr().String(), FramingLengthPrefixed)
		if err != nil {
			peerCh <- nil
			return
		}
		peerCh <- p
	}()

	sess, err := l.Accept(ctx)
	require.NoError(t, err)
	defer sess.Close()
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, FramingLengthPrefixed, sess.Framing())

	peer := <-peerCh
	require.NotNil(t, peer)
	defer peer.Close()

	require.NoError(t, peer.SendFrame([]byte("hello")))
	got, err := sess.ReceiveFramePayload()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestListener_AcceptCancelled(t *testing.T) {
	t.Parallel()
	l, err := Listen("127.0.0.1:0", rawOptions())
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, ErrAcceptFailed)
}

func TestListen_BindFailed(t *testing.T) {
	t.Parallel()
	l, err := Listen("127.0.0.1:0", rawOptions())
	require.NoError(t, err)
	defer l.Close()

	_, err = Listen(l.Addr().String(), rawOptions())
	assert.ErrorIs(t, err, ErrBindFailed)
	assert.True(t, IsFatal(err))
}

func TestIsFatal(t *testing.T) {
	t.Parallel()
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(ErrPayloadTooLarge))
	for _, err := range []error{ErrBindFailed, ErrAcceptFailed, ErrDisconnected, ErrTruncated, ErrTimeout, ErrHandshake} {
		assert.True(t, IsFatal(err), err.Error())
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	timeout := &net.OpError{Op: "read", Err: timeoutErr{}}
	assert.ErrorIs(t, classify("read", timeout), ErrTimeout)
	assert.ErrorIs(t, classify("read", net.ErrClosed), ErrDisconnected)
	assert.ErrorIs(t, classify("read", errors.New("boom")), ErrDisconnected)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
