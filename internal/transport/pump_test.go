package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/holotrack/internal/pose"
	"github.com/banshee-data/holotrack/internal/testutil"
)

func TestSlot_PutOverwritesAndCountsDrops(t *testing.T) {
	t.Parallel()
	s := NewSlot[int]()

	_, ok := s.TryTake()
	assert.False(t, ok)

	assert.False(t, s.Put(1))
	assert.True(t, s.Put(2))
	assert.True(t, s.Put(3))

	v, ok := s.TryTake()
	require.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = s.TryTake()
	assert.False(t, ok)

	assert.Equal(t, uint64(3), s.Puts())
	assert.Equal(t, uint64(2), s.Drops())
}

func TestSlot_TakeBlocksUntilPut(t *testing.T) {
	t.Parallel()
	s := NewSlot[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Put("frame")
	}()
	v, err := s.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frame", v)
}

func TestSlot_TakeHonoursContext(t *testing.T) {
	t.Parallel()
	s := NewSlot[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func waitFrame(t *testing.T, p *Pump) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f, ok := p.LatestFrame(); ok {
			return f
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no frame received")
	return nil
}

func TestPump_FramesAndPoses(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, prefixedOptions(1024))
	peer := NewPeer(client, FramingLengthPrefixed)

	p := StartPump(context.Background(), sess)
	defer p.Stop()

	require.NoError(t, peer.SendFrame(pattern(64)))
	assert.Equal(t, pattern(64), waitFrame(t, p))

	p.SubmitPose(pose.Translation(4, 5, 6))
	got, err := peer.ReadPose(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, pose.Translation(4, 5, 6), got)

	assert.NoError(t, p.Err())
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.FramesReceived)
	assert.Equal(t, uint64(1), stats.PosesSubmitted)
}

func TestPump_SkipsOversizeMessages(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, prefixedOptions(8))
	peer := NewPeer(client, FramingLengthPrefixed)

	p := StartPump(context.Background(), sess)
	defer p.Stop()

	require.NoError(t, peer.SendFrame(pattern(64)))
	require.NoError(t, peer.SendFrame([]byte{9, 9}))
	assert.Equal(t, []byte{9, 9}, waitFrame(t, p))
	assert.NoError(t, p.Err())
}

func TestPump_PeerDisconnectIsFatal(t *testing.T) {
	t.Parallel()
	server, client := testutil.LoopbackPair(t)
	sess := NewSession(server, rawOptions())

	p := StartPump(context.Background(), sess)
	defer p.Stop()

	require.NoError(t, client.Close())
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not report disconnect")
	}
	assert.ErrorIs(t, p.Err(), ErrDisconnected)
}
