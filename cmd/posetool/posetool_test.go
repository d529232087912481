package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/holotrack/internal/frame"
	"github.com/banshee-data/holotrack/internal/pose"
	"github.com/banshee-data/holotrack/internal/posedb"
	"github.com/banshee-data/holotrack/internal/testutil"
	"github.com/banshee-data/holotrack/internal/transport"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedDB(t *testing.T, path string, poses int) string {
	t.Helper()
	db, err := posedb.Open(path)
	require.NoError(t, err)
	defer db.Close()

	id := "0123456789abcdef"
	start := time.Unix(1700000000, 0)
	require.NoError(t, db.StartSession(posedb.Session{
		ID: id, Peer: "10.0.0.2:50000", Width: 8, Height: 4, Framing: "raw", StartedAt: start,
	}))
	batch := make([]posedb.DeltaPose, poses)
	for i := range batch {
		batch[i] = posedb.DeltaPose{
			SessionID:  id,
			Seq:        uint64(i),
			State:      "tracking",
			Pose:       pose.Translation(float32(i), 0, 0),
			RecordedAt: start.Add(time.Duration(i) * time.Millisecond),
		}
	}
	require.NoError(t, db.RecordDeltaPoses(batch))
	require.NoError(t, db.EndSession(id, start.Add(time.Second), "closed"))
	return id
}

func TestMigrateCommands(t *testing.T) {
	t.Parallel()
	path := testutil.TempDBPath(t)

	out, err := execute(t, "--db", path, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 2 (clean)")

	out, err = execute(t, "--db", path, "migrate", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 2")

	out, err = execute(t, "--db", path, "migrate", "down")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1 (clean)")
}

func TestSessionsCommand(t *testing.T) {
	t.Parallel()
	path := testutil.TempDBPath(t)

	out, err := execute(t, "--db", path, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")

	id := seedDB(t, path, 4)
	out, err = execute(t, "--db", path, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "8x4")
	assert.Contains(t, out, "closed")
}

func TestPlotCommand(t *testing.T) {
	t.Parallel()
	path := testutil.TempDBPath(t)
	seedDB(t, path, 10)
	img := filepath.Join(t.TempDir(), "out.png")

	out, err := execute(t, "--db", path, "plot", "-o", img)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 10 poses")
	info, err := os.Stat(img)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPlotCommand_NoSessions(t *testing.T) {
	t.Parallel()
	_, err := execute(t, "--db", testutil.TempDBPath(t), "plot")
	assert.ErrorIs(t, err, posedb.ErrSessionNotFound)
}

func TestShortID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "01234567", shortID("0123456789"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestPeerCommand(t *testing.T) {
	t.Parallel()
	const w, h = 4, 2
	opts := transport.Options{
		Framing:         transport.FramingLengthPrefixed,
		MaxPayloadBytes: 2 * frame.ExpectedSize(w, h),
	}
	lis, err := transport.Listen("127.0.0.1:0", opts)
	require.NoError(t, err)
	defer lis.Close()

	// A minimal daemon: check the hello, then answer every frame with
	// two poses.
	served := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sess, err := lis.Accept(ctx)
		if err != nil {
			served <- err
			return
		}
		defer sess.Close()
		if err := sess.ReadHello(w * h); err != nil {
			served <- err
			return
		}
		for i := 0; i < 3; i++ {
			if _, err := sess.ReceiveFramePayload(); err != nil {
				served <- err
				return
			}
			for j := 0; j < 2; j++ {
				if err := sess.SendPosePayload(pose.Translation(float32(i), float32(j), 0)); err != nil {
					served <- err
					return
				}
			}
		}
		served <- nil
	}()

	out, err := execute(t, "peer",
		"--addr", lis.Addr().String(),
		"--width", "4", "--height", "2",
		"--framing", "length-prefixed",
		"--frames", "3", "--poses-per-frame", "2",
		"--interval", "0")
	require.NoError(t, err)
	require.NoError(t, <-served)

	assert.Contains(t, out, "sent 3 frames, received 6 poses")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 7)
	assert.Contains(t, lines[5], "2.000")
}

func TestSyntheticFrame(t *testing.T) {
	t.Parallel()
	buf := make([]byte, frame.ExpectedSize(3, 2))
	syntheticFrame(buf, 3, 2, 5)
	f, err := frame.FromPixels(buf, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, [frame.Channels]byte{7, 6, 5, 255}, f.At(2, 1))
}

func TestReplayCommand_MissingCapture(t *testing.T) {
	t.Parallel()
	_, err := execute(t, "replay", filepath.Join(t.TempDir(), "none.pcap"))
	assert.Error(t, err)
}
