package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/holotrack/internal/config"
	"github.com/banshee-data/holotrack/internal/frame"
	"github.com/banshee-data/holotrack/internal/input"
	"github.com/banshee-data/holotrack/internal/monitor"
	"github.com/banshee-data/holotrack/internal/posedb"
	"github.com/banshee-data/holotrack/internal/render"
	"github.com/banshee-data/holotrack/internal/testutil"
	"github.com/banshee-data/holotrack/internal/tracking"
	"github.com/banshee-data/holotrack/internal/transport"
)

const (
	testW = 8
	testH = 4
)

func testConfig() *config.SessionConfig {
	cfg := config.DefaultSessionConfig()
	w, h, every, maxPayload := testW, testH, 3, 2*frame.ExpectedSize(testW, testH)
	framing, hello := config.FramingLengthPrefixed, true
	cfg.FrameWidth = &w
	cfg.FrameHeight = &h
	cfg.ReadEvery = &every
	cfg.MaxPayloadBytes = &maxPayload
	cfg.Framing = &framing
	cfg.ExpectHello = &hello
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.SessionConfig, keys string) (*daemon, *transport.Listener) {
	t.Helper()
	db, err := posedb.Open(testutil.TempDBPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d := &daemon{
		cfg:     cfg,
		keys:    input.NewScriptedKeys(keys),
		display: &render.NullDisplay{},
		db:      db,
		history: monitor.NewHistory(64),
		hub:     monitor.NewHub(),
	}
	lis, err := transport.Listen("127.0.0.1:0", d.transportOptions())
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })
	return d, lis
}

func connectPeer(t *testing.T, lis *transport.Listener) *transport.Peer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peer, err := transport.Dial(ctx, lis.Addr().String(), transport.FramingLengthPrefixed)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	return peer
}

func TestDaemon_SessionUntilOperatorClose(t *testing.T) {
	t.Parallel()
	d, lis := newTestDaemon(t, testConfig(), "....c")

	errCh := make(chan error, 1)
	go func() { errCh <- d.serve(context.Background(), lis, 0, false) }()

	peer := connectPeer(t, lis)
	require.NoError(t, peer.SendHello(testW*testH))
	frameBytes := make([]byte, frame.ExpectedSize(testW, testH))
	require.NoError(t, peer.SendFrame(frameBytes))
	require.NoError(t, peer.SendFrame(frameBytes))

	for i := 0; i < 5; i++ {
		_, err := peer.ReadPose(2 * time.Second)
		require.NoError(t, err, "pose %d", i)
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after the close key")
	}

	sess, err := d.db.LatestSession()
	require.NoError(t, err)
	assert.Equal(t, endClosed, sess.EndReason)
	assert.Equal(t, testW, sess.Width)
	assert.Equal(t, "length-prefixed", sess.Framing)

	n, err := d.db.CountDeltaPoses(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, d.history.Snapshot(), 5)

	st := d.Status().(sessionStatus)
	assert.False(t, st.Live)
	assert.Equal(t, sess.ID, st.SessionID)
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, uint64(5), st.Stats.PosesSent)
	assert.Equal(t, uint64(2), st.Stats.FramesReceived)
	assert.Equal(t, []string{string(tracking.StateIdle)}, st.States)
}

func TestDaemon_HelloMismatchFails(t *testing.T) {
	t.Parallel()
	d, lis := newTestDaemon(t, testConfig(), "")

	errCh := make(chan error, 1)
	go func() { errCh <- d.serve(context.Background(), lis, 1, false) }()

	peer := connectPeer(t, lis)
	require.NoError(t, peer.SendHello(testW*testH+1))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, transport.ErrHandshake)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not reject the hello")
	}
}

func TestDaemon_PeerDisconnectEndsSession(t *testing.T) {
	t.Parallel()
	d, lis := newTestDaemon(t, testConfig(), "")

	errCh := make(chan error, 1)
	go func() { errCh <- d.serve(context.Background(), lis, 1, false) }()

	peer := connectPeer(t, lis)
	require.NoError(t, peer.SendHello(testW*testH))
	require.NoError(t, peer.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, transport.ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not notice the disconnect")
	}

	sess, err := d.db.LatestSession()
	require.NoError(t, err)
	assert.Contains(t, sess.EndReason, "disconnected")
}

func TestDaemon_CancelWhileWaiting(t *testing.T) {
	t.Parallel()
	d, lis := newTestDaemon(t, testConfig(), "")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.serve(ctx, lis, 0, true) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon ignored cancellation")
	}
}

func TestDaemon_StatusEndpoint(t *testing.T) {
	t.Parallel()
	d, _ := newTestDaemon(t, testConfig(), "")
	srv := monitor.NewServer(monitor.Options{Status: d.Status})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"live":false`)
}

func TestOpenKeys(t *testing.T) {
	t.Parallel()
	keys, err := openKeys("none", config.DefaultSessionConfig())
	require.NoError(t, err)
	assert.IsType(t, input.NoKeys{}, keys)

	_, err = openKeys("serial", config.DefaultSessionConfig())
	assert.Error(t, err)

	_, err = openKeys("joystick", config.DefaultSessionConfig())
	assert.Error(t, err)
}

func TestNewEstimator(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	d := &daemon{cfg: cfg}
	assert.IsType(t, tracking.StaticEstimator{}, d.newEstimator(nil))

	synthetic := config.EstimatorSynthetic
	cfg.Estimator = &synthetic
	assert.IsType(t, &tracking.SyntheticEstimator{}, d.newEstimator(nil))
}
