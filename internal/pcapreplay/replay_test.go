package pcapreplay

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPacket struct {
	at      time.Time
	srcPort uint16
	dstPort uint16
	seq     uint32
	payload []byte
}

func encodePacket(t *testing.T, p testPacket) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 2),
		DstIP:    net.IPv4(10, 0, 0, 1),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(p.srcPort),
		DstPort: layers.TCPPort(p.dstPort),
		Seq:     p.seq,
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(p.payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, packets []testPacket) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, p := range packets {
		data := encodePacket(t, p)
		ci := gopacket.CaptureInfo{Timestamp: p.at, CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return out.Bytes()
}

func collectBytes(t *testing.T, capture []byte, port int) ([]Segment, error) {
	t.Helper()
	r, err := pcapgo.NewReader(bytes.NewReader(capture))
	require.NoError(t, err)
	return Collect(gopacket.NewPacketSource(r, r.LinkType()), port)
}

func fixture() []testPacket {
	base := time.Unix(1700000000, 0)
	return []testPacket{
		{at: base, srcPort: 50000, dstPort: 27015, seq: 100, payload: []byte("hello")},
		{at: base.Add(10 * time.Millisecond), srcPort: 27015, dstPort: 50000, seq: 900, payload: []byte("pose!")},
		{at: base.Add(20 * time.Millisecond), srcPort: 50000, dstPort: 27015, seq: 105, payload: []byte("frame")},
		// retransmission of the previous segment
		{at: base.Add(30 * time.Millisecond), srcPort: 50000, dstPort: 27015, seq: 105, payload: []byte("frame")},
		{at: base.Add(40 * time.Millisecond), srcPort: 50000, dstPort: 27015, seq: 110, payload: []byte("!")},
	}
}

func TestCollect_PayloadsToPort(t *testing.T) {
	t.Parallel()
	segs, err := collectBytes(t, writeCapture(t, fixture()), 27015)
	require.NoError(t, err)
	require.Len(t, segs, 3)

	var joined []byte
	for _, s := range segs {
		joined = append(joined, s.Payload...)
	}
	assert.Equal(t, "helloframe!", string(joined))
	assert.Equal(t, []string{"10.0.0.2:50000"}, Flows(segs))
	assert.Len(t, Filter(segs, "10.0.0.2:50000"), 3)
	assert.Empty(t, Filter(segs, "other"))
}

func TestCollect_NoMatchingPort(t *testing.T) {
	t.Parallel()
	_, err := collectBytes(t, writeCapture(t, fixture()), 1234)
	assert.True(t, errors.Is(err, ErrNoSegments))
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "session.pcap")
	require.NoError(t, os.WriteFile(path, writeCapture(t, fixture()), 0o644))
	segs, err := Load(path, 27015)
	require.NoError(t, err)
	assert.Len(t, segs, 3)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.pcap"), 27015)
	assert.Error(t, err)
}

func TestReplay_BackToBack(t *testing.T) {
	t.Parallel()
	segs := []Segment{{Payload: []byte("ab")}, {Payload: []byte("cde")}}
	var buf bytes.Buffer
	n, err := Replay(context.Background(), segs, &buf, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "abcde", buf.String())
}

func TestReplay_PacedAndCancelled(t *testing.T) {
	t.Parallel()
	base := time.Unix(0, 0)
	segs := []Segment{
		{Timestamp: base, Payload: []byte("a")},
		{Timestamp: base.Add(time.Hour), Payload: []byte("b")},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	n, err := Replay(ctx, segs, &buf, Options{Speed: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "a", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestReplay_WriteError(t *testing.T) {
	t.Parallel()
	_, err := Replay(context.Background(), []Segment{{Payload: []byte("x")}}, failingWriter{}, Options{})
	assert.ErrorContains(t, err, "write segment 0")
}
