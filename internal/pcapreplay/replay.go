// Package pcapreplay extracts the peer-to-daemon TCP byte stream from a
// packet capture and replays it against a live daemon.
package pcapreplay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNoSegments is returned when a capture holds no payload for the port.
var ErrNoSegments = errors.New("no tcp payload for port")

// Segment is one TCP payload sent to the daemon.
type Segment struct {
	Timestamp time.Time
	Flow      string
	Payload   []byte
}

type flowState struct {
	next    uint32
	started bool
}

// Collect reads every packet from src and keeps the TCP payloads addressed
// to dstPort, in capture order. Retransmitted segments are skipped.
func Collect(src *gopacket.PacketSource, dstPort int) ([]Segment, error) {
	flows := make(map[string]*flowState)
	var out []Segment
	for packet := range src.Packets() {
		if packet == nil {
			break
		}
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)
		if int(tcp.DstPort) != dstPort || len(tcp.Payload) == 0 {
			continue
		}

		flow := tcp.TransportFlow().String()
		if nl := packet.NetworkLayer(); nl != nil {
			flow = nl.NetworkFlow().Src().String() + ":" + strconv.Itoa(int(tcp.SrcPort))
		}
		st, ok := flows[flow]
		if !ok {
			st = &flowState{}
			flows[flow] = st
		}
		if st.started && int32(tcp.Seq-st.next) < 0 {
			continue
		}
		st.started = true
		st.next = tcp.Seq + uint32(len(tcp.Payload))

		out = append(out, Segment{
			Timestamp: packet.Metadata().Timestamp,
			Flow:      flow,
			Payload:   append([]byte(nil), tcp.Payload...),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w %d", ErrNoSegments, dstPort)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Flows returns the distinct flows in segs in first-seen order.
func Flows(segs []Segment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segs {
		if !seen[s.Flow] {
			seen[s.Flow] = true
			out = append(out, s.Flow)
		}
	}
	return out
}

// Filter keeps the segments of one flow.
func Filter(segs []Segment, flow string) []Segment {
	var out []Segment
	for _, s := range segs {
		if s.Flow == flow {
			out = append(out, s)
		}
	}
	return out
}

// Options control Replay pacing.
type Options struct {
	// Speed scales the recorded inter-segment gaps; 2 replays twice as
	// fast. Zero or negative sends back to back.
	Speed float64
}

// Replay writes each payload to w, pacing by the capture timestamps.
// It returns the number of bytes written.
func Replay(ctx context.Context, segs []Segment, w io.Writer, opts Options) (int64, error) {
	var written int64
	for i, s := range segs {
		if i > 0 && opts.Speed > 0 {
			gap := time.Duration(float64(s.Timestamp.Sub(segs[i-1].Timestamp)) / opts.Speed)
			if gap > 0 {
				timer := time.NewTimer(gap)
				select {
				case <-ctx.Done():
					timer.Stop()
					return written, ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := w.Write(s.Payload)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write segment %d: %w", i, err)
		}
	}
	return written, nil
}
