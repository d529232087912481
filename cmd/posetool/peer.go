package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/holotrack/internal/frame"
	"github.com/banshee-data/holotrack/internal/transport"
)

type peerOptions struct {
	addr          string
	width, height int
	framing       string
	frames        int
	posesPerFrame int
	interval      time.Duration
	hello         bool
	timeout       time.Duration
}

func newPeerCmd() *cobra.Command {
	var o peerOptions
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Act as a headset: stream synthetic frames and print delta poses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeer(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "127.0.0.1:27015", "Daemon address")
	f.IntVar(&o.width, "width", 1408, "Frame width")
	f.IntVar(&o.height, "height", 792, "Frame height")
	f.StringVar(&o.framing, "framing", string(transport.FramingRaw), "raw or length-prefixed")
	f.IntVar(&o.frames, "frames", 30, "Frames to send")
	f.IntVar(&o.posesPerFrame, "poses-per-frame", 3, "Poses to read after each frame (the daemon's read_every)")
	f.DurationVar(&o.interval, "interval", 33*time.Millisecond, "Delay between frames")
	f.BoolVar(&o.hello, "hello", true, "Send the width*height hello first")
	f.DurationVar(&o.timeout, "timeout", 5*time.Second, "Per-pose read timeout")
	return cmd
}

// syntheticFrame draws a gradient whose phase advances with i.
func syntheticFrame(buf []byte, width, height, i int) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := (y*width + x) * frame.Channels
			buf[off] = byte(x + i)
			buf[off+1] = byte(y + i)
			buf[off+2] = byte(i)
			buf[off+3] = 255
		}
	}
}

func runPeer(cmd *cobra.Command, o peerOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	peer, err := transport.Dial(ctx, o.addr, transport.Framing(o.framing))
	cancel()
	if err != nil {
		return err
	}
	defer peer.Close()

	out := cmd.OutOrStdout()
	if o.hello {
		if err := peer.SendHello(o.width * o.height); err != nil {
			return err
		}
	}

	buf := make([]byte, frame.ExpectedSize(o.width, o.height))
	seq := 0
	for i := 0; i < o.frames; i++ {
		syntheticFrame(buf, o.width, o.height, i)
		if err := peer.SendFrame(buf); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		for j := 0; j < o.posesPerFrame; j++ {
			p, err := peer.ReadPose(o.timeout)
			if err != nil {
				return fmt.Errorf("pose %d: %w", seq, err)
			}
			x, y, z := p.TranslationVector()
			fmt.Fprintf(out, "%6d  t=(%9.3f %9.3f %9.3f)\n", seq, x, y, z)
			seq++
		}
		if o.interval > 0 && i < o.frames-1 {
			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(o.interval):
			}
		}
	}
	fmt.Fprintf(out, "sent %d frames, received %d poses\n", o.frames, seq)
	return nil
}
