package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/holotrack/internal/pcapreplay"
	"github.com/banshee-data/holotrack/internal/transport"
)

func newReplayCmd() *cobra.Command {
	var (
		addr    string
		port    int
		flow    string
		speed   float64
		framing string
		linger  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Replay a captured headset byte stream against a live daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segs, err := pcapreplay.Load(args[0], port)
			if err != nil {
				return err
			}
			flows := pcapreplay.Flows(segs)
			if flow == "" {
				flow = flows[0]
			}
			segs = pcapreplay.Filter(segs, flow)
			if len(segs) == 0 {
				return fmt.Errorf("flow %s not in capture (have %v)", flow, flows)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			peer, err := transport.Dial(ctx, addr, transport.Framing(framing))
			cancel()
			if err != nil {
				return err
			}
			defer peer.Close()

			poses := make(chan int, 1)
			go func() {
				n := 0
				for {
					if _, err := peer.ReadPose(0); err != nil {
						poses <- n
						return
					}
					n++
				}
			}()

			written, err := pcapreplay.Replay(cmd.Context(), segs, peer, pcapreplay.Options{Speed: speed})
			if err != nil {
				return err
			}
			time.Sleep(linger)
			peer.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d segments (%d bytes) from %s, received %d poses\n",
				len(segs), written, flow, <-poses)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "127.0.0.1:27015", "Daemon address")
	f.IntVar(&port, "port", 27015, "Daemon port in the capture")
	f.StringVar(&flow, "flow", "", "Client flow (ip:port) to replay (default: the first)")
	f.Float64Var(&speed, "speed", 1, "Timing scale; 0 sends back to back")
	f.StringVar(&framing, "framing", string(transport.FramingRaw), "Pose framing the daemon uses")
	f.DurationVar(&linger, "linger", time.Second, "How long to keep reading poses after the last segment")
	return cmd
}
