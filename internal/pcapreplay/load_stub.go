//go:build !pcap
// +build !pcap

package pcapreplay

import (
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// Load reads a classic pcap file with the pure Go reader. Build with
// -tags=pcap for pcapng support and kernel BPF filtering.
func Load(path string, dstPort int) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read capture header %s: %w", path, err)
	}
	return Collect(gopacket.NewPacketSource(r, r.LinkType()), dstPort)
}
