//go:build pcap
// +build pcap

package pcapreplay

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/holotrack/internal/monitoring"
)

// Load reads a pcap or pcapng file through libpcap, filtering on the
// daemon port.
func Load(path string, dstPort int) ([]Segment, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("tcp dst port %d", dstPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		return nil, fmt.Errorf("failed to set BPF filter '%s': %w", filter, err)
	}

	segs, err := Collect(gopacket.NewPacketSource(handle, handle.LinkType()), dstPort)
	if err != nil {
		return nil, err
	}
	monitoring.Tagf("pcap", "%d segments matching '%s' in %s", len(segs), filter, path)
	return segs, nil
}
