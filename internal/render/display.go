package render

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/holotrack/internal/frame"
	"github.com/banshee-data/holotrack/internal/monitoring"
)

// NullDisplay discards frames. RequestClose makes CloseRequested report
// true, which ends the control loop like closing a window would.
type NullDisplay struct {
	presents atomic.Int64
	closed   atomic.Bool
}

func (d *NullDisplay) Present(*frame.Frame) error {
	d.presents.Add(1)
	return nil
}

func (d *NullDisplay) CloseRequested() bool { return d.closed.Load() }

// RequestClose asks the loop to stop.
func (d *NullDisplay) RequestClose() { d.closed.Store(true) }

// Presents returns the number of frames presented.
func (d *NullDisplay) Presents() int64 { return d.presents.Load() }

// SnapshotDisplay writes every Nth presented overlay to dir as PNG.
type SnapshotDisplay struct {
	NullDisplay

	dir   string
	every int

	mu      sync.Mutex
	count   int
	written []string
}

// NewSnapshotDisplay creates dir if needed.
func NewSnapshotDisplay(dir string, every int) (*SnapshotDisplay, error) {
	if every < 1 {
		every = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotDisplay{dir: dir, every: every}, nil
}

func (d *SnapshotDisplay) Present(f *frame.Frame) error {
	d.NullDisplay.Present(f)

	d.mu.Lock()
	d.count++
	n := d.count
	d.mu.Unlock()
	if (n-1)%d.every != 0 {
		return nil
	}

	path := filepath.Join(d.dir, fmt.Sprintf("overlay-%06d.png", n))
	if err := writePNG(path, f); err != nil {
		return err
	}
	d.mu.Lock()
	d.written = append(d.written, path)
	d.mu.Unlock()
	monitoring.Tagf("render", "wrote snapshot %s", path)
	return nil
}

// Written returns the snapshot paths written so far.
func (d *SnapshotDisplay) Written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.written...)
}

func writePNG(path string, f *frame.Frame) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := png.Encode(out, f.Image()); err != nil {
		out.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return out.Close()
}
