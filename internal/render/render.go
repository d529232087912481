// Package render defines the renderer and display collaborators of the
// control loop and builds the operator overlay from their output.
package render

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/banshee-data/holotrack/internal/frame"
	"github.com/banshee-data/holotrack/internal/tracking"
)

// FillMode selects how objects are drawn into the colour layer.
type FillMode string

const (
	FillSolid   FillMode = "solid"
	FillOutline FillMode = "outline"
)

var (
	ErrNoContext = errors.New("render context is not current")
	ErrLayerSize = errors.New("overlay layer size mismatch")
)

// DefaultColour is used for objects without an entry in the colour list.
var DefaultColour = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// Layers is one rendered overlay: an RGB colour image and a depth image of
// the same size. A depth of zero means nothing was drawn at that pixel.
type Layers struct {
	Width  int
	Height int
	Color  []byte    // RGB, 3 bytes per pixel
	Depth  []float32 // one value per pixel
}

// NewLayers returns empty layers for a width x height image.
func NewLayers(width, height int) Layers {
	return Layers{
		Width:  width,
		Height: height,
		Color:  make([]byte, width*height*3),
		Depth:  make([]float32, width*height),
	}
}

// Renderer draws the tracked objects at their current poses. The context
// calls bracket the whole control loop.
type Renderer interface {
	MakeContextCurrent() error
	ReleaseContext()
	RenderOverlayLayers(objects []*tracking.Object, mode FillMode, colours []color.RGBA, depthTest bool) (Layers, error)
}

// Display shows overlays to the operator.
type Display interface {
	Present(f *frame.Frame) error
	CloseRequested() bool
}

// Composite returns a new frame with the colour layer copied over f
// wherever the depth layer is non-zero. Alpha is left as received.
func Composite(f *frame.Frame, l Layers) (*frame.Frame, error) {
	w, h := f.Width(), f.Height()
	if l.Width != w || l.Height != h || len(l.Color) != w*h*3 || len(l.Depth) != w*h {
		return nil, fmt.Errorf("%w: layers %dx%d, frame %dx%d", ErrLayerSize, l.Width, l.Height, w, h)
	}
	pix := f.ClonePix()
	for i, d := range l.Depth {
		if d == 0 {
			continue
		}
		o := i * frame.Channels
		c := i * 3
		pix[o+0] = l.Color[c+2]
		pix[o+1] = l.Color[c+1]
		pix[o+2] = l.Color[c+0]
	}
	return frame.FromPixels(pix, w, h)
}

func colourFor(colours []color.RGBA, idx int) color.RGBA {
	if idx < len(colours) {
		return colours[idx]
	}
	return DefaultColour
}
