// Package frame reconstructs fixed-size 4-channel images from payloads
// received over the transport.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Channels is the number of bytes per pixel.
const Channels = 4

// PixelFormat names the channel order of a Frame.
type PixelFormat string

const (
	// FormatBGRA8 is 8-bit blue, green, red, alpha; what the headset camera delivers.
	FormatBGRA8 PixelFormat = "bgra8"
)

// ErrInvalidPayloadSize is returned when a payload does not hold exactly
// width*height*4 bytes.
var ErrInvalidPayloadSize = errors.New("invalid payload size")

// Frame is an image buffer that is not modified after construction.
// Callers must treat Pix as read-only.
type Frame struct {
	width  int
	height int
	format PixelFormat
	pix    []byte
}

// Options control how a payload is turned into a Frame.
type Options struct {
	// FlipHorizontal mirrors every row; the sending camera pipeline delivers
	// mirrored images.
	FlipHorizontal bool
}

// DefaultOptions matches the headset pipeline.
func DefaultOptions() Options {
	return Options{FlipHorizontal: true}
}

// ExpectedSize returns the payload length for a width x height frame.
func ExpectedSize(width, height int) int {
	return width * height * Channels
}

// Assemble wraps raw as a width x height BGRA frame with the horizontal flip
// correction applied. raw is copied; the caller may reuse it.
func Assemble(raw []byte, width, height int) (*Frame, error) {
	return AssembleWith(raw, width, height, DefaultOptions())
}

// AssembleWith is Assemble with explicit options.
func AssembleWith(raw []byte, width, height int, opts Options) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: non-positive dimensions %dx%d", ErrInvalidPayloadSize, width, height)
	}
	want := ExpectedSize(width, height)
	if len(raw) != want {
		return nil, fmt.Errorf("%w: got %d bytes, want %d (%dx%dx%d)",
			ErrInvalidPayloadSize, len(raw), want, width, height, Channels)
	}

	pix := make([]byte, want)
	if !opts.FlipHorizontal {
		copy(pix, raw)
	} else {
		stride := width * Channels
		for y := 0; y < height; y++ {
			src := raw[y*stride : (y+1)*stride]
			dst := pix[y*stride : (y+1)*stride]
			for x := 0; x < width; x++ {
				s := src[x*Channels : (x+1)*Channels]
				d := dst[(width-1-x)*Channels : (width-x)*Channels]
				copy(d, s)
			}
		}
	}

	return &Frame{width: width, height: height, format: FormatBGRA8, pix: pix}, nil
}

// Blank returns an all-zero frame. It stands in before the first valid
// payload arrives.
func Blank(width, height int) *Frame {
	return &Frame{
		width:  width,
		height: height,
		format: FormatBGRA8,
		pix:    make([]byte, ExpectedSize(width, height)),
	}
}

// FromPixels takes ownership of pix without flipping. It is used by
// producers that already hold corrected pixels, such as the overlay step.
func FromPixels(pix []byte, width, height int) (*Frame, error) {
	if len(pix) != ExpectedSize(width, height) {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d", ErrInvalidPayloadSize, len(pix), width, height)
	}
	return &Frame{width: width, height: height, format: FormatBGRA8, pix: pix}, nil
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.height }

// Format returns the pixel format.
func (f *Frame) Format() PixelFormat { return f.format }

// Pix returns the underlying bytes, row-major, Channels bytes per pixel.
func (f *Frame) Pix() []byte { return f.pix }

// At returns the four channel bytes of pixel (x, y).
func (f *Frame) At(x, y int) [Channels]byte {
	var px [Channels]byte
	i := (y*f.width + x) * Channels
	copy(px[:], f.pix[i:i+Channels])
	return px
}

// ClonePix returns a mutable copy of the pixel bytes.
func (f *Frame) ClonePix() []byte {
	out := make([]byte, len(f.pix))
	copy(out, f.pix)
	return out
}

// Image converts the frame to an *image.RGBA for encoding or display.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			px := f.At(x, y)
			img.SetRGBA(x, y, color.RGBA{R: px[2], G: px[1], B: px[0], A: px[3]})
		}
	}
	return img
}
