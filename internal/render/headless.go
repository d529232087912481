package render

import (
	"image/color"
	"math"
	"sync"

	"github.com/banshee-data/holotrack/internal/config"
	"github.com/banshee-data/holotrack/internal/tracking"
)

// HeadlessRenderer draws each object as the 2D extent of its projected
// bounding box. It needs no GPU and is used by the daemon when no real
// renderer is attached, and by tests.
type HeadlessRenderer struct {
	width, height int
	cam           config.CameraConfig

	mu      sync.Mutex
	current bool
}

// NewHeadlessRenderer projects through cam into width x height layers.
func NewHeadlessRenderer(width, height int, cam config.CameraConfig) *HeadlessRenderer {
	return &HeadlessRenderer{width: width, height: height, cam: cam}
}

func (r *HeadlessRenderer) MakeContextCurrent() error {
	r.mu.Lock()
	r.current = true
	r.mu.Unlock()
	return nil
}

func (r *HeadlessRenderer) ReleaseContext() {
	r.mu.Lock()
	r.current = false
	r.mu.Unlock()
}

// RenderOverlayLayers draws every object. With depthTest, nearer objects
// cover farther ones; otherwise later objects win.
func (r *HeadlessRenderer) RenderOverlayLayers(objects []*tracking.Object, mode FillMode, colours []color.RGBA, depthTest bool) (Layers, error) {
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()
	if !current {
		return Layers{}, ErrNoContext
	}

	l := NewLayers(r.width, r.height)
	for i, obj := range objects {
		x0, y0, x1, y1, depth, ok := r.extent(obj)
		if !ok {
			continue
		}
		c := colourFor(colours, i)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				if mode == FillOutline && y != y0 && y != y1 && x != x0 && x != x1 {
					continue
				}
				p := y*r.width + x
				if depthTest && l.Depth[p] != 0 && l.Depth[p] <= depth {
					continue
				}
				l.Depth[p] = depth
				l.Color[p*3+0] = c.R
				l.Color[p*3+1] = c.G
				l.Color[p*3+2] = c.B
			}
		}
	}
	return l, nil
}

// extent returns the clipped pixel rectangle covered by obj and the camera
// distance of its bbox centre. ok is false when any corner falls outside the
// clipping range or the rectangle is off screen.
func (r *HeadlessRenderer) extent(obj *tracking.Object) (x0, y0, x1, y1 int, depth float32, ok bool) {
	m := obj.Pose().Mul(obj.Normalization())
	minU, minV := math.Inf(1), math.Inf(1)
	maxU, maxV := math.Inf(-1), math.Inf(-1)

	for i := 0; i < 8; i++ {
		cx := pick(i&1 != 0, obj.BBoxMin[0], obj.BBoxMax[0])
		cy := pick(i&2 != 0, obj.BBoxMin[1], obj.BBoxMax[1])
		cz := pick(i&4 != 0, obj.BBoxMin[2], obj.BBoxMax[2])
		X, Y, Z := m.Apply(cx, cy, cz)
		if Z <= r.cam.ZNear || Z >= r.cam.ZFar {
			return 0, 0, 0, 0, 0, false
		}
		u, v := r.project(X, Y, Z)
		minU, maxU = math.Min(minU, u), math.Max(maxU, u)
		minV, maxV = math.Min(minV, v), math.Max(maxV, v)
	}

	x0 = clamp(int(math.Floor(minU)), 0, r.width-1)
	x1 = clamp(int(math.Ceil(maxU)), 0, r.width-1)
	y0 = clamp(int(math.Floor(minV)), 0, r.height-1)
	y1 = clamp(int(math.Ceil(maxV)), 0, r.height-1)
	if maxU < 0 || maxV < 0 || minU > float64(r.width-1) || minV > float64(r.height-1) {
		return 0, 0, 0, 0, 0, false
	}

	ccx := (obj.BBoxMin[0] + obj.BBoxMax[0]) / 2
	ccy := (obj.BBoxMin[1] + obj.BBoxMax[1]) / 2
	ccz := (obj.BBoxMin[2] + obj.BBoxMax[2]) / 2
	X, Y, Z := m.Apply(ccx, ccy, ccz)
	return x0, y0, x1, y1, float32(math.Sqrt(X*X + Y*Y + Z*Z)), true
}

// project applies the pinhole model with k1, k2 radial and p1, p2
// tangential distortion.
func (r *HeadlessRenderer) project(X, Y, Z float64) (u, v float64) {
	k1, k2, p1, p2 := r.cam.Distortion[0], r.cam.Distortion[1], r.cam.Distortion[2], r.cam.Distortion[3]
	xn, yn := X/Z, Y/Z
	r2 := xn*xn + yn*yn
	radial := 1 + k1*r2 + k2*r2*r2
	xd := xn*radial + 2*p1*xn*yn + p2*(r2+2*xn*xn)
	yd := yn*radial + p1*(r2+2*yn*yn) + 2*p2*xn*yn
	return r.cam.Fx*xd + r.cam.Cx, r.cam.Fy*yd + r.cam.Cy
}

func pick(hi bool, lo, up float64) float64 {
	if hi {
		return up
	}
	return lo
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
