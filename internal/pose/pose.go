// Package pose implements the rigid 4x4 transforms exchanged with the peer:
// composition, inversion, the delta against a fixed reference, and the
// 64-byte wire encoding.
package pose

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Pose is a 4x4 homogeneous transform stored row-major as IEEE-754 singles:
// m00,m01,m02,m03, m10,... The translation lives at indices 3, 7 and 11 and
// the homogeneous row at 12..15.
type Pose [16]float32

const (
	// MatrixValidationTolerance is the tolerance for checking rotation matrix validity
	MatrixValidationTolerance = 0.01
	// MinRotationDeterminant is the smallest |det(R)| accepted as invertible.
	MinRotationDeterminant = 1e-6
)

// ErrSingularReference is returned when a pose cannot be inverted.
var ErrSingularReference = errors.New("singular reference pose")

// Identity returns the identity transform.
func Identity() Pose {
	return Pose{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a pure translation transform.
func Translation(x, y, z float32) Pose {
	p := Identity()
	p[3], p[7], p[11] = x, y, z
	return p
}

// Scale returns a uniform scale transform.
func Scale(s float32) Pose {
	p := Identity()
	p[0], p[5], p[10] = s, s, s
	return p
}

// RotationX returns a rotation of deg degrees about the X axis.
func RotationX(deg float64) Pose {
	s, c := sincosDeg(deg)
	return Pose{
		1, 0, 0, 0,
		0, c, -s, 0,
		0, s, c, 0,
		0, 0, 0, 1,
	}
}

// RotationY returns a rotation of deg degrees about the Y axis.
func RotationY(deg float64) Pose {
	s, c := sincosDeg(deg)
	return Pose{
		c, 0, s, 0,
		0, 1, 0, 0,
		-s, 0, c, 0,
		0, 0, 0, 1,
	}
}

// RotationZ returns a rotation of deg degrees about the Z axis.
func RotationZ(deg float64) Pose {
	s, c := sincosDeg(deg)
	return Pose{
		c, -s, 0, 0,
		s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func sincosDeg(deg float64) (float32, float32) {
	s, c := math.Sincos(deg * math.Pi / 180.0)
	return float32(s), float32(c)
}

// FromPlacement builds an object-to-camera transform from a translation and
// Euler angles in degrees, applied as T(t)·Rx(alpha)·Ry(beta)·Rz(gamma).
func FromPlacement(tx, ty, tz, alphaDeg, betaDeg, gammaDeg float64) Pose {
	return Translation(float32(tx), float32(ty), float32(tz)).
		Mul(RotationX(alphaDeg)).
		Mul(RotationY(betaDeg)).
		Mul(RotationZ(gammaDeg))
}

// Normalization maps raw mesh coordinates into a space centred on the
// bounding box and scaled by scale: S(scale)·T(-center).
func Normalization(bboxMin, bboxMax [3]float64, scale float64) Pose {
	cx := (bboxMin[0] + bboxMax[0]) / 2
	cy := (bboxMin[1] + bboxMax[1]) / 2
	cz := (bboxMin[2] + bboxMax[2]) / 2
	return Scale(float32(scale)).Mul(Translation(float32(-cx), float32(-cy), float32(-cz)))
}

// At returns the entry at row r, column c.
func (p Pose) At(r, c int) float32 {
	return p[r*4+c]
}

// TranslationVector returns the translation part.
func (p Pose) TranslationVector() (x, y, z float32) {
	return p[3], p[7], p[11]
}

// Mul returns p·q. The product is accumulated in float64 and rounded once.
func (p Pose) Mul(q Pose) Pose {
	var out Pose
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += float64(p[r*4+k]) * float64(q[k*4+c])
			}
			out[r*4+c] = float32(sum)
		}
	}
	return out
}

// Apply transforms the point (x, y, z).
func (p Pose) Apply(x, y, z float64) (wx, wy, wz float64) {
	wx = float64(p[0])*x + float64(p[1])*y + float64(p[2])*z + float64(p[3])
	wy = float64(p[4])*x + float64(p[5])*y + float64(p[6])*z + float64(p[7])
	wz = float64(p[8])*x + float64(p[9])*y + float64(p[10])*z + float64(p[11])
	return
}

// Inverse returns p⁻¹. It fails with ErrSingularReference when any entry is
// not finite, the rotation block is degenerate, or the full matrix is not
// invertible.
func (p Pose) Inverse() (Pose, error) {
	for i, v := range p {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return Pose{}, fmt.Errorf("%w: entry %d is not finite", ErrSingularReference, i)
		}
	}

	if det := mat.Det(p.rotationDense()); math.Abs(det) < MinRotationDeterminant {
		return Pose{}, fmt.Errorf("%w: rotation determinant %g", ErrSingularReference, det)
	}

	var inv mat.Dense
	if err := inv.Inverse(p.dense()); err != nil {
		return Pose{}, fmt.Errorf("%w: %v", ErrSingularReference, err)
	}
	return fromDense(&inv), nil
}

// Delta returns current·reference⁻¹, the transform that carries the
// reference pose onto the current pose.
func Delta(current, reference Pose) (Pose, error) {
	inv, err := reference.Inverse()
	if err != nil {
		return Pose{}, err
	}
	return current.Mul(inv), nil
}

// IsRigid reports whether p is a proper rigid transform: the rotation block
// has determinant ≈ 1 and the last row is [0 0 0 1].
func (p Pose) IsRigid() bool {
	det := mat.Det(p.rotationDense())
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}
	if p[12] != 0 || p[13] != 0 || p[14] != 0 || math.Abs(float64(p[15])-1.0) > 0.001 {
		return false
	}
	return true
}

// Orthonormalize projects the rotation block back onto SO(3) using its SVD
// (R' = U·Vᵀ with a sign fix for reflections), keeps the translation and
// resets the homogeneous row. Long tracking sessions accumulate rounding
// drift that this removes.
func (p Pose) Orthonormalize() Pose {
	var svd mat.SVD
	if !svd.Factorize(p.rotationDense(), mat.SVDFull) {
		return p
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}

	out := p
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[row*4+col] = float32(r.At(row, col))
		}
	}
	out[12], out[13], out[14], out[15] = 0, 0, 0, 1
	return out
}

// ApproxEqual compares entry-wise within tol.
func (p Pose) ApproxEqual(q Pose, tol float64) bool {
	for i := range p {
		if math.Abs(float64(p[i])-float64(q[i])) > tol {
			return false
		}
	}
	return true
}

// String prints the matrix one row per line.
func (p Pose) String() string {
	var b strings.Builder
	for r := 0; r < 4; r++ {
		fmt.Fprintf(&b, "[%g %g %g %g]", p[r*4], p[r*4+1], p[r*4+2], p[r*4+3])
		if r < 3 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (p Pose) dense() *mat.Dense {
	data := make([]float64, 16)
	for i, v := range p {
		data[i] = float64(v)
	}
	return mat.NewDense(4, 4, data)
}

func (p Pose) rotationDense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		float64(p[0]), float64(p[1]), float64(p[2]),
		float64(p[4]), float64(p[5]), float64(p[6]),
		float64(p[8]), float64(p[9]), float64(p[10]),
	})
}

func fromDense(m mat.Matrix) Pose {
	var out Pose
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = float32(m.At(r, c))
		}
	}
	return out
}
