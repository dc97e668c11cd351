// Package pose provides the rigid camera pose value type and its
// composition rules.
package pose

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// OrthonormalTol bounds how far a rotation matrix may drift from
// orthonormality before it is treated as numerically corrupt.
const OrthonormalTol = 1e-6

// ErrInvalidRotation reports a rotation matrix that is not orthonormal with
// determinant +1 within tolerance. This indicates a numerical bug rather
// than bad input and is fatal for the pipeline run that observes it.
type ErrInvalidRotation struct {
	Detail string
}

func (e *ErrInvalidRotation) Error() string {
	return fmt.Sprintf("invalid rotation matrix: %s", e.Detail)
}

// Pose is a rigid transform: an orthonormal 3x3 rotation with determinant +1
// and a translation vector. For poses estimated from monocular two-view
// geometry the translation is direction-only (unit norm); the absolute scale
// is unknowable without an external baseline, and callers must not read
// metric distance out of it unless such a scale was applied.
type Pose struct {
	R *mat.Dense
	T r3.Vector
}

// Identity returns the identity pose.
func Identity() Pose {
	return Pose{R: eye(), T: r3.Vector{}}
}

// New builds a pose from a row-major 9-element rotation and a translation.
func New(rot [9]float64, t r3.Vector) Pose {
	return Pose{R: mat.NewDense(3, 3, rot[:]), T: t}
}

// Rotation returns the rotation as a row-major 9-element array.
func (p Pose) Rotation() [9]float64 {
	var out [9]float64
	copy(out[:], p.R.RawMatrix().Data)
	return out
}

// Clone returns a deep copy of the pose.
func (p Pose) Clone() Pose {
	return Pose{R: mat.DenseCopyOf(p.R), T: p.T}
}

// Validate checks the rotation for orthonormality and a +1 determinant.
func (p Pose) Validate() error {
	if p.R == nil {
		return &ErrInvalidRotation{Detail: "nil rotation"}
	}
	var rtr mat.Dense
	rtr.Mul(p.R.T(), p.R)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(rtr.At(i, j)-want) > OrthonormalTol {
				return &ErrInvalidRotation{
					Detail: fmt.Sprintf("R^T*R deviates at (%d,%d) by %.3e", i, j, rtr.At(i, j)-want),
				}
			}
		}
	}
	if d := mat.Det(p.R); math.Abs(d-1) > OrthonormalTol {
		return &ErrInvalidRotation{Detail: fmt.Sprintf("determinant %.9f", d)}
	}
	return nil
}

// Compose applies a relative pose to a cumulative one:
//
//	R' = R_prev * R_rel
//	t' = t_prev + R_prev * t_rel
//
// The operation is purely functional and associative within floating-point
// tolerance, so a trajectory may be re-verified by composing any grouping of
// consecutive relative poses.
func Compose(prev, rel Pose) Pose {
	var r mat.Dense
	r.Mul(prev.R, rel.R)
	return Pose{R: &r, T: prev.T.Add(Apply(prev.R, rel.T))}
}

// Apply rotates a vector by the given rotation matrix.
func Apply(r *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.At(0, 0)*v.X + r.At(0, 1)*v.Y + r.At(0, 2)*v.Z,
		Y: r.At(1, 0)*v.X + r.At(1, 1)*v.Y + r.At(1, 2)*v.Z,
		Z: r.At(2, 0)*v.X + r.At(2, 1)*v.Y + r.At(2, 2)*v.Z,
	}
}

// ScaleTranslation returns a copy of the pose with its translation scaled,
// used when an external baseline scale is available.
func (p Pose) ScaleTranslation(s float64) Pose {
	return Pose{R: p.R, T: p.T.Mul(s)}
}

func eye() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
