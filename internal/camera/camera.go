// Package camera models the pinhole camera intrinsics used to move between
// pixel and normalized image coordinates.
package camera

import (
	"errors"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidIntrinsics is returned for non-positive focal lengths or frame
// dimensions.
var ErrInvalidIntrinsics = errors.New("invalid camera intrinsics")

// Intrinsics holds pinhole camera parameters in pixel units. They are
// supplied by external configuration and stay constant for a pipeline run
// unless the source reports a zoom change.
type Intrinsics struct {
	Fx     float64 // focal length along x, pixels
	Fy     float64 // focal length along y, pixels
	Cx     float64 // principal point x, pixels
	Cy     float64 // principal point y, pixels
	Width  int
	Height int
}

// NewIntrinsics builds intrinsics with a single focal length and an explicit
// principal point.
func NewIntrinsics(focal, cx, cy float64, width, height int) (Intrinsics, error) {
	intr := Intrinsics{Fx: focal, Fy: focal, Cx: cx, Cy: cy, Width: width, Height: height}
	if err := intr.Validate(); err != nil {
		return Intrinsics{}, err
	}
	return intr, nil
}

// Validate checks the parameters are usable.
func (c Intrinsics) Validate() error {
	if c.Fx <= 0 || c.Fy <= 0 || c.Width <= 0 || c.Height <= 0 {
		return ErrInvalidIntrinsics
	}
	return nil
}

// K returns the 3x3 calibration matrix.
func (c Intrinsics) K() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		c.Fx, 0, c.Cx,
		0, c.Fy, c.Cy,
		0, 0, 1,
	})
}

// KInv returns the inverse calibration matrix.
func (c Intrinsics) KInv() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1 / c.Fx, 0, -c.Cx / c.Fx,
		0, 1 / c.Fy, -c.Cy / c.Fy,
		0, 0, 1,
	})
}

// Normalize maps a pixel coordinate to a normalized homogeneous image ray,
// i.e. K^-1 * (x, y, 1).
func (c Intrinsics) Normalize(p r2.Point) r3.Vector {
	return r3.Vector{
		X: (p.X - c.Cx) / c.Fx,
		Y: (p.Y - c.Cy) / c.Fy,
		Z: 1,
	}
}

// Essential converts a fundamental matrix into the essential matrix for this
// camera observing both views: E = K2^T * F * K1. Both views share the same
// intrinsics here.
func (c Intrinsics) Essential(f *mat.Dense) *mat.Dense {
	k := c.K()
	var tmp, e mat.Dense
	tmp.Mul(k.T(), f)
	e.Mul(&tmp, k)
	out := mat.DenseCopyOf(&e)
	return out
}
