// Package testutil generates synthetic scenes and motion fields with known
// ground-truth camera motion for tests.
package testutil

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pose"
)

// DefaultIntrinsics is the camera most tests run with: 1000px focal length,
// principal point at the center of a 1280x720 frame.
func DefaultIntrinsics() camera.Intrinsics {
	intr, err := camera.NewIntrinsics(1000, 640, 360, 1280, 720)
	if err != nil {
		panic(err)
	}
	return intr
}

// Cloud returns n deterministic 3D points spread in front of the camera,
// with enough depth variation to keep two-view geometry well conditioned.
func Cloud(n int, seed int64) []r3.Vector {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{
			X: rng.Float64()*6 - 3,
			Y: rng.Float64()*4 - 2,
			Z: 4 + rng.Float64()*8,
		}
	}
	return pts
}

// RotY returns a rotation of angle radians about the Y axis in row-major
// order.
func RotY(angle float64) [9]float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	return [9]float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	}
}

// RotX returns a rotation of angle radians about the X axis in row-major
// order.
func RotX(angle float64) [9]float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	return [9]float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	}
}

// FieldForMotion projects the points through an identity first camera and a
// second camera displaced by rel, and returns the resulting motion field.
// Points that land behind either camera or outside the frame are skipped.
func FieldForMotion(intr camera.Intrinsics, rel pose.Pose, pts []r3.Vector) *field.MotionField {
	f := field.New(intr.Width, intr.Height)
	for _, pt := range pts {
		x1, ok := project(intr, pt)
		if !ok {
			continue
		}
		moved := pose.Apply(rel.R, pt).Add(rel.T)
		x2, ok := project(intr, moved)
		if !ok {
			continue
		}
		f.Add(field.MotionVector{
			X:  float32(x1[0]),
			Y:  float32(x1[1]),
			DX: float32(x2[0] - x1[0]),
			DY: float32(x2[1] - x1[1]),
		})
	}
	return f
}

// Contaminate replaces fraction of the field's displacement vectors with
// uniform junk and returns the indexes it corrupted. The same seed corrupts
// the same indexes.
func Contaminate(f *field.MotionField, fraction float64, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	n := int(float64(f.Len()) * fraction)
	corrupted := make([]int, 0, n)
	for _, i := range rng.Perm(f.Len())[:n] {
		f.Vectors[i].DX = float32(rng.Float64()*200 - 100)
		f.Vectors[i].DY = float32(rng.Float64()*200 - 100)
		corrupted = append(corrupted, i)
	}
	return corrupted
}

// Jitter adds uniform pixel noise of the given amplitude to every
// displacement vector.
func Jitter(f *field.MotionField, amplitude float64, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range f.Vectors {
		f.Vectors[i].DX += float32((rng.Float64()*2 - 1) * amplitude)
		f.Vectors[i].DY += float32((rng.Float64()*2 - 1) * amplitude)
	}
}

func project(intr camera.Intrinsics, pt r3.Vector) ([2]float64, bool) {
	if pt.Z <= 1e-9 {
		return [2]float64{}, false
	}
	u := intr.Fx*pt.X/pt.Z + intr.Cx
	v := intr.Fy*pt.Y/pt.Z + intr.Cy
	if u < 0 || u >= float64(intr.Width) || v < 0 || v >= float64(intr.Height) {
		return [2]float64{}, false
	}
	return [2]float64{u, v}, true
}
