// Package field provides the motion-vector field data model shared by
// decoders and the geometry estimator.
package field

import (
	"github.com/golang/geo/r2"
)

// MotionVector describes the apparent motion of a single point between two
// frames, in pixel units: the point at (X, Y) in the first frame appears at
// (X+DX, Y+DY) in the second.
type MotionVector struct {
	X  float32
	Y  float32
	DX float32
	DY float32
}

// Origin returns the vector's origin in the first frame.
func (v MotionVector) Origin() r2.Point {
	return r2.Point{X: float64(v.X), Y: float64(v.Y)}
}

// Target returns the corresponding point in the second frame.
func (v MotionVector) Target() r2.Point {
	return r2.Point{X: float64(v.X + v.DX), Y: float64(v.Y + v.DY)}
}

// MotionField is the set of motion vectors extracted for one frame pair,
// together with the frame resolution the pixel coordinates refer to.
// A field is produced once by a decoder and must not be mutated afterwards;
// vector order is preserved so downstream results are deterministic.
type MotionField struct {
	Width   int
	Height  int
	Vectors []MotionVector
}

// New creates an empty motion field for the given frame resolution.
func New(width, height int) *MotionField {
	return &MotionField{Width: width, Height: height}
}

// Add appends a motion vector to the field. Only decoders building a field
// may call this; consumers treat the field as read-only.
func (f *MotionField) Add(v MotionVector) {
	f.Vectors = append(f.Vectors, v)
}

// Len returns the number of motion vectors in the field.
func (f *MotionField) Len() int {
	return len(f.Vectors)
}

// Correspondences returns the field as two parallel point sets: origins in
// the first frame and targets in the second. The slices share indices with
// f.Vectors.
func (f *MotionField) Correspondences() (p1, p2 []r2.Point) {
	p1 = make([]r2.Point, len(f.Vectors))
	p2 = make([]r2.Point, len(f.Vectors))
	for i, v := range f.Vectors {
		p1[i] = v.Origin()
		p2[i] = v.Target()
	}
	return p1, p2
}
