package decode

import (
	"io"

	"github.com/golang/geo/r3"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pose"
)

// Synthetic generates noise-free motion fields by projecting a fixed 3D
// point grid through a scripted sequence of relative camera motions. Frame
// k's field holds the correspondences between views k and k+1, so an exact
// estimator should recover each script step (translation up to scale).
type Synthetic struct {
	intr   camera.Intrinsics
	points []r3.Vector
	steps  []pose.Pose
	view   pose.Pose // cumulative extrinsic of the current frame
	frame  int
}

// NewSynthetic builds a synthetic decoder over a depth-varying grid of
// gridX by gridY world points, observed by intr through the given relative
// motion steps.
func NewSynthetic(intr camera.Intrinsics, gridX, gridY int, steps []pose.Pose) *Synthetic {
	points := make([]r3.Vector, 0, gridX*gridY)
	for ix := 0; ix < gridX; ix++ {
		for iy := 0; iy < gridY; iy++ {
			fx := float64(ix)/float64(gridX-1) - 0.5
			fy := float64(iy)/float64(gridY-1) - 0.5
			points = append(points, r3.Vector{
				X: fx * 4,
				Y: fy * 3,
				// Depths vary per point; a planar grid is a degenerate
				// configuration for the fundamental matrix.
				Z: 5 + 2*fx + 1.5*fy*fy + 0.25*float64((ix*7+iy*13)%5),
			})
		}
	}
	return &Synthetic{intr: intr, points: points, steps: steps, view: pose.Identity()}
}

// Next implements pipeline.Decoder.
func (s *Synthetic) Next() (*field.MotionField, error) {
	if s.frame >= len(s.steps) {
		return nil, io.EOF
	}
	next := composeExtrinsic(s.steps[s.frame], s.view)

	f := field.New(s.intr.Width, s.intr.Height)
	for _, pt := range s.points {
		p1, ok1 := project(s.intr, s.view, pt)
		p2, ok2 := project(s.intr, next, pt)
		if !ok1 || !ok2 {
			continue
		}
		f.Add(field.MotionVector{
			X:  float32(p1.X),
			Y:  float32(p1.Y),
			DX: float32(p2.X - p1.X),
			DY: float32(p2.Y - p1.Y),
		})
	}

	s.view = next
	s.frame++
	return f, nil
}

// Close implements pipeline.Decoder.
func (s *Synthetic) Close() error { return nil }

// composeExtrinsic chains extrinsics: if prev maps world to camera k and
// step maps camera k to camera k+1, the result maps world to camera k+1.
func composeExtrinsic(step, prev pose.Pose) pose.Pose {
	return pose.Compose(step, prev)
}

type point2 struct{ X, Y float64 }

// project maps a world point through an extrinsic into pixel coordinates.
// ok is false for points at or behind the camera plane.
func project(intr camera.Intrinsics, ext pose.Pose, pt r3.Vector) (point2, bool) {
	c := pose.Apply(ext.R, pt).Add(ext.T)
	if c.Z <= 1e-9 {
		return point2{}, false
	}
	return point2{
		X: intr.Fx*c.X/c.Z + intr.Cx,
		Y: intr.Fy*c.Y/c.Z + intr.Cy,
	}, true
}
