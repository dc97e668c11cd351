package epipolar

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/egomotion/internal/camera"
)

// rotationConsensus is the fraction of correspondences a rotation-only model
// must explain before the motion is declared translation-free. It is set
// high so genuine parallax always falls through to the full search.
const rotationConsensus = 0.95

// fitRotationOnly checks whether a pure camera rotation explains the motion
// field. Under zero translation the epipolar geometry degenerates and the
// essential decomposition produces an arbitrary direction, so this case is
// detected up front: the best-aligning rotation of the view bearings is
// solved in closed form (orthogonal Procrustes) and accepted only when it
// reprojects nearly every correspondence within the pixel threshold.
func fitRotationOnly(p1, p2 []r2.Point, intr camera.Intrinsics, maxErr float64) (*mat.Dense, []int, bool) {
	b1 := make([]r3.Vector, len(p1))
	b2 := make([]r3.Vector, len(p2))
	m := mat.NewDense(3, 3, nil)
	for i := range p1 {
		b1[i] = intr.Normalize(p1[i]).Normalize()
		b2[i] = intr.Normalize(p2[i]).Normalize()
		outer := mat.NewDense(3, 3, []float64{
			b2[i].X * b1[i].X, b2[i].X * b1[i].Y, b2[i].X * b1[i].Z,
			b2[i].Y * b1[i].X, b2[i].Y * b1[i].Y, b2[i].Y * b1[i].Z,
			b2[i].Z * b1[i].X, b2[i].Z * b1[i].Y, b2[i].Z * b1[i].Z,
		})
		m.Add(m, outer)
	}

	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, nil, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vt := mat.DenseCopyOf(v.T())

	uvt := mat.NewDense(3, 3, nil)
	uvt.Mul(&u, vt)
	d := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, mat.Det(uvt),
	})
	r := mat.NewDense(3, 3, nil)
	r.Mul(&u, d)
	r.Mul(r, vt)

	inliers := rotationInliers(r, b1, p2, intr, maxErr)
	if float64(len(inliers)) < rotationConsensus*float64(len(p1)) {
		return nil, nil, false
	}
	return r, inliers, true
}

// rotationInliers reprojects each first-view bearing through r and collects
// the indexes whose pixel error against the second view is within maxErr.
func rotationInliers(r *mat.Dense, b1 []r3.Vector, p2 []r2.Point, intr camera.Intrinsics, maxErr float64) []int {
	var inliers []int
	for i := range b1 {
		q := r3.Vector{
			X: r.At(0, 0)*b1[i].X + r.At(0, 1)*b1[i].Y + r.At(0, 2)*b1[i].Z,
			Y: r.At(1, 0)*b1[i].X + r.At(1, 1)*b1[i].Y + r.At(1, 2)*b1[i].Z,
			Z: r.At(2, 0)*b1[i].X + r.At(2, 1)*b1[i].Y + r.At(2, 2)*b1[i].Z,
		}
		if q.Z <= 0 {
			continue
		}
		du := intr.Fx*q.X/q.Z + intr.Cx - p2[i].X
		dv := intr.Fy*q.Y/q.Z + intr.Cy - p2[i].Y
		if du*du+dv*dv <= maxErr*maxErr {
			inliers = append(inliers, i)
		}
	}
	return inliers
}
