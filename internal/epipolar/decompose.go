package epipolar

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// decomposeEssential splits an essential matrix into its two candidate
// rotations and the translation direction via SVD. The four candidate poses
// are (R1, t), (R1, -t), (R2, t), (R2, -t).
func decomposeEssential(e *mat.Dense) (r1, r2m *mat.Dense, t r3.Vector, err error) {
	var svd mat.SVD
	if !svd.Factorize(e, mat.SVDFull) {
		return nil, nil, r3.Vector{}, errDegenerate
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vt := mat.DenseCopyOf(v.T())

	// U and V^T must be proper rotations for U*W*V^T to be one.
	if mat.Det(&u) < 0 {
		u.Scale(-1, &u)
	}
	if mat.Det(vt) < 0 {
		vt.Scale(-1, vt)
	}

	w := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})

	r1 = mat.NewDense(3, 3, nil)
	r1.Mul(&u, w)
	r1.Mul(r1, vt)

	r2m = mat.NewDense(3, 3, nil)
	r2m.Mul(&u, w.T())
	r2m.Mul(r2m, vt)

	t = r3.Vector{X: u.At(0, 2), Y: u.At(1, 2), Z: u.At(2, 2)}
	return r1, r2m, t, nil
}

// candidatePose is one (R, t) hypothesis from essential decomposition.
type candidatePose struct {
	r *mat.Dense
	t r3.Vector
}

// triangulate recovers the 3D point behind a normalized correspondence via
// the linear (DLT) method with camera matrices P = [I|0] and P' = [R|t].
// Returns the point in the first camera frame and false if the system is
// rank deficient.
func triangulate(cand candidatePose, x1, x2 r3.Vector) (r3.Vector, bool) {
	r, t := cand.r, cand.t
	// Rows of A follow from cross(x, P*X) = 0, two independent rows per view.
	a := mat.NewDense(4, 4, []float64{
		-1, 0, x1.X, 0,
		0, -1, x1.Y, 0,
		x2.X*r.At(2, 0) - r.At(0, 0), x2.X*r.At(2, 1) - r.At(0, 1), x2.X*r.At(2, 2) - r.At(0, 2), x2.X*t.Z - t.X,
		x2.Y*r.At(2, 0) - r.At(1, 0), x2.Y*r.At(2, 1) - r.At(1, 1), x2.Y*r.At(2, 2) - r.At(1, 2), x2.Y*t.Z - t.Y,
	})

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return r3.Vector{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	wh := v.At(3, 3)
	if wh == 0 {
		return r3.Vector{}, false
	}
	return r3.Vector{
		X: v.At(0, 3) / wh,
		Y: v.At(1, 3) / wh,
		Z: v.At(2, 3) / wh,
	}, true
}

// positiveDepthCount triangulates the given normalized correspondences under
// a candidate pose and counts how many land in front of both cameras.
func positiveDepthCount(cand candidatePose, x1, x2 []r3.Vector) int {
	count := 0
	for i := range x1 {
		p, ok := triangulate(cand, x1[i], x2[i])
		if !ok {
			continue
		}
		if p.Z <= 0 {
			continue
		}
		// Depth in the second camera is the third row of R*p + t.
		z2 := cand.r.At(2, 0)*p.X + cand.r.At(2, 1)*p.Y + cand.r.At(2, 2)*p.Z + cand.t.Z
		if z2 > 0 {
			count++
		}
	}
	return count
}

// selectPose disambiguates the four decomposition candidates with the
// cheirality check over a sample of normalized inlier correspondences. The
// winner needs a strict majority of successfully triangulated points in
// front of both cameras; ties go to the earlier candidate for determinism.
func selectPose(e *mat.Dense, x1, x2 []r3.Vector) (candidatePose, bool) {
	r1, r2m, t, err := decomposeEssential(e)
	if err != nil {
		return candidatePose{}, false
	}
	candidates := []candidatePose{
		{r: r1, t: t},
		{r: r1, t: t.Mul(-1)},
		{r: r2m, t: t},
		{r: r2m, t: t.Mul(-1)},
	}

	bestIdx, bestCount := -1, 0
	for i, cand := range candidates {
		if n := positiveDepthCount(cand, x1, x2); n > bestCount {
			bestIdx, bestCount = i, n
		}
	}
	if bestIdx < 0 || bestCount*2 <= len(x1) {
		return candidatePose{}, false
	}
	return candidates[bestIdx], true
}
