// Package epipolar implements the robust two-view geometry estimator:
// fundamental-matrix solvers, RANSAC hypothesis search, essential-matrix
// decomposition and cheirality-based pose disambiguation.
package epipolar

import (
	"errors"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

var errDegenerate = errors.New("degenerate point configuration")

// solveEightPoint computes a fundamental matrix from n >= 8 correspondences
// with the normalized linear algorithm (Hartley normalization, SVD null
// vector, rank-2 enforcement). Also used to refit on a full inlier set.
func solveEightPoint(p1, p2 []r2.Point) (*mat.Dense, error) {
	if len(p1) != len(p2) || len(p1) < 8 {
		return nil, errDegenerate
	}
	n1, t1, err := normalizePoints(p1)
	if err != nil {
		return nil, err
	}
	n2, t2, err := normalizePoints(p2)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(len(n1), 9, nil)
	for i := range n1 {
		v1, v2 := n1[i], n2[i]
		a.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errDegenerate
	}
	// The constraint matrix must have rank 8 for a unique null vector; a
	// collapsed configuration (coincident or collinear points) drops rank.
	values := svd.Values(nil)
	if values[7] < 1e-12 && len(p1) == 8 {
		return nil, errDegenerate
	}
	var v mat.Dense
	svd.VTo(&v)
	f := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		f.Set(i/3, i%3, v.At(i, 8))
	}

	f = enforceRankTwo(f)
	return denormalize(f, t1, t2), nil
}

// solveSevenPoint computes the up-to-three fundamental matrices consistent
// with exactly 7 correspondences. The two-dimensional null space F1, F2 of
// the constraint matrix is combined as F(a) = a*F1 + (1-a)*F2, and the
// rank-2 constraint det(F(a)) = 0 is solved as a cubic in a.
func solveSevenPoint(p1, p2 []r2.Point) ([]*mat.Dense, error) {
	if len(p1) != 7 || len(p2) != 7 {
		return nil, errDegenerate
	}
	n1, t1, err := normalizePoints(p1)
	if err != nil {
		return nil, err
	}
	n2, t2, err := normalizePoints(p2)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(7, 9, nil)
	for i := range n1 {
		v1, v2 := n1[i], n2[i]
		a.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errDegenerate
	}
	values := svd.Values(nil)
	if values[6] < 1e-12 {
		// Rank below 7: the null space has more than two dimensions and the
		// pencil of solutions is not determined.
		return nil, errDegenerate
	}
	var v mat.Dense
	svd.VTo(&v)
	f1 := mat.NewDense(3, 3, nil)
	f2 := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		f1.Set(i/3, i%3, v.At(i, 7))
		f2.Set(i/3, i%3, v.At(i, 8))
	}

	// det(a*F1 + (1-a)*F2) is cubic in a; recover its coefficients by
	// evaluating at four points and differencing.
	det := func(alpha float64) float64 {
		m := mat.NewDense(3, 3, nil)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				m.Set(i, j, alpha*f1.At(i, j)+(1-alpha)*f2.At(i, j))
			}
		}
		return mat.Det(m)
	}
	p0, pa, pb, pc := det(0), det(1), det(2), det(3)
	c3 := (pc - 3*pb + 3*pa - p0) / 6
	c2 := (pb - 2*pa + p0 - 6*c3) / 2
	c1 := pa - p0 - c3 - c2
	c0 := p0

	roots := solveCubic(c3, c2, c1, c0)
	if len(roots) == 0 {
		return nil, errDegenerate
	}

	out := make([]*mat.Dense, 0, len(roots))
	for _, alpha := range roots {
		f := mat.NewDense(3, 3, nil)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				f.Set(i, j, alpha*f1.At(i, j)+(1-alpha)*f2.At(i, j))
			}
		}
		out = append(out, denormalize(f, t1, t2))
	}
	return out, nil
}

// solveCubic returns the real roots of c3*x^3 + c2*x^2 + c1*x + c0, in a
// deterministic order. Degenerate leading coefficients fall through to the
// quadratic and linear cases.
func solveCubic(c3, c2, c1, c0 float64) []float64 {
	const eps = 1e-14
	if math.Abs(c3) < eps {
		if math.Abs(c2) < eps {
			if math.Abs(c1) < eps {
				return nil
			}
			return []float64{-c0 / c1}
		}
		disc := c1*c1 - 4*c2*c0
		if disc < 0 {
			return nil
		}
		sq := math.Sqrt(disc)
		return []float64{(-c1 + sq) / (2 * c2), (-c1 - sq) / (2 * c2)}
	}

	// Depressed cubic t^3 + p*t + q with x = t - b/(3a).
	b, c, d := c2/c3, c1/c3, c0/c3
	p := c - b*b/3
	q := 2*b*b*b/27 - b*c/3 + d
	shift := -b / 3

	disc := q*q/4 + p*p*p/27
	switch {
	case disc > eps:
		sq := math.Sqrt(disc)
		u := math.Cbrt(-q/2 + sq)
		v := math.Cbrt(-q/2 - sq)
		return []float64{u + v + shift}
	case disc < -eps:
		// Three distinct real roots, trigonometric form.
		r := math.Sqrt(-p * p * p / 27)
		phi := math.Acos(math.Max(-1, math.Min(1, -q/(2*r))))
		m := 2 * math.Sqrt(-p/3)
		return []float64{
			m*math.Cos(phi/3) + shift,
			m*math.Cos((phi+2*math.Pi)/3) + shift,
			m*math.Cos((phi+4*math.Pi)/3) + shift,
		}
	default:
		if math.Abs(q) < eps && math.Abs(p) < eps {
			return []float64{shift}
		}
		u := math.Cbrt(-q / 2)
		return []float64{2*u + shift, -u + shift}
	}
}

// symmetricEpipolarDistance returns the squared symmetric epipolar distance
// of a correspondence under F: the squared algebraic residual weighted by
// the distance to both epipolar lines.
func symmetricEpipolarDistance(f *mat.Dense, p1, p2 r2.Point) float64 {
	// l2 = F * x1, the epipolar line of p1 in the second image.
	l2a := f.At(0, 0)*p1.X + f.At(0, 1)*p1.Y + f.At(0, 2)
	l2b := f.At(1, 0)*p1.X + f.At(1, 1)*p1.Y + f.At(1, 2)
	l2c := f.At(2, 0)*p1.X + f.At(2, 1)*p1.Y + f.At(2, 2)
	// l1 = F^T * x2, the epipolar line of p2 in the first image.
	l1a := f.At(0, 0)*p2.X + f.At(1, 0)*p2.Y + f.At(2, 0)
	l1b := f.At(0, 1)*p2.X + f.At(1, 1)*p2.Y + f.At(2, 1)

	residual := p2.X*l2a + p2.Y*l2b + l2c

	d2 := l2a*l2a + l2b*l2b
	d1 := l1a*l1a + l1b*l1b
	if d1 == 0 || d2 == 0 {
		return math.Inf(1)
	}
	return residual * residual * (1/d1 + 1/d2)
}

// epipolarResidual returns |x2^T F x1| for a correspondence.
func epipolarResidual(f *mat.Dense, p1, p2 r2.Point) float64 {
	l2a := f.At(0, 0)*p1.X + f.At(0, 1)*p1.Y + f.At(0, 2)
	l2b := f.At(1, 0)*p1.X + f.At(1, 1)*p1.Y + f.At(1, 2)
	l2c := f.At(2, 0)*p1.X + f.At(2, 1)*p1.Y + f.At(2, 2)
	return math.Abs(p2.X*l2a + p2.Y*l2b + l2c)
}

// normalizePoints translates points to their centroid and scales them to a
// mean distance of sqrt(2) from it, returning the transformed points and the
// 3x3 transform (Multiple View Geometry, Alg 11.1).
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	n := float64(len(pts))
	mu := r2.Point{}
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1 / n)

	d := 0.0
	for _, pt := range pts {
		dx, dy := pt.X-mu.X, pt.Y-mu.Y
		d += math.Sqrt(dx*dx+dy*dy) / n
	}
	if d < 1e-12 {
		// All points coincide.
		return nil, nil, errDegenerate
	}
	scale := math.Sqrt2 / d

	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = r2.Point{X: scale * (pt.X - mu.X), Y: scale * (pt.Y - mu.Y)}
	}
	return out, t, nil
}

// denormalize rescales a fundamental matrix computed on normalized points
// back to pixel coordinates: F = T2^T * Fn * T1, scaled so its largest
// element has unit magnitude.
func denormalize(f, t1, t2 *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(t2.T(), f)
	out.Mul(&out, t1)

	largest := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if a := math.Abs(out.At(i, j)); a > largest {
				largest = a
			}
		}
	}
	if largest > 0 {
		out.Scale(1/largest, &out)
	}
	return mat.DenseCopyOf(&out)
}

// enforceRankTwo projects a 3x3 matrix to the nearest rank-2 matrix by
// zeroing its smallest singular value.
func enforceRankTwo(m *mat.Dense) *mat.Dense {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return m
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)
	s := mat.NewDense(3, 3, nil)
	s.Set(0, 0, values[0])
	s.Set(1, 1, values[1])

	var out mat.Dense
	out.Mul(&u, s)
	out.Mul(&out, v.T())
	return mat.DenseCopyOf(&out)
}
