package epipolar

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pipeline"
	"github.com/ayusman/egomotion/internal/pose"
)

// Config holds estimator tuning parameters. The zero value is usable; see
// withDefaults.
type Config struct {
	// SamplePoints selects the minimal solver: 7 for the seven-point
	// algorithm, 8 for the linear eight-point algorithm.
	SamplePoints int
	// MaxError is the symmetric epipolar distance threshold, in pixels,
	// separating inliers from outliers.
	MaxError float64
	// OutlierProbability is the acceptable probability of never drawing an
	// all-inlier sample; it drives the adaptive trial bound.
	OutlierProbability float64
	// MaxIterations caps the RANSAC trial count.
	MaxIterations int
	// MinInlierRatio is the minimum supported fraction of correspondences
	// for an estimate to be returned at all.
	MinInlierRatio float64
	// CheiralitySample caps how many inliers are triangulated during pose
	// disambiguation.
	CheiralitySample int
	// Workers sizes the hypothesis worker pool; 0 means GOMAXPROCS.
	Workers int
	// Seed makes the hypothesis search reproducible.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.SamplePoints != 7 && c.SamplePoints != 8 {
		c.SamplePoints = 8
	}
	if c.MaxError <= 0 {
		c.MaxError = 1.0
	}
	if c.OutlierProbability <= 0 || c.OutlierProbability >= 1 {
		c.OutlierProbability = 0.01
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 512
	}
	if c.MinInlierRatio <= 0 {
		c.MinInlierRatio = 0.2
	}
	if c.CheiralitySample <= 0 {
		c.CheiralitySample = 32
	}
	return c
}

// Estimator recovers relative camera pose from a motion field with a
// RANSAC fundamental-matrix search followed by essential-matrix
// decomposition. It is stateless across calls and safe to reuse for
// consecutive frames of one pipeline.
type Estimator struct {
	cfg Config
}

// New creates an estimator, applying defaults to unset config fields.
func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg.withDefaults()}
}

// Estimate implements the pipeline.Estimator contract.
func (e *Estimator) Estimate(f *field.MotionField, intr camera.Intrinsics) (pipeline.Estimate, error) {
	if err := intr.Validate(); err != nil {
		return pipeline.Estimate{}, err
	}
	if f.Len() < e.cfg.SamplePoints {
		return pipeline.Estimate{}, fmt.Errorf("%w: have %d, need %d",
			pipeline.ErrTooFewVectors, f.Len(), e.cfg.SamplePoints)
	}

	p1, p2 := f.Correspondences()

	// A pure rotation carries no epipolar information; the fundamental-matrix
	// search would return an arbitrary translation direction. Detect it first
	// and report the rotation with a zero translation.
	if r, inliers, ok := fitRotationOnly(p1, p2, intr, e.cfg.MaxError); ok {
		return pipeline.Estimate{
			Pose:       pose.Pose{R: r, T: r3.Vector{}},
			Inliers:    inliers,
			Confidence: float64(len(inliers)) / float64(f.Len()),
		}, nil
	}

	best := searchFundamental(p1, p2, e.cfg)
	if best == nil {
		return pipeline.Estimate{}, fmt.Errorf("%w: no hypothesis survived %d trials",
			pipeline.ErrDegenerateField, e.cfg.MaxIterations)
	}

	ratio := float64(len(best.inliers)) / float64(f.Len())
	if ratio < e.cfg.MinInlierRatio {
		return pipeline.Estimate{}, fmt.Errorf("%w: %.3f < %.3f (%d of %d)",
			pipeline.ErrLowInlierRatio, ratio, e.cfg.MinInlierRatio, len(best.inliers), f.Len())
	}

	fm := e.refit(best, p1, p2)

	em := intr.Essential(fm)
	em = enforceRankTwo(em)

	x1, x2 := normalizedInliers(best.inliers, p1, p2, intr, e.cfg.CheiralitySample)
	cand, ok := selectPose(em, x1, x2)
	if !ok {
		return pipeline.Estimate{}, fmt.Errorf("%w: %d candidates over %d inliers",
			pipeline.ErrAmbiguousPose, 4, len(x1))
	}

	return pipeline.Estimate{
		Pose:       pose.Pose{R: cand.r, T: cand.t.Normalize()},
		Inliers:    best.inliers,
		Confidence: ratio,
	}, nil
}

// refit recomputes the fundamental matrix by least squares over the full
// inlier set of the winning hypothesis. With fewer than 8 inliers the
// hypothesis matrix itself is kept.
func (e *Estimator) refit(best *hypothesis, p1, p2 []r2.Point) *mat.Dense {
	if len(best.inliers) < 8 {
		return best.f
	}
	i1 := make([]r2.Point, len(best.inliers))
	i2 := make([]r2.Point, len(best.inliers))
	for i, j := range best.inliers {
		i1[i] = p1[j]
		i2[i] = p2[j]
	}
	refit, err := solveEightPoint(i1, i2)
	if err != nil {
		return best.f
	}
	return refit
}

// normalizedInliers maps up to limit inlier correspondences through K^-1
// for triangulation in normalized camera coordinates.
func normalizedInliers(inliers []int, p1, p2 []r2.Point, intr camera.Intrinsics, limit int) (x1, x2 []r3.Vector) {
	n := len(inliers)
	if n > limit {
		n = limit
	}
	x1 = make([]r3.Vector, n)
	x2 = make([]r3.Vector, n)
	for i := 0; i < n; i++ {
		j := inliers[i]
		x1[i] = intr.Normalize(p1[j])
		x2[i] = intr.Normalize(p2[j])
	}
	return x1, x2
}
