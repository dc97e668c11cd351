// Package pipeline defines the decoder and estimator capability contracts
// and drives the sequential decode → estimate → integrate loop.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pose"
)

// Decoder produces one motion field per frame pair from some source.
// Implementations may keep state between calls (a previous frame buffer);
// the pipeline guarantees calls arrive in frame order, one at a time, never
// concurrently on the same instance.
//
// Next returns io.EOF once the source is exhausted or unrecoverable; every
// later call must keep returning io.EOF. A *DecodeError is recoverable: the
// caller may skip the frame and call Next again.
type Decoder interface {
	Next() (*field.MotionField, error)
	Close() error
}

// Estimator computes the relative camera pose between the two frames a
// motion field spans. Implementations must either return a complete
// estimate or an error, never a partially valid pose. Calls are serialized
// per instance.
type Estimator interface {
	Estimate(f *field.MotionField, intr camera.Intrinsics) (Estimate, error)
}

// Estimate is a successful relative-pose result. The translation in Pose is
// direction-only (unit norm); see pose.Pose.
type Estimate struct {
	Pose       pose.Pose
	Inliers    []int   // indices into the motion field's vectors
	Confidence float64 // inlier ratio in [0, 1]
}

// DecodeError reports a recoverable per-frame decoding fault (corrupt or
// unsupported data). The pipeline skips the frame and continues.
type DecodeError struct {
	Frame int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %d: %v", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Estimation failure reasons. Estimators wrap one of these sentinels so the
// pipeline can record a trajectory gap instead of aborting the run.
var (
	// ErrTooFewVectors reports fewer correspondences than the minimal
	// sample size.
	ErrTooFewVectors = errors.New("not enough motion vectors")
	// ErrDegenerateField reports correspondences that admit no rank-2
	// epipolar solution (coincident or collinear points).
	ErrDegenerateField = errors.New("degenerate motion field")
	// ErrLowInlierRatio reports a best hypothesis whose support is below
	// the configured minimum.
	ErrLowInlierRatio = errors.New("inlier ratio below minimum")
	// ErrAmbiguousPose reports that no decomposition candidate passed the
	// cheirality majority check.
	ErrAmbiguousPose = errors.New("cheirality check found no consistent pose")
)

// IsEstimationFailure reports whether err is a recoverable estimation
// failure. Any other estimator error — notably pose.ErrInvalidRotation —
// aborts the run.
func IsEstimationFailure(err error) bool {
	return errors.Is(err, ErrTooFewVectors) ||
		errors.Is(err, ErrDegenerateField) ||
		errors.Is(err, ErrLowInlierRatio) ||
		errors.Is(err, ErrAmbiguousPose)
}
