// Package main provides a lightweight estimator plugin that treats the mean
// optical flow as a pure-translation cue. It is fast and useful as a sanity
// baseline, but it never reports rotation.
package main

import (
	"math"
	"os"

	"github.com/golang/geo/r3"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pipeline"
	"github.com/ayusman/egomotion/internal/plugin"
	"github.com/ayusman/egomotion/internal/pose"
)

const (
	minVectors = 8
	// A vector agrees with the mean when it points within ~30 degrees of it.
	agreementCos   = 0.866
	minInlierRatio = 0.2
)

type meanFlow struct{}

func (meanFlow) Estimate(f *field.MotionField, intr camera.Intrinsics) (pipeline.Estimate, error) {
	if err := intr.Validate(); err != nil {
		return pipeline.Estimate{}, err
	}
	if f.Len() < minVectors {
		return pipeline.Estimate{}, pipeline.ErrTooFewVectors
	}

	var sx, sy float64
	for _, v := range f.Vectors {
		sx += float64(v.DX)
		sy += float64(v.DY)
	}
	n := float64(f.Len())
	mx, my := sx/n, sy/n
	norm := math.Hypot(mx, my)
	if norm < 1e-9 {
		return pipeline.Estimate{}, pipeline.ErrDegenerateField
	}

	var inliers []int
	for i, v := range f.Vectors {
		d := math.Hypot(float64(v.DX), float64(v.DY))
		if d < 1e-9 {
			continue
		}
		cos := (float64(v.DX)*mx + float64(v.DY)*my) / (d * norm)
		if cos >= agreementCos {
			inliers = append(inliers, i)
		}
	}
	ratio := float64(len(inliers)) / n
	if ratio < minInlierRatio {
		return pipeline.Estimate{}, pipeline.ErrLowInlierRatio
	}

	// Image motion of mx,my pixels under pure lateral translation maps to a
	// camera translation of -mx,-my (the scene slides opposite the camera).
	t := r3.Vector{X: -mx / intr.Fx, Y: -my / intr.Fy, Z: 0}.Normalize()
	return pipeline.Estimate{
		Pose:       pose.New([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, t),
		Inliers:    inliers,
		Confidence: ratio,
	}, nil
}

func main() {
	os.Exit(plugin.Serve(plugin.ServeConfig{
		Name:    "meanflow",
		Version: "1.0",
		NewEstimator: func(args []string) (pipeline.Estimator, error) {
			return meanFlow{}, nil
		},
	}))
}
