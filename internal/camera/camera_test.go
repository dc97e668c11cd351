package camera

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

func TestNewIntrinsics_RejectsBadParameters(t *testing.T) {
	cases := []struct {
		name          string
		focal         float64
		width, height int
	}{
		{"zero focal", 0, 1280, 720},
		{"negative focal", -100, 1280, 720},
		{"zero width", 1000, 0, 720},
		{"negative height", 1000, 1280, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewIntrinsics(tc.focal, 640, 360, tc.width, tc.height)
			if !errors.Is(err, ErrInvalidIntrinsics) {
				t.Errorf("NewIntrinsics() error = %v, want ErrInvalidIntrinsics", err)
			}
		})
	}
}

func TestNormalize_InvertsProjection(t *testing.T) {
	intr, err := NewIntrinsics(1000, 640, 360, 1280, 720)
	if err != nil {
		t.Fatalf("NewIntrinsics() error = %v", err)
	}

	// The principal point maps to the optical axis
	ray := intr.Normalize(r2.Point{X: 640, Y: 360})
	if ray.X != 0 || ray.Y != 0 || ray.Z != 1 {
		t.Errorf("Normalize(principal point) = %v, want (0,0,1)", ray)
	}

	ray = intr.Normalize(r2.Point{X: 1140, Y: 110})
	if math.Abs(ray.X-0.5) > 1e-12 || math.Abs(ray.Y+0.25) > 1e-12 {
		t.Errorf("Normalize() = %v, want (0.5,-0.25,1)", ray)
	}
}

func TestKInv_IsInverseOfK(t *testing.T) {
	intr, err := NewIntrinsics(1000, 640, 360, 1280, 720)
	if err != nil {
		t.Fatalf("NewIntrinsics() error = %v", err)
	}

	var prod mat.Dense
	prod.Mul(intr.K(), intr.KInv())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(prod.At(i, j)-want) > 1e-12 {
				t.Errorf("K*KInv at (%d,%d) = %g, want %g", i, j, prod.At(i, j), want)
			}
		}
	}
}

func TestEssential_AppliesCalibration(t *testing.T) {
	intr, err := NewIntrinsics(2, 10, 20, 100, 100)
	if err != nil {
		t.Fatalf("NewIntrinsics() error = %v", err)
	}

	f := mat.NewDense(3, 3, []float64{
		0, 0, 0,
		0, 0, -1,
		0, 1, 0,
	})
	e := intr.Essential(f)

	// E = K^T F K, spot checked against a hand computation
	var want mat.Dense
	var tmp mat.Dense
	tmp.Mul(intr.K().T(), f)
	want.Mul(&tmp, intr.K())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if e.At(i, j) != want.At(i, j) {
				t.Errorf("E at (%d,%d) = %g, want %g", i, j, e.At(i, j), want.At(i, j))
			}
		}
	}
}
