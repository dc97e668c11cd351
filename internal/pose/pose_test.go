package pose

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rotY(angle float64) [9]float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	return [9]float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	}
}

func TestValidate_AcceptsProperRotations(t *testing.T) {
	require.NoError(t, Identity().Validate())
	require.NoError(t, New(rotY(0.3), r3.Vector{X: 1}).Validate())
}

func TestValidate_RejectsCorruptRotations(t *testing.T) {
	var invalid *ErrInvalidRotation

	// scaled rows break orthonormality
	p := New([9]float64{1.001, 0, 0, 0, 1, 0, 0, 0, 1}, r3.Vector{})
	err := p.Validate()
	require.Error(t, err)
	assert.ErrorAs(t, err, &invalid)

	// a reflection has determinant -1
	p = New([9]float64{-1, 0, 0, 0, 1, 0, 0, 0, 1}, r3.Vector{})
	err = p.Validate()
	require.Error(t, err)
	assert.ErrorAs(t, err, &invalid)

	err = (Pose{}).Validate()
	require.Error(t, err)
	assert.ErrorAs(t, err, &invalid)
}

func TestCompose_RotatesRelativeTranslation(t *testing.T) {
	// After a 90° yaw, a forward step in the local frame moves along world X
	prev := New(rotY(math.Pi/2), r3.Vector{X: 1, Y: 2, Z: 3})
	rel := New(rotY(0), r3.Vector{Z: 1})

	got := Compose(prev, rel)
	assert.InDelta(t, 2, got.T.X, 1e-12)
	assert.InDelta(t, 2, got.T.Y, 1e-12)
	assert.InDelta(t, 3, got.T.Z, 1e-12)
	require.NoError(t, got.Validate())
}

func TestCompose_IsAssociative(t *testing.T) {
	p1 := New(rotY(0.2), r3.Vector{X: 0.5, Z: 1})
	p2 := New(rotY(-0.1), r3.Vector{Y: 0.3, Z: 0.8})
	p3 := New(rotY(0.05), r3.Vector{X: -0.2, Z: 1.1})

	left := Compose(Compose(p1, p2), p3)
	right := Compose(p1, Compose(p2, p3))

	lr, rr := left.Rotation(), right.Rotation()
	for i := range lr {
		assert.InDelta(t, rr[i], lr[i], 1e-12)
	}
	assert.InDelta(t, right.T.X, left.T.X, 1e-12)
	assert.InDelta(t, right.T.Y, left.T.Y, 1e-12)
	assert.InDelta(t, right.T.Z, left.T.Z, 1e-12)
}

func TestClone_IsIndependent(t *testing.T) {
	p := New(rotY(0.4), r3.Vector{X: 1})
	q := p.Clone()
	p.R.Set(0, 0, 42)

	assert.NotEqual(t, 42.0, q.R.At(0, 0))
}

func TestScaleTranslation(t *testing.T) {
	p := New(rotY(0), r3.Vector{X: 1, Y: -2, Z: 0.5})
	s := p.ScaleTranslation(2)

	assert.Equal(t, r3.Vector{X: 2, Y: -4, Z: 1}, s.T)
	// rotation is shared, translation is not
	assert.Equal(t, r3.Vector{X: 1, Y: -2, Z: 0.5}, p.T)
}
