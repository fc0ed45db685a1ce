package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestWeightedMeanTranslation(t *testing.T) {
	a := r3.Vec{X: 1, Y: 2, Z: 0}
	b := r3.Vec{X: 4, Y: -1, Z: 3}
	got := WeightedMeanTranslation([]r3.Vec{a, b}, []float64{1.0, 0.5})

	assertVec(t, r3.Vec{
		X: (1.0*1 + 0.5*4) / 1.5,
		Y: (1.0*2 + 0.5*-1) / 1.5,
		Z: (1.0*0 + 0.5*3) / 1.5,
	}, got)
}

func TestWeightedMeanRotation_SingleRotation(t *testing.T) {
	r := NewRotationFromRPY(0.1, 0.2, 0.3)
	avg, ok := WeightedMeanRotation([]Rotation{r}, []float64{0.7})
	require.True(t, ok)
	assert.True(t, avg.ApproxEqual(r, 1e-9))
}

func TestWeightedMeanRotation_EqualWeightsYaw(t *testing.T) {
	a := NewRotationFromRPY(0, 0, 0.2)
	b := NewRotationFromRPY(0, 0, 0.6)
	avg, ok := WeightedMeanRotation([]Rotation{a, b}, []float64{1, 1})
	require.True(t, ok)

	_, _, yaw := avg.RPY()
	assert.InDelta(t, 0.4, yaw, 1e-9)
}

func TestWeightedMeanRotation_AcrossPiWrap(t *testing.T) {
	// a naive Euler average of ±(π-0.1) would point the opposite way
	a := NewRotationFromRPY(0, 0, math.Pi-0.1)
	b := NewRotationFromRPY(0, 0, -math.Pi+0.1)
	avg, ok := WeightedMeanRotation([]Rotation{a, b}, []float64{1, 1})
	require.True(t, ok)

	assert.True(t, avg.ApproxEqual(NewRotationFromRPY(0, 0, math.Pi), 1e-9))
}

func TestWeightedMeanRotation_SignInvariant(t *testing.T) {
	a := NewRotationFromQuaternion(1, 0, 0, 0)
	b := NewRotationFromQuaternion(-1, 0, 0, 0)
	avg, ok := WeightedMeanRotation([]Rotation{a, b}, []float64{1, 1})
	require.True(t, ok)
	assert.True(t, avg.ApproxEqual(IdentityRotation(), 1e-9))
}

func TestWeightedMeanRotation_ZeroWeights(t *testing.T) {
	_, ok := WeightedMeanRotation([]Rotation{IdentityRotation()}, []float64{0})
	assert.False(t, ok)

	_, ok = WeightedMeanRotation(nil, nil)
	assert.False(t, ok)
}
