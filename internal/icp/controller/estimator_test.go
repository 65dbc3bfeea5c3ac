package controller

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimatorRecoversQuadratic(t *testing.T) {
	t.Parallel()
	cost := func(x float64) float64 { return 2*(x-0.7)*(x-0.7) + 1 }
	grad := func(x float64) float64 { return 4 * (x - 0.7) }

	e := newCostEstimator(8)
	for _, x := range []float64{0.5, 0.6, 0.65} {
		e.AddCost(x, cost(x))
		e.AddGradient(x, grad(x))
	}
	e.AddGradient(0.8, math.NaN())
	assert.Equal(t, 6, e.Len())

	a, b, c, ok := e.Coefficients()
	assert.True(t, ok)
	assert.InDelta(t, 2.0, a, 1e-9)
	assert.InDelta(t, -2.8, b, 1e-9)
	assert.InDelta(t, 1.98, c, 1e-9)
	assert.InDelta(t, 0.7, e.Minimum(), 1e-9)
}

func TestEstimatorNeedsConvexFit(t *testing.T) {
	t.Parallel()
	e := newCostEstimator(4)
	e.AddCost(0.5, 1)
	e.AddGradient(0.5, 0.2)
	assert.True(t, math.IsNaN(e.Minimum()), "two constraints do not fix three coefficients")

	e.Reset()
	for _, x := range []float64{0.4, 0.5, 0.6} {
		e.AddCost(x, -(x*x)+3)
	}
	assert.True(t, math.IsNaN(e.Minimum()), "a concave fit has no minimum")
}
