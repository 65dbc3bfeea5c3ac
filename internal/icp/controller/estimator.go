package controller

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// costEstimator fits J(T) = a·T² + b·T + c to the costs and gradients seen
// by the swing duration search. Cost samples constrain J, gradient samples
// constrain J' = 2a·T + b.
type costEstimator struct {
	rows []float64 // row-major, three columns
	rhs  []float64

	a   mat.Dense
	b   mat.VecDense
	fit mat.VecDense
}

func newCostEstimator(capacity int) *costEstimator {
	return &costEstimator{
		rows: make([]float64, 0, 3*capacity),
		rhs:  make([]float64, 0, capacity),
	}
}

func (e *costEstimator) Reset() {
	e.rows = e.rows[:0]
	e.rhs = e.rhs[:0]
}

// AddCost records J(duration) = cost.
func (e *costEstimator) AddCost(duration, cost float64) {
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return
	}
	e.rows = append(e.rows, duration*duration, duration, 1)
	e.rhs = append(e.rhs, cost)
}

// AddGradient records J'(duration) = gradient.
func (e *costEstimator) AddGradient(duration, gradient float64) {
	if math.IsNaN(gradient) || math.IsInf(gradient, 0) {
		return
	}
	e.rows = append(e.rows, 2*duration, 1, 0)
	e.rhs = append(e.rhs, gradient)
}

// Len is the number of recorded constraints.
func (e *costEstimator) Len() int { return len(e.rhs) }

// Coefficients returns the least-squares a, b, c. ok is false with fewer
// than three constraints or a rank deficient fit.
func (e *costEstimator) Coefficients() (a, b, c float64, ok bool) {
	n := len(e.rhs)
	if n < 3 {
		return 0, 0, 0, false
	}
	e.a.Reset()
	e.a.ReuseAs(n, 3)
	for i := 0; i < n; i++ {
		e.a.SetRow(i, e.rows[3*i:3*i+3])
	}
	e.b.Reset()
	e.b.ReuseAsVec(n)
	for i, v := range e.rhs {
		e.b.SetVec(i, v)
	}
	e.fit.Reset()
	if err := e.fit.SolveVec(&e.a, &e.b); err != nil {
		return 0, 0, 0, false
	}
	return e.fit.AtVec(0), e.fit.AtVec(1), e.fit.AtVec(2), true
}

// Minimum is the duration minimizing the fit, NaN when the fit is not
// convex.
func (e *costEstimator) Minimum() float64 {
	a, b, _, ok := e.Coefficients()
	if !ok || !(a > 0) {
		return math.NaN()
	}
	return -b / (2 * a)
}
