package qp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func diag(vals ...float64) *mat.Dense {
	n := len(vals)
	d := mat.NewDense(n, n, nil)
	for i, v := range vals {
		d.Set(i, i, v)
	}
	return d
}

func TestSolveUnconstrained(t *testing.T) {
	t.Parallel()
	s := NewSolver(0)
	var x mat.VecDense

	res, err := s.Solve(Problem{H: diag(2, 2), H0: mat.NewVecDense(2, []float64{-2, -4})}, &x)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x.AtVec(0), 1e-12)
	assert.InDelta(t, 2.0, x.AtVec(1), 1e-12)
	assert.InDelta(t, -5.0, res.Objective, 1e-12)
	assert.Equal(t, 1, res.Iterations)
}

func TestSolveEqualityConstrained(t *testing.T) {
	t.Parallel()
	s := NewSolver(0)
	var x mat.VecDense

	_, err := s.Solve(Problem{
		H:   diag(2, 2),
		H0:  mat.NewVecDense(2, nil),
		Aeq: mat.NewDense(1, 2, []float64{1, 1}),
		Beq: mat.NewVecDense(1, []float64{1}),
	}, &x)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, x.AtVec(0), 1e-12)
	assert.InDelta(t, 0.5, x.AtVec(1), 1e-12)
}

func TestSolveInequality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		bound  float64
		want   [2]float64
		active int
	}{
		{"active", 1, [2]float64{0.5, 0.5}, 1},
		{"inactive", 3, [2]float64{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSolver(1)
			var x mat.VecDense
			res, err := s.Solve(Problem{
				H:     diag(2, 2),
				H0:    mat.NewVecDense(2, []float64{-2, -2}),
				Aineq: mat.NewDense(1, 2, []float64{1, 1}),
				Bineq: mat.NewVecDense(1, []float64{tt.bound}),
			}, &x)
			require.NoError(t, err)
			assert.InDelta(t, tt.want[0], x.AtVec(0), 1e-12)
			assert.InDelta(t, tt.want[1], x.AtVec(1), 1e-12)
			assert.Equal(t, tt.active, res.ActiveIneqCount)
		})
	}
}

func TestSolveSimplexWeights(t *testing.T) {
	t.Parallel()
	// Weights over the vertices of a segment [0, 1] must reproduce the
	// target 0.25 while staying non-negative and summing to one.
	s := NewSolver(3)
	var x mat.VecDense
	_, err := s.Solve(Problem{
		H:  diag(1e-3, 1e-3, 1e-3),
		H0: mat.NewVecDense(3, nil),
		Aeq: mat.NewDense(2, 3, []float64{
			0, 1, 2,
			1, 1, 1,
		}),
		Beq: mat.NewVecDense(2, []float64{0.25, 1}),
		Aineq: mat.NewDense(3, 3, []float64{
			-1, 0, 0,
			0, -1, 0,
			0, 0, -1,
		}),
		Bineq: mat.NewVecDense(3, nil),
	}, &x)
	require.NoError(t, err)
	sum := 0.0
	for i := 0; i < 3; i++ {
		assert.GreaterOrEqual(t, x.AtVec(i), -1e-9)
		sum += x.AtVec(i)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.25, x.AtVec(1)+2*x.AtVec(2), 1e-9)
}

func TestSolveBoundDropsWrongSignMultiplier(t *testing.T) {
	t.Parallel()
	s := NewSolver(1)
	var x mat.VecDense

	// min (x+1)² subject to x ≥ 0.
	_, err := s.Solve(Problem{
		H:     diag(2),
		H0:    mat.NewVecDense(1, []float64{2}),
		Aineq: mat.NewDense(1, 1, []float64{-1}),
		Bineq: mat.NewVecDense(1, []float64{0}),
	}, &x)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, x.AtVec(0), 1e-12)

	// Reusing the solver for an unconstrained-optimal problem must not keep
	// the previous active set.
	_, err = s.Solve(Problem{
		H:     diag(2),
		H0:    mat.NewVecDense(1, []float64{-2}),
		Aineq: mat.NewDense(1, 1, []float64{-1}),
		Bineq: mat.NewVecDense(1, []float64{0}),
	}, &x)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x.AtVec(0), 1e-12)
}

func TestSolveInconsistentEqualities(t *testing.T) {
	t.Parallel()
	s := NewSolver(0)
	var x mat.VecDense

	_, err := s.Solve(Problem{
		H:   diag(2, 2),
		H0:  mat.NewVecDense(2, nil),
		Aeq: mat.NewDense(2, 2, []float64{1, 0, 1, 0}),
		Beq: mat.NewVecDense(2, []float64{1, 2}),
	}, &x)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestSolveDimensionMismatch(t *testing.T) {
	t.Parallel()
	s := NewSolver(0)
	var x mat.VecDense

	_, err := s.Solve(Problem{H: diag(1, 1), H0: mat.NewVecDense(3, nil)}, &x)
	assert.ErrorIs(t, err, ErrDimension)
}

// projection returns the problem of the closest point to target inside
// the polygon {x : a_i·x ≤ b_i}.
func projection(target [2]float64, normals [][2]float64, offsets []float64) Problem {
	a := mat.NewDense(len(normals), 2, nil)
	for i, nrm := range normals {
		a.Set(i, 0, nrm[0])
		a.Set(i, 1, nrm[1])
	}
	return Problem{
		H:     diag(2, 2),
		H0:    mat.NewVecDense(2, []float64{-2 * target[0], -2 * target[1]}),
		Aineq: a,
		Bineq: mat.NewVecDense(len(offsets), offsets),
	}
}

func hexagon(radius float64) (normals [][2]float64, offsets []float64) {
	for k := 0; k < 6; k++ {
		angle := math.Pi/6 + float64(k)*math.Pi/3
		normals = append(normals, [2]float64{math.Cos(angle), math.Sin(angle)})
		offsets = append(offsets, radius*math.Cos(math.Pi/6))
	}
	return normals, offsets
}

// closestOnHexagon walks the boundary of the hexagon with vertices at
// multiples of 60°.
func closestOnHexagon(radius float64, q [2]float64) [2]float64 {
	best, bestDist := [2]float64{}, math.Inf(1)
	for k := 0; k < 6; k++ {
		a0, a1 := float64(k)*math.Pi/3, float64(k+1)*math.Pi/3
		ax, ay := radius*math.Cos(a0), radius*math.Sin(a0)
		bx, by := radius*math.Cos(a1), radius*math.Sin(a1)
		dx, dy := bx-ax, by-ay
		t := math.Max(0, math.Min(1, ((q[0]-ax)*dx+(q[1]-ay)*dy)/(dx*dx+dy*dy)))
		px, py := ax+t*dx, ay+t*dy
		if d := math.Hypot(q[0]-px, q[1]-py); d < bestDist {
			best, bestDist = [2]float64{px, py}, d
		}
	}
	return best
}

func TestSolveProjectionOntoHexagon(t *testing.T) {
	t.Parallel()
	const radius = 0.05
	normals, offsets := hexagon(radius)
	s := NewSolver(len(normals))

	targets := [][2]float64{{10, 3}, {-4, 0.1}, {0, -7}, {0.03, 0.03}, {0.01, -0.01}}
	for deg := 0; deg < 360; deg += 15 {
		rad := float64(deg) * math.Pi / 180
		targets = append(targets, [2]float64{0.2 * math.Cos(rad), 0.2 * math.Sin(rad)})
	}
	for _, target := range targets {
		var x mat.VecDense
		_, err := s.Solve(projection(target, normals, offsets), &x)
		require.NoError(t, err, "target %v", target)

		want := target
		for i, nrm := range normals {
			if nrm[0]*target[0]+nrm[1]*target[1] > offsets[i] {
				want = closestOnHexagon(radius, target)
				break
			}
		}
		assert.InDelta(t, want[0], x.AtVec(0), 1e-9, "target %v", target)
		assert.InDelta(t, want[1], x.AtVec(1), 1e-9, "target %v", target)
	}
}

func TestSolveDependentRowsAtAVertex(t *testing.T) {
	t.Parallel()
	s := NewSolver(4)
	var x mat.VecDense

	// Four rows meet at the origin: two of them are redundant there.
	normals := [][2]float64{{1, 0}, {0, 1}, {1, 1}, {1, 0}}
	res, err := s.Solve(projection([2]float64{1, 1}, normals, []float64{0, 0, 0, 0}), &x)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, x.AtVec(0), 1e-12)
	assert.InDelta(t, 0.0, x.AtVec(1), 1e-12)
	assert.LessOrEqual(t, res.ActiveIneqCount, 2, "the working set stays independent")

	_, err = s.Solve(projection([2]float64{1, 2}, normals, []float64{0, 0, 0, 0}), &x)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, x.AtVec(0), 1e-12)
	assert.InDelta(t, 0.0, x.AtVec(1), 1e-12)
}

func TestSolveManyViolatedBounds(t *testing.T) {
	t.Parallel()
	s := NewSolver(8)
	var x mat.VecDense

	target := []float64{5, -5, 5, 0.5}
	a := mat.NewDense(8, 4, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		a.Set(2*i, i, 1)
		a.Set(2*i+1, i, -1)
		b.SetVec(2*i, 1)
		b.SetVec(2*i+1, 1)
	}
	h0 := mat.NewVecDense(4, nil)
	for i, v := range target {
		h0.SetVec(i, -2*v)
	}
	res, err := s.Solve(Problem{H: diag(2, 2, 2, 2), H0: h0, Aineq: a, Bineq: b}, &x)
	require.NoError(t, err)
	for i, want := range []float64{1, -1, 1, 0.5} {
		assert.InDelta(t, want, x.AtVec(i), 1e-12)
	}
	assert.Equal(t, 3, res.ActiveIneqCount)
}

func TestSolveInfeasibleInequalities(t *testing.T) {
	t.Parallel()
	s := NewSolver(2)
	var x mat.VecDense

	// x ≤ -1 and -x ≤ -1 cannot both hold.
	_, err := s.Solve(Problem{
		H:     diag(2),
		H0:    mat.NewVecDense(1, nil),
		Aineq: mat.NewDense(2, 1, []float64{1, -1}),
		Bineq: mat.NewVecDense(2, []float64{-1, -1}),
	}, &x)
	assert.ErrorIs(t, err, ErrInfeasible)
}
