package qp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInfeasible is the root of every solve failure.
	ErrInfeasible = errors.New("qp: infeasible")
	// ErrSingular means the KKT system had no unique solution, usually
	// because the equality rows are inconsistent or linearly dependent.
	ErrSingular = fmt.Errorf("%w: singular KKT system", ErrInfeasible)
	// ErrNoConvergence means the active set did not settle within MaxIterations.
	ErrNoConvergence = fmt.Errorf("%w: active set did not converge", ErrInfeasible)
	// ErrDimension reports inconsistent matrix shapes.
	ErrDimension = errors.New("qp: dimension mismatch")
)

// Default tolerances. They are in the units of the constraint rows, which
// for the capture-point problem are metres.
const (
	DefaultMaxIterations       = 100
	DefaultViolationTolerance  = 1e-10
	DefaultDependenceTolerance = 1e-10
	DefaultFeasibilityCheck    = 1e-6
)

// Problem is one quadratic program. Aeq/beq and Aineq/bineq may be nil.
type Problem struct {
	H     mat.Matrix
	H0    mat.Vector // linear term h
	Aeq   mat.Matrix
	Beq   mat.Vector
	Aineq mat.Matrix
	Bineq mat.Vector
}

// Result summarises a successful solve.
type Result struct {
	Objective        float64
	Iterations       int
	ActiveIneqCount  int
	EqualityResidual float64
}

// Solver is a dual active-set QP solver in the manner of Goldfarb and
// Idnani. The zero value is not usable; construct with NewSolver.
type Solver struct {
	MaxIterations      int
	ViolationTolerance float64
	// DependenceTolerance decides when a constraint normal lies in the span
	// of the working set: the rate aᵀz at which raising its multiplier moves
	// the row, relative to Σ a_j²/H_jj.
	DependenceTolerance float64
	FeasibilityCheck    float64

	kkt    mat.Dense
	rhs    mat.VecDense
	sol    mat.VecDense
	dir    mat.VecDense
	resid  mat.VecDense
	lu     mat.LU
	active []int
	lambda []float64
	isAct  []bool
}

// NewSolver returns a solver with the default tolerances. maxInequalities
// sizes the active-set bookkeeping; it grows on demand.
func NewSolver(maxInequalities int) *Solver {
	return &Solver{
		MaxIterations:       DefaultMaxIterations,
		ViolationTolerance:  DefaultViolationTolerance,
		DependenceTolerance: DefaultDependenceTolerance,
		FeasibilityCheck:    DefaultFeasibilityCheck,
		active:              make([]int, 0, maxInequalities),
		lambda:              make([]float64, 0, maxInequalities),
		isAct:               make([]bool, 0, maxInequalities),
	}
}

// Solve writes the minimiser into x, which is resized as needed.
//
// Algorithm:
//  1. Start from the minimum under the equalities alone.
//  2. Pick the most violated inactive inequality p and raise its
//     multiplier. The primal moves along z, the working-set multipliers
//     along r, both from one KKT solve.
//  3. The step is the smaller of the full step that makes p active and the
//     partial step that drives an active multiplier to zero. A partial step
//     drops that one row and repeats step 2 for the same p.
//  4. A normal dependent on the working set only takes partial steps; if
//     none is possible the program is infeasible.
//  5. Stop when no inequality is violated.
//
// The working set stays linearly independent throughout, so every KKT
// system factorised is nonsingular when the equalities are.
func (s *Solver) Solve(p Problem, x *mat.VecDense) (Result, error) {
	n, c := p.H.Dims()
	if n != c || p.H0.Len() != n {
		return Result{}, fmt.Errorf("%w: H is %dx%d, h has %d rows", ErrDimension, n, c, p.H0.Len())
	}
	m := rowsOf(p.Aeq, n)
	if m < 0 || (p.Aeq != nil && p.Beq.Len() != m) {
		return Result{}, fmt.Errorf("%w: equality block", ErrDimension)
	}
	q := rowsOf(p.Aineq, n)
	if q < 0 || (p.Aineq != nil && p.Bineq.Len() != q) {
		return Result{}, fmt.Errorf("%w: inequality block", ErrDimension)
	}

	s.active = s.active[:0]
	s.lambda = s.lambda[:0]
	s.isAct = s.isAct[:0]
	for i := 0; i < q; i++ {
		s.isAct = append(s.isAct, false)
	}
	if x.Len() != n {
		x.Reset()
		x.ReuseAsVec(n)
	}
	iter := 1
	if err := s.factorize(p, n, m); err != nil {
		return Result{Iterations: iter}, err
	}
	if err := s.solveActive(p, n, m); err != nil {
		return Result{Iterations: iter}, err
	}
	for i := 0; i < n; i++ {
		x.SetVec(i, s.sol.AtVec(i))
	}

	for {
		cand, worst := -1, 0.0
		for i := 0; i < q; i++ {
			if s.isAct[i] {
				continue
			}
			norm := rowNorm(p.Aineq, i, n)
			if norm == 0 {
				continue
			}
			if v := (rowDot(p.Aineq, i, x, n) - p.Bineq.AtVec(i)) / norm; v > s.ViolationTolerance && v > worst {
				cand, worst = i, v
			}
		}
		if cand < 0 {
			break
		}

		scale := 0.0
		for j := 0; j < n; j++ {
			if a := p.Aineq.At(cand, j); a != 0 {
				scale += a * a / math.Abs(p.H.At(j, j))
			}
		}
		lambdaP := 0.0
		for {
			if iter >= s.MaxIterations {
				return Result{Iterations: iter}, ErrNoConvergence
			}
			iter++
			if err := s.direction(p, cand, n, m); err != nil {
				return Result{Iterations: iter}, err
			}

			// Per unit multiplier: x moves by z = dir[:n], active
			// multipliers by r = dir[n+m:].
			slack := rowDot(p.Aineq, cand, x, n) - p.Bineq.AtVec(cand)
			rate := rowDot(p.Aineq, cand, &s.dir, n)
			full := math.Inf(1)
			if -rate > s.DependenceTolerance*scale {
				full = slack / -rate
			}
			partial, block := math.Inf(1), -1
			for k := range s.active {
				if r := s.dir.AtVec(n + m + k); r < 0 {
					if t := -s.lambda[k] / r; t < partial {
						partial, block = t, k
					}
				}
			}
			step := math.Min(full, partial)
			if math.IsInf(step, 1) {
				return Result{Iterations: iter}, fmt.Errorf("%w: inequality %d cannot be met with the active set", ErrInfeasible, cand)
			}

			if !math.IsInf(full, 1) {
				for i := 0; i < n; i++ {
					x.SetVec(i, x.AtVec(i)+step*s.dir.AtVec(i))
				}
			}
			for k := range s.active {
				s.lambda[k] = math.Max(s.lambda[k]+step*s.dir.AtVec(n+m+k), 0)
			}
			lambdaP += step

			if full <= partial {
				s.isAct[cand] = true
				s.active = append(s.active, cand)
				s.lambda = append(s.lambda, lambdaP)
			} else {
				s.isAct[s.active[block]] = false
				s.active = append(s.active[:block], s.active[block+1:]...)
				s.lambda = append(s.lambda[:block], s.lambda[block+1:]...)
			}
			if err := s.factorize(p, n, m); err != nil {
				return Result{Iterations: iter}, err
			}
			if full <= partial {
				break
			}
		}
	}

	// Re-solve on the final working set to clear accumulated step error.
	if err := s.solveActive(p, n, m); err == nil {
		for i := 0; i < n; i++ {
			x.SetVec(i, s.sol.AtVec(i))
		}
	}
	return s.finish(p, x, n, m, q, iter)
}

// factorize builds and factorises the KKT matrix of the equalities plus the
// active inequalities.
func (s *Solver) factorize(p Problem, n, m int) error {
	k := n + m + len(s.active)
	s.kkt.Reset()
	s.kkt.ReuseAs(k, k)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			s.kkt.Set(i, j, p.H.At(i, j))
		}
	}
	for r := 0; r < m; r++ {
		for j := 0; j < n; j++ {
			v := p.Aeq.At(r, j)
			s.kkt.Set(n+r, j, v)
			s.kkt.Set(j, n+r, v)
		}
	}
	for idx, row := range s.active {
		r := n + m + idx
		for j := 0; j < n; j++ {
			v := p.Aineq.At(row, j)
			s.kkt.Set(r, j, v)
			s.kkt.Set(j, r, v)
		}
	}
	s.lu.Factorize(&s.kkt)
	if c := s.lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) {
		return fmt.Errorf("%w: condition number %v", ErrSingular, c)
	}
	return nil
}

// solveActive solves the factorised system for the point on the working set.
func (s *Solver) solveActive(p Problem, n, m int) error {
	s.resetRHS(n + m + len(s.active))
	for i := 0; i < n; i++ {
		s.rhs.SetVec(i, -p.H0.AtVec(i))
	}
	for r := 0; r < m; r++ {
		s.rhs.SetVec(n+r, p.Beq.AtVec(r))
	}
	for idx, row := range s.active {
		s.rhs.SetVec(n+m+idx, p.Bineq.AtVec(row))
	}
	return s.backSolve(&s.sol)
}

// direction solves [H Aᵀ; A 0]·[z; r] = [−a_cand; 0] into s.dir.
func (s *Solver) direction(p Problem, cand, n, m int) error {
	s.resetRHS(n + m + len(s.active))
	for j := 0; j < n; j++ {
		s.rhs.SetVec(j, -p.Aineq.At(cand, j))
	}
	return s.backSolve(&s.dir)
}

func (s *Solver) resetRHS(k int) {
	s.rhs.Reset()
	s.rhs.ReuseAsVec(k)
	s.rhs.Zero()
}

func (s *Solver) backSolve(dst *mat.VecDense) error {
	dst.Reset()
	if err := s.lu.SolveVecTo(dst, false, &s.rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) || math.IsNaN(float64(cond)) {
			return fmt.Errorf("%w: %v", ErrSingular, err)
		}
	}
	for i := 0; i < dst.Len(); i++ {
		if v := dst.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrSingular
		}
	}
	return nil
}

func (s *Solver) finish(p Problem, x *mat.VecDense, n, m, q, iter int) (Result, error) {
	res := Result{Iterations: iter, ActiveIneqCount: len(s.active)}
	for r := 0; r < m; r++ {
		res.EqualityResidual = math.Max(res.EqualityResidual, math.Abs(rowDot(p.Aeq, r, x, n)-p.Beq.AtVec(r)))
	}
	if res.EqualityResidual > s.FeasibilityCheck {
		return res, fmt.Errorf("%w: equality residual %.3g", ErrInfeasible, res.EqualityResidual)
	}
	for i := 0; i < q; i++ {
		if v := rowDot(p.Aineq, i, x, n) - p.Bineq.AtVec(i); v > s.FeasibilityCheck {
			return res, fmt.Errorf("%w: inequality %d violated by %.3g", ErrInfeasible, i, v)
		}
	}

	s.resid.Reset()
	s.resid.MulVec(p.H, x)
	res.Objective = 0.5*mat.Dot(x, &s.resid) + mat.Dot(p.H0, x)
	return res, nil
}

func rowsOf(a mat.Matrix, n int) int {
	if a == nil {
		return 0
	}
	r, c := a.Dims()
	if c != n {
		return -1
	}
	return r
}

func rowDot(a mat.Matrix, row int, x mat.Vector, n int) float64 {
	var sum float64
	for j := 0; j < n; j++ {
		sum += a.At(row, j) * x.AtVec(j)
	}
	return sum
}

func rowNorm(a mat.Matrix, row, n int) float64 {
	var sum float64
	for j := 0; j < n; j++ {
		v := a.At(row, j)
		sum += v * v
	}
	return math.Sqrt(sum)
}
