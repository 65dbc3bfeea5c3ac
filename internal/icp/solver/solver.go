// Package solver assembles and solves the per-tick capture-point quadratic
// program over footstep locations, the CMP feedback delta, a dynamic
// relaxation slack and the support polygon simplex weights.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/geometry"
	"github.com/banshee-data/capturepoint/internal/qp"
)

var (
	// ErrNoActuationPath is returned by Setup when there are no footsteps
	// to adjust and feedback is disabled.
	ErrNoActuationPath = errors.New("solver: no footsteps and no feedback")
	// ErrTooManySteps is returned when Setup asks for more footsteps than
	// the solver was sized for.
	ErrTooManySteps = errors.New("solver: requesting too many steps")
	// ErrTooManyVertices is returned when the support or reachability
	// polygon exceeds the configured vertex count.
	ErrTooManyVertices = errors.New("solver: too many polygon vertices")
	// ErrNotSetUp is returned by Solve when Setup has not been called since
	// the previous solve.
	ErrNotSetUp = errors.New("solver: setup must precede every solve")
	// ErrNonFiniteSolution is returned when the QP produced NaN or Inf.
	ErrNonFiniteSolution = errors.New("solver: non-finite solution")
)

// Config holds the sizes and weights. ControlDT divides the
// regularization weights so they are independent of the tick rate.
type Config struct {
	MaxSteps                int
	MaxVertices             int
	MaxReachabilityVertices int
	// ReachabilityInset pulls every reachability edge inward, in metres.
	ReachabilityInset float64

	FootstepForwardWeight        float64
	FootstepLateralWeight        float64
	FootstepRegularizationWeight float64
	FeedbackForwardWeight        float64
	FeedbackLateralWeight        float64
	FeedbackRegularizationWeight float64
	FeedbackHardeningMultiplier  float64
	DynamicRelaxationWeight      float64
	DynamicRelaxationDSModifier  float64
	SimplexWeight                float64
	MinimumFootstepWeight        float64
	MinimumFeedbackWeight        float64
	MinimumTimeRemaining         float64

	UseFootstepRegularization   bool
	UseFeedbackRegularization   bool
	UseFeedbackHardening        bool
	ScaleStepRegularizationTime bool
	ScaleFeedbackWeightWithGain bool
	ScaleUpcomingStepWeights    bool

	ControlDT float64
}

// DynamicsInput is the right-hand side of the dynamics equality.
//
//	CSP·ξ_meas − FinalICPRecursion − CMPConstantEffects =
//	    Σ m_i·p_i + CSP·K⁻¹·δ + ε
//
// with CSP the current state projection e^{ω0·t_rem}.
type DynamicsInput struct {
	MeasuredICP            r2.Vec
	PerfectCMP             r2.Vec
	FinalICPRecursion      r2.Vec
	CMPConstantEffects     r2.Vec
	CurrentStateProjection float64
}

// Solver owns every buffer of the problem. Buffers are sized once in New
// and reshaped in place by Setup.
type Solver struct {
	cfg Config
	qp  *qp.Solver

	// problem shape for the current tick
	setUp       bool
	numSteps    int
	numVertices int
	useFeedback bool
	feedbackSet bool
	nVar        int
	nEq         int
	nIneq       int

	// per-tick tasks
	stepRef        []r2.Vec
	stepWeight     []mat.SymDense
	stepMult       []float64
	stepRegWeight  float64
	feedbackWeight mat.SymDense
	feedbackGain   mat.Dense
	gainInverse    mat.Dense
	fbRegWeight    float64
	relaxWeight    float64
	vertices       []r2.Vec
	reach          []halfPlane

	// regularization targets
	prevSteps    []r2.Vec
	prevFeedback r2.Vec

	h     mat.Dense
	lin   mat.VecDense
	aeq   mat.Dense
	beq   mat.VecDense
	aineq mat.Dense
	bineq mat.VecDense
	x     mat.VecDense

	sol Solution
}

type halfPlane struct {
	normal r2.Vec
	offset float64
}

// New sizes a solver for cfg.
func New(cfg Config) *Solver {
	n := 2*cfg.MaxSteps + 4 + cfg.MaxVertices
	s := &Solver{
		cfg:        cfg,
		qp:         qp.NewSolver(cfg.MaxVertices + cfg.MaxReachabilityVertices),
		stepRef:    make([]r2.Vec, cfg.MaxSteps),
		stepWeight: make([]mat.SymDense, cfg.MaxSteps),
		stepMult:   make([]float64, cfg.MaxSteps),
		vertices:   make([]r2.Vec, 0, cfg.MaxVertices),
		reach:      make([]halfPlane, 0, cfg.MaxReachabilityVertices),
		prevSteps:  make([]r2.Vec, cfg.MaxSteps),
		h:          *mat.NewDense(n, n, nil),
		lin:        *mat.NewVecDense(n, nil),
		aeq:        *mat.NewDense(5, n, nil),
		beq:        *mat.NewVecDense(5, nil),
		x:          *mat.NewVecDense(n, nil),
		sol: Solution{
			Footsteps: make([]r2.Vec, cfg.MaxSteps),
			Weights:   make([]float64, 0, cfg.MaxVertices),
		},
	}
	if cfg.MaxVertices+cfg.MaxReachabilityVertices > 0 {
		s.aineq = *mat.NewDense(cfg.MaxVertices+cfg.MaxReachabilityVertices, n, nil)
		s.bineq = *mat.NewVecDense(cfg.MaxVertices+cfg.MaxReachabilityVertices, nil)
	}
	for i := range s.stepWeight {
		s.stepWeight[i] = *mat.NewSymDense(2, nil)
	}
	s.feedbackWeight = *mat.NewSymDense(2, nil)
	s.feedbackGain = *mat.NewDense(2, 2, nil)
	s.gainInverse = *mat.NewDense(2, 2, nil)
	return s
}

// Config returns the solver configuration.
func (s *Solver) Config() Config { return s.cfg }

// Setup fixes the problem shape for the next Solve and clears every task.
// It must be called before each Solve.
func (s *Solver) Setup(numberOfFootsteps, numberOfVertices int, useFeedback bool) error {
	s.setUp = false
	if numberOfFootsteps > s.cfg.MaxSteps {
		return fmt.Errorf("%w: %d > %d", ErrTooManySteps, numberOfFootsteps, s.cfg.MaxSteps)
	}
	if numberOfFootsteps < 0 || numberOfVertices < 0 {
		return fmt.Errorf("solver: negative problem size (%d steps, %d vertices)", numberOfFootsteps, numberOfVertices)
	}
	if numberOfFootsteps == 0 && !useFeedback {
		return ErrNoActuationPath
	}
	if numberOfVertices > s.cfg.MaxVertices {
		return fmt.Errorf("%w: %d > %d", ErrTooManyVertices, numberOfVertices, s.cfg.MaxVertices)
	}
	if !useFeedback {
		numberOfVertices = 0
	}

	s.numSteps = numberOfFootsteps
	s.numVertices = numberOfVertices
	s.useFeedback = useFeedback
	s.nVar = 2*numberOfFootsteps + 2
	if useFeedback {
		s.nVar += 2 + numberOfVertices
	}

	for i := 0; i < s.cfg.MaxSteps; i++ {
		s.stepRef[i] = r2.Vec{}
		s.stepMult[i] = 0
		s.stepWeight[i].Zero()
	}
	s.stepRegWeight = 0
	s.fbRegWeight = 0
	s.relaxWeight = 0
	s.feedbackWeight.Zero()
	s.feedbackGain.Zero()
	s.vertices = s.vertices[:0]
	s.reach = s.reach[:0]
	s.feedbackSet = false
	s.setUp = true
	return nil
}

// SetFootstepTask submits footstep i: its nominal location, heading and
// recursion multiplier (Entry+Exit).
func (s *Solver) SetFootstepTask(i int, reference r2.Vec, yaw, multiplier float64) {
	fwd := math.Max(s.cfg.FootstepForwardWeight, s.cfg.MinimumFootstepWeight)
	lat := math.Max(s.cfg.FootstepLateralWeight, s.cfg.MinimumFootstepWeight)
	if s.cfg.ScaleUpcomingStepWeights {
		fwd /= float64(i + 1)
		lat /= float64(i + 1)
	}
	rotateWeights(&s.stepWeight[i], fwd, lat, yaw)
	s.stepRef[i] = reference
	s.stepMult[i] = multiplier
}

// SetFootstepRegularization enables the footstep regularization term for
// this tick. With time scaling on the weight grows as the swing runs out.
func (s *Solver) SetFootstepRegularization(timeRemaining, swingDuration float64) {
	if !s.cfg.UseFootstepRegularization {
		return
	}
	w := s.cfg.FootstepRegularizationWeight / s.cfg.ControlDT
	if s.cfg.ScaleStepRegularizationTime && swingDuration > 0 {
		w *= swingDuration / math.Max(timeRemaining, s.cfg.MinimumTimeRemaining)
	}
	s.stepRegWeight = w
}

// SetFeedbackTask submits the feedback gain, aligned with the desired ICP
// velocity, and the weights for δ and ε. doubleSupport relaxes the slack
// weight by the double support modifier.
func (s *Solver) SetFeedbackTask(icpVelocity r2.Vec, parallelGain, orthogonalGain float64, doubleSupport bool) {
	s.feedbackSet = true

	heading := 0.0
	if r2.Norm(icpVelocity) > 1e-9 {
		heading = math.Atan2(icpVelocity.Y, icpVelocity.X)
	}
	sn, cs := math.Sincos(heading)
	// K = R·diag(kpar, korth)·Rᵀ
	s.feedbackGain.Set(0, 0, parallelGain*cs*cs+orthogonalGain*sn*sn)
	s.feedbackGain.Set(0, 1, (parallelGain-orthogonalGain)*sn*cs)
	s.feedbackGain.Set(1, 0, (parallelGain-orthogonalGain)*sn*cs)
	s.feedbackGain.Set(1, 1, parallelGain*sn*sn+orthogonalGain*cs*cs)
	// The inverse of a rotated diagonal is the rotated reciprocal diagonal.
	ip, io := 1/parallelGain, 1/orthogonalGain
	s.gainInverse.Set(0, 0, ip*cs*cs+io*sn*sn)
	s.gainInverse.Set(0, 1, (ip-io)*sn*cs)
	s.gainInverse.Set(1, 0, (ip-io)*sn*cs)
	s.gainInverse.Set(1, 1, ip*sn*sn+io*cs*cs)

	fwd := math.Max(s.cfg.FeedbackForwardWeight, s.cfg.MinimumFeedbackWeight)
	lat := math.Max(s.cfg.FeedbackLateralWeight, s.cfg.MinimumFeedbackWeight)
	if s.cfg.ScaleFeedbackWeightWithGain {
		norm := math.Hypot(parallelGain, orthogonalGain)
		fwd /= norm
		lat /= norm
	}
	if s.cfg.UseFeedbackHardening {
		k := 1 + s.cfg.FeedbackHardeningMultiplier*r2.Norm(s.prevFeedback)
		fwd *= k
		lat *= k
	}
	s.feedbackWeight.SetSym(0, 0, fwd)
	s.feedbackWeight.SetSym(1, 1, lat)
	s.feedbackWeight.SetSym(0, 1, 0)

	if s.cfg.UseFeedbackRegularization {
		s.fbRegWeight = s.cfg.FeedbackRegularizationWeight / s.cfg.ControlDT
	}
	s.relaxWeight = s.cfg.DynamicRelaxationWeight
	if doubleSupport {
		s.relaxWeight /= s.cfg.DynamicRelaxationDSModifier
	}
}

// SetSupportPolygon submits the world-frame vertices the feedback CMP must
// stay within. Their count must match Setup.
func (s *Solver) SetSupportPolygon(vertices []r2.Vec) error {
	if !s.useFeedback {
		return nil
	}
	if len(vertices) != s.numVertices {
		return fmt.Errorf("%w: got %d vertices, set up for %d", ErrTooManyVertices, len(vertices), s.numVertices)
	}
	s.vertices = append(s.vertices[:0], vertices...)
	return nil
}

// SetReachabilityRegion constrains footstep 0 to a convex polygon shrunk by
// ReachabilityInset. A nil or empty polygon leaves it unconstrained.
func (s *Solver) SetReachabilityRegion(poly *geometry.ConvexPolygon) error {
	s.reach = s.reach[:0]
	if poly == nil || poly.NumVertices() < 3 || s.numSteps == 0 {
		return nil
	}
	if poly.NumVertices() > s.cfg.MaxReachabilityVertices {
		return fmt.Errorf("%w: reachability has %d vertices, max %d", ErrTooManyVertices, poly.NumVertices(), s.cfg.MaxReachabilityVertices)
	}
	for i := 0; i < poly.NumVertices(); i++ {
		normal, offset := poly.Edge(i)
		if normal == (r2.Vec{}) {
			continue
		}
		s.reach = append(s.reach, halfPlane{normal: normal, offset: offset - s.cfg.ReachabilityInset})
	}
	return nil
}

// ResetFootstepRegularization sets the regularization target of footstep i.
func (s *Solver) ResetFootstepRegularization(i int, location r2.Vec) {
	s.prevSteps[i] = location
}

// ResetFeedbackRegularization zeroes the previous feedback delta.
func (s *Solver) ResetFeedbackRegularization() {
	s.prevFeedback = r2.Vec{}
}

// Solve builds and solves the problem. On failure the previous solution
// is left untouched. Regularization targets only move on CommitPrevious.
func (s *Solver) Solve(in DynamicsInput) error {
	if !s.setUp {
		return ErrNotSetUp
	}
	s.setUp = false
	if s.useFeedback && !s.feedbackSet {
		return fmt.Errorf("%w: feedback enabled without a feedback task", ErrNotSetUp)
	}

	s.assemble(in)

	res, err := s.qp.Solve(s.problem(), &s.x)
	if err != nil {
		return fmt.Errorf("solve: %w", err)
	}
	if !allFinite(s.x.RawVector().Data[:s.nVar]) {
		return ErrNonFiniteSolution
	}

	s.extract(in, res)
	return nil
}

// CommitPrevious makes the current solution the regularization target of
// the next tick.
func (s *Solver) CommitPrevious() {
	for i := 0; i < s.numSteps; i++ {
		s.prevSteps[i] = s.sol.Footsteps[i]
	}
	s.prevFeedback = s.sol.FeedbackDelta
}

// Solution returns the last successful solution. The pointer stays valid
// for the life of the solver.
func (s *Solver) Solution() *Solution { return &s.sol }

// NumberOfFootsteps is the decision footstep count of the current shape.
func (s *Solver) NumberOfFootsteps() int { return s.numSteps }

// FeedbackGain returns the 2×2 gain K used this tick.
func (s *Solver) FeedbackGain() mat.Matrix { return &s.feedbackGain }

func (s *Solver) problem() qp.Problem {
	p := qp.Problem{H: &s.h, H0: &s.lin, Aeq: &s.aeq, Beq: &s.beq}
	if s.nIneq > 0 {
		p.Aineq = &s.aineq
		p.Bineq = &s.bineq
	}
	return p
}

func (s *Solver) fbIndex() int      { return 2 * s.numSteps }
func (s *Solver) slackIndex() int   { return 2*s.numSteps + 2 }
func (s *Solver) weightsIndex() int { return 2*s.numSteps + 4 }

func (s *Solver) assemble(in DynamicsInput) {
	n := s.nVar
	s.nEq = 2
	switch {
	case !s.useFeedback:
		s.nEq += 2
	case s.numVertices > 0:
		s.nEq += 3
	}
	s.nIneq = len(s.reach)
	if s.useFeedback {
		s.nIneq += s.numVertices
	}

	reshape(&s.h, n, n)
	reshapeVec(&s.lin, n)
	reshape(&s.aeq, s.nEq, n)
	reshapeVec(&s.beq, s.nEq)
	if s.nIneq > 0 {
		reshape(&s.aineq, s.nIneq, n)
		reshapeVec(&s.bineq, s.nIneq)
	}

	// Footsteps: (p−ref)ᵀW(p−ref) + r·|p−prev|².
	for i := 0; i < s.numSteps; i++ {
		w := &s.stepWeight[i]
		for a := 0; a < 2; a++ {
			for b := 0; b < 2; b++ {
				s.h.Set(2*i+a, 2*i+b, 2*w.At(a, b))
			}
		}
		ref := []float64{s.stepRef[i].X, s.stepRef[i].Y}
		prev := []float64{s.prevSteps[i].X, s.prevSteps[i].Y}
		for a := 0; a < 2; a++ {
			s.h.Set(2*i+a, 2*i+a, s.h.At(2*i+a, 2*i+a)+2*s.stepRegWeight)
			g := 0.0
			for b := 0; b < 2; b++ {
				g += w.At(a, b) * ref[b]
			}
			s.lin.SetVec(2*i+a, -2*g-2*s.stepRegWeight*prev[a])
		}
	}

	fb := s.fbIndex()
	csp := in.CurrentStateProjection
	if s.useFeedback {
		// δᵀW_fbδ + r_fb·|δ−δ_prev|²
		prev := []float64{s.prevFeedback.X, s.prevFeedback.Y}
		for a := 0; a < 2; a++ {
			for b := 0; b < 2; b++ {
				s.h.Set(fb+a, fb+b, 2*s.feedbackWeight.At(a, b))
			}
			s.h.Set(fb+a, fb+a, s.h.At(fb+a, fb+a)+2*s.fbRegWeight)
			s.lin.SetVec(fb+a, -2*s.fbRegWeight*prev[a])
		}
		sl := s.slackIndex()
		s.h.Set(sl, sl, 2*s.relaxWeight)
		s.h.Set(sl+1, sl+1, 2*s.relaxWeight)
		wi := s.weightsIndex()
		for v := 0; v < s.numVertices; v++ {
			s.h.Set(wi+v, wi+v, 2*s.cfg.SimplexWeight)
		}
	} else {
		// δ is pinned to zero; a unit diagonal keeps the KKT block regular.
		s.h.Set(fb, fb, 1)
		s.h.Set(fb+1, fb+1, 1)
	}

	// Dynamics rows.
	rhs := r2.Sub(r2.Sub(r2.Scale(csp, in.MeasuredICP), in.FinalICPRecursion), in.CMPConstantEffects)
	s.beq.SetVec(0, rhs.X)
	s.beq.SetVec(1, rhs.Y)
	for i := 0; i < s.numSteps; i++ {
		s.aeq.Set(0, 2*i, s.stepMult[i])
		s.aeq.Set(1, 2*i+1, s.stepMult[i])
	}
	if s.useFeedback {
		for a := 0; a < 2; a++ {
			for b := 0; b < 2; b++ {
				s.aeq.Set(a, fb+b, csp*s.gainInverse.At(a, b))
			}
			s.aeq.Set(a, s.slackIndex()+a, 1)
		}
		if s.numVertices > 0 {
			// Σλ_v·v_v − δ = perfectCMP, Σλ_v = 1.
			wi := s.weightsIndex()
			for v, vert := range s.vertices {
				s.aeq.Set(2, wi+v, vert.X)
				s.aeq.Set(3, wi+v, vert.Y)
				s.aeq.Set(4, wi+v, 1)
			}
			s.aeq.Set(2, fb, -1)
			s.aeq.Set(3, fb+1, -1)
			s.beq.SetVec(2, in.PerfectCMP.X)
			s.beq.SetVec(3, in.PerfectCMP.Y)
			s.beq.SetVec(4, 1)
		}
	} else {
		// Without feedback the δ block only appears here: δ = 0.
		s.aeq.Set(2, fb, 1)
		s.aeq.Set(3, fb+1, 1)
	}

	row := 0
	if s.useFeedback {
		wi := s.weightsIndex()
		for v := 0; v < s.numVertices; v++ {
			s.aineq.Set(row, wi+v, -1)
			row++
		}
	}
	for _, hp := range s.reach {
		s.aineq.Set(row, 0, hp.normal.X)
		s.aineq.Set(row, 1, hp.normal.Y)
		s.bineq.SetVec(row, hp.offset)
		row++
	}
}

func (s *Solver) extract(in DynamicsInput, res qp.Result) {
	x := s.x.RawVector().Data
	sol := &s.sol
	sol.NumberOfFootsteps = s.numSteps
	for i := 0; i < s.cfg.MaxSteps; i++ {
		if i < s.numSteps {
			sol.Footsteps[i] = r2.Vec{X: x[2*i], Y: x[2*i+1]}
		} else {
			sol.Footsteps[i] = geometry.NaNVec()
		}
	}
	fb := s.fbIndex()
	sol.FeedbackDelta = r2.Vec{X: x[fb], Y: x[fb+1]}
	sol.FeedbackCMP = r2.Add(in.PerfectCMP, sol.FeedbackDelta)
	sol.Weights = sol.Weights[:0]
	sol.Relaxation = r2.Vec{}
	if s.useFeedback {
		sl := s.slackIndex()
		sol.Relaxation = r2.Vec{X: x[sl], Y: x[sl+1]}
		wi := s.weightsIndex()
		sol.Weights = append(sol.Weights, x[wi:wi+s.numVertices]...)
	}
	sol.Iterations = res.Iterations
	sol.ActiveConstraints = res.ActiveIneqCount
	s.costToGo(&sol.Cost)
}

// costToGo evaluates each objective term at the solution, constants included.
func (s *Solver) costToGo(c *CostToGo) {
	sol := &s.sol
	*c = CostToGo{}
	for i := 0; i < s.numSteps; i++ {
		c.Footstep += quadratic(&s.stepWeight[i], r2.Sub(sol.Footsteps[i], s.stepRef[i]))
		c.FootstepRegularization += s.stepRegWeight * r2.Norm2(r2.Sub(sol.Footsteps[i], s.prevSteps[i]))
	}
	if s.useFeedback {
		c.Feedback = quadratic(&s.feedbackWeight, sol.FeedbackDelta)
		c.FeedbackRegularization = s.fbRegWeight * r2.Norm2(r2.Sub(sol.FeedbackDelta, s.prevFeedback))
		c.Relaxation = s.relaxWeight * r2.Norm2(sol.Relaxation)
		c.Simplex = s.cfg.SimplexWeight * floats.Dot(sol.Weights, sol.Weights)
	}
	c.Total = c.Footstep + c.FootstepRegularization + c.Feedback + c.FeedbackRegularization + c.Relaxation + c.Simplex
}

func quadratic(w *mat.SymDense, v r2.Vec) float64 {
	return w.At(0, 0)*v.X*v.X + 2*w.At(0, 1)*v.X*v.Y + w.At(1, 1)*v.Y*v.Y
}

// rotateWeights writes R(yaw)·diag(fwd, lat)·R(yaw)ᵀ into w.
func rotateWeights(w *mat.SymDense, fwd, lat, yaw float64) {
	sn, cs := math.Sincos(yaw)
	w.SetSym(0, 0, fwd*cs*cs+lat*sn*sn)
	w.SetSym(0, 1, (fwd-lat)*sn*cs)
	w.SetSym(1, 1, fwd*sn*sn+lat*cs*cs)
}

func allFinite(v []float64) bool {
	if floats.HasNaN(v) {
		return false
	}
	for _, x := range v {
		if math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// reshape resizes m to r×c and zeroes it, reusing its backing array.
func reshape(m *mat.Dense, r, c int) {
	m.Reset()
	m.ReuseAs(r, c)
}

func reshapeVec(v *mat.VecDense, n int) {
	v.Reset()
	v.ReuseAsVec(n)
}
