// Package controller runs the capture-point control tick. Each tick it
// projects the footstep plan onto the current capture point, solves the
// footstep adjustment and CMP feedback program and, during single support,
// searches the swing duration that minimizes the program's cost.
//
// A Controller is not safe for concurrent use. The plan passed to the
// Initialize methods is read and written during Compute; callers mutate it
// only between ticks.
package controller

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/geometry"
	"github.com/banshee-data/capturepoint/internal/icp/debug"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
	"github.com/banshee-data/capturepoint/internal/icp/input"
	"github.com/banshee-data/capturepoint/internal/icp/reachability"
	"github.com/banshee-data/capturepoint/internal/icp/recursion"
	"github.com/banshee-data/capturepoint/internal/icp/solution"
	"github.com/banshee-data/capturepoint/internal/icp/solver"
	"github.com/banshee-data/capturepoint/internal/monitoring"
	"github.com/banshee-data/capturepoint/internal/timeutil"
)

var logf = monitoring.Tagged("icp")

var (
	// ErrNotInitialized is returned by Compute before any phase was entered.
	ErrNotInitialized = errors.New("controller: no phase initialized")
	// ErrEmptyPlan is returned when single support starts without a step
	// to place.
	ErrEmptyPlan = errors.New("controller: single support needs a planned step")
	// ErrInvalidInput is returned for non-finite measurements.
	ErrInvalidInput = errors.New("controller: invalid tick input")
)

// Tick is the measured state of one control tick.
type Tick struct {
	// Time is the controller time in seconds, on the clock used for the
	// Initialize calls.
	Time        float64
	MeasuredICP r2.Vec
	Omega0      float64
	// SupportPolygon holds the world-frame vertices of the current
	// support area, in any order.
	SupportPolygon []r2.Vec
}

// TimingResult summarizes the swing duration search of a tick.
type TimingResult struct {
	SwingDuration         float64
	EstimatedOptimalSwing float64
	GradientIterations    int
	ReductionIterations   int
	FinishedOnTime        bool
}

// Output is the command of one tick. Footsteps aliases controller memory
// and is valid until the next Compute.
type Output struct {
	Phase       footstep.SupportPhase
	TimeInPhase float64

	ReferenceICP         r2.Vec
	ReferenceICPVelocity r2.Vec
	ReferenceCMP         r2.Vec
	NominalICP           r2.Vec

	FeedbackCMP   r2.Vec
	FeedbackDelta r2.Vec
	Relaxation    r2.Vec

	Footsteps   []r2.Vec
	WasAdjusted bool
	Cost        solver.CostToGo
	Timing      TimingResult
}

// Controller owns every component of the tick and their buffers.
type Controller struct {
	cfg      Config
	clock    timeutil.Clock
	observer debug.Observer

	recursion *recursion.Calculator
	input     *input.Handler
	solver    *solver.Solver
	solution  *solution.Handler
	reach     *reachability.Handler
	estimator *costEstimator

	state       phaseState
	initialized bool
	plan        *footstep.Plan
	noPlan      *footstep.Plan

	// n is the recursion horizon and the number of decision footsteps.
	n                int
	localAdjustment  bool
	haveStepSolution bool
	referenceSwing   float64

	timings   []footstep.Timing
	support   *geometry.ConvexPolygon
	footsteps []r2.Vec

	tick      uint64
	tickStart time.Time
	samples   int
	solved    bool
	lastSwing float64
	timing    TimingResult
	out       Output
}

// New validates cfg and sizes every buffer.
func New(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Observer == nil {
		cfg.Observer = debug.Nop{}
	}
	samples := cfg.Timing.MaxIterations * (cfg.Timing.MaxReductions + 1)
	return &Controller{
		cfg:       cfg,
		clock:     cfg.Clock,
		observer:  cfg.Observer,
		recursion: recursion.NewCalculator(cfg.Recursion),
		input:     input.New(cfg.Input),
		solver:    solver.New(cfg.Solver),
		solution:  solution.New(cfg.Solution),
		reach:     reachability.New(cfg.Reachability),
		estimator: newCostEstimator(2 * samples),
		noPlan:    footstep.NewPlan(0, footstep.Timing{}),
		timings:   make([]footstep.Timing, 0, cfg.Recursion.MaxSteps+2),
		support:   geometry.NewConvexPolygon(cfg.Solver.MaxVertices),
		footsteps: make([]r2.Vec, 0, cfg.Solver.MaxSteps),
	}, nil
}

// InitializeForStanding enters standing on both feet. The standing target
// is the midpoint of the feet unless overridden.
func (c *Controller) InitializeForStanding(t float64, left, right footstep.Footstep, omega0 float64) error {
	if err := c.enter(footstep.Standing, t, left, right, c.noPlan, omega0); err != nil {
		return err
	}
	c.solver.ResetFeedbackRegularization()
	return nil
}

// InitializeForTransfer enters double support before the swing of plan
// step 0, or the final transfer when the plan is empty. support is the foot
// that stays down through the next swing; trailing is the foot that lifts.
func (c *Controller) InitializeForTransfer(t float64, support, trailing footstep.Footstep, plan *footstep.Plan, omega0 float64) error {
	return c.enter(footstep.Transfer, t, support, trailing, plan, omega0)
}

// InitializeForSingleSupport enters the swing that places plan step 0.
// swing is the foot at lift-off.
func (c *Controller) InitializeForSingleSupport(t float64, stance, swing footstep.Footstep, plan *footstep.Plan, omega0 float64) error {
	if plan.Len() == 0 {
		return ErrEmptyPlan
	}
	return c.enter(footstep.SingleSupport, t, stance, swing, plan, omega0)
}

// OverrideStandingICP pins the standing target; nil restores the midpoint
// of the feet.
func (c *Controller) OverrideStandingICP(p *r2.Vec) { c.input.OverrideStandingICP(p) }

func (c *Controller) enter(phase footstep.SupportPhase, t float64, support, trailing footstep.Footstep, plan *footstep.Plan, omega0 float64) error {
	if err := checkTransition(c.initialized, c.state.phase, phase); err != nil {
		return err
	}
	if err := c.input.Initialize(phase, support, trailing, plan, omega0); err != nil {
		return fmt.Errorf("enter %s: %w", phase, err)
	}

	c.state = phaseState{phase: phase, startTime: t, support: support, trailing: trailing}
	c.plan = plan
	c.initialized = true
	c.recursion.Invalidate()
	c.haveStepSolution = false

	c.localAdjustment = phase == footstep.SingleSupport && c.cfg.UseStepAdjustment
	c.n = 0
	if c.localAdjustment {
		c.n = min(c.cfg.NumberOfFootstepsToConsider, c.input.NumberOfSteps(), c.cfg.Solver.MaxSteps)
	}
	for i := 0; i < min(c.input.NumberOfSteps(), c.cfg.Solver.MaxSteps); i++ {
		c.solver.ResetFootstepRegularization(i, c.input.FootstepPosition(i))
	}

	if phase == footstep.SingleSupport {
		c.referenceSwing = plan.Step(0).Timing.SwingDuration
		if err := c.reach.InitializeForSingleSupport(support.Side, support.Pose); err != nil {
			return fmt.Errorf("enter %s: %w", phase, err)
		}
	} else {
		c.referenceSwing = math.NaN()
		c.reach.InitializeForDoubleSupport()
	}
	return nil
}

// Compute runs one control tick. On error the returned output is the last
// good command.
func (c *Controller) Compute(tick Tick) (Output, error) {
	if !c.initialized {
		return c.out, ErrNotInitialized
	}
	c.tick++
	c.tickStart = c.clock.Now()
	timeInPhase := tick.Time - c.state.startTime

	if err := c.compute(tick, timeInPhase); err != nil {
		c.observer.ObserveFailure(debug.FailureRecord{Tick: c.tick, Phase: c.state.phase, Err: err})
		logf("tick %d (%s): %v", c.tick, c.state.phase, err)
		return c.out, err
	}
	c.publish(tick, timeInPhase)
	return c.out, nil
}

func (c *Controller) compute(tick Tick, timeInPhase float64) error {
	if !geometry.IsFinite(tick.MeasuredICP) || math.IsNaN(tick.Time) {
		return fmt.Errorf("%w: measured ICP %v at %v", ErrInvalidInput, tick.MeasuredICP, tick.Time)
	}
	if err := c.support.SetFromPoints(tick.SupportPolygon); err != nil {
		return fmt.Errorf("support polygon: %w", err)
	}

	c.samples = 0
	c.timing = TimingResult{
		SwingDuration:         c.SwingDuration(),
		EstimatedOptimalSwing: math.NaN(),
		FinishedOnTime:        true,
	}
	if c.state.phase == footstep.SingleSupport {
		if err := c.checkForEndingOfAdjustment(timeInPhase, tick.Omega0); err != nil {
			return err
		}
	}

	var err error
	if c.state.phase == footstep.SingleSupport && c.cfg.Timing.Enabled && c.n > 0 {
		err = c.optimizeTiming(tick, timeInPhase)
	} else {
		_, err = c.solveAt(tick, timeInPhase)
	}
	if err != nil {
		return err
	}
	return c.finish(tick)
}

// checkForEndingOfAdjustment freezes the footsteps once the swing is too
// close to touchdown to move them. The last solution is written into the
// plan and the phase continues on feedback alone.
func (c *Controller) checkForEndingOfAdjustment(timeInPhase, omega0 float64) error {
	if !c.localAdjustment || c.SwingDuration()-timeInPhase >= c.cfg.RemainingTimeToStopAdjusting {
		return nil
	}
	if c.haveStepSolution {
		for i, p := range c.solution.Footsteps() {
			if err := c.plan.SetPosition(i, p); err != nil {
				return fmt.Errorf("commit footstep %d: %w", i, err)
			}
		}
		// Corner points and the final ICP follow the committed steps.
		if err := c.input.Initialize(c.state.phase, c.state.support, c.state.trailing, c.plan, omega0); err != nil {
			return fmt.Errorf("commit footsteps: %w", err)
		}
	}
	c.localAdjustment = false
	c.n = 0
	c.recursion.Invalidate()
	return nil
}

// solveAt runs the recursion and, when anything can be actuated, the
// program, for the plan as it stands. It returns the program cost.
func (c *Controller) solveAt(tick Tick, timeInPhase float64) (float64, error) {
	c.solved = false
	c.timings = c.plan.HorizonTimings(c.n, c.timings)
	if err := c.recursion.Compute(c.n, c.timings, c.state.phase, c.cfg.Input.UseTwoCMPs, tick.Omega0); err != nil {
		return 0, fmt.Errorf("recursion: %w", err)
	}
	c.recursion.ComputeRemaining(timeInPhase)
	m := c.recursion.Multipliers()
	c.solution.ComputeNominalValues(m, c.input, tick.Omega0)

	if !c.cfg.UseFeedback && c.n == 0 {
		return 0, nil
	}

	if err := c.solver.Setup(c.n, c.support.NumVertices(), c.cfg.UseFeedback); err != nil {
		return 0, err
	}
	for i := 0; i < c.n; i++ {
		c.solver.SetFootstepTask(i, c.input.FootstepPosition(i), c.input.FootstepYaw(i), m.FootstepMultiplier(i))
	}
	if c.n > 0 {
		c.solver.SetFootstepRegularization(m.TimeRemaining, c.plan.Step(0).Timing.SwingDuration)
	}
	nominal := c.solution.Nominal()
	if c.cfg.UseFeedback {
		c.solver.SetFeedbackTask(nominal.ICPVelocity, c.cfg.FeedbackParallelGain, c.cfg.FeedbackOrthogonalGain, c.n == 0)
		if err := c.solver.SetSupportPolygon(c.support.Vertices()); err != nil {
			return 0, err
		}
	}
	if err := c.solver.SetReachabilityRegion(c.reach.Region()); err != nil {
		return 0, err
	}

	err := c.solver.Solve(solver.DynamicsInput{
		MeasuredICP:            tick.MeasuredICP,
		PerfectCMP:             nominal.CMP,
		FinalICPRecursion:      c.input.FinalICPRecursion(m),
		CMPConstantEffects:     c.input.CMPConstantEffects(m, c.n),
		CurrentStateProjection: m.CurrentStateProjection,
	})
	if err != nil {
		return 0, err
	}
	c.solved = true
	return c.solver.Solution().Cost.Total, nil
}

// finish turns the last solve into references and commits it as the
// regularization target of the next tick.
func (c *Controller) finish(tick Tick) error {
	m := c.recursion.Multipliers()
	if !c.solved {
		c.solution.UseNominalReference()
		return nil
	}

	sol := c.solver.Solution()
	c.solution.ExtractFootstepSolutions(sol, c.input)
	c.solution.UpdateCostsToGo(sol)
	if c.state.phase == footstep.Standing {
		c.solution.SetValuesForFeedbackOnly(c.input.FinalICP(m), r2.Vec{}, tick.Omega0)
	} else {
		c.solution.ComputeReferenceFromSolution(m, c.input, tick.Omega0)
	}
	if c.solution.NumberOfFootsteps() > 0 {
		c.haveStepSolution = true
		if c.solution.WasAdjusted() {
			if _, err := c.reach.UpdateForAdjustment(c.input.FootstepPosition(0), c.solution.Footsteps()[0]); err != nil {
				return fmt.Errorf("reachability: %w", err)
			}
		}
	}
	c.solver.CommitPrevious()

	if relax := r2.Norm(sol.Relaxation); relax > c.cfg.RelaxationWarnThreshold {
		logf("tick %d (%s): dynamic relaxation %.4f m above %.4f m", c.tick, c.state.phase, relax, c.cfg.RelaxationWarnThreshold)
	}
	return nil
}

func (c *Controller) publish(tick Tick, timeInPhase float64) {
	ref := c.solution.Controller()
	out := Output{
		Phase:                c.state.phase,
		TimeInPhase:          timeInPhase,
		ReferenceICP:         ref.ICP,
		ReferenceICPVelocity: ref.ICPVelocity,
		ReferenceCMP:         ref.CMP,
		NominalICP:           c.solution.Nominal().ICP,
		FeedbackCMP:          ref.CMP,
		WasAdjusted:          c.solution.WasAdjusted(),
		Cost:                 c.solution.Costs(),
		Timing:               c.timing,
	}
	if c.solved {
		sol := c.solver.Solution()
		out.FeedbackCMP = sol.FeedbackCMP
		out.FeedbackDelta = sol.FeedbackDelta
		out.Relaxation = sol.Relaxation
	}
	c.footsteps = append(c.footsteps[:0], c.solution.Footsteps()...)
	out.Footsteps = c.footsteps
	c.out = out

	first := geometry.NaNVec()
	if len(out.Footsteps) > 0 {
		first = out.Footsteps[0]
	}
	c.observer.ObserveTick(debug.TickRecord{
		Tick:                  c.tick,
		Time:                  tick.Time,
		Phase:                 out.Phase,
		TimeInPhase:           timeInPhase,
		MeasuredICP:           tick.MeasuredICP,
		ReferenceICP:          out.ReferenceICP,
		ReferenceICPVelocity:  out.ReferenceICPVelocity,
		ReferenceCMP:          out.ReferenceCMP,
		NominalICP:            out.NominalICP,
		FeedbackCMP:           out.FeedbackCMP,
		FeedbackDelta:         out.FeedbackDelta,
		Relaxation:            out.Relaxation,
		Footstep:              first,
		WasAdjusted:           out.WasAdjusted,
		Cost:                  out.Cost,
		SwingDuration:         out.Timing.SwingDuration,
		EstimatedOptimalSwing: out.Timing.EstimatedOptimalSwing,
		GradientIterations:    out.Timing.GradientIterations,
		ReductionIterations:   out.Timing.ReductionIterations,
		FinishedOnTime:        out.Timing.FinishedOnTime,
	})
}

// Phase is the active support phase.
func (c *Controller) Phase() footstep.SupportPhase { return c.state.phase }

// PhaseStartTime is the Time of the Initialize call of the active phase.
func (c *Controller) PhaseStartTime() float64 { return c.state.startTime }

// SwingDuration is the current duration of the swing in progress, NaN
// outside single support.
func (c *Controller) SwingDuration() float64 {
	if c.state.phase != footstep.SingleSupport || c.plan == nil || c.plan.Len() == 0 {
		return math.NaN()
	}
	return c.plan.Step(0).Timing.SwingDuration
}

// StepAdjustmentActive reports whether footsteps are still decision
// variables in this phase.
func (c *Controller) StepAdjustmentActive() bool { return c.localAdjustment }

// ReachabilityRegion returns the region of the active swing, nil outside
// single support.
func (c *Controller) ReachabilityRegion() []r2.Vec { return c.reach.Vertices() }

// CornerPoints are the nominal capture points at the CMP switches of the
// active phase.
func (c *Controller) CornerPoints() []r2.Vec { return c.input.CornerPoints() }

// LastOutput is the most recent good command.
func (c *Controller) LastOutput() Output { return c.out }
