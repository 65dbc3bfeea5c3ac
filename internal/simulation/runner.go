package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/geometry"
	"github.com/banshee-data/capturepoint/internal/icp/controller"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
	"github.com/banshee-data/capturepoint/internal/monitoring"
	"github.com/banshee-data/capturepoint/internal/timeutil"
)

var logf = monitoring.Tagged("sim")

// ErrFell is returned when the capture point leaves the support area by
// more than Scenario.FallDistance.
var ErrFell = errors.New("simulation: capture point left the support area")

// Push moves the capture point by Offset once, at the first tick at or
// after Time.
type Push struct {
	Time   float64
	Offset r2.Vec
}

// Scenario is a straight walk: stand, take Steps steps, settle.
type Scenario struct {
	Steps      int
	StepLength float64
	StepWidth  float64
	Timing     footstep.Timing
	Final      footstep.Timing
	Omega0     float64
	// Foot is the sole-frame contact polygon of both feet.
	Foot []r2.Vec

	// StandingTime is spent standing before the first transfer,
	// SettleTime standing after the last.
	StandingTime float64
	SettleTime   float64
	FallDistance float64

	Push *Push
}

// DefaultScenario walks four 0.3 m steps with the timing used in the
// controller defaults.
func DefaultScenario(foot []r2.Vec) Scenario {
	return Scenario{
		Steps:        4,
		StepLength:   0.3,
		StepWidth:    0.2,
		Timing:       footstep.Timing{TransferDuration: 0.3, SwingDuration: 0.6, TransferSplitFraction: 0.5, SwingSplitFraction: 0.5},
		Final:        footstep.Timing{TransferDuration: 0.4, TransferSplitFraction: 0.5},
		Omega0:       3.4,
		Foot:         foot,
		StandingTime: 0.2,
		SettleTime:   1.0,
		FallDistance: 0.5,
	}
}

func (s Scenario) validate() error {
	switch {
	case s.Steps < 0:
		return fmt.Errorf("%w: %d steps", ErrInvalidScenario, s.Steps)
	case !(s.Omega0 > 0):
		return fmt.Errorf("%w: omega0 %v", ErrInvalidScenario, s.Omega0)
	case len(s.Foot) < 3:
		return fmt.Errorf("%w: foot polygon needs 3 vertices", ErrInvalidScenario)
	case !(s.FallDistance > 0):
		return fmt.Errorf("%w: fall distance %v", ErrInvalidScenario, s.FallDistance)
	}
	return nil
}

// Sample is the closed-loop state of one tick.
type Sample struct {
	Time         float64
	Phase        footstep.SupportPhase
	ICP          r2.Vec
	CoM          r2.Vec
	CMP          r2.Vec
	ReferenceCMP r2.Vec
	ReferenceICP r2.Vec
	// Footstep is the commanded location of the next step, NaN when the
	// controller considers none.
	Footstep      r2.Vec
	WasAdjusted   bool
	SwingDuration float64
}

// Trace is the record of a run.
type Trace struct {
	Samples []Sample
	// Planned holds the nominal step locations, Footholds the initial
	// feet followed by every landed step.
	Planned   []r2.Vec
	Footholds []footstep.Footstep
	Failures  int
	Pushed    bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithPacing runs one tick per control period of clock instead of as fast
// as possible.
func WithPacing(clock timeutil.Clock) Option {
	return func(r *Runner) { r.pacing = clock }
}

// Runner drives a controller against the plant.
type Runner struct {
	ctrl   *controller.Controller
	dt     float64
	pacing timeutil.Clock

	feet    [2]footstep.Footstep
	swing   footstep.RobotSide
	support *geometry.ConvexPolygon
	points  []r2.Vec
}

// NewRunner builds a runner ticking every dt seconds.
func NewRunner(ctrl *controller.Controller, dt float64, opts ...Option) *Runner {
	r := &Runner{
		ctrl:    ctrl,
		dt:      dt,
		support: geometry.NewConvexPolygon(32),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run walks the scenario until the robot settles, falls or ctx ends. The
// trace is returned with every error.
func (r *Runner) Run(ctx context.Context, s Scenario) (*Trace, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if !(r.dt > 0) {
		return nil, fmt.Errorf("%w: dt %v", ErrInvalidScenario, r.dt)
	}
	plan, err := StraightLinePlan(s.Steps, s.StepLength, s.StepWidth, footstep.Left, s.Timing, s.Final)
	if err != nil {
		return nil, err
	}

	left, right := InitialFeet(s.StepWidth)
	r.feet = [2]footstep.Footstep{left, right}
	plant := NewPlant(geometry.Lerp(left.Position(), right.Position(), 0.5), s.Omega0)

	duration := s.StandingTime + float64(s.Steps)*s.Timing.StepDuration() + s.Final.TransferDuration + s.SettleTime
	tr := &Trace{
		Samples:   make([]Sample, 0, int(math.Ceil(duration/r.dt))+1),
		Planned:   make([]r2.Vec, 0, s.Steps),
		Footholds: append(make([]footstep.Footstep, 0, s.Steps+2), left, right),
	}
	for _, step := range plan.Steps() {
		tr.Planned = append(tr.Planned, step.Footstep.Position())
	}

	if err := r.ctrl.InitializeForStanding(0, left, right, s.Omega0); err != nil {
		return tr, err
	}

	var ticker timeutil.Ticker
	if r.pacing != nil {
		ticker = r.pacing.NewTicker(time.Duration(r.dt * float64(time.Second)))
		defer ticker.Stop()
	}

	walked := false
	for k := 0; ; k++ {
		if err := ctx.Err(); err != nil {
			return tr, err
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return tr, ctx.Err()
			case <-ticker.C():
			}
		}
		t := float64(k) * r.dt

		done, err := r.advancePhase(t, s, plan, &walked, tr)
		if err != nil {
			return tr, err
		}
		if done {
			return tr, nil
		}

		if s.Push != nil && !tr.Pushed && t >= s.Push.Time {
			plant.Push(s.Push.Offset)
			tr.Pushed = true
		}

		if err := r.setSupport(s.Foot); err != nil {
			return tr, err
		}
		out, err := r.ctrl.Compute(controller.Tick{
			Time:           t,
			MeasuredICP:    plant.ICP,
			Omega0:         s.Omega0,
			SupportPolygon: r.support.Vertices(),
		})
		if err != nil {
			tr.Failures++
		}

		sample := Sample{
			Time:          t,
			Phase:         out.Phase,
			ICP:           plant.ICP,
			CoM:           plant.CoM,
			CMP:           out.FeedbackCMP,
			ReferenceCMP:  out.ReferenceCMP,
			ReferenceICP:  out.ReferenceICP,
			Footstep:      geometry.NaNVec(),
			WasAdjusted:   out.WasAdjusted,
			SwingDuration: r.ctrl.SwingDuration(),
		}
		if len(out.Footsteps) > 0 {
			sample.Footstep = out.Footsteps[0]
		}
		tr.Samples = append(tr.Samples, sample)

		if d := r2.Norm(r2.Sub(plant.ICP, r.support.ClosestPoint(plant.ICP))); d > s.FallDistance {
			logf("fell at t=%.3f: capture point %.3f m outside support", t, d)
			return tr, fmt.Errorf("%w at t=%.3f", ErrFell, t)
		}
		plant.Step(out.FeedbackCMP, r.dt)
	}
}

// advancePhase applies the phase transition due at t. It reports true once
// the robot has settled after walking.
func (r *Runner) advancePhase(t float64, s Scenario, plan *footstep.Plan, walked *bool, tr *Trace) (bool, error) {
	c := r.ctrl
	tip := t - c.PhaseStartTime()
	switch c.Phase() {
	case footstep.Standing:
		if *walked || plan.Len() == 0 {
			return tip >= s.SettleTime, nil
		}
		if t < s.StandingTime {
			return false, nil
		}
		*walked = true
		swing := plan.Step(0).Footstep.Side
		return false, c.InitializeForTransfer(t, r.feet[swing.Opposite()], r.feet[swing], plan, s.Omega0)

	case footstep.Transfer:
		duration := plan.FinalTransfer.TransferDuration
		if plan.Len() > 0 {
			duration = plan.Step(0).Timing.TransferDuration
		}
		if !controller.TransferComplete(tip, duration) {
			return false, nil
		}
		if plan.Len() == 0 {
			return false, c.InitializeForStanding(t, r.feet[footstep.Left], r.feet[footstep.Right], s.Omega0)
		}
		swing := plan.Step(0).Footstep.Side
		r.swing = swing
		return false, c.InitializeForSingleSupport(t, r.feet[swing.Opposite()], r.feet[swing], plan, s.Omega0)

	case footstep.SingleSupport:
		if !controller.SwingComplete(tip, c.SwingDuration(), false) {
			return false, nil
		}
		landed, _ := plan.PopFront()
		if out := c.LastOutput(); len(out.Footsteps) > 0 && geometry.IsFinite(out.Footsteps[0]) {
			landed.Footstep.Pose.Position = out.Footsteps[0]
		}
		stance := r.feet[landed.Footstep.Side.Opposite()]
		r.feet[landed.Footstep.Side] = landed.Footstep
		tr.Footholds = append(tr.Footholds, landed.Footstep)
		logf("%s touchdown at t=%.3f (%.3f, %.3f)", landed.Footstep.Side, t,
			landed.Footstep.Pose.Position.X, landed.Footstep.Pose.Position.Y)
		return false, c.InitializeForTransfer(t, landed.Footstep, stance, plan, s.Omega0)
	}
	return false, nil
}

// setSupport loads the world-frame support area of the current phase.
func (r *Runner) setSupport(foot []r2.Vec) error {
	r.points = r.points[:0]
	for side, f := range r.feet {
		if r.ctrl.Phase() == footstep.SingleSupport && footstep.RobotSide(side) == r.swing {
			continue
		}
		for _, v := range foot {
			r.points = append(r.points, f.Pose.ToWorld(v))
		}
	}
	return r.support.SetFromPoints(r.points)
}
