// Package input turns the footstep plan and the current contact state into
// the CMP reference points, corner capture points and horizon sums consumed
// by the recursion and the solver.
//
// Responsibilities: CMP placement inside each sole, the final capture point
// of the horizon, and the constant terms of the dynamics equality.
// Key types: Handler, Config.
//
// CMPs and corner points are rebuilt once per phase transition; the horizon
// sums are evaluated every tick against fresh multipliers.
package input

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/geometry"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
	"github.com/banshee-data/capturepoint/internal/icp/recursion"
)

// Config places the CMPs. Offsets are (forward, lateral) in the sole frame
// of a left foot; the lateral part is mirrored for the right foot.
type Config struct {
	MaxSteps      int
	MaxPlanLength int
	UseTwoCMPs    bool
	EntryOffset   r2.Vec
	ExitOffset    r2.Vec
	SafetyMargin  float64
	// DefaultFoot is the sole-frame contact polygon used by footsteps that
	// carry none.
	DefaultFoot []r2.Vec
}

// RectangularFoot returns a sole polygon centred on the sole frame origin.
func RectangularFoot(length, width float64) []r2.Vec {
	l, w := length/2, width/2
	return []r2.Vec{{X: -l, Y: -w}, {X: l, Y: -w}, {X: l, Y: w}, {X: -l, Y: w}}
}

type segment struct {
	cmp      r2.Vec
	duration float64
}

// Handler holds the reference points for the current phase.
type Handler struct {
	cfg Config

	foot  *geometry.ConvexPolygon
	inset *geometry.ConvexPolygon

	initialized bool
	phase       footstep.SupportPhase
	omega       float64

	previousExit r2.Vec
	stanceEntry  r2.Vec
	stanceExit   r2.Vec

	numSteps    int
	positions   []r2.Vec
	yaws        []float64
	entryCMPs   []r2.Vec
	exitCMPs    []r2.Vec
	entryOffset []r2.Vec
	exitOffset  []r2.Vec

	finalCMP         r2.Vec
	standingICP      r2.Vec
	standingOverride *r2.Vec

	timeline      []segment
	corners       []r2.Vec
	phaseDuration float64
	totalDuration float64
}

// New sizes a handler for cfg.
func New(cfg Config) *Handler {
	if cfg.MaxPlanLength < cfg.MaxSteps {
		cfg.MaxPlanLength = cfg.MaxSteps
	}
	capacity := len(cfg.DefaultFoot)
	if capacity < 8 {
		capacity = 8
	}
	return &Handler{
		cfg:         cfg,
		foot:        geometry.NewConvexPolygon(capacity),
		inset:       geometry.NewConvexPolygon(capacity),
		positions:   make([]r2.Vec, cfg.MaxSteps),
		yaws:        make([]float64, cfg.MaxSteps),
		entryCMPs:   make([]r2.Vec, cfg.MaxSteps),
		exitCMPs:    make([]r2.Vec, cfg.MaxSteps),
		entryOffset: make([]r2.Vec, cfg.MaxSteps),
		exitOffset:  make([]r2.Vec, cfg.MaxSteps),
		timeline:    make([]segment, 0, 2*cfg.MaxPlanLength+4),
		corners:     make([]r2.Vec, 0, 2*cfg.MaxPlanLength+5),
	}
}

// Config returns the handler configuration.
func (h *Handler) Config() Config { return h.cfg }

// OverrideStandingICP pins the standing capture point; nil restores the
// midpoint of the feet.
func (h *Handler) OverrideStandingICP(p *r2.Vec) {
	if p == nil {
		h.standingOverride = nil
		return
	}
	v := *p
	h.standingOverride = &v
}

// Initialize rebuilds every reference point for a new phase. support is
// the foot that carries the robot through the upcoming swing; trailing is
// the other foot on the ground. omega0 only shapes the corner points.
func (h *Handler) Initialize(phase footstep.SupportPhase, support, trailing footstep.Footstep, plan *footstep.Plan, omega0 float64) error {
	if !(omega0 > 0) || math.IsInf(omega0, 0) {
		return fmt.Errorf("%w: %v", recursion.ErrInvalidOmega, omega0)
	}
	h.phase = phase
	h.omega = omega0

	var err error
	if h.stanceEntry, h.stanceExit, err = h.cmpsFor(support); err != nil {
		return fmt.Errorf("support foot: %w", err)
	}
	if _, h.previousExit, err = h.cmpsFor(trailing); err != nil {
		return fmt.Errorf("trailing foot: %w", err)
	}

	h.numSteps = min(plan.Len(), h.cfg.MaxSteps)
	for i := 0; i < h.numSteps; i++ {
		if err := h.setStep(i, plan.Step(i).Footstep); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	h.standingICP = geometry.Lerp(support.Position(), trailing.Position(), 0.5)
	h.finalCMP = h.computeFinalCMP(support, trailing, plan)
	h.buildTimeline(plan)
	h.computeCorners()
	h.initialized = true
	return nil
}

// SetFootstepLocation moves step i, keeping its CMP offsets. Used when an
// adjusted location is committed mid-phase.
func (h *Handler) SetFootstepLocation(i int, pos r2.Vec) {
	if i >= h.numSteps {
		return
	}
	h.positions[i] = pos
	h.entryCMPs[i] = r2.Add(pos, h.entryOffset[i])
	h.exitCMPs[i] = r2.Add(pos, h.exitOffset[i])
}

func (h *Handler) setStep(i int, step footstep.Footstep) error {
	entry, exit, err := h.cmpsFor(step)
	if err != nil {
		return err
	}
	h.positions[i] = step.Position()
	h.yaws[i] = step.Pose.Yaw
	h.entryCMPs[i], h.exitCMPs[i] = entry, exit
	h.entryOffset[i] = r2.Sub(entry, step.Position())
	h.exitOffset[i] = r2.Sub(exit, step.Position())
	return nil
}

// cmpsFor places the entry and exit CMPs of a foot. With one CMP both sit
// on the sole reference point.
func (h *Handler) cmpsFor(step footstep.Footstep) (entry, exit r2.Vec, err error) {
	if !h.cfg.UseTwoCMPs {
		return step.Position(), step.Position(), nil
	}
	contact := step.ContactPolygon
	if len(contact) == 0 {
		contact = h.cfg.DefaultFoot
	}
	if err := h.foot.SetFromPoints(contact); err != nil {
		return r2.Vec{}, r2.Vec{}, err
	}
	if err := h.foot.InsetInto(h.cfg.SafetyMargin, h.inset); err != nil {
		return r2.Vec{}, r2.Vec{}, err
	}
	sign := step.Side.LateralSign()
	local := func(offset r2.Vec) r2.Vec {
		p := r2.Vec{X: offset.X, Y: sign * offset.Y}
		if !h.inset.IsEmpty() {
			p = h.inset.ClosestPoint(p)
		}
		return step.Pose.ToWorld(p)
	}
	return local(h.cfg.EntryOffset), local(h.cfg.ExitOffset), nil
}

// computeFinalCMP is the midpoint of the CMPs of the last two feet of the
// plan, where the robot comes to rest.
func (h *Handler) computeFinalCMP(support, trailing footstep.Footstep, plan *footstep.Plan) r2.Vec {
	switch n := plan.Len(); n {
	case 0:
		return geometry.Lerp(support.Position(), trailing.Position(), 0.5)
	case 1:
		return geometry.Lerp(support.Position(), plan.Step(0).Footstep.Position(), 0.5)
	default:
		return geometry.Lerp(plan.Step(n-2).Footstep.Position(), plan.Step(n-1).Footstep.Position(), 0.5)
	}
}

// buildTimeline lays out the piecewise-constant CMP from the start of the
// current phase to the end of the final transfer.
func (h *Handler) buildTimeline(plan *footstep.Plan) {
	h.timeline = h.timeline[:0]
	h.phaseDuration = 0
	h.totalDuration = 0
	if h.phase == footstep.Standing {
		return
	}

	timing := func(k int) footstep.Timing {
		if k < plan.Len() {
			return plan.Step(k).Timing
		}
		return plan.FinalTransfer
	}
	add := func(cmp r2.Vec, d float64) {
		if d > 0 {
			h.timeline = append(h.timeline, segment{cmp: cmp, duration: d})
			h.totalDuration += d
		}
	}

	cur := timing(0)
	if h.phase == footstep.Transfer {
		h.phaseDuration = cur.TransferDuration
		add(h.previousExit, cur.TransferSplitFraction*cur.TransferDuration)
		add(h.stanceEntry, (1-cur.TransferSplitFraction)*cur.TransferDuration)
		if plan.Len() == 0 {
			return
		}
	} else {
		h.phaseDuration = cur.SwingDuration
	}
	next := timing(1)
	add(h.stanceEntry, cur.SwingSplitFraction*cur.SwingDuration)
	add(h.stanceExit, (1-cur.SwingSplitFraction)*cur.SwingDuration+next.TransferSplitFraction*next.TransferDuration)

	for i := 0; i < plan.Len(); i++ {
		step := plan.Step(i).Footstep
		entry, exit := step.Position(), step.Position()
		if i < h.numSteps {
			entry, exit = h.entryCMPs[i], h.exitCMPs[i]
		} else if e, x, err := h.cmpsFor(step); err == nil {
			entry, exit = e, x
		}
		t1 := timing(i + 1)
		if i+1 >= plan.Len() {
			add(entry, (1-t1.TransferSplitFraction)*t1.TransferDuration)
			break
		}
		t2 := timing(i + 2)
		add(entry, (1-t1.TransferSplitFraction)*t1.TransferDuration+t1.SwingSplitFraction*t1.SwingDuration)
		add(exit, (1-t1.SwingSplitFraction)*t1.SwingDuration+t2.TransferSplitFraction*t2.TransferDuration)
	}
}

// computeCorners runs the capture-point recursion backward from the final
// CMP, so the corner points do not absorb tracking error. Plans longer than
// MaxPlanLength grow the buffer instead of being cut short.
func (h *Handler) computeCorners() {
	n := len(h.timeline)
	h.corners = slices.Grow(h.corners[:0], n+1)[:n+1]
	xi := h.finalCMP
	h.corners[n] = xi
	for k := n - 1; k >= 0; k-- {
		xi = h.project(xi, h.timeline[k])
		h.corners[k] = xi
	}
}

func (h *Handler) project(end r2.Vec, s segment) r2.Vec {
	decay := math.Exp(-h.omega * s.duration)
	return r2.Add(r2.Scale(decay, end), r2.Scale(1-decay, s.cmp))
}

// icpAt evaluates the nominal capture point t seconds after the start of
// the phase the handler was initialized for.
func (h *Handler) icpAt(t float64) r2.Vec {
	if t >= h.totalDuration || len(h.timeline) == 0 {
		return h.finalCMP
	}
	start := h.totalDuration
	for k := len(h.timeline) - 1; k >= 0; k-- {
		s := h.timeline[k]
		start -= s.duration
		if start <= t {
			partial := segment{cmp: s.cmp, duration: start + s.duration - t}
			return h.project(h.corners[k+1], partial)
		}
	}
	return h.corners[0]
}
