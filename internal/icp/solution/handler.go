// Package solution post-processes solver output: it deadbands footstep
// adjustments in the sole frame and rebuilds the reference capture point,
// its velocity and the reference CMP from the chosen footsteps.
package solution

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/geometry"
	"github.com/banshee-data/capturepoint/internal/icp/recursion"
	"github.com/banshee-data/capturepoint/internal/icp/solver"
)

// Points is the view of the input handler needed to rebuild references.
type Points interface {
	EndOfPhaseICP(m *recursion.Multipliers, positions []r2.Vec, nDecision int) r2.Vec
	PreviousExitCMP() r2.Vec
	StanceEntryCMP() r2.Vec
	StanceExitCMP() r2.Vec
	FootstepPosition(i int) r2.Vec
	FootstepYaw(i int) float64
}

// Config holds the sole-frame deadbands.
type Config struct {
	MaxSteps        int
	ForwardDeadband float64
	LateralDeadband float64
}

// Reference is one reconstructed capture point trajectory sample.
type Reference struct {
	EndOfStateICP r2.Vec
	ICP           r2.Vec
	ICPVelocity   r2.Vec
	CMP           r2.Vec
}

// Handler keeps the deadbanded footsteps and the references built from them.
type Handler struct {
	cfg Config

	footsteps   []r2.Vec
	n           int
	wasAdjusted bool

	controller Reference
	nominal    Reference
	costs      solver.CostToGo
}

// New creates a handler for up to cfg.MaxSteps footsteps.
func New(cfg Config) *Handler {
	return &Handler{cfg: cfg, footsteps: make([]r2.Vec, cfg.MaxSteps)}
}

// ApplyDeadband snaps each sole-frame axis of the adjustment from reference
// to solution back to zero when it is inside the deadband and shrinks it by
// the deadband otherwise. It reports whether any axis survived.
func ApplyDeadband(solution, reference r2.Vec, yaw, forward, lateral float64) (r2.Vec, bool) {
	sole := geometry.Pose2{Position: reference, Yaw: yaw}
	d := sole.ToLocal(solution)
	var fwd, lat bool
	d.X, fwd = deadband(d.X, forward)
	d.Y, lat = deadband(d.Y, lateral)
	return sole.ToWorld(d), fwd || lat
}

func deadband(v, width float64) (float64, bool) {
	if math.Abs(v) < width {
		return 0, false
	}
	return v - math.Copysign(width, v), true
}

// ExtractFootstepSolutions deadbands the first NumberOfFootsteps solver
// footsteps against their nominal locations.
func (h *Handler) ExtractFootstepSolutions(sol *solver.Solution, in Points) {
	h.n = min(sol.NumberOfFootsteps, len(h.footsteps))
	h.wasAdjusted = false
	for i := 0; i < h.n; i++ {
		p, adjusted := ApplyDeadband(sol.Footsteps[i], in.FootstepPosition(i), in.FootstepYaw(i),
			h.cfg.ForwardDeadband, h.cfg.LateralDeadband)
		h.footsteps[i] = p
		if i == 0 {
			h.wasAdjusted = adjusted
		}
	}
}

// UpdateCostsToGo copies the per-term cost of the last solve.
func (h *Handler) UpdateCostsToGo(sol *solver.Solution) { h.costs = sol.Cost }

// ComputeReferenceFromSolution rebuilds the controller reference with the
// deadbanded footsteps. m must hold the remaining-time projection.
func (h *Handler) ComputeReferenceFromSolution(m *recursion.Multipliers, in Points, omega0 float64) {
	end := in.EndOfPhaseICP(m, h.footsteps[:h.n], h.n)
	h.controller = reconstruct(m, in, end, omega0)
}

// ComputeNominalValues rebuilds the reference with every footstep at its
// nominal location.
func (h *Handler) ComputeNominalValues(m *recursion.Multipliers, in Points, omega0 float64) {
	end := in.EndOfPhaseICP(m, nil, 0)
	h.nominal = reconstruct(m, in, end, omega0)
}

// SetValuesForFeedbackOnly uses a supplied reference for both the nominal
// and the controller values.
func (h *Handler) SetValuesForFeedbackOnly(icp, icpVelocity r2.Vec, omega0 float64) {
	ref := Reference{
		EndOfStateICP: icp,
		ICP:           icp,
		ICPVelocity:   icpVelocity,
		CMP:           r2.Sub(icp, r2.Scale(1/omega0, icpVelocity)),
	}
	h.controller, h.nominal = ref, ref
	h.n, h.wasAdjusted = 0, false
}

// UseNominalReference makes the nominal reference the controller reference
// when no solve ran this tick.
func (h *Handler) UseNominalReference() {
	h.controller = h.nominal
	h.n, h.wasAdjusted = 0, false
	h.costs = solver.CostToGo{}
}

func reconstruct(m *recursion.Multipliers, in Points, end r2.Vec, omega0 float64) Reference {
	px, se, sx := in.PreviousExitCMP(), in.StanceEntryCMP(), in.StanceExitCMP()

	icp := r2.Scale(m.RemainingEndOfState, end)
	icp = r2.Add(icp, r2.Scale(m.RemainingPreviousExit, px))
	icp = r2.Add(icp, r2.Scale(m.RemainingStanceEntry, se))
	icp = r2.Add(icp, r2.Scale(m.RemainingStanceExit, sx))

	vel := r2.Scale(m.VelocityEndOfState, end)
	vel = r2.Add(vel, r2.Scale(m.VelocityPreviousExit, px))
	vel = r2.Add(vel, r2.Scale(m.VelocityStanceEntry, se))
	vel = r2.Add(vel, r2.Scale(m.VelocityStanceExit, sx))

	return Reference{
		EndOfStateICP: end,
		ICP:           icp,
		ICPVelocity:   vel,
		CMP:           r2.Sub(icp, r2.Scale(1/omega0, vel)),
	}
}

// Footsteps returns the deadbanded footsteps of the last extraction.
func (h *Handler) Footsteps() []r2.Vec { return h.footsteps[:h.n] }

func (h *Handler) NumberOfFootsteps() int { return h.n }

// WasAdjusted reports whether the first upcoming footstep left its deadband.
func (h *Handler) WasAdjusted() bool { return h.wasAdjusted }

func (h *Handler) Controller() Reference  { return h.controller }
func (h *Handler) Nominal() Reference     { return h.nominal }
func (h *Handler) Costs() solver.CostToGo { return h.costs }
