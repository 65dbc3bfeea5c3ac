package input

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/icp/footstep"
	"github.com/banshee-data/capturepoint/internal/icp/recursion"
)

// FinalICP is the nominal capture point at the end of the recursion
// horizon described by m.
func (h *Handler) FinalICP(m *recursion.Multipliers) r2.Vec {
	if h.phase == footstep.Standing {
		if h.standingOverride != nil {
			return *h.standingOverride
		}
		return h.standingICP
	}
	return h.icpAt(h.phaseDuration + m.HorizonDuration)
}

// FinalICPRecursion is the contribution of the final capture point to the
// end-of-phase capture point.
func (h *Handler) FinalICPRecursion(m *recursion.Multipliers) r2.Vec {
	return r2.Scale(m.Final, h.FinalICP(m))
}

// StanceProjection collects the stance CMP terms on the constant side of
// CSP·ξ(now) = ξ_end + CSP·Σ remaining: the stance CMPs held after the end
// of the phase plus the CMPs still to be held before it, scaled up to the
// end of the phase.
func (h *Handler) StanceProjection(m *recursion.Multipliers) r2.Vec {
	after := r2.Add(r2.Scale(m.StanceEntry, h.stanceEntry), r2.Scale(m.StanceExit, h.stanceExit))
	before := r2.Add(r2.Scale(m.RemainingPreviousExit, h.previousExit),
		r2.Add(r2.Scale(m.RemainingStanceEntry, h.stanceEntry), r2.Scale(m.RemainingStanceExit, h.stanceExit)))
	return r2.Add(after, r2.Scale(m.CurrentStateProjection, before))
}

// OffsetRecursion is the weight of the CMP offsets of every step in the
// horizon. Footstep positions enter separately.
func (h *Handler) OffsetRecursion(m *recursion.Multipliers) r2.Vec {
	var sum r2.Vec
	for i := 0; i < m.NumberOfSteps && i < h.numSteps; i++ {
		sum = r2.Add(sum, r2.Scale(m.Entry[i], h.entryOffset[i]))
		sum = r2.Add(sum, r2.Scale(m.Exit[i], h.exitOffset[i]))
	}
	return sum
}

// CMPConstantEffects is everything in the end-of-phase capture point that
// the solver does not decide: stance terms, CMP offsets and the nominal
// positions of steps from nDecision onward.
func (h *Handler) CMPConstantEffects(m *recursion.Multipliers, nDecision int) r2.Vec {
	sum := r2.Add(h.StanceProjection(m), h.OffsetRecursion(m))
	for i := nDecision; i < m.NumberOfSteps && i < h.numSteps; i++ {
		sum = r2.Add(sum, r2.Scale(m.FootstepMultiplier(i), h.positions[i]))
	}
	return sum
}

// EndOfPhaseICP evaluates the end-of-phase capture point with the first
// nDecision footsteps taken from positions and the rest nominal.
func (h *Handler) EndOfPhaseICP(m *recursion.Multipliers, positions []r2.Vec, nDecision int) r2.Vec {
	xi := h.FinalICPRecursion(m)
	xi = r2.Add(xi, r2.Scale(m.StanceEntry, h.stanceEntry))
	xi = r2.Add(xi, r2.Scale(m.StanceExit, h.stanceExit))
	xi = r2.Add(xi, h.OffsetRecursion(m))
	for i := 0; i < m.NumberOfSteps && i < h.numSteps; i++ {
		p := h.positions[i]
		if i < nDecision && i < len(positions) {
			p = positions[i]
		}
		xi = r2.Add(xi, r2.Scale(m.FootstepMultiplier(i), p))
	}
	return xi
}

// NominalICP is the planned capture point timeInPhase seconds into the
// phase, ignoring the spline blend of the stance CMPs.
func (h *Handler) NominalICP(timeInPhase float64) r2.Vec {
	if h.phase == footstep.Standing {
		if h.standingOverride != nil {
			return *h.standingOverride
		}
		return h.standingICP
	}
	return h.icpAt(timeInPhase)
}

func (h *Handler) Initialized() bool { return h.initialized }

func (h *Handler) Phase() footstep.SupportPhase { return h.phase }

// NumberOfSteps is the number of plan steps with CMPs, at most MaxSteps.
func (h *Handler) NumberOfSteps() int { return h.numSteps }

func (h *Handler) PreviousExitCMP() r2.Vec { return h.previousExit }
func (h *Handler) StanceEntryCMP() r2.Vec  { return h.stanceEntry }
func (h *Handler) StanceExitCMP() r2.Vec   { return h.stanceExit }
func (h *Handler) FinalCMP() r2.Vec        { return h.finalCMP }

func (h *Handler) FootstepPosition(i int) r2.Vec { return h.positions[i] }
func (h *Handler) FootstepYaw(i int) float64     { return h.yaws[i] }
func (h *Handler) EntryCMP(i int) r2.Vec         { return h.entryCMPs[i] }
func (h *Handler) ExitCMP(i int) r2.Vec          { return h.exitCMPs[i] }
func (h *Handler) EntryOffset(i int) r2.Vec      { return h.entryOffset[i] }
func (h *Handler) ExitOffset(i int) r2.Vec       { return h.exitOffset[i] }

// CornerPoints are the nominal capture points at the start of each CMP
// segment, ending with the final CMP. The slice is reused.
func (h *Handler) CornerPoints() []r2.Vec { return h.corners }

// InitialICP is the nominal capture point at the start of the phase.
func (h *Handler) InitialICP() r2.Vec {
	if len(h.corners) == 0 {
		return h.NominalICP(0)
	}
	return h.corners[0]
}

// PhaseDuration is the phase length the timeline was built with.
func (h *Handler) PhaseDuration() float64 { return h.phaseDuration }
