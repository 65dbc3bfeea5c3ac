package recursion

import (
	"math"

	"github.com/banshee-data/capturepoint/internal/icp/footstep"
)

// ComputeRemaining projects the end-of-phase capture point back to the
// current time. It must follow a successful Compute and runs every tick.
func (c *Calculator) ComputeRemaining(timeInPhase float64) {
	m := &c.m
	w := c.omega

	tRem := math.Max(m.PhaseDuration-math.Max(timeInPhase, 0), 0)
	elapsed := m.PhaseDuration - tRem
	m.TimeRemaining = tRem

	m.CurrentStateProjection = math.Exp(w * tRem)
	m.RemainingEndOfState = math.Exp(-w * tRem)
	m.VelocityEndOfState = w * m.RemainingEndOfState
	m.RemainingPreviousExit, m.RemainingStanceEntry, m.RemainingStanceExit = 0, 0, 0

	// Instantaneous CMP weights, used for the velocity: ξ̇ = ω0·(ξ − r_now).
	var instPrev, instEntry, instExit float64

	switch c.phase {
	case footstep.Standing:
		// The ICP rests on the final CMP.
		m.VelocityEndOfState = 0
		m.VelocityPreviousExit, m.VelocityStanceEntry, m.VelocityStanceExit = 0, 0, 0
		return

	case footstep.Transfer:
		switchAt := c.timings[0].TransferSplitFraction*c.timings[0].TransferDuration - elapsed
		if switchAt > 0 {
			m.RemainingPreviousExit = c.window(0, math.Min(switchAt, tRem))
			instPrev = 1
		} else {
			instEntry = 1
		}
		m.RemainingStanceEntry = c.window(math.Max(switchAt, 0), tRem)

	case footstep.SingleSupport:
		if !c.useTwoCMPs {
			m.RemainingStanceEntry = c.window(0, tRem)
			instEntry = 1
			break
		}
		rampStart := m.SplineStart - elapsed
		rampEnd := m.SplineEnd - elapsed
		if rampEnd > rampStart {
			m.RemainingStanceEntry = c.window(0, clamp(rampStart, 0, tRem))
			lo, hi := clamp(rampStart, 0, tRem), clamp(rampEnd, 0, tRem)
			wEntry, wExit := c.ramp(rampStart, rampEnd, lo, hi)
			m.RemainingStanceEntry += wEntry
			m.RemainingStanceExit = wExit + c.window(clamp(rampEnd, 0, tRem), tRem)
		} else {
			m.RemainingStanceEntry = c.window(0, clamp(rampStart, 0, tRem))
			m.RemainingStanceExit = c.window(clamp(rampStart, 0, tRem), tRem)
		}
		switch {
		case rampStart > 0:
			instEntry = 1
		case rampEnd > 0 && rampEnd > rampStart:
			instExit = -rampStart / (rampEnd - rampStart)
			instEntry = 1 - instExit
		default:
			instExit = 1
		}
	}

	m.VelocityPreviousExit = w * (m.RemainingPreviousExit - instPrev)
	m.VelocityStanceEntry = w * (m.RemainingStanceEntry - instEntry)
	m.VelocityStanceExit = w * (m.RemainingStanceExit - instExit)
}

// window is the weight of a constant CMP held over [a, b] from now.
func (c *Calculator) window(a, b float64) float64 {
	if b <= a {
		return 0
	}
	return math.Exp(-c.omega*a) - math.Exp(-c.omega*b)
}

// ramp returns the weights of the two end CMPs for a CMP moving linearly
// from A at time a0 to B at time b0, integrated over [lo, hi] ⊆ [a0, b0].
func (c *Calculator) ramp(a0, b0, lo, hi float64) (wA, wB float64) {
	if hi <= lo {
		return 0, 0
	}
	w := c.omega
	antiderivative := func(s float64) float64 {
		e := math.Exp(-w * s)
		return -e*(s-a0) - e/w
	}
	total := math.Exp(-w*lo) - math.Exp(-w*hi)
	wB = (antiderivative(hi) - antiderivative(lo)) / (b0 - a0)
	return total - wB, wB
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
