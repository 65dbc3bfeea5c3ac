package recursion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/capturepoint/internal/icp/footstep"
)

const omega = 3.4

func timing(transfer, swing float64) footstep.Timing {
	return footstep.Timing{
		TransferDuration:      transfer,
		SwingDuration:         swing,
		TransferSplitFraction: 0.5,
		SwingSplitFraction:    0.5,
	}
}

func finalTransfer(d float64) footstep.Timing {
	return footstep.Timing{TransferDuration: d, TransferSplitFraction: 0.5}
}

func sumMultipliers(m *Multipliers) float64 {
	sum := m.Final + m.StanceEntry + m.StanceExit
	for i := 0; i < m.NumberOfSteps; i++ {
		sum += m.Entry[i] + m.Exit[i]
	}
	return sum
}

func TestSingleStepOneCMPClosedForm(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultConfig())

	timings := []footstep.Timing{timing(0.3, 0.6), finalTransfer(1.0)}
	require.NoError(t, c.Compute(1, timings, footstep.SingleSupport, false, omega))
	m := c.Multipliers()

	// Stance CMP held for α·T_final, then the footstep CMP for the rest of
	// the final transfer.
	stanceTime := 0.5 * 1.0
	stepTime := 0.5 * 1.0
	assert.InDelta(t, 1-math.Exp(-omega*stanceTime), m.StanceEntry, 1e-12)
	assert.Equal(t, 0.0, m.StanceExit)
	assert.InDelta(t, math.Exp(-omega*stanceTime)*(1-math.Exp(-omega*stepTime)), m.Entry[0], 1e-12)
	assert.Equal(t, 0.0, m.Exit[0])
	assert.InDelta(t, math.Exp(-omega*(stanceTime+stepTime)), m.Final, 1e-12)
	assert.True(t, math.IsNaN(m.Entry[1]), "indices beyond the step count are NaN")
	assert.True(t, math.IsNaN(m.SplineStart), "one CMP has no spline window")
}

func TestTwoCMPTwoStepSegments(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultConfig())

	t0, t1, t2 := timing(0.3, 0.6), timing(0.25, 0.7), timing(0.2, 0.8)
	timings := []footstep.Timing{t0, t1, t2, finalTransfer(1.0)}
	require.NoError(t, c.Compute(2, timings, footstep.SingleSupport, true, omega))
	m := c.Multipliers()

	stance := 0.5 * t1.TransferDuration
	entry0 := 0.5*t1.TransferDuration + 0.5*t1.SwingDuration
	exit0 := 0.5*t1.SwingDuration + 0.5*t2.TransferDuration
	// Footstep 1 hands over to the final transfer, so it still has an exit segment.
	entry1 := 0.5*t2.TransferDuration + 0.5*t2.SwingDuration
	exit1 := 0.5*t2.SwingDuration + 0.5*1.0

	assert.Equal(t, 0.0, m.StanceEntry, "single support is already on the exit CMP")
	assert.InDelta(t, 1-math.Exp(-omega*stance), m.StanceExit, 1e-12)
	assert.InDelta(t, math.Exp(-omega*stance)*(1-math.Exp(-omega*entry0)), m.Entry[0], 1e-12)
	assert.InDelta(t, math.Exp(-omega*(stance+entry0))*(1-math.Exp(-omega*exit0)), m.Exit[0], 1e-12)
	assert.InDelta(t, math.Exp(-omega*(stance+entry0+exit0))*(1-math.Exp(-omega*entry1)), m.Entry[1], 1e-12)
	assert.InDelta(t, stance+entry0+exit0+entry1+exit1, m.HorizonDuration, 1e-12)
	assert.InDelta(t, math.Exp(-omega*m.HorizonDuration), m.Final, 1e-12)
	assert.InDelta(t, 1.0, sumMultipliers(m), 1e-12)
}

func TestPartitionOfUnity(t *testing.T) {
	t.Parallel()
	timings := []footstep.Timing{timing(0.3, 0.6), timing(0.25, 0.7), timing(0.2, 0.8), finalTransfer(1.0)}

	for _, phase := range []footstep.SupportPhase{footstep.Standing, footstep.Transfer, footstep.SingleSupport} {
		for _, twoCMPs := range []bool{false, true} {
			for n := 0; n <= 3; n++ {
				if phase == footstep.Standing && n > 0 {
					continue
				}
				c := NewCalculator(DefaultConfig())
				require.NoError(t, c.Compute(n, timings[:min(len(timings), n+2)], phase, twoCMPs, omega))
				m := c.Multipliers()
				assert.InDelta(t, 1.0, sumMultipliers(m), 1e-12, "phase=%s twoCMPs=%v n=%d", phase, twoCMPs, n)
				for i := 0; i < n; i++ {
					assert.GreaterOrEqual(t, m.Entry[i], 0.0)
					assert.GreaterOrEqual(t, m.Exit[i], 0.0)
				}
			}
		}
	}
}

func TestStandingHasUnitFinalMultiplier(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultConfig())
	require.NoError(t, c.Compute(0, nil, footstep.Standing, true, omega))
	c.ComputeRemaining(3.0)
	m := c.Multipliers()

	assert.Equal(t, 1.0, m.Final)
	assert.Equal(t, 1.0, m.CurrentStateProjection)
	assert.Equal(t, 1.0, m.RemainingEndOfState)
	assert.Equal(t, 0.0, m.RemainingStanceEntry)
	assert.Equal(t, 0.0, m.VelocityEndOfState)
}

func TestComputeErrors(t *testing.T) {
	t.Parallel()
	c := NewCalculator(Config{MaxSteps: 2})
	timings := []footstep.Timing{timing(0.3, 0.6), timing(0.3, 0.6), timing(0.3, 0.6), finalTransfer(1)}

	assert.ErrorIs(t, c.Compute(3, timings, footstep.SingleSupport, true, omega), ErrTooManySteps)
	assert.ErrorIs(t, c.Compute(1, timings, footstep.SingleSupport, true, 0), ErrInvalidOmega)
	assert.ErrorIs(t, c.Compute(1, timings, footstep.SingleSupport, true, math.Inf(1)), ErrInvalidOmega)
	assert.ErrorIs(t, c.Compute(2, timings[:1], footstep.SingleSupport, true, omega), ErrMissingTiming)

	bad := []footstep.Timing{{TransferDuration: -1, SwingDuration: 0.5}}
	assert.ErrorIs(t, c.Compute(0, bad, footstep.Transfer, true, omega), footstep.ErrInvalidTiming)
}

func TestRecomputesWhenDurationsChange(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultConfig())

	timings := []footstep.Timing{timing(0.3, 0.6), finalTransfer(1.0)}
	require.NoError(t, c.Compute(1, timings, footstep.Transfer, true, omega))
	before := c.Multipliers().StanceEntry

	timings[0].SwingDuration = 0.9
	require.NoError(t, c.Compute(1, timings, footstep.Transfer, true, omega))
	after := c.Multipliers().StanceEntry
	assert.Greater(t, after, before, "a longer swing keeps the stance entry CMP longer")

	require.NoError(t, c.Compute(1, timings, footstep.Transfer, false, omega))
	assert.Equal(t, 0.0, c.Multipliers().StanceExit, "toggling CMP topology recomputes")
}

func TestSplineWindow(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultConfig())

	timings := []footstep.Timing{timing(0.3, 0.6), finalTransfer(1.0)}
	require.NoError(t, c.Compute(1, timings, footstep.SingleSupport, true, omega))
	m := c.Multipliers()

	// Switch at 0.3 s; the 0.5 s window is clipped to leave 0.1 s on the
	// exit CMP and then re-centred on the switch.
	assert.InDelta(t, 0.1, m.SplineStart, 1e-12)
	assert.InDelta(t, 0.5, m.SplineEnd, 1e-12)

	require.NoError(t, c.Compute(1, timings, footstep.Transfer, true, omega))
	assert.True(t, math.IsNaN(c.Multipliers().SplineStart))
}

func TestRemainingAtEndOfPhase(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultConfig())
	timings := []footstep.Timing{timing(0.3, 0.6), finalTransfer(1.0)}
	require.NoError(t, c.Compute(1, timings, footstep.SingleSupport, true, omega))

	c.ComputeRemaining(0.75)
	m := c.Multipliers()
	assert.Equal(t, 0.0, m.TimeRemaining)
	assert.Equal(t, 1.0, m.RemainingEndOfState)
	assert.Equal(t, 1.0, m.CurrentStateProjection)
	assert.Equal(t, 0.0, m.RemainingStanceEntry)
	assert.Equal(t, 0.0, m.RemainingStanceExit)
}

// The remaining-time multipliers must satisfy the pendulum ODE
// ξ̇ = ω0·(ξ − r(t)) everywhere in the phase, including inside the spline ramp.
func TestRemainingMultipliersSatisfyDynamics(t *testing.T) {
	t.Parallel()
	const (
		xiEnd       = 5.0
		prevExit    = -2.0
		stanceEntry = 1.0
		stanceExit  = 3.0
		h           = 1e-6
	)

	cases := []struct {
		name    string
		phase   footstep.SupportPhase
		twoCMPs bool
	}{
		{"transfer", footstep.Transfer, true},
		{"swing two CMPs", footstep.SingleSupport, true},
		{"swing one CMP", footstep.SingleSupport, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCalculator(DefaultConfig())
			timings := []footstep.Timing{timing(0.3, 0.6), finalTransfer(1.0)}
			require.NoError(t, c.Compute(1, timings, tc.phase, tc.twoCMPs, omega))

			position := func(tt float64) float64 {
				c.ComputeRemaining(tt)
				m := c.Multipliers()
				return m.RemainingEndOfState*xiEnd + m.RemainingPreviousExit*prevExit +
					m.RemainingStanceEntry*stanceEntry + m.RemainingStanceExit*stanceExit
			}

			duration := c.Multipliers().PhaseDuration
			for _, frac := range []float64{0.05, 0.2, 0.4, 0.55, 0.7, 0.9} {
				tt := frac * duration
				numeric := (position(tt+h) - position(tt-h)) / (2 * h)

				c.ComputeRemaining(tt)
				m := c.Multipliers()
				analytic := m.VelocityEndOfState*xiEnd + m.VelocityPreviousExit*prevExit +
					m.VelocityStanceEntry*stanceEntry + m.VelocityStanceExit*stanceExit
				assert.InDelta(t, numeric, analytic, 1e-4, "t=%.3f", tt)

				sum := m.RemainingEndOfState + m.RemainingPreviousExit + m.RemainingStanceEntry + m.RemainingStanceExit
				assert.InDelta(t, 1.0, sum, 1e-12)
			}
		})
	}
}
