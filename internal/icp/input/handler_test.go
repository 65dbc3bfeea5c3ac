package input

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/geometry"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
	"github.com/banshee-data/capturepoint/internal/icp/recursion"
)

const omega = 3.4

func testConfig(twoCMPs bool) Config {
	return Config{
		MaxSteps:      5,
		MaxPlanLength: 10,
		UseTwoCMPs:    twoCMPs,
		EntryOffset:   r2.Vec{X: 0, Y: -0.005},
		ExitOffset:    r2.Vec{X: 0.04, Y: 0},
		SafetyMargin:  0.005,
		DefaultFoot:   RectangularFoot(0.22, 0.11),
	}
}

func stepTiming(transfer, swing float64) footstep.Timing {
	return footstep.Timing{TransferDuration: transfer, SwingDuration: swing, TransferSplitFraction: 0.5, SwingSplitFraction: 0.5}
}

func foot(side footstep.RobotSide, x, y float64) footstep.Footstep {
	return footstep.Footstep{Side: side, Pose: geometry.NewPose2(x, y, 0)}
}

// walk returns feet standing at x = 0 and a plan of n forward steps.
func walk(t *testing.T, n int) (left, right footstep.Footstep, plan *footstep.Plan) {
	t.Helper()
	left = foot(footstep.Left, 0, 0.1)
	right = foot(footstep.Right, 0, -0.1)
	plan = footstep.NewPlan(10, footstep.Timing{TransferDuration: 1.0, TransferSplitFraction: 0.5})
	side := footstep.Left
	for i := 0; i < n; i++ {
		y := 0.1 * side.LateralSign()
		require.NoError(t, plan.Add(footstep.PlannedStep{
			Footstep: foot(side, 0.3*float64(i+1), y),
			Timing:   stepTiming(0.3, 0.6),
		}))
		side = side.Opposite()
	}
	return left, right, plan
}

func multipliers(t *testing.T, plan *footstep.Plan, n int, phase footstep.SupportPhase, twoCMPs bool) (*recursion.Calculator, *recursion.Multipliers) {
	t.Helper()
	c := recursion.NewCalculator(recursion.DefaultConfig())
	timings := plan.HorizonTimings(n, nil)
	require.NoError(t, c.Compute(n, timings, phase, twoCMPs, omega))
	return c, c.Multipliers()
}

func assertVec(t *testing.T, want, got r2.Vec, delta float64, msgAndArgs ...interface{}) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, delta, msgAndArgs...)
	assert.InDelta(t, want.Y, got.Y, delta, msgAndArgs...)
}

func TestOneCMPSitsOnFootstep(t *testing.T) {
	t.Parallel()
	left, right, plan := walk(t, 2)
	h := New(testConfig(false))
	require.NoError(t, h.Initialize(footstep.SingleSupport, right, left, plan, omega))

	assert.Equal(t, 2, h.NumberOfSteps())
	assert.Equal(t, right.Position(), h.StanceEntryCMP())
	assert.Equal(t, right.Position(), h.StanceExitCMP())
	for i := 0; i < 2; i++ {
		assert.Equal(t, h.FootstepPosition(i), h.EntryCMP(i))
		assert.Equal(t, r2.Vec{}, h.EntryOffset(i))
		assert.Equal(t, r2.Vec{}, h.ExitOffset(i))
	}
}

func TestTwoCMPsMirrorAndStayInsideFoot(t *testing.T) {
	t.Parallel()
	cfg := testConfig(true)
	cfg.ExitOffset = r2.Vec{X: 0.5, Y: 0.2}
	h := New(cfg)
	left, right, plan := walk(t, 1)
	require.NoError(t, h.Initialize(footstep.Transfer, right, left, plan, omega))

	// Lateral entry offset points inward: -y on the left foot, +y on the right.
	assertVec(t, r2.Vec{X: 0, Y: -0.1 + 0.005}, h.StanceEntryCMP(), 1e-12)
	exitLocal := r2.Sub(h.PreviousExitCMP(), left.Position())
	assert.InDelta(t, 0.11-0.005, exitLocal.X, 1e-9, "forward offset clamps to the inset toe")
	assert.InDelta(t, 0.055-0.005, exitLocal.Y, 1e-9, "lateral offset clamps to the inset edge")
}

func TestRotatedFootPlacesCMPInSoleFrame(t *testing.T) {
	t.Parallel()
	h := New(testConfig(true))
	step := footstep.Footstep{Side: footstep.Left, Pose: geometry.NewPose2(1, 1, math.Pi/2)}
	entry, exit, err := h.cmpsFor(step)
	require.NoError(t, err)
	assertVec(t, r2.Vec{X: 1.005, Y: 1}, entry, 1e-12)
	assertVec(t, r2.Vec{X: 1, Y: 1.04}, exit, 1e-12)
}

func TestCornerPointsEndOnFinalCMP(t *testing.T) {
	t.Parallel()
	left, right, plan := walk(t, 3)
	h := New(testConfig(true))
	require.NoError(t, h.Initialize(footstep.SingleSupport, right, left, plan, omega))

	corners := h.CornerPoints()
	require.NotEmpty(t, corners)
	final := geometry.Lerp(plan.Step(1).Footstep.Position(), plan.Step(2).Footstep.Position(), 0.5)
	assertVec(t, final, corners[len(corners)-1], 1e-12)
	assertVec(t, final, h.FinalCMP(), 1e-12)
	assert.Equal(t, corners[0], h.InitialICP())
	assertVec(t, corners[0], h.NominalICP(0), 1e-12)
}

func TestPlanLongerThanBuffersInitializes(t *testing.T) {
	t.Parallel()
	cfg := testConfig(true)
	left, right := foot(footstep.Left, 0, 0.1), foot(footstep.Right, 0, -0.1)
	plan := footstep.NewPlan(32, footstep.Timing{TransferDuration: 1.0, TransferSplitFraction: 0.5})
	side := footstep.Left
	for i := 0; i < 4*cfg.MaxSteps+1; i++ {
		require.NoError(t, plan.Add(footstep.PlannedStep{
			Footstep: foot(side, 0.3*float64(i+1), 0.1*side.LateralSign()),
			Timing:   stepTiming(0.3, 0.6),
		}))
		side = side.Opposite()
	}

	h := New(cfg)
	for _, phase := range []footstep.SupportPhase{footstep.Transfer, footstep.SingleSupport} {
		require.NotPanics(t, func() {
			require.NoError(t, h.Initialize(phase, right, left, plan, omega))
		})
		corners := h.CornerPoints()
		assert.Greater(t, len(corners), 2*cfg.MaxPlanLength+5)
		assertVec(t, h.FinalCMP(), corners[len(corners)-1], 1e-12)
		assertVec(t, corners[0], h.NominalICP(0), 1e-12)
	}

	// A short plan afterwards reuses the grown buffer.
	_, _, short := walk(t, 2)
	require.NoError(t, h.Initialize(footstep.SingleSupport, right, left, short, omega))
	assertVec(t, h.FinalCMP(), h.CornerPoints()[len(h.CornerPoints())-1], 1e-12)
}

func TestEndOfPhaseICPMatchesTimeline(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name    string
		steps   int
		horizon int
		twoCMPs bool
	}{
		{"whole plan two CMPs", 3, 3, true},
		{"whole plan one CMP", 3, 3, false},
		{"truncated horizon", 4, 2, true},
		{"adjustment off", 2, 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			left, right, plan := walk(t, tc.steps)
			h := New(testConfig(tc.twoCMPs))
			require.NoError(t, h.Initialize(footstep.SingleSupport, right, left, plan, omega))
			_, m := multipliers(t, plan, tc.horizon, footstep.SingleSupport, tc.twoCMPs)

			end := h.EndOfPhaseICP(m, nil, 0)
			assertVec(t, h.NominalICP(m.PhaseDuration), end, 1e-9)
		})
	}
}

func TestConstantEffectsCloseTheDynamics(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name        string
		phase       footstep.SupportPhase
		twoCMPs     bool
		horizon     int
		nDecision   int
		timeInPhase float64
	}{
		{"swing early", footstep.SingleSupport, false, 3, 2, 0.1},
		{"swing late", footstep.SingleSupport, false, 3, 2, 0.45},
		{"swing one decision", footstep.SingleSupport, false, 3, 1, 0.2},
		{"swing all decisions", footstep.SingleSupport, false, 3, 3, 0.2},
		{"transfer two CMPs", footstep.Transfer, true, 0, 0, 0.1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			left, right, plan := walk(t, 3)
			h := New(testConfig(tc.twoCMPs))
			require.NoError(t, h.Initialize(tc.phase, right, left, plan, omega))
			c, m := multipliers(t, plan, tc.horizon, tc.phase, tc.twoCMPs)
			c.ComputeRemaining(tc.timeInPhase)

			// With the nominal footsteps, CSP·ξ(t) − final − constant = Σ m_i·p_i.
			xi := h.NominalICP(tc.timeInPhase)
			lhs := r2.Sub(r2.Scale(m.CurrentStateProjection, xi), h.FinalICPRecursion(m))
			lhs = r2.Sub(lhs, h.CMPConstantEffects(m, tc.nDecision))
			var rhs r2.Vec
			for i := 0; i < tc.nDecision; i++ {
				rhs = r2.Add(rhs, r2.Scale(m.FootstepMultiplier(i), h.FootstepPosition(i)))
			}
			assertVec(t, rhs, lhs, 1e-9)
		})
	}
}

func TestRemainingProjectionMatchesTimelineInTransfer(t *testing.T) {
	t.Parallel()
	left, right, plan := walk(t, 2)
	h := New(testConfig(true))
	require.NoError(t, h.Initialize(footstep.Transfer, right, left, plan, omega))
	c, m := multipliers(t, plan, 0, footstep.Transfer, true)

	end := h.EndOfPhaseICP(m, nil, 0)
	for _, tip := range []float64{0, 0.1, 0.2, 0.29} {
		c.ComputeRemaining(tip)
		xi := r2.Scale(m.RemainingEndOfState, end)
		xi = r2.Add(xi, r2.Scale(m.RemainingPreviousExit, h.PreviousExitCMP()))
		xi = r2.Add(xi, r2.Scale(m.RemainingStanceEntry, h.StanceEntryCMP()))
		xi = r2.Add(xi, r2.Scale(m.RemainingStanceExit, h.StanceExitCMP()))
		assertVec(t, h.NominalICP(tip), xi, 1e-9, "t=%v", tip)
	}
}

func TestFinalICPIgnoresCurrentSwingChanges(t *testing.T) {
	t.Parallel()
	left, right, plan := walk(t, 3)
	h := New(testConfig(true))
	require.NoError(t, h.Initialize(footstep.SingleSupport, right, left, plan, omega))
	_, m := multipliers(t, plan, 1, footstep.SingleSupport, true)
	before := h.FinalICP(m)

	require.NoError(t, plan.SetSwingDuration(0, 0.45))
	_, m2 := multipliers(t, plan, 1, footstep.SingleSupport, true)
	assert.Equal(t, before, h.FinalICP(m2))
}

func TestSetFootstepLocationKeepsOffsets(t *testing.T) {
	t.Parallel()
	left, right, plan := walk(t, 2)
	h := New(testConfig(true))
	require.NoError(t, h.Initialize(footstep.SingleSupport, right, left, plan, omega))
	offset := h.ExitOffset(0)

	moved := r2.Vec{X: 0.35, Y: 0.12}
	h.SetFootstepLocation(0, moved)
	assert.Equal(t, moved, h.FootstepPosition(0))
	assertVec(t, r2.Add(moved, offset), h.ExitCMP(0), 1e-12)

	h.SetFootstepLocation(7, moved) // out of range is ignored
}

func TestStandingUsesMidpointOrOverride(t *testing.T) {
	t.Parallel()
	left, right, plan := walk(t, 0)
	h := New(testConfig(true))
	require.NoError(t, h.Initialize(footstep.Standing, left, right, plan, omega))
	_, m := multipliers(t, plan, 0, footstep.Standing, true)

	assertVec(t, r2.Vec{}, h.FinalICP(m), 1e-12)
	override := r2.Vec{X: 0.02, Y: 0.01}
	h.OverrideStandingICP(&override)
	assert.Equal(t, override, h.FinalICP(m))
	assert.Equal(t, override, h.NominalICP(1.0))
	h.OverrideStandingICP(nil)
	assertVec(t, r2.Vec{}, h.NominalICP(1.0), 1e-12)
}

func TestInitializeRejectsBadOmega(t *testing.T) {
	t.Parallel()
	left, right, plan := walk(t, 1)
	h := New(testConfig(true))
	assert.ErrorIs(t, h.Initialize(footstep.Transfer, right, left, plan, 0), recursion.ErrInvalidOmega)
	assert.False(t, h.Initialized())
}
