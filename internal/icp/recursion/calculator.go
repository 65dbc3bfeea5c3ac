package recursion

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/capturepoint/internal/icp/footstep"
)

// splineAlpha is the share of the spline window placed before the entry to
// exit CMP switch.
const splineAlpha = 0.5

var (
	// ErrTooManySteps is returned when the requested lookahead exceeds the
	// configured maximum.
	ErrTooManySteps = errors.New("requesting too many steps")
	// ErrInvalidOmega is returned for a non-positive or non-finite ω0.
	ErrInvalidOmega = errors.New("omega0 must be positive and finite")
	// ErrMissingTiming is returned when fewer timings than steps are supplied.
	ErrMissingTiming = errors.New("not enough step timings for the horizon")
)

// Config bounds the calculator and shapes the spline window.
type Config struct {
	MaxSteps          int
	MaxSplineDuration float64
	MinSplineDuration float64
	MinTimeOnExitCMP  float64
}

// DefaultConfig returns the window parameters used on the reference robot.
func DefaultConfig() Config {
	return Config{
		MaxSteps:          5,
		MaxSplineDuration: 0.5,
		MinSplineDuration: 0.1,
		MinTimeOnExitCMP:  0.1,
	}
}

// Multipliers holds one recursion result. Per-footstep slices have length
// Config.MaxSteps; indices at or beyond the step count hold NaN.
type Multipliers struct {
	// End-of-phase recursion: ξ_end = Final·ξ_f + StanceEntry·r_se +
	// StanceExit·r_sx + Σ Entry[i]·r_e,i + Exit[i]·r_x,i.
	Entry       []float64
	Exit        []float64
	Final       float64
	StanceEntry float64
	StanceExit  float64

	// Remaining-time projection: ξ(now) = RemainingEndOfState·ξ_end +
	// RemainingPreviousExit·r_px + RemainingStanceEntry·r_se +
	// RemainingStanceExit·r_sx. Velocity* give ξ̇ the same way.
	CurrentStateProjection float64
	RemainingEndOfState    float64
	RemainingPreviousExit  float64
	RemainingStanceEntry   float64
	RemainingStanceExit    float64
	VelocityEndOfState     float64
	VelocityPreviousExit   float64
	VelocityStanceEntry    float64
	VelocityStanceExit     float64

	// SplineStart and SplineEnd are measured from the start of the swing.
	// NaN outside single support with two CMPs.
	SplineStart float64
	SplineEnd   float64

	NumberOfSteps   int
	PhaseDuration   float64
	HorizonDuration float64
	TimeRemaining   float64
}

// FootstepMultiplier returns Entry[i] + Exit[i], the weight of footstep i's
// position in the end-of-phase capture point.
func (m *Multipliers) FootstepMultiplier(i int) float64 {
	return m.Entry[i] + m.Exit[i]
}

type cacheKey struct {
	n          int
	phase      footstep.SupportPhase
	useTwoCMPs bool
	omega      float64
	timings    []footstep.Timing
}

// Calculator owns a Multipliers value and recomputes it when its inputs
// change.
type Calculator struct {
	cfg   Config
	m     Multipliers
	key   cacheKey
	valid bool

	omega      float64
	phase      footstep.SupportPhase
	useTwoCMPs bool
	timings    []footstep.Timing
}

// NewCalculator sizes the calculator for cfg.MaxSteps footsteps.
func NewCalculator(cfg Config) *Calculator {
	c := &Calculator{
		cfg: cfg,
		m: Multipliers{
			Entry: make([]float64, cfg.MaxSteps),
			Exit:  make([]float64, cfg.MaxSteps),
		},
		key:     cacheKey{timings: make([]footstep.Timing, 0, cfg.MaxSteps+2)},
		timings: make([]footstep.Timing, 0, cfg.MaxSteps+2),
	}
	c.Invalidate()
	return c
}

// Config returns the calculator configuration.
func (c *Calculator) Config() Config { return c.cfg }

// Multipliers returns the current result. The pointer stays valid for the
// life of the calculator.
func (c *Calculator) Multipliers() *Multipliers { return &c.m }

// Invalidate forces the next Compute to recompute.
func (c *Calculator) Invalidate() {
	c.valid = false
	for i := range c.m.Entry {
		c.m.Entry[i] = math.NaN()
		c.m.Exit[i] = math.NaN()
	}
}

// Compute evaluates the end-of-phase recursion for n footsteps. timings[0]
// belongs to the current step; timings[i+1] to the step after footstep i.
// Footstep i is the last of the horizon when timings[i+2] is absent.
func (c *Calculator) Compute(n int, timings []footstep.Timing, phase footstep.SupportPhase, useTwoCMPs bool, omega float64) error {
	if n > c.cfg.MaxSteps {
		return fmt.Errorf("%w: %d > %d", ErrTooManySteps, n, c.cfg.MaxSteps)
	}
	if n < 0 {
		return fmt.Errorf("%w: negative step count %d", ErrMissingTiming, n)
	}
	if !(omega > 0) || math.IsInf(omega, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidOmega, omega)
	}
	if phase != footstep.Standing && len(timings) < n+1 {
		return fmt.Errorf("%w: have %d, need %d", ErrMissingTiming, len(timings), n+1)
	}
	used := len(timings)
	if used > n+2 {
		used = n + 2
	}
	if phase == footstep.Standing {
		used = 0
	}
	for i := 0; i < used; i++ {
		if err := timings[i].Validate(); err != nil {
			return fmt.Errorf("timing %d: %w", i, err)
		}
	}

	if c.valid && c.key.matches(n, phase, useTwoCMPs, omega, timings[:used]) {
		return nil
	}
	c.key.set(n, phase, useTwoCMPs, omega, timings[:used])
	c.omega, c.phase, c.useTwoCMPs = omega, phase, useTwoCMPs
	c.timings = append(c.timings[:0], timings[:used]...)

	c.compute(n)
	c.valid = true
	return nil
}

func (c *Calculator) compute(n int) {
	m := &c.m
	for i := range m.Entry {
		m.Entry[i] = math.NaN()
		m.Exit[i] = math.NaN()
	}
	m.NumberOfSteps = n
	m.StanceEntry, m.StanceExit = 0, 0
	m.SplineStart, m.SplineEnd = math.NaN(), math.NaN()

	var stanceEntry, stanceExit float64
	switch c.phase {
	case footstep.Standing:
		m.PhaseDuration = 0
		n = 0
	case footstep.Transfer:
		m.PhaseDuration = c.timings[0].TransferDuration
		if n > 0 {
			cur, next := c.timings[0], c.timings[1]
			stanceEntry = cur.SwingSplitFraction * cur.SwingDuration
			stanceExit = (1-cur.SwingSplitFraction)*cur.SwingDuration + next.TransferSplitFraction*next.TransferDuration
		}
	case footstep.SingleSupport:
		cur := c.timings[0]
		m.PhaseDuration = cur.SwingDuration
		if n > 0 {
			next := c.timings[1]
			stanceExit = next.TransferSplitFraction * next.TransferDuration
		}
		if c.useTwoCMPs {
			m.SplineStart, m.SplineEnd = c.splineWindow(cur)
		}
	}
	if !c.useTwoCMPs {
		stanceEntry += stanceExit
		stanceExit = 0
	}

	t := 0.0
	m.StanceEntry = c.segment(t, stanceEntry)
	t += stanceEntry
	m.StanceExit = c.segment(t, stanceExit)
	t += stanceExit

	for i := 0; i < n; i++ {
		next := c.timings[i+1]
		var entryDuration, exitDuration float64
		if i+2 >= len(c.timings) {
			entryDuration = (1 - next.TransferSplitFraction) * next.TransferDuration
		} else {
			after := c.timings[i+2]
			entryDuration = (1-next.TransferSplitFraction)*next.TransferDuration + next.SwingSplitFraction*next.SwingDuration
			exitDuration = (1-next.SwingSplitFraction)*next.SwingDuration + after.TransferSplitFraction*after.TransferDuration
			if !c.useTwoCMPs {
				entryDuration += exitDuration
				exitDuration = 0
			}
		}
		m.Entry[i] = c.segment(t, entryDuration)
		t += entryDuration
		m.Exit[i] = c.segment(t, exitDuration)
		t += exitDuration
	}

	m.HorizonDuration = t
	m.Final = math.Exp(-c.omega * t)
}

// segment is the weight of a constant CMP held from start to start+duration
// (times from the end of the phase).
func (c *Calculator) segment(start, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return math.Exp(-c.omega*start) * -math.Expm1(-c.omega*duration)
}

// splineWindow returns the blend window around the entry to exit switch,
// measured from the start of the swing. A collapsed window returns the
// switch time twice.
func (c *Calculator) splineWindow(cur footstep.Timing) (start, end float64) {
	swing := cur.SwingDuration
	switchTime := cur.SwingSplitFraction * swing

	minExit := math.Min(c.cfg.MinTimeOnExitCMP, (swing-switchTime)-splineAlpha*c.cfg.MinSplineDuration)
	start = math.Max(switchTime-splineAlpha*c.cfg.MaxSplineDuration, 0)
	end = switchTime + (1-splineAlpha)*c.cfg.MaxSplineDuration

	if limit := swing - minExit; end > limit {
		end = limit
		start = switchTime - (end - switchTime)
	}
	start = math.Max(start, 0)
	end = math.Min(end, swing)
	if end <= start {
		return switchTime, switchTime
	}
	return start, end
}

func (k *cacheKey) matches(n int, phase footstep.SupportPhase, useTwoCMPs bool, omega float64, timings []footstep.Timing) bool {
	if k.n != n || k.phase != phase || k.useTwoCMPs != useTwoCMPs || k.omega != omega || len(k.timings) != len(timings) {
		return false
	}
	for i := range timings {
		if k.timings[i] != timings[i] {
			return false
		}
	}
	return true
}

func (k *cacheKey) set(n int, phase footstep.SupportPhase, useTwoCMPs bool, omega float64, timings []footstep.Timing) {
	k.n, k.phase, k.useTwoCMPs, k.omega = n, phase, useTwoCMPs, omega
	k.timings = append(k.timings[:0], timings...)
}
