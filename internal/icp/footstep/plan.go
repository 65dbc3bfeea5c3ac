package footstep

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
)

// ErrPlanIndex is returned for out-of-range plan accesses.
var ErrPlanIndex = errors.New("plan index out of range")

// Plan is the ordered list of upcoming steps plus the transfer that ends the
// walk. It must only be mutated between control ticks.
type Plan struct {
	steps []PlannedStep
	// FinalTransfer supplies the duration and split of the transfer after
	// the last step; swing fields are ignored.
	FinalTransfer Timing
}

// NewPlan returns an empty plan with room for capacity steps.
func NewPlan(capacity int, finalTransfer Timing) *Plan {
	return &Plan{steps: make([]PlannedStep, 0, capacity), FinalTransfer: finalTransfer}
}

// Add appends a step after validating its timing.
func (p *Plan) Add(step PlannedStep) error {
	if err := step.Timing.Validate(); err != nil {
		return fmt.Errorf("step %d: %w", len(p.steps), err)
	}
	p.steps = append(p.steps, step)
	return nil
}

// Clear drops every step.
func (p *Plan) Clear() { p.steps = p.steps[:0] }

// Len returns the number of upcoming steps.
func (p *Plan) Len() int { return len(p.steps) }

// Step returns step i.
func (p *Plan) Step(i int) PlannedStep { return p.steps[i] }

// Steps exposes the underlying slice. Callers must not modify it.
func (p *Plan) Steps() []PlannedStep { return p.steps }

// PopFront removes and returns the first step, typically at touchdown.
func (p *Plan) PopFront() (PlannedStep, bool) {
	if len(p.steps) == 0 {
		return PlannedStep{}, false
	}
	first := p.steps[0]
	copy(p.steps, p.steps[1:])
	p.steps = p.steps[:len(p.steps)-1]
	return first, true
}

// SetPosition commits an adjusted location for step i, keeping its heading.
func (p *Plan) SetPosition(i int, pos r2.Vec) error {
	if i < 0 || i >= len(p.steps) {
		return fmt.Errorf("%w: %d", ErrPlanIndex, i)
	}
	p.steps[i].Footstep.Pose.Position = pos
	return nil
}

// SetSwingDuration replaces the swing duration of step i.
func (p *Plan) SetSwingDuration(i int, d float64) error {
	if i < 0 || i >= len(p.steps) {
		return fmt.Errorf("%w: %d", ErrPlanIndex, i)
	}
	t := p.steps[i].Timing
	t.SwingDuration = d
	if err := t.Validate(); err != nil {
		return err
	}
	p.steps[i].Timing = t
	return nil
}

// HorizonTimings writes the timings needed by the recursion for n
// considered steps into dst and returns it. Entry 0 is the current step.
// When the horizon reaches the end of the plan the final transfer closes it;
// otherwise one timing past the horizon is included so the last considered
// footstep can hand over to its successor.
func (p *Plan) HorizonTimings(n int, dst []Timing) []Timing {
	dst = dst[:0]
	if len(p.steps) == 0 {
		return append(dst, p.FinalTransfer)
	}
	limit := n + 2
	for i := 0; i < len(p.steps) && i < limit; i++ {
		dst = append(dst, p.steps[i].Timing)
	}
	if len(dst) < limit && n >= len(p.steps)-1 {
		dst = append(dst, p.FinalTransfer)
	}
	return dst
}
