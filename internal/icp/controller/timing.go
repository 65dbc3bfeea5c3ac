package controller

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/capturepoint/internal/icp/debug"
)

// optimizeTiming searches the duration of the swing in progress by
// gradient descent on the program cost plus a penalty on leaving the
// planned duration. Every step narrows [lower, upper] by the sign of the
// gradient. A step that does not lower the cost enough is shrunk
// geometrically. The search stops on a small gradient, an exhausted budget
// or the deadline, and leaves the solver and the plan at the cheapest
// duration evaluated.
func (c *Controller) optimizeTiming(tick Tick, timeInPhase float64) error {
	tc := c.cfg.Timing
	r := &c.timing
	deadline := c.tickStart.Add(tc.Deadline)
	c.estimator.Reset()

	initial := c.plan.Step(0).Timing.SwingDuration
	fail := func(err error) error {
		return c.restoreSwing(initial, err)
	}
	lower := math.Max(tc.MinimumSwingDuration, timeInPhase)
	upper := math.Inf(1)

	swing := initial
	cost, err := c.evaluate(tick, timeInPhase, swing)
	if err != nil {
		return fail(err)
	}
	best, bestCost := swing, cost
	consider := func() {
		if cost < bestCost {
			best, bestCost = swing, cost
		}
	}

	avg, grad, err := c.gradient(tick, timeInPhase, swing, cost)
	if err != nil {
		return fail(err)
	}
	iterations := 1

	for math.Abs(grad) > tc.GradientThreshold {
		if grad > 0 {
			upper = math.Min(swing, upper)
		} else {
			lower = math.Max(swing, lower)
		}
		if (grad > 0 && swing-lower < boundEpsilon) || (grad < 0 && upper-swing < boundEpsilon) {
			break
		}
		if iterations >= tc.MaxIterations {
			break
		}
		if !c.clock.Now().Before(deadline) {
			r.FinishedOnTime = false
			break
		}

		step := clamp(-tc.Gain*grad, lower-swing, upper-swing)
		swing += step
		if cost, err = c.evaluate(tick, timeInPhase, swing); err != nil {
			return fail(err)
		}
		consider()

		for reductions := 0; cost >= avg+sufficientDecrease*math.Abs(avg); {
			// The step overshot: the far side of the minimum lies before swing.
			if grad > 0 {
				lower = math.Max(swing, lower)
			} else {
				upper = math.Min(swing, upper)
			}
			if reductions >= tc.MaxReductions || iterations >= tc.MaxIterations {
				break
			}
			if !c.clock.Now().Before(deadline) {
				r.FinishedOnTime = false
				break
			}
			back := clamp(step*tc.Attenuation, swing-upper, swing-lower)
			next := swing - back
			if next-lower < boundEpsilon || upper-next < boundEpsilon {
				break
			}
			c.recordSample(swing, cost, math.NaN())
			step, swing = back, next
			if cost, err = c.evaluate(tick, timeInPhase, swing); err != nil {
				return fail(err)
			}
			consider()
			iterations++
			reductions++
			r.ReductionIterations++
		}
		if !r.FinishedOnTime {
			c.recordSample(swing, cost, math.NaN())
			break
		}

		if avg, grad, err = c.gradient(tick, timeInPhase, swing, cost); err != nil {
			return fail(err)
		}
		iterations++
	}

	if c.lastSwing != best {
		if _, err := c.evaluate(tick, timeInPhase, best); err != nil {
			return fail(err)
		}
	}
	r.SwingDuration = best
	r.EstimatedOptimalSwing = c.estimator.Minimum()
	if !r.FinishedOnTime {
		logf("tick %d: swing timing search hit the %v deadline after %d gradient evaluations, using %.3f s",
			c.tick, tc.Deadline, r.GradientIterations, best)
	}
	return nil
}

// restoreSwing puts the planned swing duration back after a failed search.
// A failed restore is joined onto err.
func (c *Controller) restoreSwing(initial float64, err error) error {
	if rerr := c.plan.SetSwingDuration(0, initial); rerr != nil {
		return errors.Join(err, fmt.Errorf("restore swing duration: %w", rerr))
	}
	return err
}

// evaluate solves the program with the current swing lasting swing
// seconds and returns the program cost plus the timing penalty.
func (c *Controller) evaluate(tick Tick, timeInPhase, swing float64) (float64, error) {
	if err := c.plan.SetSwingDuration(0, swing); err != nil {
		return 0, err
	}
	c.lastSwing = swing
	cost, err := c.solveAt(tick, timeInPhase)
	if err != nil {
		return 0, err
	}
	d := swing - c.referenceSwing
	return cost + c.cfg.Timing.Weight*d*d, nil
}

// gradient evaluates a forward difference at swing, whose cost is known,
// and records the sample. avg is the mean cost of the two evaluations.
func (c *Controller) gradient(tick Tick, timeInPhase, swing, cost float64) (avg, grad float64, err error) {
	eps := c.cfg.Timing.Variation
	varied, err := c.evaluate(tick, timeInPhase, swing+eps)
	if err != nil {
		return 0, 0, err
	}
	grad = (varied - cost) / eps
	c.timing.GradientIterations++
	c.recordSample(swing, cost, grad)
	c.estimator.AddGradient(swing, grad)
	return (cost + varied) / 2, grad, nil
}

func (c *Controller) recordSample(swing, cost, grad float64) {
	c.estimator.AddCost(swing, cost)
	c.observer.ObserveTimingSample(debug.TimingSample{
		Tick:          c.tick,
		Iteration:     c.samples,
		SwingDuration: swing,
		Cost:          cost,
		Gradient:      grad,
	})
	c.samples++
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
