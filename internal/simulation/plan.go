package simulation

import (
	"errors"
	"fmt"

	"github.com/banshee-data/capturepoint/internal/geometry"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
)

// ErrInvalidScenario is returned for scenarios that cannot be walked.
var ErrInvalidScenario = errors.New("simulation: invalid scenario")

// StraightLinePlan lays steps forward along x starting with first. The feet
// start side by side at x = 0, width apart. Every step advances by length
// except the last, which squares up beside the previous one.
func StraightLinePlan(steps int, length, width float64, first footstep.RobotSide, timing, final footstep.Timing) (*footstep.Plan, error) {
	if steps < 0 {
		return nil, fmt.Errorf("%w: %d steps", ErrInvalidScenario, steps)
	}
	if err := final.Validate(); err != nil {
		return nil, fmt.Errorf("final transfer: %w", err)
	}
	plan := footstep.NewPlan(steps, final)
	side := first
	x := 0.0
	for k := 0; k < steps; k++ {
		if k < steps-1 || steps == 1 {
			x += length
		}
		err := plan.Add(footstep.PlannedStep{
			Footstep: footstep.Footstep{Side: side, Pose: geometry.NewPose2(x, side.LateralSign()*width/2, 0)},
			Timing:   timing,
		})
		if err != nil {
			return nil, err
		}
		side = side.Opposite()
	}
	return plan, nil
}

// InitialFeet returns the left and right feet side by side at the origin.
func InitialFeet(width float64) (left, right footstep.Footstep) {
	left = footstep.Footstep{Side: footstep.Left, Pose: geometry.NewPose2(0, width/2, 0)}
	right = footstep.Footstep{Side: footstep.Right, Pose: geometry.NewPose2(0, -width/2, 0)}
	return left, right
}
