// Package footstep defines the plan inputs consumed by the capture-point
// engine: footsteps, their timings, robot sides and support phases.
package footstep

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/geometry"
)

// RobotSide identifies a leg.
type RobotSide int

const (
	Left RobotSide = iota
	Right
)

// Opposite returns the other side.
func (s RobotSide) Opposite() RobotSide {
	if s == Left {
		return Right
	}
	return Left
}

// LateralSign is +1 for the left leg and -1 for the right leg. Multiplying
// a sole-frame lateral offset by it mirrors the offset between legs.
func (s RobotSide) LateralSign() float64 {
	if s == Left {
		return 1
	}
	return -1
}

func (s RobotSide) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// SupportPhase selects which closed-form branch of the recursion applies.
type SupportPhase int

const (
	Standing SupportPhase = iota
	Transfer
	SingleSupport
)

func (p SupportPhase) String() string {
	switch p {
	case Standing:
		return "standing"
	case Transfer:
		return "transfer"
	case SingleSupport:
		return "single_support"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// IsDoubleSupport reports whether both feet carry load in this phase.
func (p SupportPhase) IsDoubleSupport() bool { return p != SingleSupport }

// Footstep is a planned foot placement. ContactPolygon is in the sole frame;
// when empty the engine substitutes its default foot polygon.
type Footstep struct {
	Side           RobotSide
	Pose           geometry.Pose2
	ContactPolygon []r2.Vec
}

// Position returns the sole reference point in the world frame.
func (f Footstep) Position() r2.Vec { return f.Pose.Position }

// Timing holds the durations associated with one step. TransferDuration is
// the double support preceding the swing that places the step.
type Timing struct {
	TransferDuration float64
	SwingDuration    float64
	// TransferSplitFraction is the share of the transfer spent on the
	// previous stance CMP before the CMP moves to the new stance.
	TransferSplitFraction float64
	// SwingSplitFraction is the share of the swing spent on the stance
	// entry CMP before moving to the exit CMP.
	SwingSplitFraction float64
}

// StepDuration is transfer plus swing.
func (t Timing) StepDuration() float64 { return t.TransferDuration + t.SwingDuration }

// ErrInvalidTiming is returned for negative or non-finite durations and
// split fractions outside [0, 1].
var ErrInvalidTiming = errors.New("invalid footstep timing")

// Validate checks ranges.
func (t Timing) Validate() error {
	for _, d := range []float64{t.TransferDuration, t.SwingDuration} {
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return fmt.Errorf("%w: duration %v", ErrInvalidTiming, d)
		}
	}
	for _, f := range []float64{t.TransferSplitFraction, t.SwingSplitFraction} {
		if f < 0 || f > 1 || math.IsNaN(f) {
			return fmt.Errorf("%w: split fraction %v", ErrInvalidTiming, f)
		}
	}
	return nil
}

// PlannedStep pairs a footstep with its timing.
type PlannedStep struct {
	Footstep Footstep
	Timing   Timing
}
