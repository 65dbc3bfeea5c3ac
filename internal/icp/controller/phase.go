package controller

import (
	"errors"
	"fmt"

	"github.com/banshee-data/capturepoint/internal/icp/footstep"
)

// ErrInvalidTransition is returned when a phase is entered from a phase
// that cannot precede it.
var ErrInvalidTransition = errors.New("invalid phase transition")

// phaseState is the active phase and the feet that define it. support
// carries the robot through the next swing; trailing is the other foot,
// in swing during single support.
type phaseState struct {
	phase     footstep.SupportPhase
	startTime float64
	support   footstep.Footstep
	trailing  footstep.Footstep
}

// transitions[from][to]. Standing may be re-entered to move the feet or
// the standing target.
var transitions = [3][3]bool{
	footstep.Standing:      {footstep.Standing: true, footstep.Transfer: true},
	footstep.Transfer:      {footstep.SingleSupport: true, footstep.Standing: true},
	footstep.SingleSupport: {footstep.Transfer: true},
}

// checkTransition validates entering to. The first phase may be Standing
// or Transfer.
func checkTransition(initialized bool, from, to footstep.SupportPhase) error {
	if !initialized {
		if to == footstep.SingleSupport {
			return fmt.Errorf("%w: cannot start in %s", ErrInvalidTransition, to)
		}
		return nil
	}
	if !transitions[from][to] {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// SwingComplete reports touchdown: contact was measured, or the swing
// duration has elapsed.
func SwingComplete(timeInPhase, swingDuration float64, contact bool) bool {
	return contact || timeInPhase >= swingDuration
}

// TransferComplete reports that the weight has moved onto the new support
// foot.
func TransferComplete(timeInPhase, transferDuration float64) bool {
	return timeInPhase >= transferDuration
}
