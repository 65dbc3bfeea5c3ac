package controller

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/config"
	"github.com/banshee-data/capturepoint/internal/icp/debug"
	"github.com/banshee-data/capturepoint/internal/icp/input"
	"github.com/banshee-data/capturepoint/internal/icp/reachability"
	"github.com/banshee-data/capturepoint/internal/icp/recursion"
	"github.com/banshee-data/capturepoint/internal/icp/solution"
	"github.com/banshee-data/capturepoint/internal/icp/solver"
	"github.com/banshee-data/capturepoint/internal/timeutil"
)

// Tolerances of the swing duration search. They have no derivation beyond
// tuning on the reference robot and are kept here for review.
const (
	// boundEpsilon is how close to a bound the duration must be before a
	// step toward that bound ends the search.
	boundEpsilon = 1e-4
	// sufficientDecrease is the fraction of the average cost a step must
	// save to be accepted without shrinking.
	sufficientDecrease = 0.05
)

// ErrInvalidConfig wraps configuration problems found by New.
var ErrInvalidConfig = errors.New("invalid controller configuration")

// TimingConfig drives the swing duration gradient descent.
type TimingConfig struct {
	Enabled              bool
	Weight               float64
	GradientThreshold    float64
	Gain                 float64
	Attenuation          float64
	Variation            float64
	MaxIterations        int
	MaxReductions        int
	MinimumSwingDuration float64
	Deadline             time.Duration
}

// Config assembles the component configurations.
type Config struct {
	Recursion    recursion.Config
	Input        input.Config
	Solver       solver.Config
	Solution     solution.Config
	Reachability reachability.Config
	Timing       TimingConfig

	NumberOfFootstepsToConsider  int
	UseStepAdjustment            bool
	UseFeedback                  bool
	FeedbackParallelGain         float64
	FeedbackOrthogonalGain       float64
	RemainingTimeToStopAdjusting float64
	RelaxationWarnThreshold      float64

	// Clock is the deadline source; nil means the wall clock.
	Clock timeutil.Clock
	// Observer receives diagnostics; nil discards them.
	Observer debug.Observer
}

// ConfigFromTuning maps a validated tuning file onto the components.
func ConfigFromTuning(t *config.TuningConfig) Config {
	maxSteps := t.GetMaxNumberOfFootsteps()
	maxCuts := t.GetMaxNumberOfReachabilityCuts()
	return Config{
		Recursion: recursion.Config{
			MaxSteps:          maxSteps,
			MaxSplineDuration: t.GetMaxSplineDuration(),
			MinSplineDuration: t.GetMinSplineDuration(),
			MinTimeOnExitCMP:  t.GetMinTimeOnExitCMP(),
		},
		Input: input.Config{
			MaxSteps:      maxSteps,
			MaxPlanLength: 4 * maxSteps,
			UseTwoCMPs:    t.GetUseTwoCMPs(),
			EntryOffset:   r2.Vec{X: t.GetEntryCMPForwardOffset(), Y: t.GetEntryCMPLateralOffset()},
			ExitOffset:    r2.Vec{X: t.GetExitCMPForwardOffset(), Y: t.GetExitCMPLateralOffset()},
			SafetyMargin:  t.GetCMPSafetyMargin(),
			DefaultFoot:   input.RectangularFoot(t.GetFootLength(), t.GetFootWidth()),
		},
		Solver: solver.Config{
			MaxSteps:                     maxSteps,
			MaxVertices:                  t.GetMaxNumberOfVertices(),
			MaxReachabilityVertices:      4 + maxCuts,
			ReachabilityInset:            t.GetReachabilityInset(),
			FootstepForwardWeight:        t.GetFootstepForwardWeight(),
			FootstepLateralWeight:        t.GetFootstepLateralWeight(),
			FootstepRegularizationWeight: t.GetFootstepRegularizationWeight(),
			FeedbackForwardWeight:        t.GetFeedbackForwardWeight(),
			FeedbackLateralWeight:        t.GetFeedbackLateralWeight(),
			FeedbackRegularizationWeight: t.GetFeedbackRegularizationWeight(),
			FeedbackHardeningMultiplier:  t.GetFeedbackHardeningMultiplier(),
			DynamicRelaxationWeight:      t.GetDynamicRelaxationWeight(),
			DynamicRelaxationDSModifier:  t.GetDynamicRelaxationDSModifier(),
			SimplexWeight:                t.GetSimplexWeight(),
			MinimumFootstepWeight:        t.GetMinimumFootstepWeight(),
			MinimumFeedbackWeight:        t.GetMinimumFeedbackWeight(),
			MinimumTimeRemaining:         t.GetMinimumTimeRemaining(),
			UseFootstepRegularization:    t.GetUseFootstepRegularization(),
			UseFeedbackRegularization:    t.GetUseFeedbackRegularization(),
			UseFeedbackHardening:         t.GetUseFeedbackHardening(),
			ScaleStepRegularizationTime:  t.GetScaleStepRegularizationTime(),
			ScaleFeedbackWeightWithGain:  t.GetScaleFeedbackWeightWithGain(),
			ScaleUpcomingStepWeights:     t.GetScaleUpcomingStepWeights(),
			ControlDT:                    t.GetControlDT().Seconds(),
		},
		Solution: solution.Config{
			MaxSteps:        maxSteps,
			ForwardDeadband: t.GetForwardDeadband(),
			LateralDeadband: t.GetLateralDeadband(),
		},
		Reachability: reachability.Config{
			Forward:  t.GetReachabilityForward(),
			Backward: t.GetReachabilityBackward(),
			Inner:    t.GetReachabilityInner(),
			Outer:    t.GetReachabilityOuter(),
			MaxCuts:  maxCuts,
		},
		Timing: TimingConfig{
			Enabled:              t.GetUseTimingOptimization(),
			Weight:               t.GetTimingAdjustmentWeight(),
			GradientThreshold:    t.GetGradientThreshold(),
			Gain:                 t.GetGradientDescentGain(),
			Attenuation:          t.GetTimingAttenuation(),
			Variation:            t.GetTimingVariation(),
			MaxIterations:        t.GetMaxGradientIterations(),
			MaxReductions:        t.GetMaxGradientReductions(),
			MinimumSwingDuration: t.GetMinimumSwingDuration(),
			Deadline:             t.GetTimingDeadline(),
		},
		NumberOfFootstepsToConsider:  t.GetNumberOfFootstepsToConsider(),
		UseStepAdjustment:            t.GetUseStepAdjustment(),
		UseFeedback:                  t.GetUseFeedback(),
		FeedbackParallelGain:         t.GetFeedbackParallelGain(),
		FeedbackOrthogonalGain:       t.GetFeedbackOrthogonalGain(),
		RemainingTimeToStopAdjusting: t.GetRemainingTimeToStopAdjusting(),
		RelaxationWarnThreshold:      t.GetRelaxationWarnThreshold(),
	}
}

func (c *Config) validate() error {
	if !c.UseFeedback && !c.UseStepAdjustment {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, solver.ErrNoActuationPath)
	}
	if c.NumberOfFootstepsToConsider < 0 || c.NumberOfFootstepsToConsider > c.Solver.MaxSteps {
		return fmt.Errorf("%w: %d footsteps to consider, solver sized for %d", ErrInvalidConfig, c.NumberOfFootstepsToConsider, c.Solver.MaxSteps)
	}
	if c.Recursion.MaxSteps < c.Solver.MaxSteps || c.Input.MaxSteps < c.Solver.MaxSteps {
		return fmt.Errorf("%w: recursion and input must hold at least %d steps", ErrInvalidConfig, c.Solver.MaxSteps)
	}
	if c.Solver.MaxReachabilityVertices < 4+c.Reachability.MaxCuts {
		return fmt.Errorf("%w: reachability region can exceed the solver's %d vertices", ErrInvalidConfig, c.Solver.MaxReachabilityVertices)
	}
	if c.Solver.ControlDT <= 0 {
		return fmt.Errorf("%w: control dt must be positive", ErrInvalidConfig)
	}
	if c.FeedbackParallelGain <= 0 || c.FeedbackOrthogonalGain <= 0 {
		return fmt.Errorf("%w: feedback gains must be positive", ErrInvalidConfig)
	}
	if t := c.Timing; t.Enabled {
		if t.Variation <= 0 || t.MaxIterations < 1 || t.MaxReductions < 0 {
			return fmt.Errorf("%w: timing search needs a positive variation and at least one iteration", ErrInvalidConfig)
		}
		if t.Attenuation <= 0 || t.Attenuation >= 1 {
			return fmt.Errorf("%w: timing attenuation must be in (0, 1), got %v", ErrInvalidConfig, t.Attenuation)
		}
	}
	return nil
}
