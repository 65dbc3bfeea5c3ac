package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// ErrNoActuationPath is returned when both CMP feedback and step adjustment
// are disabled, leaving the optimizer nothing to command.
var ErrNoActuationPath = errors.New("feedback and step adjustment are both disabled")

// TuningConfig represents the root configuration for the capture-point
// engine. Every field is optional; the Get* methods supply defaults.
type TuningConfig struct {
	// Problem size
	MaxNumberOfFootsteps        *int  `json:"max_number_of_footsteps,omitempty"`
	NumberOfFootstepsToConsider *int  `json:"number_of_footsteps_to_consider,omitempty"`
	MaxNumberOfVertices         *int  `json:"max_number_of_vertices,omitempty"`
	MaxNumberOfReachabilityCuts *int  `json:"max_number_of_reachability_cuts,omitempty"`
	UseTwoCMPs                  *bool `json:"use_two_cmps,omitempty"`
	UseFeedback                 *bool `json:"use_feedback,omitempty"`
	UseStepAdjustment           *bool `json:"use_step_adjustment,omitempty"`
	UseFootstepRegularization   *bool `json:"use_footstep_regularization,omitempty"`
	UseFeedbackRegularization   *bool `json:"use_feedback_regularization,omitempty"`
	UseFeedbackHardening        *bool `json:"use_feedback_hardening,omitempty"`
	ScaleStepRegularizationTime *bool `json:"scale_step_regularization_with_time,omitempty"`
	ScaleFeedbackWeightWithGain *bool `json:"scale_feedback_weight_with_gain,omitempty"`
	ScaleUpcomingStepWeights    *bool `json:"scale_upcoming_step_weights,omitempty"`

	// QP weights
	FootstepForwardWeight        *float64 `json:"footstep_forward_weight,omitempty"`
	FootstepLateralWeight        *float64 `json:"footstep_lateral_weight,omitempty"`
	FootstepRegularizationWeight *float64 `json:"footstep_regularization_weight,omitempty"`
	FeedbackForwardWeight        *float64 `json:"feedback_forward_weight,omitempty"`
	FeedbackLateralWeight        *float64 `json:"feedback_lateral_weight,omitempty"`
	FeedbackRegularizationWeight *float64 `json:"feedback_regularization_weight,omitempty"`
	FeedbackHardeningMultiplier  *float64 `json:"feedback_hardening_multiplier,omitempty"`
	DynamicRelaxationWeight      *float64 `json:"dynamic_relaxation_weight,omitempty"`
	DynamicRelaxationDSModifier  *float64 `json:"dynamic_relaxation_double_support_modifier,omitempty"`
	SimplexWeight                *float64 `json:"simplex_weight,omitempty"`
	MinimumFootstepWeight        *float64 `json:"minimum_footstep_weight,omitempty"`
	MinimumFeedbackWeight        *float64 `json:"minimum_feedback_weight,omitempty"`
	MinimumTimeRemaining         *float64 `json:"minimum_time_remaining,omitempty"`
	FeedbackParallelGain         *float64 `json:"feedback_parallel_gain,omitempty"`
	FeedbackOrthogonalGain       *float64 `json:"feedback_orthogonal_gain,omitempty"`
	RelaxationWarnThreshold      *float64 `json:"relaxation_warn_threshold,omitempty"`

	// Solution handling
	ForwardDeadband              *float64 `json:"forward_deadband,omitempty"`
	LateralDeadband              *float64 `json:"lateral_deadband,omitempty"`
	RemainingTimeToStopAdjusting *float64 `json:"remaining_time_to_stop_adjusting,omitempty"`

	// CMP placement and foot geometry
	EntryCMPForwardOffset *float64 `json:"entry_cmp_forward_offset,omitempty"`
	EntryCMPLateralOffset *float64 `json:"entry_cmp_lateral_offset,omitempty"`
	ExitCMPForwardOffset  *float64 `json:"exit_cmp_forward_offset,omitempty"`
	ExitCMPLateralOffset  *float64 `json:"exit_cmp_lateral_offset,omitempty"`
	CMPSafetyMargin       *float64 `json:"cmp_safety_margin,omitempty"`
	FootLength            *float64 `json:"foot_length,omitempty"`
	FootWidth             *float64 `json:"foot_width,omitempty"`

	// Reachability rectangle in the stance sole frame
	ReachabilityForward  *float64 `json:"reachability_forward,omitempty"`
	ReachabilityBackward *float64 `json:"reachability_backward,omitempty"`
	ReachabilityInner    *float64 `json:"reachability_inner,omitempty"`
	ReachabilityOuter    *float64 `json:"reachability_outer,omitempty"`
	ReachabilityInset    *float64 `json:"reachability_inset,omitempty"`

	// Entry to exit CMP spline window
	MaxSplineDuration *float64 `json:"max_spline_duration,omitempty"`
	MinSplineDuration *float64 `json:"min_spline_duration,omitempty"`
	MinTimeOnExitCMP  *float64 `json:"min_time_on_exit_cmp,omitempty"`

	// Swing duration optimization
	UseTimingOptimization  *bool    `json:"use_timing_optimization,omitempty"`
	TimingAdjustmentWeight *float64 `json:"timing_adjustment_weight,omitempty"`
	GradientThreshold      *float64 `json:"gradient_threshold,omitempty"`
	GradientDescentGain    *float64 `json:"gradient_descent_gain,omitempty"`
	TimingAttenuation      *float64 `json:"timing_attenuation,omitempty"`
	TimingVariation        *float64 `json:"timing_variation,omitempty"`
	MaxGradientIterations  *int     `json:"max_gradient_iterations,omitempty"`
	MaxGradientReductions  *int     `json:"max_gradient_reductions,omitempty"`
	MinimumSwingDuration   *float64 `json:"minimum_swing_duration,omitempty"`
	TimingDeadline         *string  `json:"timing_deadline,omitempty"` // duration string like "2ms"

	// Plant
	ControlDT *string  `json:"control_dt,omitempty"` // duration string like "4ms"
	Gravity   *float64 `json:"gravity,omitempty"`
	CoMHeight *float64 `json:"com_height,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to the Get* defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/icp/controller/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid and mutually
// consistent. Problems are reported at load time, never mid-solve.
func (c *TuningConfig) Validate() error {
	if !c.GetUseFeedback() && !c.GetUseStepAdjustment() {
		return ErrNoActuationPath
	}

	if c.GetMaxNumberOfFootsteps() < 1 {
		return fmt.Errorf("max_number_of_footsteps must be at least 1, got %d", c.GetMaxNumberOfFootsteps())
	}
	if n := c.GetNumberOfFootstepsToConsider(); n < 0 || n > c.GetMaxNumberOfFootsteps() {
		return fmt.Errorf("number_of_footsteps_to_consider must be in [0, %d], got %d", c.GetMaxNumberOfFootsteps(), n)
	}
	if !c.GetUseFeedback() && c.GetNumberOfFootstepsToConsider() == 0 {
		return fmt.Errorf("%w: no footsteps considered", ErrNoActuationPath)
	}
	if c.GetMaxNumberOfVertices() < 3 {
		return fmt.Errorf("max_number_of_vertices must be at least 3, got %d", c.GetMaxNumberOfVertices())
	}

	nonNegative := map[string]float64{
		"footstep_forward_weight":          c.GetFootstepForwardWeight(),
		"footstep_lateral_weight":          c.GetFootstepLateralWeight(),
		"footstep_regularization_weight":   c.GetFootstepRegularizationWeight(),
		"feedback_forward_weight":          c.GetFeedbackForwardWeight(),
		"feedback_lateral_weight":          c.GetFeedbackLateralWeight(),
		"feedback_regularization_weight":   c.GetFeedbackRegularizationWeight(),
		"feedback_hardening_multiplier":    c.GetFeedbackHardeningMultiplier(),
		"forward_deadband":                 c.GetForwardDeadband(),
		"lateral_deadband":                 c.GetLateralDeadband(),
		"remaining_time_to_stop_adjusting": c.GetRemainingTimeToStopAdjusting(),
		"cmp_safety_margin":                c.GetCMPSafetyMargin(),
		"timing_adjustment_weight":         c.GetTimingAdjustmentWeight(),
		"gradient_threshold":               c.GetGradientThreshold(),
		"min_time_on_exit_cmp":             c.GetMinTimeOnExitCMP(),
	}
	for name, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, v)
		}
	}

	positive := map[string]float64{
		"dynamic_relaxation_weight":                  c.GetDynamicRelaxationWeight(),
		"dynamic_relaxation_double_support_modifier": c.GetDynamicRelaxationDSModifier(),
		"simplex_weight":                             c.GetSimplexWeight(),
		"minimum_footstep_weight":                    c.GetMinimumFootstepWeight(),
		"minimum_feedback_weight":                    c.GetMinimumFeedbackWeight(),
		"minimum_time_remaining":                     c.GetMinimumTimeRemaining(),
		"feedback_parallel_gain":                     c.GetFeedbackParallelGain(),
		"feedback_orthogonal_gain":                   c.GetFeedbackOrthogonalGain(),
		"foot_length":                                c.GetFootLength(),
		"foot_width":                                 c.GetFootWidth(),
		"gradient_descent_gain":                      c.GetGradientDescentGain(),
		"timing_variation":                           c.GetTimingVariation(),
		"minimum_swing_duration":                     c.GetMinimumSwingDuration(),
		"gravity":                                    c.GetGravity(),
		"com_height":                                 c.GetCoMHeight(),
	}
	for name, v := range positive {
		if !(v > 0) {
			return fmt.Errorf("%s must be positive, got %f", name, v)
		}
	}

	if a := c.GetTimingAttenuation(); !(a > 0 && a < 1) {
		return fmt.Errorf("timing_attenuation must be in (0, 1), got %f", a)
	}
	if c.GetMinSplineDuration() < 0 || c.GetMinSplineDuration() > c.GetMaxSplineDuration() {
		return fmt.Errorf("min_spline_duration %f must be in [0, max_spline_duration %f]",
			c.GetMinSplineDuration(), c.GetMaxSplineDuration())
	}
	if c.GetReachabilityInner() >= c.GetReachabilityOuter() {
		return fmt.Errorf("reachability_inner %f must be less than reachability_outer %f",
			c.GetReachabilityInner(), c.GetReachabilityOuter())
	}
	if c.GetReachabilityForward() <= -c.GetReachabilityBackward() {
		return fmt.Errorf("reachability_forward %f and reachability_backward %f leave no region",
			c.GetReachabilityForward(), c.GetReachabilityBackward())
	}
	if inset := c.GetReachabilityInset(); inset < 0 || 2*inset >= c.GetReachabilityOuter()-c.GetReachabilityInner() {
		return fmt.Errorf("reachability_inset %f must be non-negative and leave part of the region", inset)
	}
	if 2*c.GetCMPSafetyMargin() >= c.GetFootWidth() {
		return fmt.Errorf("cmp_safety_margin %f consumes the whole foot width %f", c.GetCMPSafetyMargin(), c.GetFootWidth())
	}
	if c.GetMaxGradientIterations() < 1 || c.GetMaxGradientReductions() < 0 {
		return fmt.Errorf("gradient budgets must be positive, got iterations=%d reductions=%d",
			c.GetMaxGradientIterations(), c.GetMaxGradientReductions())
	}

	if c.TimingDeadline != nil && *c.TimingDeadline != "" {
		if _, err := time.ParseDuration(*c.TimingDeadline); err != nil {
			return fmt.Errorf("invalid timing_deadline '%s': %w", *c.TimingDeadline, err)
		}
	}
	if c.ControlDT != nil && *c.ControlDT != "" {
		d, err := time.ParseDuration(*c.ControlDT)
		if err != nil {
			return fmt.Errorf("invalid control_dt '%s': %w", *c.ControlDT, err)
		}
		if d <= 0 {
			return fmt.Errorf("control_dt must be positive, got %s", d)
		}
	}

	return nil
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetTimingDeadline parses and returns the wall-clock budget for the swing
// duration search.
func (c *TuningConfig) GetTimingDeadline() time.Duration {
	return getDuration(c.TimingDeadline, 2*time.Millisecond)
}

// GetControlDT parses and returns the control tick period.
func (c *TuningConfig) GetControlDT() time.Duration {
	return getDuration(c.ControlDT, 4*time.Millisecond)
}

func (c *TuningConfig) GetMaxNumberOfFootsteps() int { return getInt(c.MaxNumberOfFootsteps, 5) }
func (c *TuningConfig) GetNumberOfFootstepsToConsider() int {
	return getInt(c.NumberOfFootstepsToConsider, 3)
}
func (c *TuningConfig) GetMaxNumberOfVertices() int { return getInt(c.MaxNumberOfVertices, 16) }

// GetMaxNumberOfReachabilityCuts bounds the vertices the reachability
// polygon may gain from cuts beyond its initial rectangle.
func (c *TuningConfig) GetMaxNumberOfReachabilityCuts() int {
	return getInt(c.MaxNumberOfReachabilityCuts, 12)
}

func (c *TuningConfig) GetUseTwoCMPs() bool        { return getBool(c.UseTwoCMPs, true) }
func (c *TuningConfig) GetUseFeedback() bool       { return getBool(c.UseFeedback, true) }
func (c *TuningConfig) GetUseStepAdjustment() bool { return getBool(c.UseStepAdjustment, true) }
func (c *TuningConfig) GetUseFootstepRegularization() bool {
	return getBool(c.UseFootstepRegularization, true)
}
func (c *TuningConfig) GetUseFeedbackRegularization() bool {
	return getBool(c.UseFeedbackRegularization, true)
}
func (c *TuningConfig) GetUseFeedbackHardening() bool { return getBool(c.UseFeedbackHardening, false) }
func (c *TuningConfig) GetScaleStepRegularizationTime() bool {
	return getBool(c.ScaleStepRegularizationTime, false)
}
func (c *TuningConfig) GetScaleFeedbackWeightWithGain() bool {
	return getBool(c.ScaleFeedbackWeightWithGain, true)
}
func (c *TuningConfig) GetScaleUpcomingStepWeights() bool {
	return getBool(c.ScaleUpcomingStepWeights, true)
}

func (c *TuningConfig) GetFootstepForwardWeight() float64 { return getFloat(c.FootstepForwardWeight, 20) }
func (c *TuningConfig) GetFootstepLateralWeight() float64 { return getFloat(c.FootstepLateralWeight, 20) }
func (c *TuningConfig) GetFootstepRegularizationWeight() float64 {
	return getFloat(c.FootstepRegularizationWeight, 0.001)
}
func (c *TuningConfig) GetFeedbackForwardWeight() float64 { return getFloat(c.FeedbackForwardWeight, 0.5) }
func (c *TuningConfig) GetFeedbackLateralWeight() float64 { return getFloat(c.FeedbackLateralWeight, 0.5) }
func (c *TuningConfig) GetFeedbackRegularizationWeight() float64 {
	return getFloat(c.FeedbackRegularizationWeight, 0.0001)
}
func (c *TuningConfig) GetFeedbackHardeningMultiplier() float64 {
	return getFloat(c.FeedbackHardeningMultiplier, 1.0)
}
func (c *TuningConfig) GetDynamicRelaxationWeight() float64 {
	return getFloat(c.DynamicRelaxationWeight, 500)
}
func (c *TuningConfig) GetDynamicRelaxationDSModifier() float64 {
	return getFloat(c.DynamicRelaxationDSModifier, 1.0)
}
func (c *TuningConfig) GetSimplexWeight() float64 { return getFloat(c.SimplexWeight, 0.0001) }
func (c *TuningConfig) GetMinimumFootstepWeight() float64 {
	return getFloat(c.MinimumFootstepWeight, 0.0001)
}
func (c *TuningConfig) GetMinimumFeedbackWeight() float64 {
	return getFloat(c.MinimumFeedbackWeight, 0.0001)
}
func (c *TuningConfig) GetMinimumTimeRemaining() float64 {
	return getFloat(c.MinimumTimeRemaining, 0.0001)
}
func (c *TuningConfig) GetFeedbackParallelGain() float64 { return getFloat(c.FeedbackParallelGain, 3.0) }
func (c *TuningConfig) GetFeedbackOrthogonalGain() float64 {
	return getFloat(c.FeedbackOrthogonalGain, 2.5)
}

// GetRelaxationWarnThreshold returns the slack magnitude (metres) above
// which a solve is logged as a soft infeasibility.
func (c *TuningConfig) GetRelaxationWarnThreshold() float64 {
	return getFloat(c.RelaxationWarnThreshold, 0.02)
}

func (c *TuningConfig) GetForwardDeadband() float64 { return getFloat(c.ForwardDeadband, 0.03) }
func (c *TuningConfig) GetLateralDeadband() float64 { return getFloat(c.LateralDeadband, 0.03) }
func (c *TuningConfig) GetRemainingTimeToStopAdjusting() float64 {
	return getFloat(c.RemainingTimeToStopAdjusting, 0.05)
}

func (c *TuningConfig) GetEntryCMPForwardOffset() float64 { return getFloat(c.EntryCMPForwardOffset, 0.0) }
func (c *TuningConfig) GetEntryCMPLateralOffset() float64 {
	return getFloat(c.EntryCMPLateralOffset, -0.005)
}
func (c *TuningConfig) GetExitCMPForwardOffset() float64 { return getFloat(c.ExitCMPForwardOffset, 0.04) }
func (c *TuningConfig) GetExitCMPLateralOffset() float64 { return getFloat(c.ExitCMPLateralOffset, 0.0) }
func (c *TuningConfig) GetCMPSafetyMargin() float64      { return getFloat(c.CMPSafetyMargin, 0.005) }
func (c *TuningConfig) GetFootLength() float64           { return getFloat(c.FootLength, 0.22) }
func (c *TuningConfig) GetFootWidth() float64            { return getFloat(c.FootWidth, 0.11) }

func (c *TuningConfig) GetReachabilityForward() float64  { return getFloat(c.ReachabilityForward, 0.6) }
func (c *TuningConfig) GetReachabilityBackward() float64 { return getFloat(c.ReachabilityBackward, 0.3) }
func (c *TuningConfig) GetReachabilityInner() float64    { return getFloat(c.ReachabilityInner, 0.15) }
func (c *TuningConfig) GetReachabilityOuter() float64    { return getFloat(c.ReachabilityOuter, 0.6) }
func (c *TuningConfig) GetReachabilityInset() float64    { return getFloat(c.ReachabilityInset, 0.01) }

func (c *TuningConfig) GetMaxSplineDuration() float64 { return getFloat(c.MaxSplineDuration, 0.5) }
func (c *TuningConfig) GetMinSplineDuration() float64 { return getFloat(c.MinSplineDuration, 0.1) }
func (c *TuningConfig) GetMinTimeOnExitCMP() float64  { return getFloat(c.MinTimeOnExitCMP, 0.1) }

func (c *TuningConfig) GetUseTimingOptimization() bool { return getBool(c.UseTimingOptimization, true) }
func (c *TuningConfig) GetTimingAdjustmentWeight() float64 {
	return getFloat(c.TimingAdjustmentWeight, 1.0)
}
func (c *TuningConfig) GetGradientThreshold() float64   { return getFloat(c.GradientThreshold, 0.001) }
func (c *TuningConfig) GetGradientDescentGain() float64 { return getFloat(c.GradientDescentGain, 0.1) }
func (c *TuningConfig) GetTimingAttenuation() float64   { return getFloat(c.TimingAttenuation, 0.5) }
func (c *TuningConfig) GetTimingVariation() float64     { return getFloat(c.TimingVariation, 0.001) }
func (c *TuningConfig) GetMaxGradientIterations() int   { return getInt(c.MaxGradientIterations, 7) }
func (c *TuningConfig) GetMaxGradientReductions() int   { return getInt(c.MaxGradientReductions, 5) }
func (c *TuningConfig) GetMinimumSwingDuration() float64 {
	return getFloat(c.MinimumSwingDuration, 0.4)
}

func (c *TuningConfig) GetGravity() float64   { return getFloat(c.Gravity, 9.81) }
func (c *TuningConfig) GetCoMHeight() float64 { return getFloat(c.CoMHeight, 0.85) }

// GetOmega0 is the pendulum natural frequency sqrt(g / h).
func (c *TuningConfig) GetOmega0() float64 { return math.Sqrt(c.GetGravity() / c.GetCoMHeight()) }
