// Package debug provides instrumentation for the capture-point controller.
// The Collector captures per-tick internals (reference ICP/CMP, feedback,
// relaxation, per-term cost) and every sample of the swing duration search
// for diagnostics, reports and tuning.
package debug

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/icp/footstep"
	"github.com/banshee-data/capturepoint/internal/icp/solver"
)

// Pre-allocation capacities. A 10 s run at 250 Hz is 2500 ticks; the timing
// search adds at most a few dozen samples per swing tick.
const (
	defaultTickCapacity    = 2500
	defaultSampleCapacity  = 4096
	defaultFailureCapacity = 16
)

// Observer receives controller internals. Implementations must not retain
// the slices inside the records past the call.
type Observer interface {
	ObserveTick(TickRecord)
	ObserveTimingSample(TimingSample)
	ObserveFailure(FailureRecord)
}

// TickRecord is one control tick.
type TickRecord struct {
	Tick        uint64
	Time        float64
	Phase       footstep.SupportPhase
	TimeInPhase float64

	MeasuredICP          r2.Vec
	ReferenceICP         r2.Vec
	ReferenceICPVelocity r2.Vec
	ReferenceCMP         r2.Vec
	NominalICP           r2.Vec
	FeedbackCMP          r2.Vec
	FeedbackDelta        r2.Vec
	Relaxation           r2.Vec

	// Footstep is the adjusted location of the first upcoming step, NaN
	// when no step is considered.
	Footstep    r2.Vec
	WasAdjusted bool
	Cost        solver.CostToGo

	SwingDuration         float64
	EstimatedOptimalSwing float64
	GradientIterations    int
	ReductionIterations   int
	FinishedOnTime        bool
}

// TimingSample is one evaluated swing duration. Gradient is NaN for samples
// taken while shrinking a rejected step.
type TimingSample struct {
	Tick          uint64
	Iteration     int
	SwingDuration float64
	Cost          float64
	Gradient      float64
}

// FailureRecord is a tick whose solve failed.
type FailureRecord struct {
	Tick  uint64
	Phase footstep.SupportPhase
	Err   error
}

// Nop is an Observer that discards everything.
type Nop struct{}

func (Nop) ObserveTick(TickRecord)           {}
func (Nop) ObserveTimingSample(TimingSample) {}
func (Nop) ObserveFailure(FailureRecord)     {}

// Collector accumulates records in memory. When disabled every Observe call
// is a no-op.
type Collector struct {
	enabled  bool
	Ticks    []TickRecord
	Samples  []TimingSample
	Failures []FailureRecord
}

// NewCollector creates an enabled collector with pre-sized buffers.
func NewCollector() *Collector {
	return &Collector{
		enabled:  true,
		Ticks:    make([]TickRecord, 0, defaultTickCapacity),
		Samples:  make([]TimingSample, 0, defaultSampleCapacity),
		Failures: make([]FailureRecord, 0, defaultFailureCapacity),
	}
}

// SetEnabled controls whether the collector records.
func (c *Collector) SetEnabled(enabled bool) { c.enabled = enabled }

// IsEnabled returns true if the collector is actively recording.
func (c *Collector) IsEnabled() bool { return c.enabled }

func (c *Collector) ObserveTick(r TickRecord) {
	if !c.enabled {
		return
	}
	c.Ticks = append(c.Ticks, r)
}

func (c *Collector) ObserveTimingSample(s TimingSample) {
	if !c.enabled {
		return
	}
	c.Samples = append(c.Samples, s)
}

func (c *Collector) ObserveFailure(f FailureRecord) {
	if !c.enabled {
		return
	}
	c.Failures = append(c.Failures, f)
}

// SamplesForTick returns the timing samples recorded during tick.
func (c *Collector) SamplesForTick(tick uint64) []TimingSample {
	var out []TimingSample
	for _, s := range c.Samples {
		if s.Tick == tick {
			out = append(out, s)
		}
	}
	return out
}

// Reset drops everything recorded so far, keeping capacity.
func (c *Collector) Reset() {
	c.Ticks = c.Ticks[:0]
	c.Samples = c.Samples[:0]
	c.Failures = c.Failures[:0]
}
