package debug

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/capturepoint/internal/icp/footstep"
)

func TestCollectorRecordsWhenEnabled(t *testing.T) {
	c := NewCollector()
	assert.True(t, c.IsEnabled())

	c.ObserveTick(TickRecord{Tick: 1, Phase: footstep.SingleSupport})
	c.ObserveTimingSample(TimingSample{Tick: 1, Iteration: 0, SwingDuration: 0.6, Cost: 1, Gradient: 0.5})
	c.ObserveTimingSample(TimingSample{Tick: 1, Iteration: 1, SwingDuration: 0.55, Cost: 0.9, Gradient: math.NaN()})
	c.ObserveTimingSample(TimingSample{Tick: 2, Iteration: 0, SwingDuration: 0.55, Cost: 0.8})
	c.ObserveFailure(FailureRecord{Tick: 3, Err: errors.New("boom")})

	assert.Len(t, c.Ticks, 1)
	assert.Len(t, c.Samples, 3)
	assert.Len(t, c.Failures, 1)
	assert.Len(t, c.SamplesForTick(1), 2)
	assert.Empty(t, c.SamplesForTick(9))
}

func TestCollectorDisabledIsNoop(t *testing.T) {
	c := NewCollector()
	c.SetEnabled(false)

	c.ObserveTick(TickRecord{Tick: 1})
	c.ObserveTimingSample(TimingSample{Tick: 1})
	c.ObserveFailure(FailureRecord{Tick: 1})

	assert.Empty(t, c.Ticks)
	assert.Empty(t, c.Samples)
	assert.Empty(t, c.Failures)
}

func TestCollectorResetKeepsCapacity(t *testing.T) {
	c := NewCollector()
	c.ObserveTick(TickRecord{Tick: 1})
	before := cap(c.Ticks)

	c.Reset()
	assert.Empty(t, c.Ticks)
	assert.Equal(t, before, cap(c.Ticks))
}

func TestNopSatisfiesObserver(t *testing.T) {
	var o Observer = Nop{}
	o.ObserveTick(TickRecord{})
	o.ObserveTimingSample(TimingSample{})
	o.ObserveFailure(FailureRecord{})
}
