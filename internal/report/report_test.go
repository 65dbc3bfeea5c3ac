package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/geometry"
	"github.com/banshee-data/capturepoint/internal/icp/debug"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
	"github.com/banshee-data/capturepoint/internal/simulation"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func syntheticTrace() *simulation.Trace {
	tr := &simulation.Trace{
		Planned: []r2.Vec{{X: 0.3, Y: 0.1}, {X: 0.6, Y: -0.1}},
		Footholds: []footstep.Footstep{
			{Side: footstep.Left, Pose: geometry.NewPose2(0, 0.1, 0)},
			{Side: footstep.Right, Pose: geometry.NewPose2(0, -0.1, 0)},
			{Side: footstep.Left, Pose: geometry.NewPose2(0.32, 0.1, 0)},
		},
	}
	for i := 0; i < 250; i++ {
		t := float64(i) * 0.004
		icp := r2.Vec{X: 0.3 * t, Y: 0.05 * math.Sin(2*math.Pi*t)}
		tr.Samples = append(tr.Samples, simulation.Sample{
			Time:         t,
			Phase:        footstep.SingleSupport,
			ICP:          icp,
			CoM:          r2.Scale(0.9, icp),
			CMP:          r2.Sub(icp, r2.Vec{X: 0.05}),
			ReferenceICP: r2.Add(icp, r2.Vec{Y: 0.01}),
			Footstep:     geometry.NaNVec(),
		})
	}
	// A non-finite sample is skipped rather than failing the plot.
	tr.Samples[10].ReferenceICP = geometry.NaNVec()
	return tr
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(b), len(pngMagic))
	assert.Equal(t, pngMagic, b[:len(pngMagic)])
}

func TestTraceAndFootprintPNG(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tr := syntheticTrace()

	require.NoError(t, TracePNG(filepath.Join(dir, "nested", "trace.png"), tr))
	assertPNG(t, filepath.Join(dir, "nested", "trace.png"))
	assertPNG(t, filepath.Join(dir, "nested", "trace_lateral.png"))

	require.NoError(t, FootprintPNG(filepath.Join(dir, "footprints.png"), tr))
	assertPNG(t, filepath.Join(dir, "footprints.png"))

	assert.ErrorIs(t, TracePNG(filepath.Join(dir, "empty.png"), &simulation.Trace{}), ErrNoData)
	assert.ErrorIs(t, FootprintPNG(filepath.Join(dir, "empty.png"), nil), ErrNoData)
}

func TestTimingCostPNG(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	samples := []debug.TimingSample{
		{Tick: 4, Iteration: 0, SwingDuration: 0.6, Cost: 1.2, Gradient: 0.5},
		{Tick: 7, Iteration: 0, SwingDuration: 0.6, Cost: 1.4, Gradient: 0.8},
		{Tick: 7, Iteration: 1, SwingDuration: 0.52, Cost: 1.1, Gradient: math.NaN()},
		{Tick: 7, Iteration: 2, SwingDuration: 0.56, Cost: 1.05, Gradient: 0.01},
	}
	tick := BusiestTimingTick(samples)
	assert.Equal(t, uint64(7), tick)

	path := filepath.Join(dir, "timing.png")
	require.NoError(t, TimingCostPNG(path, samples, tick))
	assertPNG(t, path)

	assert.ErrorIs(t, TimingCostPNG(path, samples, 99), ErrNoData)
	assert.Zero(t, BusiestTimingTick(nil))
}

func TestWriteHTML(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, syntheticTrace(), "walk with push"))

	html := buf.String()
	assert.Contains(t, html, "walk with push")
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "reference ICP x")
	assert.Contains(t, html, "Footprints")

	assert.ErrorIs(t, WriteHTML(&buf, &simulation.Trace{}, "empty"), ErrNoData)
}
