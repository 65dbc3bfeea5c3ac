// Package report renders simulation traces and swing timing searches as PNG
// plots (gonum/plot) and as a standalone HTML page (go-echarts).
package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/capturepoint/internal/icp/debug"
	"github.com/banshee-data/capturepoint/internal/simulation"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("report: no data")

var (
	colorICP       = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorReference = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	colorCMP       = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	colorCoM       = color.RGBA{R: 148, G: 103, B: 189, A: 255}
	colorPlanned   = color.RGBA{R: 127, G: 127, B: 127, A: 255}
	colorLanded    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// TracePNG plots the forward and lateral capture point, its reference and
// the commanded CMP against time, one panel per axis, into path.
func TracePNG(path string, tr *simulation.Trace) error {
	if tr == nil || len(tr.Samples) == 0 {
		return ErrNoData
	}
	for axis, name := range []string{"Forward", "Lateral"} {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s capture point", name)
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = "Position (m)"

		series := []struct {
			label string
			c     color.Color
			get   func(simulation.Sample) r2.Vec
		}{
			{"measured ICP", colorICP, func(s simulation.Sample) r2.Vec { return s.ICP }},
			{"reference ICP", colorReference, func(s simulation.Sample) r2.Vec { return s.ReferenceICP }},
			{"CMP", colorCMP, func(s simulation.Sample) r2.Vec { return s.CMP }},
		}
		for _, sr := range series {
			pts := make(plotter.XYs, 0, len(tr.Samples))
			for _, s := range tr.Samples {
				v := sr.get(s)
				y := v.X
				if axis == 1 {
					y = v.Y
				}
				pts = appendFinite(pts, s.Time, y)
			}
			if err := addLine(p, sr.label, sr.c, pts); err != nil {
				return err
			}
		}
		if err := save(p, axisPath(path, axis), 10*vg.Inch, 4*vg.Inch); err != nil {
			return err
		}
	}
	return nil
}

// axisPath keeps path for the forward panel and suffixes the lateral one.
func axisPath(path string, axis int) string {
	if axis == 0 {
		return path
	}
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + "_lateral" + ext
}

// FootprintPNG plots the top view of the walk: capture point and CoM paths,
// planned and landed footsteps.
func FootprintPNG(path string, tr *simulation.Trace) error {
	if tr == nil || len(tr.Samples) == 0 {
		return ErrNoData
	}
	p := plot.New()
	p.Title.Text = "Footprints"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	icp := make(plotter.XYs, 0, len(tr.Samples))
	com := make(plotter.XYs, 0, len(tr.Samples))
	for _, s := range tr.Samples {
		icp = appendFinite(icp, s.ICP.X, s.ICP.Y)
		com = appendFinite(com, s.CoM.X, s.CoM.Y)
	}
	if err := addLine(p, "ICP", colorICP, icp); err != nil {
		return err
	}
	if err := addLine(p, "CoM", colorCoM, com); err != nil {
		return err
	}

	planned := make(plotter.XYs, 0, len(tr.Planned))
	for _, v := range tr.Planned {
		planned = appendFinite(planned, v.X, v.Y)
	}
	landed := make(plotter.XYs, 0, len(tr.Footholds))
	for _, f := range tr.Footholds {
		landed = appendFinite(landed, f.Position().X, f.Position().Y)
	}
	if err := addScatter(p, "planned", colorPlanned, planned); err != nil {
		return err
	}
	if err := addScatter(p, "landed", colorLanded, landed); err != nil {
		return err
	}
	return save(p, path, 8*vg.Inch, 5*vg.Inch)
}

// TimingCostPNG plots the cost of every swing duration evaluated during
// tick. Samples from other ticks are ignored.
func TimingCostPNG(path string, samples []debug.TimingSample, tick uint64) error {
	pts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		if s.Tick == tick {
			pts = appendFinite(pts, s.SwingDuration, s.Cost)
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("%w: no timing samples for tick %d", ErrNoData, tick)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Swing duration search, tick %d", tick)
	p.X.Label.Text = "Swing duration (s)"
	p.Y.Label.Text = "Cost"
	if err := addScatter(p, "evaluated", colorICP, pts); err != nil {
		return err
	}
	return save(p, path, 6*vg.Inch, 4*vg.Inch)
}

// BusiestTimingTick is the tick with the most timing samples, 0 when there
// are none.
func BusiestTimingTick(samples []debug.TimingSample) uint64 {
	counts := make(map[uint64]int)
	var best uint64
	for _, s := range samples {
		counts[s.Tick]++
		if c := counts[s.Tick]; c > counts[best] || (c == counts[best] && s.Tick < best) {
			best = s.Tick
		}
	}
	return best
}

func appendFinite(pts plotter.XYs, x, y float64) plotter.XYs {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return pts
	}
	return append(pts, plotter.XY{X: x, Y: y})
}

func addLine(p *plot.Plot, label string, c color.Color, pts plotter.XYs) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func addScatter(p *plot.Plot, label string, c color.Color, pts plotter.XYs) error {
	if len(pts) == 0 {
		return nil
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	sc.GlyphStyle.Color = c
	sc.GlyphStyle.Radius = vg.Points(3)
	p.Add(sc)
	p.Legend.Add(label, sc)
	return nil
}

func save(p *plot.Plot, path string, w, h vg.Length) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
