package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/simulation"
)

// maxHTMLPoints bounds the points per series; longer traces are strided.
const maxHTMLPoints = 2000

// WriteHTML renders an interactive page with the capture point time series
// and the footprint view of tr.
func WriteHTML(w io.Writer, tr *simulation.Trace, title string) error {
	if tr == nil || len(tr.Samples) == 0 {
		return ErrNoData
	}
	stride := len(tr.Samples)/maxHTMLPoints + 1

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(timeSeriesChart(tr, stride, title), footprintChart(tr, stride))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

func timeSeriesChart(tr *simulation.Trace, stride int, title string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1100px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("ticks=%d failures=%d pushed=%v", len(tr.Samples), tr.Failures, tr.Pushed)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Position (m)"}),
	)

	series := []struct {
		name string
		get  func(simulation.Sample) float64
	}{
		{"ICP x", func(s simulation.Sample) float64 { return s.ICP.X }},
		{"ICP y", func(s simulation.Sample) float64 { return s.ICP.Y }},
		{"reference ICP x", func(s simulation.Sample) float64 { return s.ReferenceICP.X }},
		{"reference ICP y", func(s simulation.Sample) float64 { return s.ReferenceICP.Y }},
		{"CMP x", func(s simulation.Sample) float64 { return s.CMP.X }},
		{"CMP y", func(s simulation.Sample) float64 { return s.CMP.Y }},
	}
	for _, sr := range series {
		data := make([]opts.LineData, 0, len(tr.Samples)/stride+1)
		for i := 0; i < len(tr.Samples); i += stride {
			s := tr.Samples[i]
			if v := sr.get(s); finite(s.Time, v) {
				data = append(data, opts.LineData{Value: []interface{}{s.Time, v}})
			}
		}
		line.AddSeries(sr.name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}

func footprintChart(tr *simulation.Trace, stride int) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1100px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Footprints", Subtitle: fmt.Sprintf("planned=%d landed=%d", len(tr.Planned), len(tr.Footholds))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "x (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "y (m)", NameLocation: "middle", NameGap: 30}),
	)

	path := make([]opts.ScatterData, 0, len(tr.Samples)/stride+1)
	for i := 0; i < len(tr.Samples); i += stride {
		if v := tr.Samples[i].ICP; finite(v.X, v.Y) {
			path = append(path, xy(v))
		}
	}
	planned := make([]opts.ScatterData, 0, len(tr.Planned))
	for _, v := range tr.Planned {
		planned = append(planned, xy(v))
	}
	landed := make([]opts.ScatterData, 0, len(tr.Footholds))
	for _, f := range tr.Footholds {
		landed = append(landed, xy(f.Position()))
	}
	scatter.AddSeries("ICP", path, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	scatter.AddSeries("planned", planned, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	scatter.AddSeries("landed", landed, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	return scatter
}

func xy(v r2.Vec) opts.ScatterData {
	return opts.ScatterData{Value: []interface{}{v.X, v.Y}}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
