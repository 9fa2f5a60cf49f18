package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTML renders an interactive page with one line chart per metric and
// the XY trajectories.
func WriteHTML(w io.Writer, title string, series []Series) error {
	if !hasSamples(series) {
		return ErrNoData
	}
	page := components.NewPage()
	page.PageTitle = title

	for _, m := range metrics {
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
			charts.WithTitleOpts(opts.Title{Title: m.title, Subtitle: title}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
			charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: m.unit}),
			charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		)
		for _, s := range series {
			line.AddSeries(label(s), lineData(s, m.value), charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
		}
		page.AddCharts(line)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectories", Subtitle: fmt.Sprintf("%d agents", len(series))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Y (m)"}),
	)
	for _, s := range series {
		data := make([]opts.ScatterData, 0, len(s.Samples))
		for _, smp := range s.Samples {
			data = append(data, opts.ScatterData{Value: []interface{}{smp.X, smp.Y}})
		}
		scatter.AddSeries(label(s), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	page.AddCharts(scatter)

	return page.Render(w)
}

// lineData maps NaN to a gap in the line.
func lineData(s Series, value func(Sample) float64) []opts.LineData {
	data := make([]opts.LineData, 0, len(s.Samples))
	for _, smp := range s.Samples {
		v := value(smp)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			data = append(data, opts.LineData{Value: []interface{}{smp.Time, "-"}})
			continue
		}
		data = append(data, opts.LineData{Value: []interface{}{smp.Time, v}})
	}
	return data
}
