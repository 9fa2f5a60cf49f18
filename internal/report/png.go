package report

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/synchro/internal/units"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("report: no samples collected")

type metric struct {
	file  string
	title string
	unit  string
	value func(Sample) float64
}

var metrics = []metric{
	{"speed.png", "Speed", "Speed (" + units.Label(units.KPH) + ")", func(s Sample) float64 { return units.ConvertSpeed(s.Speed, units.KPH) }},
	{"gap.png", "Lead gap", "Distance (m)", func(s Sample) float64 { return s.Gap }},
	{"steering.png", "Steering", "Steering command", func(s Sample) float64 { return s.Steering }},
}

// WritePNG writes one PNG per metric into dir and returns the file paths.
func WritePNG(dir string, series []Series) ([]string, error) {
	if !hasSamples(series) {
		return nil, ErrNoData
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	var files []string
	for _, m := range metrics {
		p := plot.New()
		p.Title.Text = m.title
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = m.unit
		p.Add(plotter.NewGrid())

		for i, s := range series {
			pts := points(s, m.value)
			if len(pts) == 0 {
				continue
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return files, fmt.Errorf("%s agent %d: %w", m.title, s.Index, err)
			}
			line.Color = plotutil.Color(i)
			line.Width = vg.Points(1)
			p.Add(line)
			p.Legend.Add(label(s), line)
		}
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10

		path := filepath.Join(dir, m.file)
		if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
			return files, fmt.Errorf("failed to save %s: %w", path, err)
		}
		files = append(files, path)
	}
	return files, nil
}

// points drops NaN samples; plotter rejects them.
func points(s Series, value func(Sample) float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(s.Samples))
	for _, smp := range s.Samples {
		v := value(smp)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: smp.Time, Y: v})
	}
	return pts
}

func label(s Series) string {
	if s.Model == "" {
		return fmt.Sprintf("agent %d", s.Index)
	}
	return fmt.Sprintf("agent %d (%s)", s.Index, s.Model)
}

func hasSamples(series []Series) bool {
	for _, s := range series {
		if len(s.Samples) > 0 {
			return true
		}
	}
	return false
}
