package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/synchro/internal/observe"
)

func collect(t *testing.T, every int, ticks int) *Collector {
	t.Helper()
	c := NewCollector(every)
	for i := 1; i <= ticks; i++ {
		tm := float64(i) * 0.1
		c.Observe(observe.Snapshot{
			Tick: uint64(i),
			Time: tm,
			Agents: []observe.AgentSnapshot{
				{Index: 1, Model: "citybus", Time: tm, Speed: 6, Position: [3]float64{30 + 6*tm, 0, 0}},
				{Index: 0, Model: "sedan", Time: tm, Speed: 15 - tm, Steering: 0.01,
					Position: [3]float64{15 * tm, 0, 0}, LeadTracked: i > 2, LeadDistance: 30 - 9*tm},
			},
		})
	}
	return c
}

func TestCollectorSeries(t *testing.T) {
	series := collect(t, 1, 5).Series()
	require.Len(t, series, 2)
	assert.Equal(t, 0, series[0].Index)
	assert.Equal(t, "sedan", series[0].Model)
	require.Len(t, series[0].Samples, 5)
	assert.True(t, math.IsNaN(series[0].Samples[0].Gap), "untracked lead")
	assert.InDelta(t, 30-9*0.3, series[0].Samples[2].Gap, 1e-12)
	assert.InDelta(t, 14.5, series[0].Samples[4].Speed, 1e-12)
	assert.Equal(t, 6.0, series[1].Samples[0].Speed)
}

func TestCollectorEvery(t *testing.T) {
	series := collect(t, 4, 10).Series()
	require.Len(t, series, 2)
	require.Len(t, series[0].Samples, 2)
	assert.InDelta(t, 0.4, series[0].Samples[0].Time, 1e-12)
	assert.InDelta(t, 0.8, series[0].Samples[1].Time, 1e-12)
}

func TestSeriesIsACopy(t *testing.T) {
	c := collect(t, 1, 2)
	s := c.Series()
	s[0].Samples[0].Speed = -1
	assert.NotEqual(t, -1.0, c.Series()[0].Samples[0].Speed)
}

func TestWritePNG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	files, err := WritePNG(dir, collect(t, 1, 20).Series())
	require.NoError(t, err)
	require.Len(t, files, 3)
	for _, f := range files {
		b, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(b, []byte("\x89PNG")), f)
	}
	assert.Equal(t, filepath.Join(dir, "gap.png"), files[1])
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, "highway", collect(t, 1, 20).Series()))
	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "Lead gap")
	assert.Contains(t, html, "Trajectories")
	assert.Contains(t, html, "agent 0 (sedan)")
}

func TestNoData(t *testing.T) {
	_, err := WritePNG(t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNoData)
	assert.ErrorIs(t, WriteHTML(&bytes.Buffer{}, "empty", []Series{{Index: 0}}), ErrNoData)
}
