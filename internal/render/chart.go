package render

import (
	"errors"
	"io"
	"time"

	"github.com/wcharczuk/go-chart/v2"

	"marketdash/backend-go/internal/models"
)

var ErrEmptyChart = errors.New("chart has no plottable points")

type ChartOptions struct {
	Title  string
	Width  int
	Height int
}

// ChartPNG draws the Close and moving average series as a PNG. Undefined
// values are left out of each series.
func ChartPNG(w io.Writer, spec models.ChartSpec, opts ChartOptions) error {
	if opts.Width <= 0 {
		opts.Width = 960
	}
	if opts.Height <= 0 {
		opts.Height = 420
	}

	series := make([]chart.Series, 0, len(spec.Data))
	for _, s := range spec.Data {
		xs, ys := plottable(s)
		if len(xs) == 0 {
			continue
		}
		// go-chart needs a non-zero x range.
		if len(xs) == 1 {
			xs = append(xs, xs[0].Add(24*time.Hour))
			ys = append(ys, ys[0])
		}
		series = append(series, chart.TimeSeries{Name: s.Name, XValues: xs, YValues: ys})
	}
	if len(series) == 0 {
		return ErrEmptyChart
	}

	m := spec.Layout.Margin
	ch := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		Background: chart.Style{Padding: chart.Box{
			Top:    m.T + 20,
			Left:   m.L,
			Right:  m.R + 16,
			Bottom: m.B,
		}},
		XAxis:  chart.XAxis{ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01-02")},
		YAxis:  chart.YAxis{Name: "Price"},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch.Render(chart.PNG, w)
}

func plottable(s models.Series) ([]time.Time, []float64) {
	xs := make([]time.Time, 0, len(s.X))
	ys := make([]float64, 0, len(s.X))
	for i, x := range s.X {
		if i >= len(s.Y) || !s.Y[i].Valid {
			continue
		}
		t, ok := parseDate(x)
		if !ok {
			continue
		}
		xs = append(xs, t)
		ys = append(ys, s.Y[i].Float64)
	}
	return xs, ys
}

func parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
