package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/guregu/null/v6"

	"marketdash/backend-go/internal/models"
)

var ErrInvalidRange = errors.New("invalid date range")

// ChartMargin matches the compact plot margins of the dashboard layout.
var ChartMargin = models.Margin{L: 40, R: 0, T: 20, B: 30}

// SMA returns the trailing simple moving average of values over window,
// aligned index-for-index with the input. Entries before the first full
// window are invalid; a window that is not positive or longer than the series
// leaves every entry invalid.
func SMA(values []float64, window int) []null.Float {
	out := make([]null.Float, len(values))
	if window <= 0 || window > len(values) {
		return out
	}

	var sum runningSum
	for i, v := range values {
		sum.add(v)
		if i >= window {
			sum.add(-values[i-window])
		}
		if i >= window-1 {
			out[i] = null.FloatFrom(sum.value() / float64(window))
		}
	}
	return out
}

// runningSum is a Neumaier-compensated sum, so values leaving the window
// do not take the low-order bits of the remaining ones with them.
type runningSum struct {
	sum, comp float64
}

func (r *runningSum) add(v float64) {
	t := r.sum + v
	if math.Abs(r.sum) >= math.Abs(v) {
		r.comp += (r.sum - t) + v
	} else {
		r.comp += (v - t) + r.sum
	}
	r.sum = t
}

func (r *runningSum) value() float64 { return r.sum + r.comp }

// BuildChart turns ascending price points into a Close series plus one SMA
// series per window, all sharing the same x axis.
func BuildChart(points []models.PricePoint, windows []int) models.ChartSpec {
	spec := models.ChartSpec{
		Data:   []models.Series{},
		Layout: models.ChartLayout{Margin: ChartMargin},
	}
	if len(points) == 0 {
		return spec
	}

	xs := make([]string, len(points))
	closes := make([]float64, len(points))
	ys := make([]null.Float, len(points))
	for i, p := range points {
		xs[i] = p.Time
		closes[i] = p.Price
		ys[i] = null.FloatFrom(p.Price)
	}
	spec.Data = append(spec.Data, models.Series{X: xs, Y: ys, Name: "Close"})
	for _, w := range windows {
		spec.Data = append(spec.Data, models.Series{
			X:    xs,
			Y:    SMA(closes, w),
			Name: fmt.Sprintf("SMA%d", w),
		})
	}
	return spec
}

// DateRange converts a pair of calendar years into ISO start and end dates
// covering both years in full.
func DateRange(startYear, endYear int) (string, string, error) {
	if startYear <= 0 || endYear <= 0 || startYear > endYear {
		return "", "", fmt.Errorf("%w: %d..%d", ErrInvalidRange, startYear, endYear)
	}
	return fmt.Sprintf("%04d-01-01", startYear), fmt.Sprintf("%04d-12-31", endYear), nil
}
