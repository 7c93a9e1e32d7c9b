package forecasting

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"pharmacore/m/domain"
)

// residualWindow bounds how many trailing residuals size the approximate band.
const residualWindow = 30

// intervalLevel is the coverage of every interval in a forecast.
const intervalLevel = 0.95

// z95 is the two-sided critical value for intervalLevel.
var z95 = distuv.UnitNormal.Quantile(1 - (1-intervalLevel)/2)

// GenerateForecast produces steps daily predictions starting the day after
// lastObserved. A nil lastObserved falls back to the model's own label, then
// to now.
func GenerateForecast(m Model, steps int, lastObserved *time.Time, now time.Time) (*domain.ForecastResult, error) {
	if steps < 0 {
		return nil, fmt.Errorf("steps must be non-negative, got %d", steps)
	}

	var (
		point      []float64
		confidence []domain.ConfidenceInterval
	)
	switch fm := m.(type) {
	case IntervalForecaster:
		p, lower, upper, err := fm.ForecastInterval(steps, intervalLevel)
		if err != nil {
			return nil, err
		}
		point = p
		confidence = make([]domain.ConfidenceInterval, steps)
		for i := range confidence {
			confidence[i] = domain.ConfidenceInterval{Lower: nonNegative(lower[i]), Upper: nonNegative(upper[i])}
		}
	case PointForecaster:
		point = fm.Forecast(steps)
		if rr, ok := m.(ResidualReporter); ok {
			confidence = residualBand(point, rr.Residuals())
		}
	default:
		return nil, ErrUnsupportedModel
	}

	values := make([]float64, steps)
	for i := range values {
		values[i] = nonNegative(point[i])
	}

	start := forecastOrigin(m, lastObserved, now)
	dates := make([]domain.Date, steps)
	for i := range dates {
		dates[i] = start.AddDays(i + 1)
	}
	return &domain.ForecastResult{Dates: dates, Values: values, Confidence: confidence}, nil
}

// residualBand builds a ±z95·σ band from the most recent residuals. It returns
// nil when there is no spread to size it.
func residualBand(point, resid []float64) []domain.ConfidenceInterval {
	if len(resid) > residualWindow {
		resid = resid[len(resid)-residualWindow:]
	}
	if len(resid) == 0 {
		return nil
	}
	sigma := stat.PopStdDev(resid, nil)
	if sigma == 0 || math.IsNaN(sigma) {
		return nil
	}
	out := make([]domain.ConfidenceInterval, len(point))
	for i, p := range point {
		out[i] = domain.ConfidenceInterval{
			Lower: nonNegative(p - z95*sigma),
			Upper: nonNegative(p + z95*sigma),
		}
	}
	return out
}

func forecastOrigin(m Model, lastObserved *time.Time, now time.Time) domain.Date {
	if lastObserved != nil && !lastObserved.IsZero() {
		return domain.NewDate(*lastObserved)
	}
	if t := m.Meta().LastObserved; !t.IsZero() {
		return domain.NewDate(t)
	}
	return domain.NewDate(now)
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
