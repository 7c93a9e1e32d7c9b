package forecasting

import (
	"gonum.org/v1/gonum/stat"

	"pharmacore/m/domain"
)

const naiveWindow = 14

// NaiveForecast repeats the mean of the last min(14, len) observations for
// every day after the series end (after today for an empty series). It never
// carries an interval.
func NaiveForecast(s Series, steps int, today domain.Date) *domain.ForecastResult {
	var base float64
	if n := s.Len(); n > 0 {
		base = nonNegative(stat.Mean(s.Values[max(0, n-naiveWindow):], nil))
	}
	values := make([]float64, max(steps, 0))
	dates := make([]domain.Date, len(values))
	end := s.End()
	if s.Len() == 0 {
		end = today
	}
	for i := range values {
		values[i] = base
		dates[i] = end.AddDays(i + 1)
	}
	return &domain.ForecastResult{Dates: dates, Values: values, Baseline: true}
}
