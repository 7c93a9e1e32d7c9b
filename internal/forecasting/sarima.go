package forecasting

import (
	"fmt"
	"math"

	"github.com/sartorproj/goarima/sarima"
	"github.com/sartorproj/goarima/timeseries"
)

// minSARIMAObs is the fewest differenced observations the seasonal ARIMA fit
// accepts before declining in favour of the fallback.
const minSARIMAObs = 10

// sarimaOrder is the fixed (p,d,q)(P,D,Q) order of the primary model.
var sarimaOrder = [6]int{1, 1, 1, 1, 1, 1}

// SARIMA is a fitted SARIMA(1,1,1)(1,1,1,s) model. The estimator keeps no
// portable state, so a stored SARIMA is rebuilt by refitting Y.
type SARIMA struct {
	baseModel
	Period int
	Y      []float64

	fit *sarima.Model
}

func fitSARIMA(y []float64, period int) (*SARIMA, error) {
	if period < 2 {
		return nil, fmt.Errorf("sarima: seasonal period %d < 2", period)
	}
	if n := len(y) - 1 - period; n < minSARIMAObs {
		return nil, fmt.Errorf("sarima: %d differenced observations, need at least %d", max(n, 0), minSARIMAObs)
	}
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("sarima: non-finite observation")
		}
	}

	o := sarimaOrder
	model := sarima.New(o[0], o[1], o[2], o[3], o[4], o[5], period)
	series := &timeseries.Series{Values: append([]float64(nil), y...)}
	if err := guard(func() error { return model.Fit(series) }); err != nil {
		return nil, fmt.Errorf("sarima: fit: %w", err)
	}
	if math.IsNaN(model.AIC) {
		return nil, fmt.Errorf("sarima: no finite likelihood")
	}

	m := &SARIMA{Period: period, Y: append([]float64(nil), y...), fit: model}
	m.meta = ModelMeta{
		Family:         FamilySARIMA,
		Order:          []int{o[0], o[1], o[2]},
		SeasonalOrder:  []int{o[3], o[4], o[5], period},
		SeasonalPeriod: period,
		Observations:   len(y),
	}
	if !math.IsInf(model.AIC, 0) {
		m.meta.AIC = model.AIC
	}
	return m, nil
}

// ForecastInterval returns point forecasts with two-sided intervals at the
// given confidence level.
func (m *SARIMA) ForecastInterval(steps int, confidence float64) (point, lower, upper []float64, err error) {
	if steps <= 0 {
		return nil, nil, nil, nil
	}
	err = guard(func() error {
		var perr error
		point, lower, upper, perr = m.fit.PredictWithInterval(steps, confidence)
		return perr
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sarima: predict: %w", err)
	}
	if len(point) < steps || len(lower) < steps || len(upper) < steps {
		return nil, nil, nil, fmt.Errorf("sarima: predicted %d of %d steps", len(point), steps)
	}
	return point, lower, upper, nil
}

// guard turns a panic inside the estimator into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("estimator panic: %v", r)
		}
	}()
	return fn()
}
