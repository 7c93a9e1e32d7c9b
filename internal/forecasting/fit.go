package forecasting

import (
	"time"

	"gonum.org/v1/gonum/floats"
)

// FitModel fits SARIMA(1,1,1)(1,1,1,period) on y and falls back to additive
// Holt-Winters when the primary fit fails. lastObserved labels the final
// observation so forecasts can be dated without the training series.
func FitModel(y []float64, period int, lastObserved time.Time) (Model, error) {
	if len(y) == 0 || floats.HasNaN(y) {
		primary := errEmptyOrNaN
		return nil, &ModelFittingError{Primary: primary, Fallback: primary}
	}
	primary, perr := fitSARIMA(y, period)
	if perr == nil {
		primary.observedUntil(lastObserved)
		return primary, nil
	}
	fallback, ferr := fitHoltWinters(y, period)
	if ferr != nil {
		return nil, &ModelFittingError{Primary: perr, Fallback: ferr}
	}
	fallback.meta.FallbackReason = perr.Error()
	fallback.observedUntil(lastObserved)
	return fallback, nil
}
