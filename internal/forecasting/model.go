package forecasting

import (
	"encoding/json"
	"time"
)

// Family names the statistical model behind a fitted Model.
type Family string

const (
	FamilySARIMA               Family = "sarima"
	FamilyExponentialSmoothing Family = "exponential_smoothing"
)

// ModelMeta describes what was actually fitted. The fallback can change the
// family, so callers must read it from here rather than assume SARIMA.
type ModelMeta struct {
	Family         Family    `json:"type"`
	Order          []int     `json:"order,omitempty"`
	SeasonalOrder  []int     `json:"seasonal_order,omitempty"`
	Trend          string    `json:"trend,omitempty"`
	Seasonal       string    `json:"seasonal,omitempty"`
	SeasonalPeriod int       `json:"seasonal_periods,omitempty"`
	AIC            float64   `json:"aic,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	Observations   int       `json:"observations"`
	LastObserved   time.Time `json:"last_observed"`
}

// OrderJSON is the model_order column value.
func (m ModelMeta) OrderJSON() string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Model is any fitted forecaster. Capabilities are discovered through the
// interfaces below.
type Model interface {
	Meta() ModelMeta
}

// IntervalForecaster produces point forecasts with native prediction
// intervals at a confidence level such as 0.95.
type IntervalForecaster interface {
	Model
	ForecastInterval(steps int, confidence float64) (point, lower, upper []float64, err error)
}

// PointForecaster produces point forecasts only.
type PointForecaster interface {
	Model
	Forecast(steps int) []float64
}

// ResidualReporter exposes in-sample one-step residuals in time order.
type ResidualReporter interface {
	Residuals() []float64
}

type baseModel struct {
	meta ModelMeta
}

func (b *baseModel) Meta() ModelMeta { return b.meta }

func (b *baseModel) observedUntil(t time.Time) { b.meta.LastObserved = t }
