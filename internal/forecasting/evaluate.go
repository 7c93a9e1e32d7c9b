package forecasting

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

const accuracyEpsilon = 1e-6

// TrainSize is the number of leading points used for the holdout fit.
func TrainSize(n int) int {
	train := max(int(float64(n)*0.8), n-14)
	if train >= 1 && train <= n-1 {
		return train
	}
	return max(1, n-7)
}

// Accuracy holds holdout metrics.
type Accuracy struct {
	MAE        float64 `json:"mae"`
	RMSE       float64 `json:"rmse"`
	Percentage float64 `json:"accuracy"`
}

// Evaluate scores predicted against actual. full is the whole series and only
// contributes its mean to the normaliser. An empty holdout scores 100.
func Evaluate(actual, predicted, full []float64) Accuracy {
	if len(actual) == 0 {
		return Accuracy{Percentage: 100}
	}
	var absSum, sqSum float64
	for i, a := range actual {
		d := a - predicted[i]
		absSum += math.Abs(d)
		sqSum += d * d
	}
	mae := absSum / float64(len(actual))
	rmse := math.Sqrt(sqSum / float64(len(actual)))

	normalizer := math.Max(stat.Mean(actual, nil), accuracyEpsilon)
	if len(full) > 0 {
		normalizer = math.Max(normalizer, stat.Mean(full, nil))
	}
	pct := 100 - mae/normalizer*100
	return Accuracy{MAE: mae, RMSE: rmse, Percentage: clamp(pct, 0, 100)}
}

// Rounded applies the persisted precision: two places for the percentage, four
// for the error metrics.
func (a Accuracy) Rounded() Accuracy {
	return Accuracy{
		MAE:        round(a.MAE, 4),
		RMSE:       round(a.RMSE, 4),
		Percentage: round(a.Percentage, 2),
	}
}

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
