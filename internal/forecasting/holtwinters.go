package forecasting

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// penalty stands in for a non-finite objective so the simplex can move away.
const penalty = 1e300

// HoltWinters is additive exponential smoothing with an additive trend and an
// optional additive seasonal component (Period == 0 means no season).
type HoltWinters struct {
	baseModel
	Alpha, Beta, Gamma float64
	Period             int
	Y                  []float64

	level, trend float64
	season       []float64
	resid        []float64
}

// useSeason reports whether a seasonal component can be estimated: the period
// must be at least 4 and the series must hold two full cycles.
func useSeason(n, period int) bool {
	return period >= 4 && n >= 2*period
}

func fitHoltWinters(y []float64, period int) (*HoltWinters, error) {
	if !useSeason(len(y), period) {
		period = 0
	}
	if len(y) < 3 {
		return nil, fmt.Errorf("holt-winters: %d observations, need at least 3", len(y))
	}

	dim := 2
	x0 := []float64{logit(0.3), logit(0.1)}
	if period > 0 {
		dim = 3
		x0 = append(x0, logit(0.1))
	}
	objective := func(x []float64) float64 {
		a, b, g := sigmoid(x[0]), sigmoid(x[1]), 0.0
		if dim == 3 {
			g = sigmoid(x[2])
		}
		sse := smoothingSSE(y, period, a, b, g)
		if math.IsNaN(sse) || math.IsInf(sse, 0) {
			return penalty
		}
		return sse
	}
	res, err := optimize.Minimize(
		optimize.Problem{Func: objective},
		x0,
		&optimize.Settings{FuncEvaluations: 2000},
		&optimize.NelderMead{},
	)
	if res == nil {
		return nil, fmt.Errorf("holt-winters: optimisation: %w", err)
	}
	if res.F >= penalty || math.IsNaN(res.F) {
		return nil, fmt.Errorf("holt-winters: no finite fit found (status %v)", res.Status)
	}
	gamma := 0.0
	if dim == 3 {
		gamma = sigmoid(res.X[2])
	}
	return newHoltWinters(y, period, sigmoid(res.X[0]), sigmoid(res.X[1]), gamma), nil
}

// newHoltWinters replays the smoothing recursions over y.
func newHoltWinters(y []float64, period int, alpha, beta, gamma float64) *HoltWinters {
	m := &HoltWinters{
		Alpha: alpha, Beta: beta, Gamma: gamma,
		Period: period,
		Y:      append([]float64(nil), y...),
	}
	m.level, m.trend, m.season, m.resid = smooth(m.Y, period, alpha, beta, gamma)
	m.meta = ModelMeta{
		Family:       FamilyExponentialSmoothing,
		Trend:        "add",
		Observations: len(y),
	}
	if period > 0 {
		m.meta.Seasonal = "add"
		m.meta.SeasonalPeriod = period
	}
	return m
}

func (m *HoltWinters) Forecast(steps int) []float64 {
	out := make([]float64, max(steps, 0))
	n := len(m.Y)
	for h := 1; h <= steps; h++ {
		v := m.level + float64(h)*m.trend
		if m.Period > 0 {
			v += m.season[(n-1+h)%m.Period]
		}
		out[h-1] = v
	}
	return out
}

func (m *HoltWinters) Residuals() []float64 { return m.resid }

func smoothingSSE(y []float64, period int, alpha, beta, gamma float64) float64 {
	_, _, _, resid := smooth(y, period, alpha, beta, gamma)
	var sse float64
	for _, e := range resid {
		sse += e * e
	}
	return sse
}

// smooth runs the additive recursions and returns the final level, trend,
// seasonal factors indexed by t mod period, and one-step residuals.
func smooth(y []float64, period int, alpha, beta, gamma float64) (level, trend float64, season, resid []float64) {
	if period == 0 {
		level, trend = y[0], y[1]-y[0]
		resid = make([]float64, 0, len(y)-1)
		for t := 1; t < len(y); t++ {
			resid = append(resid, y[t]-(level+trend))
			prev := level
			level = alpha*y[t] + (1-alpha)*(level+trend)
			trend = beta*(level-prev) + (1-beta)*trend
		}
		return level, trend, nil, resid
	}

	p := period
	first := stat.Mean(y[:p], nil)
	second := stat.Mean(y[p:2*p], nil)
	trend = (second - first) / float64(p)
	center := float64(p-1) / 2
	level = first - (center+1)*trend
	season = make([]float64, p)
	for i := 0; i < p; i++ {
		season[i] = y[i] - (first + (float64(i)-center)*trend)
	}

	resid = make([]float64, 0, len(y))
	for t := range y {
		s := season[t%p]
		resid = append(resid, y[t]-(level+trend+s))
		prevLevel, prevTrend := level, trend
		level = alpha*(y[t]-s) + (1-alpha)*(prevLevel+prevTrend)
		trend = beta*(level-prevLevel) + (1-beta)*prevTrend
		season[t%p] = gamma*(y[t]-prevLevel-prevTrend) + (1-gamma)*s
	}
	return level, trend, season, resid
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }
