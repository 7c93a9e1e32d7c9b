package forecasting

import (
	"encoding/json"
	"fmt"
	"math"
)

const envelopeVersion = 1

// envelope is the persisted form of a fitted model. Filter state is not
// stored: Holt-Winters replays its parameters over the training series and
// SARIMA is refitted on it.
type envelope struct {
	Version int       `json:"version"`
	Meta    ModelMeta `json:"meta"`
	Params  []float64 `json:"params"`
	Period  int       `json:"period"`
	Series  []float64 `json:"series"`
}

// EncodeModel serialises a model fitted by this package.
func EncodeModel(m Model) ([]byte, error) {
	env := envelope{Version: envelopeVersion, Meta: m.Meta()}
	switch fm := m.(type) {
	case *SARIMA:
		env.Period = fm.Period
		env.Series = fm.Y
	case *HoltWinters:
		env.Params = []float64{fm.Alpha, fm.Beta, fm.Gamma}
		env.Period = fm.Period
		env.Series = fm.Y
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnsupportedModel)
	}
	return json.Marshal(env)
}

// DecodeModel restores a model written by EncodeModel.
func DecodeModel(b []byte) (Model, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unknown envelope version %d", ErrCorruptModel, env.Version)
	}
	if !finite(env.Series) || !finite(env.Params) {
		return nil, fmt.Errorf("%w: non-finite values", ErrCorruptModel)
	}
	switch env.Meta.Family {
	case FamilySARIMA:
		m, err := fitSARIMA(env.Series, env.Period)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
		}
		m.meta = env.Meta
		return m, nil
	case FamilyExponentialSmoothing:
		if len(env.Params) != 3 || len(env.Series) < 3 || env.Period < 0 ||
			(env.Period > 0 && !useSeason(len(env.Series), env.Period)) {
			return nil, fmt.Errorf("%w: malformed holt-winters envelope", ErrCorruptModel)
		}
		for _, p := range env.Params {
			if p < 0 || p > 1 {
				return nil, fmt.Errorf("%w: smoothing parameter %v outside [0,1]", ErrCorruptModel, p)
			}
		}
		m := newHoltWinters(env.Series, env.Period, env.Params[0], env.Params[1], env.Params[2])
		m.meta = env.Meta
		return m, nil
	}
	return nil, fmt.Errorf("decode model family %q: %w", env.Meta.Family, ErrUnsupportedModel)
}

func finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
