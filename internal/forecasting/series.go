package forecasting

import "pharmacore/m/domain"

// Series is a gap-free daily quantity sequence starting at Start.
type Series struct {
	Start  domain.Date
	Values []float64
}

func (s Series) Len() int { return len(s.Values) }

// End is the last observed day. It is the zero Date for an empty series.
func (s Series) End() domain.Date {
	if len(s.Values) == 0 {
		return domain.Date{}
	}
	return s.Start.AddDays(len(s.Values) - 1)
}

// Dates lists every day covered by the series.
func (s Series) Dates() []domain.Date {
	out := make([]domain.Date, len(s.Values))
	for i := range s.Values {
		out[i] = s.Start.AddDays(i)
	}
	return out
}

// NetQuantity sums the raw quantities before any clipping, so returns
// recorded as negative days offset sales.
func NetQuantity(points []domain.HistoricalDemandPoint) float64 {
	var total float64
	for _, p := range points {
		total += p.Quantity
	}
	return total
}

// Flat reports whether every value is identical.
func (s Series) Flat() bool {
	for _, v := range s.Values {
		if v != s.Values[0] {
			return false
		}
	}
	return true
}

// PrepareSeries reindexes sparse daily points onto every day between the first
// and last observation, zero-filling gaps and clipping negatives to zero.
func PrepareSeries(points []domain.HistoricalDemandPoint) Series {
	if len(points) == 0 {
		return Series{}
	}
	byDay := make(map[string]float64, len(points))
	first, last := points[0].Date, points[0].Date
	for _, p := range points {
		byDay[p.Date.String()] += p.Quantity
		if p.Date.Before(first.Time) {
			first = p.Date
		}
		if p.Date.After(last.Time) {
			last = p.Date
		}
	}
	first, last = domain.NewDate(first.Time), domain.NewDate(last.Time)
	n := int(last.Sub(first.Time).Hours()/24) + 1
	values := make([]float64, n)
	for i := range values {
		if v := byDay[first.AddDays(i).String()]; v > 0 {
			values[i] = v
		}
	}
	return Series{Start: first, Values: values}
}

// FillWindow returns one point per day in [from, to], using zeros for days
// without sales.
func FillWindow(points []domain.HistoricalDemandPoint, from, to domain.Date) []domain.HistoricalDemandPoint {
	byDay := make(map[string]domain.HistoricalDemandPoint, len(points))
	for _, p := range points {
		byDay[p.Date.String()] = p
	}
	var out []domain.HistoricalDemandPoint
	for d := from; !d.After(to.Time); d = d.AddDays(1) {
		p, ok := byDay[d.String()]
		if !ok {
			p = domain.HistoricalDemandPoint{Date: d}
		}
		out = append(out, p)
	}
	return out
}
