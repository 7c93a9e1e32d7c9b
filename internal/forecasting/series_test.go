package forecasting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacore/m/domain"
)

func day(t *testing.T, s string) domain.Date {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestPrepareSeriesFillsGapsAndClips(t *testing.T) {
	points := []domain.HistoricalDemandPoint{
		{Date: day(t, "2026-01-05"), Quantity: 4},
		{Date: day(t, "2026-01-01"), Quantity: 2},
		{Date: day(t, "2026-01-03"), Quantity: -3},
	}

	s := PrepareSeries(points)

	assert.Equal(t, "2026-01-01", s.Start.String())
	assert.Equal(t, "2026-01-05", s.End().String())
	assert.Equal(t, []float64{2, 0, 0, 0, 4}, s.Values)
	for i, d := range s.Dates() {
		assert.Equal(t, s.Start.AddDays(i), d)
	}
}

func TestPrepareSeriesEmpty(t *testing.T) {
	s := PrepareSeries(nil)
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.End().IsZero())
}

func TestSeriesFlat(t *testing.T) {
	assert.True(t, Series{Values: []float64{5, 5, 5}}.Flat())
	assert.False(t, Series{Values: []float64{5, 6}}.Flat())
}

func TestNetQuantityCountsReturns(t *testing.T) {
	points := []domain.HistoricalDemandPoint{
		{Date: day(t, "2026-02-01"), Quantity: 5},
		{Date: day(t, "2026-02-02"), Quantity: -8},
		{Date: day(t, "2026-02-03"), Quantity: 2},
	}
	assert.Equal(t, -1.0, NetQuantity(points))
	// the prepared series clips the return and would sum to 7
	assert.Equal(t, []float64{5, 0, 2}, PrepareSeries(points).Values)
	assert.Zero(t, NetQuantity(nil))
}

func TestFillWindow(t *testing.T) {
	from, to := day(t, "2026-02-01"), day(t, "2026-02-04")
	out := FillWindow([]domain.HistoricalDemandPoint{
		{Date: day(t, "2026-02-02"), Quantity: 3, Revenue: 30, Cost: 12},
	}, from, to)

	require.Len(t, out, 4)
	assert.Equal(t, "2026-02-01", out[0].Date.String())
	assert.Zero(t, out[0].Quantity)
	assert.Equal(t, 30.0, out[1].Revenue)
	assert.Equal(t, "2026-02-04", out[3].Date.String())
}
