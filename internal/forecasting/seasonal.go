package forecasting

// InferSeasonalPeriod picks the seasonal cycle length for a series of n days.
func InferSeasonalPeriod(n int) int {
	switch {
	case n >= 365:
		return 365
	case n >= 180:
		return 90
	case n >= 90:
		return 30
	case n >= 60:
		return 14
	case n >= 14:
		return 7
	}
	half := n / 2
	if half == 0 {
		half = 1
	}
	return max(2, min(7, half))
}
