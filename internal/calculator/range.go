package calculator

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"SpotBridge/internal/model"
)

var errNoPrices = errors.New("no EUR prices provided")

// CalculateDailyRange returns the lowest and highest price of the day.
func CalculateDailyRange(prices []float64) (low, high float64, err error) {
	if len(prices) == 0 {
		return 0, 0, errNoPrices
	}
	return floats.Min(prices), floats.Max(prices), nil
}

// CalculateDailyAverage returns the arithmetic mean of the day's prices.
func CalculateDailyAverage(prices []float64) (float64, error) {
	if len(prices) == 0 {
		return 0, errNoPrices
	}
	return stat.Mean(prices, nil), nil
}

// CalculateQuantile returns the p-quantile of prices, interpolating linearly
// between the order statistics at rank (n-1)*p. prices need not be sorted.
func CalculateQuantile(prices []float64, p float64) (float64, error) {
	if len(prices) == 0 {
		return 0, errNoPrices
	}
	if !model.ValidFraction(p) {
		return 0, fmt.Errorf("quantile %v outside [0,1]", p)
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1], nil
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo]), nil
}

// CalculateHighPercentile is the threshold above which the top x fraction of prices lies,
// i.e. quantile(1 - x). x = 0 yields the daily maximum, x = 1 the minimum.
func CalculateHighPercentile(prices []float64, x float64) (float64, error) {
	if !model.ValidFraction(x) {
		return 0, fmt.Errorf("percentile x %v outside [0,1]", x)
	}
	return CalculateQuantile(prices, 1-x)
}

// CalculateLowPercentile is quantile(y).
func CalculateLowPercentile(prices []float64, y float64) (float64, error) {
	if !model.ValidFraction(y) {
		return 0, fmt.Errorf("percentile y %v outside [0,1]", y)
	}
	return CalculateQuantile(prices, y)
}
