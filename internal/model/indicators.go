package model

import "time"

// DerivedStatistics holds the values computed from one day of prices, all in EUR.
// A nil field means the value could not be derived this cycle.
type DerivedStatistics struct {
	DailyMin         *float64
	DailyMax         *float64
	DailySpread      *float64 // DailyMax - DailyMin
	DailyAverage     *float64
	CurrentHourPrice *float64
	PercentileHigh   *float64 // quantile(1 - X)
	PercentileLow    *float64 // quantile(Y)

	Params     PercentileParameters
	Records    int
	ComputedAt time.Time
	Errors     []error
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Value returns the statistic for a metric.
func (s *DerivedStatistics) Value(m Metric) *float64 {
	if s == nil {
		return nil
	}
	switch m {
	case MetricSpread:
		return s.DailySpread
	case MetricAverage:
		return s.DailyAverage
	case MetricCurrentHour:
		return s.CurrentHourPrice
	case MetricPercentileLow:
		return s.PercentileLow
	case MetricPercentileHigh:
		return s.PercentileHigh
	case MetricDailyMax:
		return s.DailyMax
	case MetricDailyMin:
		return s.DailyMin
	}
	return nil
}
