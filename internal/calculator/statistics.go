package calculator

import (
	"fmt"
	"time"

	"SpotBridge/internal/model"
)

// ComputeStatistics derives the day's statistics from a price series.
// It never fails: values that cannot be derived are left nil and the reason
// is appended to Errors.
func ComputeStatistics(series *model.PriceSeries, params model.PercentileParameters, now time.Time) *model.DerivedStatistics {
	stats := &model.DerivedStatistics{Params: params, ComputedAt: now}
	if series == nil {
		stats.Errors = append(stats.Errors, errNoPrices)
		return stats
	}

	day := series.Day(now)
	stats.Records = len(day.Records)

	// Parameter problems are reported even when there is nothing to compute on.
	if !model.ValidFraction(params.X) {
		stats.Errors = append(stats.Errors, fmt.Errorf("percentile x %v outside [0,1]", params.X))
	}
	if !model.ValidFraction(params.Y) {
		stats.Errors = append(stats.Errors, fmt.Errorf("percentile y %v outside [0,1]", params.Y))
	}

	if !day.HasRate() {
		stats.Errors = append(stats.Errors, fmt.Errorf("no conversion rate, EUR statistics unavailable"))
		return stats
	}
	if len(day.Records) == 0 {
		stats.Errors = append(stats.Errors, fmt.Errorf("no prices for %s", now.Format("2006-01-02")))
		return stats
	}

	prices := make([]float64, len(day.Records))
	for i := range day.Records {
		prices[i], _ = day.EUR(i)
	}

	if low, high, err := CalculateDailyRange(prices); err == nil {
		stats.DailyMin = model.Float(low)
		stats.DailyMax = model.Float(high)
		stats.DailySpread = model.Float(high - low)
	}
	if avg, err := CalculateDailyAverage(prices); err == nil {
		stats.DailyAverage = model.Float(avg)
	}

	if p, ok := currentHourPrice(day, now); ok {
		stats.CurrentHourPrice = model.Float(p)
	}

	if model.ValidFraction(params.X) {
		if v, err := CalculateHighPercentile(prices, params.X); err == nil {
			stats.PercentileHigh = model.Float(v)
		}
	}
	if model.ValidFraction(params.Y) {
		if v, err := CalculateLowPercentile(prices, params.Y); err == nil {
			stats.PercentileLow = model.Float(v)
		}
	}
	return stats
}

// currentHourPrice picks the DK1 record for the wall-clock hour of now.
func currentHourPrice(day *model.PriceSeries, now time.Time) (float64, bool) {
	for i, r := range day.Records {
		if r.Area == model.AreaDK1 && r.HourDK.Hour() == now.Hour() {
			return day.EUR(i)
		}
	}
	return 0, false
}

// Registers projects the statistics onto the register layout. Every register in
// the map gets an entry; unavailable statistics carry a nil value.
func Registers(stats *model.DerivedStatistics, regs model.RegisterMap) model.RegisterValues {
	out := make(model.RegisterValues, 0, len(regs))
	for metric, reg := range regs {
		var v *float64
		if p := stats.Value(metric); p != nil {
			v = model.Float(*p)
		}
		out = append(out, model.RegisterValue{Metric: metric, Register: reg, Value: v})
	}
	return out.Sorted()
}
