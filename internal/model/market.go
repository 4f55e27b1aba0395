package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceArea is a bidding zone of the day-ahead market.
type PriceArea string

const (
	AreaDK1 PriceArea = "DK1"
	AreaDK2 PriceArea = "DK2"
)

// KnownArea reports whether a is one of the zones the service tracks.
func KnownArea(a PriceArea) bool {
	return a == AreaDK1 || a == AreaDK2
}

// PriceRecord is one hourly spot price as delivered by the feed.
type PriceRecord struct {
	HourDK       time.Time
	Area         PriceArea
	SpotPriceDKK decimal.Decimal
}

// PriceSeries holds the records of one acquisition cycle.
// Rate is nil when no conversion rate could be obtained.
type PriceSeries struct {
	Records   []PriceRecord
	Rate      *decimal.Decimal
	FetchedAt time.Time
}

// HasRate reports whether EUR prices can be derived.
func (s *PriceSeries) HasRate() bool {
	return s != nil && s.Rate != nil
}

// WithRate returns a copy of the series carrying the given DKK->EUR rate.
func (s *PriceSeries) WithRate(rate decimal.Decimal) *PriceSeries {
	out := *s
	out.Rate = &rate
	return &out
}

// EUR returns the converted price of record i, or false without a rate.
func (s *PriceSeries) EUR(i int) (float64, bool) {
	if !s.HasRate() {
		return 0, false
	}
	return s.Records[i].SpotPriceDKK.Mul(*s.Rate).InexactFloat64(), true
}

// Day returns a series restricted to the calendar day of t (in the records' own location).
func (s *PriceSeries) Day(t time.Time) *PriceSeries {
	y, m, d := t.Date()
	out := &PriceSeries{Rate: s.Rate, FetchedAt: s.FetchedAt}
	for _, r := range s.Records {
		ry, rm, rd := r.HourDK.Date()
		if ry == y && rm == m && rd == d {
			out.Records = append(out.Records, r)
		}
	}
	return out
}

// PercentileParameters are the operator's band thresholds.
// X is the "keep the top X fraction" threshold, Y the low quantile.
type PercentileParameters struct {
	X float64
	Y float64
}

// DefaultPercentiles is used when neither the operator nor the cache supplies values.
var DefaultPercentiles = PercentileParameters{X: 0.66, Y: 0.33}

// ValidFraction reports whether v is a usable quantile in [0,1].
func ValidFraction(v float64) bool {
	return v >= 0 && v <= 1 // NaN fails both comparisons
}

// Validate checks both thresholds.
func (p PercentileParameters) Validate() error {
	if !ValidFraction(p.X) {
		return fmt.Errorf("percentile x %v outside [0,1]", p.X)
	}
	if !ValidFraction(p.Y) {
		return fmt.Errorf("percentile y %v outside [0,1]", p.Y)
	}
	return nil
}
