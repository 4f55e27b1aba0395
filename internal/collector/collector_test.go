package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpotBridge/internal/logging"
	"SpotBridge/internal/model"
)

func scenarioSeries() *model.PriceSeries {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &model.PriceSeries{Records: []model.PriceRecord{
		{HourDK: at, Area: model.AreaDK1, SpotPriceDKK: decimal.NewFromInt(100)},
		{HourDK: at, Area: model.AreaDK2, SpotPriceDKK: decimal.NewFromInt(120)},
	}}
}

func TestCollect_AppliesRate(t *testing.T) {
	m := &MockFetcher{Rate: decimal.RequireFromString("0.134"), Series: scenarioSeries()}
	series, err := NewCollector(m, logging.Nop()).Collect(context.Background())
	require.NoError(t, err)
	require.True(t, series.HasRate())

	eur, ok := series.EUR(0)
	require.True(t, ok)
	assert.InDelta(t, 13.4, eur, 1e-9)
	eur, _ = series.EUR(1)
	assert.InDelta(t, 16.08, eur, 1e-9)
	assert.Equal(t, 1, m.RateCalls)
	assert.Equal(t, 1, m.PriceCalls)
}

func TestCollect_RateFailureDegrades(t *testing.T) {
	m := &MockFetcher{RateErr: &FetchError{Op: "fetch exchange rate", Attempts: 3, Err: ErrRateLimited}, Series: scenarioSeries()}
	series, err := NewCollector(m, logging.Nop()).Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, series.HasRate())
	_, ok := series.EUR(0)
	assert.False(t, ok)
}

func TestCollect_SeriesFailureFails(t *testing.T) {
	m := &MockFetcher{Rate: decimal.NewFromFloat(0.134), SeriesErr: errors.New("down")}
	_, err := NewCollector(m, logging.Nop()).Collect(context.Background())
	assert.Error(t, err)
}

func TestCollect_EmptySeriesFails(t *testing.T) {
	m := &MockFetcher{Rate: decimal.NewFromFloat(0.134), Series: &model.PriceSeries{}}
	_, err := NewCollector(m, logging.Nop()).Collect(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestGenerateMockSeries(t *testing.T) {
	day := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	s := GenerateMockSeries(day, 500)
	assert.Len(t, s.Records, 48)
	assert.Len(t, s.Day(day).Records, 48)
	assert.Empty(t, s.Day(day.AddDate(0, 0, 1)).Records)
}
