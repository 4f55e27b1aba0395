package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"SpotBridge/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	mu         sync.Mutex
	Rate       decimal.Decimal
	RateErr    error
	Series     *model.PriceSeries
	SeriesErr  error
	RateCalls  int
	PriceCalls int
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchExchangeRate(_ context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RateCalls++
	return m.Rate, m.RateErr
}

func (m *MockFetcher) FetchPriceSeries(_ context.Context) (*model.PriceSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PriceCalls++
	if m.SeriesErr != nil {
		return nil, m.SeriesErr
	}
	if m.Series == nil {
		return nil, fmt.Errorf("%w: no records", ErrInvalidPayload)
	}
	out := *m.Series
	out.Records = append([]model.PriceRecord(nil), m.Series.Records...)
	return &out, nil
}

// GenerateMockSeries builds a 24-hour DK1/DK2 series for day with a simple price ramp.
func GenerateMockSeries(day time.Time, basePrice float64) *model.PriceSeries {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	s := &model.PriceSeries{FetchedAt: day}
	for h := 0; h < 24; h++ {
		p := basePrice * (1 + float64(h-12)*0.02)
		s.Records = append(s.Records,
			model.PriceRecord{HourDK: start.Add(time.Duration(h) * time.Hour), Area: model.AreaDK1, SpotPriceDKK: decimal.NewFromFloat(p)},
			model.PriceRecord{HourDK: start.Add(time.Duration(h) * time.Hour), Area: model.AreaDK2, SpotPriceDKK: decimal.NewFromFloat(p * 1.1)},
		)
	}
	return s
}

// Collector orchestrates one acquisition: spot prices plus the conversion rate.
type Collector struct {
	Fetcher Fetcher
	Log     *zap.SugaredLogger
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, log *zap.SugaredLogger) *Collector {
	return &Collector{Fetcher: fetcher, Log: log}
}

// Collect fetches both feeds concurrently. A missing rate degrades the series
// (EUR values become unavailable); a missing series fails the acquisition.
func (c *Collector) Collect(ctx context.Context) (*model.PriceSeries, error) {
	var (
		rate    decimal.Decimal
		rateErr error
		series  *model.PriceSeries
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rate, rateErr = c.Fetcher.FetchExchangeRate(gctx)
		return nil
	})
	g.Go(func() error {
		var err error
		series, err = c.Fetcher.FetchPriceSeries(gctx)
		if err != nil {
			return fmt.Errorf("fetch price series: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(series.Records) == 0 {
		return nil, fmt.Errorf("fetch price series: %w: empty series", ErrInvalidPayload)
	}

	if rateErr != nil {
		c.Log.Warnw("exchange rate unavailable, EUR statistics will be absent", "source", c.Fetcher.Name(), "error", rateErr)
		return series, nil
	}
	c.Log.Infow("collected spot prices", "source", c.Fetcher.Name(), "records", len(series.Records), "rate", rate.String())
	return series.WithRate(rate), nil
}
