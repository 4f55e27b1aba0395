package collector

import (
	"context"

	"github.com/shopspring/decimal"

	"SpotBridge/internal/model"
)

// Fetcher defines the interface for fetching the upstream feeds.
type Fetcher interface {
	FetchExchangeRate(ctx context.Context) (decimal.Decimal, error)
	FetchPriceSeries(ctx context.Context) (*model.PriceSeries, error)
	Name() string
}
