package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"SpotBridge/internal/model"
)

// hourDKLayout is the feed's local wall-clock timestamp format (no offset).
const hourDKLayout = "2006-01-02T15:04:05"

// EnergiDataFetcher implements Fetcher against the Energi Data Service spot price
// dataset and an exchangerate-api style rate table.
type EnergiDataFetcher struct {
	RatesURL  string
	PricesURL string
	APIKey    string
	Client    *http.Client
	Retry     RetryPolicy
	Location  *time.Location // zone HourDK is expressed in
	Log       *zap.SugaredLogger
	Now       func() time.Time
}

// NewEnergiDataFetcher creates a new fetcher with optional proxy support.
func NewEnergiDataFetcher(ratesURL, pricesURL, apiKey, proxyURL string, timeout time.Duration, retry RetryPolicy, log *zap.SugaredLogger) *EnergiDataFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &EnergiDataFetcher{
		RatesURL:  ratesURL,
		PricesURL: pricesURL,
		APIKey:    apiKey,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		Retry:    retry,
		Location: time.Local,
		Log:      log,
		Now:      time.Now,
	}
}

func (f *EnergiDataFetcher) Name() string { return "energidataservice" }

// ratesPayload is the subset of the exchange-rate response the service needs.
type ratesPayload struct {
	Rates map[string]*decimal.Decimal `json:"rates"`
}

// spotRecord is one row of the Elspotprices dataset.
type spotRecord struct {
	HourDK       *string          `json:"HourDK"`
	PriceArea    *string          `json:"PriceArea"`
	SpotPriceDKK *decimal.Decimal `json:"SpotPriceDKK"`
}

type pricesPayload struct {
	Records []spotRecord `json:"records"`
}

// ValidateExchangeRateKey probes the rate endpoint once, without retries.
// It returns ErrUnauthorized when the provider rejects the configured key.
func (f *EnergiDataFetcher) ValidateExchangeRateKey(ctx context.Context) error {
	status, _, err := f.get(ctx, f.RatesURL)
	if err != nil {
		return fmt.Errorf("validate exchange rate key: %w", err)
	}
	if err := classifyStatus(status); err != nil {
		return fmt.Errorf("validate exchange rate key: %w", err)
	}
	return nil
}

// FetchExchangeRate returns the DKK->EUR rate.
func (f *EnergiDataFetcher) FetchExchangeRate(ctx context.Context) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := f.Retry.Do(ctx, f.Log, "fetch exchange rate", func(ctx context.Context) (int, error) {
		status, body, err := f.get(ctx, f.RatesURL)
		if err != nil {
			return status, err
		}
		var p ratesPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return status, fmt.Errorf("%w: decode rates: %v", ErrInvalidPayload, err)
		}
		eur, ok := p.Rates["EUR"]
		if !ok || eur == nil {
			return status, fmt.Errorf("%w: rates.EUR missing", ErrInvalidPayload)
		}
		if !eur.IsPositive() {
			return status, fmt.Errorf("%w: rates.EUR is %s", ErrInvalidPayload, eur)
		}
		rate = *eur
		return status, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return rate, nil
}

// FetchPriceSeries returns the hourly spot prices for the recognized areas.
func (f *EnergiDataFetcher) FetchPriceSeries(ctx context.Context) (*model.PriceSeries, error) {
	var series *model.PriceSeries
	err := f.Retry.Do(ctx, f.Log, "fetch spot prices", func(ctx context.Context) (int, error) {
		status, body, err := f.get(ctx, f.PricesURL)
		if err != nil {
			return status, err
		}
		s, err := f.parsePrices(body)
		if err != nil {
			return status, err
		}
		series = s
		return status, nil
	})
	if err != nil {
		return nil, err
	}
	return series, nil
}

func (f *EnergiDataFetcher) parsePrices(body []byte) (*model.PriceSeries, error) {
	var p pricesPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: decode prices: %v", ErrInvalidPayload, err)
	}
	if p.Records == nil {
		return nil, fmt.Errorf("%w: records missing", ErrInvalidPayload)
	}

	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	records := make([]model.PriceRecord, 0, len(p.Records))
	for i, r := range p.Records {
		if r.HourDK == nil || r.PriceArea == nil {
			return nil, fmt.Errorf("%w: record %d lacks HourDK or PriceArea", ErrInvalidPayload, i)
		}
		area := model.PriceArea(*r.PriceArea)
		if !model.KnownArea(area) {
			continue
		}
		if r.SpotPriceDKK == nil {
			// the feed publishes hours before their price is set
			continue
		}
		hour, err := time.ParseInLocation(hourDKLayout, *r.HourDK, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d HourDK: %v", ErrInvalidPayload, i, err)
		}
		records = append(records, model.PriceRecord{HourDK: hour, Area: area, SpotPriceDKK: *r.SpotPriceDKK})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no priced DK1/DK2 records", ErrInvalidPayload)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].HourDK.Before(records[j].HourDK) })
	return &model.PriceSeries{Records: records, FetchedAt: f.Now()}, nil
}

// get performs one GET. Non-2xx statuses are returned as classified errors.
func (f *EnergiDataFetcher) get(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return resp.StatusCode, body, err
	}
	return resp.StatusCode, body, nil
}
