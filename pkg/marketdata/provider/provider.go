package provider

import (
	"context"
	"time"

	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// ProviderType defines the type of market data provider.
type ProviderType string

const (
	ProviderQMT     ProviderType = "qmt"
	ProviderAKTools ProviderType = "aktools"
	ProviderPolygon ProviderType = "polygon"
	ProviderBinance ProviderType = "binance"
)

// Request asks for daily bars of one symbol between Start and End, both inclusive.
type Request struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

// Provider fetches raw daily bars from one remote source.
// Errors must carry one of these codes so the client can decide whether to retry:
//   - ErrCodeMarketDataTransient: network failures, timeouts, 5xx and rate limits
//   - ErrCodeDataUnavailable: the source has nothing for the symbol or range
//   - ErrCodeMarketDataParseFailed: the response could not be understood
//   - ErrCodeMarketDataFetchFailed: any other rejected request
type Provider interface {
	// Name returns the source name used in cache keys, e.g. "qmt".
	Name() string
	// Fetch returns the bars for the request. Bars need not be sorted.
	// example:
	// Fetch(ctx, Request{Symbol: "510300.SH", Start: types.Date(2020, 1, 1), End: types.Date(2020, 12, 31)})
	Fetch(ctx context.Context, req Request) ([]types.Bar, error)
}

// Options holds the settings shared by all providers.
type Options struct {
	// BaseURL of HTTP proxies (qmt, aktools).
	BaseURL string
	// APIKey for authenticated sources (polygon).
	APIKey string
	// Timeout of a single request.
	Timeout time.Duration
	// Delay is the minimum pause between requests to the same source.
	Delay time.Duration
	// Jitter randomizes Delay by up to this fraction, e.g. 0.33.
	Jitter float64
	// Adjust selects dividend adjustment: "front", "back" or "none".
	Adjust string
}

// NewMarketDataProvider creates a new market data provider based on the provider type.
func NewMarketDataProvider(providerType ProviderType, opts Options) (Provider, error) {
	switch providerType {
	case ProviderQMT:
		return NewQMTClient(opts)
	case ProviderAKTools:
		return NewAKToolsClient(opts)
	case ProviderPolygon:
		return NewPolygonClient(opts)
	case ProviderBinance:
		return NewBinanceClient(opts)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidProvider, "unsupported market data provider: %s", providerType)
	}
}
