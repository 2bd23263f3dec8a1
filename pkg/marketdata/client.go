package marketdata

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/vfunds/internal/logger"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/rxtech-lab/vfunds/pkg/marketdata/provider"
	"go.uber.org/zap"
)

// ProviderType re-exports provider.ProviderType for callers of this package.
type ProviderType = provider.ProviderType

const (
	ProviderQMT     = provider.ProviderQMT
	ProviderAKTools = provider.ProviderAKTools
	ProviderPolygon = provider.ProviderPolygon
	ProviderBinance = provider.ProviderBinance
)

// ClientConfig holds the configuration for the market data client.
type ClientConfig struct {
	DefaultSource ProviderType `validate:"required,oneof=qmt aktools polygon binance"`
	QMTURL        string       `validate:"omitempty,url"`
	AKToolsURL    string       `validate:"omitempty,url"`
	PolygonApiKey string       `validate:"required_if=DefaultSource polygon"`
	// Timeout of a single request.
	Timeout time.Duration `validate:"gte=0"`
	// MaxAttempts per fetch, the first attempt included.
	MaxAttempts int `validate:"gte=0,lte=20"`
	// InitialBackoff before the second attempt. Doubles on each retry.
	InitialBackoff time.Duration `validate:"gte=0"`
	// QMTDelay and AKToolsDelay space out requests to each proxy.
	QMTDelay     time.Duration `validate:"gte=0"`
	AKToolsDelay time.Duration `validate:"gte=0"`
	// Adjust selects dividend adjustment: front, back or none.
	Adjust string `validate:"omitempty,oneof=front back none"`
}

// FetchParams holds the parameters for one fetch.
type FetchParams struct {
	Symbol string    `validate:"required"`
	Start  time.Time `validate:"required"`
	End    time.Time `validate:"required,gtefield=Start"`
	// Source overrides the default source.
	Source ProviderType `validate:"omitempty,oneof=qmt aktools polygon binance"`
}

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	akToolsJitter         = 0.33
)

// Client fetches normalized price series from the configured providers.
// It retries transient failures with exponential backoff and holds no cache state.
type Client struct {
	providers      map[ProviderType]provider.Provider
	defaultSource  ProviderType
	validate       *validator.Validate
	maxAttempts    int
	initialBackoff time.Duration
	log            *logger.Logger
}

// NewClient creates a new market data client with the given configuration.
// The polygon provider is only available when an API key is configured.
func NewClient(config ClientConfig, log *logger.Logger) (*Client, error) {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid market data configuration", err)
	}

	var providers []provider.Provider

	qmt, err := provider.NewQMTClient(provider.Options{
		BaseURL: config.QMTURL, Timeout: config.Timeout, Delay: config.QMTDelay, Adjust: config.Adjust,
	})
	if err != nil {
		return nil, err
	}

	providers = append(providers, qmt)

	ak, err := provider.NewAKToolsClient(provider.Options{
		BaseURL: config.AKToolsURL, Timeout: config.Timeout, Delay: config.AKToolsDelay, Jitter: akToolsJitter, Adjust: config.Adjust,
	})
	if err != nil {
		return nil, err
	}

	providers = append(providers, ak)

	if config.PolygonApiKey != "" {
		poly, err := provider.NewPolygonClient(provider.Options{APIKey: config.PolygonApiKey, Adjust: config.Adjust})
		if err != nil {
			return nil, err
		}

		providers = append(providers, poly)
	}

	bn, err := provider.NewBinanceClient(provider.Options{})
	if err != nil {
		return nil, err
	}

	providers = append(providers, bn)

	return NewClientWithProviders(config, log, providers...)
}

// NewClientWithProviders creates a client over explicit providers. Used by tests
// and by callers that bring their own sources.
func NewClientWithProviders(config ClientConfig, log *logger.Logger, providers ...provider.Provider) (*Client, error) {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = defaultMaxAttempts
	}

	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaultInitialBackoff
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	c := &Client{
		providers:      make(map[ProviderType]provider.Provider, len(providers)),
		defaultSource:  config.DefaultSource,
		validate:       validator.New(),
		maxAttempts:    config.MaxAttempts,
		initialBackoff: config.InitialBackoff,
		log:            log.Named("marketdata"),
	}

	for _, p := range providers {
		c.providers[ProviderType(p.Name())] = p
	}

	if _, ok := c.providers[c.defaultSource]; !ok {
		return nil, errors.Newf(errors.ErrCodeInvalidProvider, "default source %q is not available", c.defaultSource)
	}

	return c, nil
}

// DefaultSource returns the source used when FetchParams.Source is empty.
func (c *Client) DefaultSource() ProviderType {
	return c.defaultSource
}

// Fetch returns the daily series for params. Errors carry
// ErrCodeDataUnavailable, ErrCodeMarketDataTransient (after retries) or
// ErrCodeMarketDataParseFailed.
func (c *Client) Fetch(ctx context.Context, params FetchParams) (types.PriceSeries, error) {
	if err := c.validate.Struct(params); err != nil {
		return types.PriceSeries{}, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid fetch parameters", err)
	}

	source := params.Source
	if source == "" {
		source = c.defaultSource
	}

	p, ok := c.providers[source]
	if !ok {
		return types.PriceSeries{}, errors.Newf(errors.ErrCodeInvalidProvider, "source %q is not configured", source)
	}

	req := provider.Request{Symbol: params.Symbol, Start: types.Day(params.Start), End: types.Day(params.End)}

	bars, err := c.fetchWithRetry(ctx, p, req)
	if err != nil {
		return types.PriceSeries{}, err
	}

	series := types.PriceSeries{Symbol: params.Symbol, Source: string(source), Bars: types.Normalize(bars)}
	series = series.Slice(req.Start, req.End)

	if len(series.Bars) == 0 {
		return types.PriceSeries{}, errors.Newf(errors.ErrCodeDataUnavailable, "%s has no data for %s between %s and %s",
			source, params.Symbol, req.Start.Format(time.DateOnly), req.End.Format(time.DateOnly))
	}

	if err := series.Validate(); err != nil {
		return types.PriceSeries{}, err
	}

	return series, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, p provider.Provider, req provider.Request) ([]types.Bar, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialBackoff
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.maxAttempts-1)), ctx) //nolint:gosec // validated

	attempt := 0
	operation := func() ([]types.Bar, error) {
		attempt++

		bars, err := p.Fetch(ctx, req)
		if err == nil {
			return bars, nil
		}

		if errors.IsTransient(err) {
			return nil, err
		}

		return nil, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("transient market data failure, retrying",
			zap.String("source", p.Name()),
			zap.String("symbol", req.Symbol),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	bars, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil {
		if ctx.Err() != nil && !errors.HasCode(err, errors.ErrCodeCancelled) {
			return nil, errors.Wrap(errors.ErrCodeCancelled, "fetch cancelled", ctx.Err())
		}

		if errors.IsTransient(err) {
			return nil, errors.Wrapf(errors.ErrCodeMarketDataTransient, err, "%s %s failed after %d attempts", p.Name(), req.Symbol, attempt)
		}

		return nil, err
	}

	return bars, nil
}
