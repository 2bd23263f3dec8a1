package provider

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// PolygonClient reads daily aggregates from polygon.io.
type PolygonClient struct {
	apiClient PolygonAPIClient
	pacer     *pacer
	adjust    bool
}

// NewPolygonClient creates a polygon provider. The API key is required.
func NewPolygonClient(opts Options) (Provider, error) {
	if opts.APIKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "polygon api key is required")
	}

	return &PolygonClient{
		apiClient: &polygonAPIAdapter{client: polygon.New(opts.APIKey)},
		pacer:     newPacer(opts.Delay, opts.Jitter),
		adjust:    opts.Adjust != "none",
	}, nil
}

// NewPolygonClientWithAPI creates a polygon provider over an existing API client.
func NewPolygonClientWithAPI(apiClient PolygonAPIClient) *PolygonClient {
	return &PolygonClient{apiClient: apiClient, adjust: true}
}

// Name implements Provider.
func (c *PolygonClient) Name() string {
	return string(ProviderPolygon)
}

// Fetch implements Provider.
func (c *PolygonClient) Fetch(ctx context.Context, req Request) ([]types.Bar, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     req.Symbol,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(req.Start),
		To:         models.Millis(req.End.Add(24*time.Hour - time.Millisecond)),
	}.WithAdjusted(c.adjust).WithLimit(50000)

	iter := c.apiClient.ListAggs(ctx, params)

	var bars []types.Bar

	for iter.Next() {
		agg := iter.Item()
		bars = append(bars, types.Bar{
			Date:   types.Day(time.Time(agg.Timestamp)),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: agg.Volume,
		})
	}

	if err := iter.Err(); err != nil {
		return nil, classifyPolygon(ctx, err)
	}

	return bars, nil
}

func classifyPolygon(ctx context.Context, err error) error {
	var apiErr *models.ErrorResponse
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return errors.Wrap(errors.ErrCodeDataUnavailable, "polygon has no aggregates", err)
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return errors.Wrap(errors.ErrCodeMarketDataTransient, "polygon request failed", err)
		default:
			return errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "polygon rejected the request", err)
		}
	}

	return classify(ctx, string(ProviderPolygon), err)
}
