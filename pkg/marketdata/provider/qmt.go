package provider

import (
	"context"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// DefaultQMTURL is the address of the local broker feed proxy.
const DefaultQMTURL = "http://192.168.0.222:9000"

// QMTClient reads daily klines from the QMT proxy:
//
//	GET {base}/stock_kline/{symbol}?period=1d&dividend_type=front&start_time=20200101&end_time=20201231
type QMTClient struct {
	client *resty.Client
	pacer  *pacer
	adjust string
}

// NewQMTClient creates a QMT provider. An empty BaseURL uses DefaultQMTURL.
func NewQMTClient(opts Options) (Provider, error) {
	base := opts.BaseURL
	if base == "" {
		base = DefaultQMTURL
	}

	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid qmt url %q", base)
	}

	return &QMTClient{
		client: newRestClient(base, opts.Timeout),
		pacer:  newPacer(opts.Delay, opts.Jitter),
		adjust: qmtDividendType(opts.Adjust),
	}, nil
}

// Name implements Provider.
func (c *QMTClient) Name() string {
	return string(ProviderQMT)
}

// Fetch implements Provider.
func (c *QMTClient) Fetch(ctx context.Context, req Request) ([]types.Bar, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("symbol", req.Symbol).
		SetQueryParams(map[string]string{
			"period":        "1d",
			"dividend_type": c.adjust,
			"start_time":    req.Start.Format("20060102"),
			"end_time":      req.End.Format("20060102"),
		}).
		Get("/stock_kline/{symbol}")
	if err != nil {
		return nil, classify(ctx, c.Name(), err)
	}

	if err := checkStatus(c.Name(), resp); err != nil {
		return nil, err
	}

	return parseBars(c.Name(), resp.Body(), barFields{
		Date: "date", Open: "open", High: "high", Low: "low", Close: "close", Volume: "volume",
	})
}

func qmtDividendType(adjust string) string {
	switch adjust {
	case "none":
		return "none"
	case "back":
		return "back"
	default:
		return "front"
	}
}
