package provider

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

const (
	// DefaultAKToolsURL is the address of a local AKTools server.
	DefaultAKToolsURL = "http://127.0.0.1:8080"
	// DefaultAKToolsDelay keeps the aggregator from throttling us.
	DefaultAKToolsDelay = 10 * time.Second
)

// AKToolsClient reads daily history from the AKTools public API:
//
//	GET {base}/api/public/stock_zh_a_hist?symbol=510300&period=daily&start_date=20200101&end_date=20201231&adjust=qfq
//
// Records use Chinese keys (日期, 开盘, 收盘, 最高, 最低, 成交量).
type AKToolsClient struct {
	client *resty.Client
	pacer  *pacer
	adjust string
}

// NewAKToolsClient creates an AKTools provider. An empty BaseURL uses DefaultAKToolsURL.
func NewAKToolsClient(opts Options) (Provider, error) {
	base := opts.BaseURL
	if base == "" {
		base = DefaultAKToolsURL
	}

	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid aktools url %q", base)
	}

	return &AKToolsClient{
		client: newRestClient(base, opts.Timeout),
		pacer:  newPacer(opts.Delay, opts.Jitter),
		adjust: akAdjust(opts.Adjust),
	}, nil
}

// Name implements Provider.
func (c *AKToolsClient) Name() string {
	return string(ProviderAKTools)
}

// Fetch implements Provider. Exchange suffixes such as ".SH" are stripped.
func (c *AKToolsClient) Fetch(ctx context.Context, req Request) ([]types.Bar, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":     stripExchange(req.Symbol),
			"period":     "daily",
			"start_date": req.Start.Format("20060102"),
			"end_date":   req.End.Format("20060102"),
			"adjust":     c.adjust,
		}).
		Get("/api/public/stock_zh_a_hist")
	if err != nil {
		return nil, classify(ctx, c.Name(), err)
	}

	if err := checkStatus(c.Name(), resp); err != nil {
		return nil, err
	}

	return parseBars(c.Name(), resp.Body(), barFields{
		Date: "日期", Open: "开盘", High: "最高", Low: "最低", Close: "收盘", Volume: "成交量",
	})
}

func akAdjust(adjust string) string {
	switch adjust {
	case "none":
		return ""
	case "back":
		return "hfq"
	default:
		return "qfq"
	}
}

func stripExchange(symbol string) string {
	code, _, _ := strings.Cut(symbol, ".")

	return code
}
