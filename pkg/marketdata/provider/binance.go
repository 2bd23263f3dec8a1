package provider

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// binancePageSize is the number of klines Binance returns per request by default.
const binancePageSize = 500

// BinanceClient reads daily spot klines from Binance. Bars are stamped with
// the kline open time in UTC.
type BinanceClient struct {
	apiClient BinanceAPIClient
	pacer     *pacer
}

// NewBinanceClient creates a Binance provider. No credentials are needed for klines.
func NewBinanceClient(opts Options) (Provider, error) {
	client := binance.NewClient("", "")
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}

	return &BinanceClient{
		apiClient: &binanceAPIAdapter{client: client},
		pacer:     newPacer(opts.Delay, opts.Jitter),
	}, nil
}

// NewBinanceClientWithAPI creates a Binance provider over an existing API client.
func NewBinanceClientWithAPI(apiClient BinanceAPIClient) *BinanceClient {
	return &BinanceClient{apiClient: apiClient}
}

// Name implements Provider.
func (c *BinanceClient) Name() string {
	return string(ProviderBinance)
}

// Fetch implements Provider. Pages through the range 500 klines at a time.
func (c *BinanceClient) Fetch(ctx context.Context, req Request) ([]types.Bar, error) {
	start := req.Start.UnixMilli()
	end := req.End.Add(24*time.Hour - time.Millisecond).UnixMilli()

	var bars []types.Bar

	for start <= end {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		klines, err := c.apiClient.NewKlinesService().
			Symbol(req.Symbol).
			Interval("1d").
			StartTime(start).
			EndTime(end).
			Do(ctx)
		if err != nil {
			return nil, classifyBinance(ctx, err)
		}

		for _, k := range klines {
			bar, err := klineToBar(k)
			if err != nil {
				return nil, err
			}

			bars = append(bars, bar)
		}

		if len(klines) < binancePageSize {
			break
		}

		// close time of the last kline + 1ms avoids duplicates
		start = klines[len(klines)-1].CloseTime + 1
	}

	return bars, nil
}

func klineToBar(k *binance.Kline) (types.Bar, error) {
	values := make([]float64, 5)

	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Bar{}, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "binance kline at %d has a bad number %q", k.OpenTime, s)
		}

		values[i] = v
	}

	return types.Bar{
		Date:   types.Day(time.UnixMilli(k.OpenTime).UTC()),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

func classifyBinance(ctx context.Context, err error) error {
	var apiErr *common.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1001, -1007:
			// too many requests, disconnected, timeout
			return errors.Wrap(errors.ErrCodeMarketDataTransient, "binance request failed", err)
		case -1121:
			return errors.Wrap(errors.ErrCodeDataUnavailable, "binance does not list the symbol", err)
		default:
			return errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "binance rejected the request", err)
		}
	}

	return classify(ctx, string(ProviderBinance), err)
}
