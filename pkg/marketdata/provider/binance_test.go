package provider

import (
	"context"
	"fmt"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/stretchr/testify/suite"
)

// mockBinanceAPIClient implements BinanceAPIClient for testing.
type mockBinanceAPIClient struct {
	// For pagination testing - returns different results on subsequent calls
	callCount     int
	klinesPerCall [][]*binance.Kline
	errorsPerCall []error
	starts        []int64
}

func (m *mockBinanceAPIClient) NewKlinesService() BinanceKlinesService {
	return &mockBinanceKlinesService{client: m}
}

type mockBinanceKlinesService struct {
	client   *mockBinanceAPIClient
	symbol   string
	interval string
	start    int64
	end      int64
}

func (m *mockBinanceKlinesService) Symbol(symbol string) BinanceKlinesService {
	m.symbol = symbol

	return m
}

func (m *mockBinanceKlinesService) Interval(interval string) BinanceKlinesService {
	m.interval = interval

	return m
}

func (m *mockBinanceKlinesService) StartTime(startTime int64) BinanceKlinesService {
	m.start = startTime

	return m
}

func (m *mockBinanceKlinesService) EndTime(endTime int64) BinanceKlinesService {
	m.end = endTime

	return m
}

func (m *mockBinanceKlinesService) Do(_ context.Context) ([]*binance.Kline, error) {
	m.client.starts = append(m.client.starts, m.start)

	idx := m.client.callCount
	m.client.callCount++

	if idx >= len(m.client.klinesPerCall) {
		return nil, nil
	}

	var err error
	if idx < len(m.client.errorsPerCall) {
		err = m.client.errorsPerCall[idx]
	}

	return m.client.klinesPerCall[idx], err
}

func dailyKlines(start time.Time, n int) []*binance.Kline {
	out := make([]*binance.Kline, n)
	for i := range n {
		open := start.AddDate(0, 0, i)
		out[i] = &binance.Kline{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(24*time.Hour - time.Millisecond).UnixMilli(),
			Open:      "100",
			High:      "110",
			Low:       "90",
			Close:     fmt.Sprintf("%d", 100+i),
			Volume:    "12.5",
		}
	}

	return out
}

type BinanceClientTestSuite struct {
	suite.Suite
}

func TestBinanceClientSuite(t *testing.T) {
	suite.Run(t, new(BinanceClientTestSuite))
}

func (suite *BinanceClientTestSuite) TestNewBinanceClient() {
	client, err := NewBinanceClient(Options{})
	suite.NoError(err)

	binanceClient, ok := client.(*BinanceClient)
	suite.True(ok)
	suite.NotNil(binanceClient.apiClient)
	suite.Equal("binance", client.Name())
}

func (suite *BinanceClientTestSuite) TestFetchPaginates() {
	start := types.Date(2020, 1, 1)
	first := dailyKlines(start, binancePageSize)
	second := dailyKlines(start.AddDate(0, 0, binancePageSize), 10)

	mockAPI := &mockBinanceAPIClient{klinesPerCall: [][]*binance.Kline{first, second}}
	client := NewBinanceClientWithAPI(mockAPI)

	bars, err := client.Fetch(context.Background(), Request{Symbol: "BTCUSDT", Start: start, End: start.AddDate(0, 0, 600)})
	suite.Require().NoError(err)
	suite.Len(bars, binancePageSize+10)
	suite.Equal(2, mockAPI.callCount)
	suite.Equal(first[len(first)-1].CloseTime+1, mockAPI.starts[1])
	suite.Equal(start, bars[0].Date)
	suite.Equal(101.0, bars[1].Close)
}

func (suite *BinanceClientTestSuite) TestFetchErrors() {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
	}{
		{name: "rate limit", err: &common.APIError{Code: -1003, Message: "too many requests"}, code: errors.ErrCodeMarketDataTransient},
		{name: "unknown symbol", err: &common.APIError{Code: -1121, Message: "invalid symbol"}, code: errors.ErrCodeDataUnavailable},
		{name: "other api error", err: &common.APIError{Code: -1100, Message: "illegal characters"}, code: errors.ErrCodeMarketDataFetchFailed},
		{name: "network", err: fmt.Errorf("dial tcp: connection refused"), code: errors.ErrCodeMarketDataTransient},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			mockAPI := &mockBinanceAPIClient{
				klinesPerCall: [][]*binance.Kline{nil},
				errorsPerCall: []error{tc.err},
			}

			_, err := NewBinanceClientWithAPI(mockAPI).Fetch(context.Background(),
				Request{Symbol: "BTCUSDT", Start: types.Date(2020, 1, 1), End: types.Date(2020, 1, 31)})
			suite.Equal(tc.code, errors.GetCode(err))
		})
	}
}

func (suite *BinanceClientTestSuite) TestBadNumberIsSchemaError() {
	klines := dailyKlines(types.Date(2020, 1, 1), 1)
	klines[0].Close = "n/a"

	mockAPI := &mockBinanceAPIClient{klinesPerCall: [][]*binance.Kline{klines}}

	_, err := NewBinanceClientWithAPI(mockAPI).Fetch(context.Background(),
		Request{Symbol: "BTCUSDT", Start: types.Date(2020, 1, 1), End: types.Date(2020, 1, 31)})
	suite.True(errors.IsSchemaError(err))
}
