package backtest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/vfunds/internal/backtest"
	"github.com/rxtech-lab/vfunds/internal/cache"
	"github.com/rxtech-lab/vfunds/internal/simulator"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/mocks"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/rxtech-lab/vfunds/pkg/marketdata"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type OrchestratorTestSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	fetcher *mocks.MockSeriesFetcher
	cache   *cache.PriceCache
	now     time.Time
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (suite *OrchestratorTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.fetcher = mocks.NewMockSeriesFetcher(suite.ctrl)
	suite.now = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	c, err := cache.New(cache.NewMemoryStore(), cache.Config{TTL: time.Hour}, nil)
	suite.Require().NoError(err)

	suite.cache = c.WithClock(func() time.Time { return suite.now })
}

func (suite *OrchestratorTestSuite) TearDownTest() {
	suite.ctrl.Finish()
}

func (suite *OrchestratorTestSuite) orchestrator(noExpire bool) *backtest.Orchestrator {
	o, err := backtest.NewOrchestrator(suite.cache, suite.fetcher, simulator.New(simulator.Config{}, nil),
		backtest.Config{DefaultSource: "qmt", NoExpire: noExpire}, nil)
	suite.Require().NoError(err)

	return o
}

// flatFetch serves a flat price of 10 for any symbol except the missing ones.
func flatFetch(missing ...string) func(context.Context, marketdata.FetchParams) (types.PriceSeries, error) {
	return func(_ context.Context, p marketdata.FetchParams) (types.PriceSeries, error) {
		for _, m := range missing {
			if p.Symbol == m {
				return types.PriceSeries{}, errors.Newf(errors.ErrCodeDataUnavailable, "no data for %s", m)
			}
		}

		series := mocks.Flat(p.Symbol, p.Start, p.End, 10)
		series.Source = string(p.Source)

		return series, nil
	}
}

func balanced() types.VirtualFund {
	return types.VirtualFund{
		ID: "F",
		Holdings: []types.Holding{
			{Symbol: "A", Weight: 0.5},
			{Symbol: "B", Weight: 0.5},
		},
		Rebalance: types.RebalanceRule{Kind: types.RebalanceCalendar, Frequency: "quarterly"},
	}
}

func (suite *OrchestratorTestSuite) TestFetchKeys() {
	window := types.NewWindow(types.Date(2019, 6, 1), types.Date(2020, 3, 31))

	keys := backtest.FetchKeys(balanced(), window, "qmt")
	suite.Require().Len(keys, 4)
	suite.Equal(cache.Key{Source: "qmt", Symbol: "A", Start: types.Date(2019, 1, 1), End: types.Date(2019, 12, 31)}, keys[0])
	suite.Equal(cache.Key{Source: "qmt", Symbol: "A", Start: types.Date(2020, 1, 1), End: types.Date(2020, 12, 31)}, keys[1])
	suite.Equal("B", keys[2].Symbol)

	f := balanced()
	f.Source = "polygon"
	suite.Equal("polygon", backtest.FetchKeys(f, window, "qmt")[0].Source)
}

func (suite *OrchestratorTestSuite) TestFlatScenario() {
	suite.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(flatFetch()).Times(2)

	o := suite.orchestrator(false)
	window := types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 12, 31))

	result, err := o.Run(context.Background(), balanced(), window)
	suite.Require().NoError(err)
	suite.Equal("F", result.FundID)
	suite.Equal(window, result.Window)
	suite.NotEmpty(result.NAV)

	_, err = uuid.Parse(result.RunID)
	suite.NoError(err)

	for _, p := range result.NAV {
		suite.InDelta(1.0, p.Value, 1e-12)
	}

	suite.Equal(types.CacheStats{Misses: 2}, result.CacheStats)
	suite.Equal(4, result.Rebalances)

	again, err := o.Run(context.Background(), balanced(), window)
	suite.Require().NoError(err)
	suite.Equal(types.CacheStats{Hits: 2}, again.CacheStats)
	suite.Equal(result.NAV, again.NAV)
	suite.NotEqual(result.RunID, again.RunID)
}

func (suite *OrchestratorTestSuite) TestOverlappingWindowsShareEntries() {
	suite.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(flatFetch()).Times(2)

	o := suite.orchestrator(false)

	first, err := o.Run(context.Background(), balanced(), types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 6, 30)))
	suite.Require().NoError(err)
	suite.Equal(2, first.CacheStats.Misses)

	second, err := o.Run(context.Background(), balanced(), types.NewWindow(types.Date(2020, 4, 1), types.Date(2020, 12, 31)))
	suite.Require().NoError(err)
	suite.Equal(2, second.CacheStats.Hits)
	suite.Equal(types.Date(2020, 4, 1), second.NAV[0].Date)
}

func (suite *OrchestratorTestSuite) TestNoExpire() {
	suite.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(flatFetch()).Times(2)

	window := types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 3, 31))
	_, err := suite.orchestrator(false).Run(context.Background(), balanced(), window)
	suite.Require().NoError(err)

	suite.now = suite.now.Add(48 * time.Hour)

	result, err := suite.orchestrator(true).Run(context.Background(), balanced(), window)
	suite.Require().NoError(err)
	suite.Equal(types.CacheStats{Hits: 2}, result.CacheStats)
}

func (suite *OrchestratorTestSuite) TestMissingSymbolIsDataGap() {
	suite.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(flatFetch("B")).AnyTimes()

	_, err := suite.orchestrator(false).Run(context.Background(), balanced(),
		types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 12, 31)))
	suite.Require().Error(err)
	suite.True(errors.IsDataGap(err))

	var gap *errors.DataGapError
	suite.Require().True(errors.As(err, &gap))
	suite.Equal("B", gap.Symbol)
	suite.True(errors.IsDataUnavailable(gap.Cause))
	suite.False(errors.IsConfigurationError(err))
}

func (suite *OrchestratorTestSuite) TestLateListingIsDataGap() {
	listed := types.Date(2020, 6, 1)
	suite.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p marketdata.FetchParams) (types.PriceSeries, error) {
			start := p.Start
			if p.Symbol == "B" && start.Before(listed) {
				start = listed
			}

			return mocks.Flat(p.Symbol, start, p.End, 10), nil
		}).Times(2)

	o := suite.orchestrator(false)

	for _, window := range []types.BacktestWindow{
		types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 3, 31)),
		types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 12, 31)),
	} {
		_, err := o.Run(context.Background(), balanced(), window)
		suite.Require().Error(err, window.Name())

		var gap *errors.DataGapError
		suite.Require().True(errors.As(err, &gap), "%v", err)
		suite.Equal("B", gap.Symbol)
		suite.Equal(window.Start, gap.Date)
	}

	result, err := o.Run(context.Background(), balanced(), types.NewWindow(listed, types.Date(2020, 12, 31)))
	suite.Require().NoError(err)
	suite.Equal(listed, result.NAV[0].Date)
}

func fundOfFunds() types.VirtualFund {
	a := &types.VirtualFund{ID: "a", Holdings: []types.Holding{{Symbol: "A", Weight: 1}}}
	b := &types.VirtualFund{ID: "b", Holdings: []types.Holding{{Symbol: "B", Weight: 1}}}

	return types.VirtualFund{
		ID: "core",
		Funds: []types.Member{
			{Fund: "a", Weight: 1, Definition: a},
			{Fund: "b", Weight: 1, Definition: b},
		},
		Rebalance: types.RebalanceRule{Kind: types.RebalanceCalendar, Frequency: "yearly"},
	}
}

func (suite *OrchestratorTestSuite) TestFundOfFunds() {
	suite.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p marketdata.FetchParams) (types.PriceSeries, error) {
			if p.Symbol == "A" {
				return mocks.Linear("A", p.Start, p.End, 1.0, 0.01), nil
			}

			return mocks.Flat(p.Symbol, p.Start, p.End, 10), nil
		}).Times(2)

	o := suite.orchestrator(false)
	window := types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 12, 31))
	fof := fundOfFunds()

	result, err := o.Run(context.Background(), fof, window)
	suite.Require().NoError(err)
	suite.Equal("core", result.FundID)
	suite.Equal(types.CacheStats{Misses: 2}, result.CacheStats)
	suite.Equal(1, result.Rebalances)

	member, err := o.Run(context.Background(), *fof.Funds[0].Definition, window)
	suite.Require().NoError(err)
	suite.Require().Len(result.NAV, len(member.NAV))

	// yearly: bought 50/50 once and held
	last := len(result.NAV) - 1
	suite.Equal(member.NAV[last].Date, result.NAV[last].Date)
	suite.InDelta(0.5*member.NAV[last].Value+0.5, result.NAV[last].Value, 1e-9)
}

func (suite *OrchestratorTestSuite) TestFundOfFundsMemberGap() {
	suite.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(flatFetch("B")).AnyTimes()

	_, err := suite.orchestrator(false).Run(context.Background(), fundOfFunds(),
		types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 12, 31)))
	suite.Require().Error(err)

	var gap *errors.DataGapError
	suite.Require().True(errors.As(err, &gap), "%v", err)
	suite.Equal("B", gap.Symbol)
}

func (suite *OrchestratorTestSuite) TestInvalidInputsAreConfigurationErrors() {
	o := suite.orchestrator(false)
	window := types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 12, 31))

	f := balanced()
	f.Holdings[1].Weight = 0.7

	_, err := o.Run(context.Background(), f, window)
	suite.True(errors.IsConfigurationError(err))

	_, err = o.Run(context.Background(), balanced(), types.NewWindow(window.End, window.Start))
	suite.True(errors.IsConfigurationError(err))
}

func (suite *OrchestratorTestSuite) TestCancelled() {
	suite.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(flatFetch()).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := suite.orchestrator(false).Run(ctx, balanced(), types.NewWindow(types.Date(2020, 1, 1), types.Date(2020, 12, 31)))
	suite.True(errors.HasCode(err, errors.ErrCodeCancelled), "%v", err)
}

func (suite *OrchestratorTestSuite) TestNewOrchestratorValidation() {
	sim := simulator.New(simulator.Config{}, nil)

	_, err := backtest.NewOrchestrator(nil, suite.fetcher, sim, backtest.Config{DefaultSource: "qmt"}, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeMissingParameter))

	_, err = backtest.NewOrchestrator(suite.cache, suite.fetcher, sim, backtest.Config{}, nil)
	suite.True(errors.IsConfigurationError(err))
}
