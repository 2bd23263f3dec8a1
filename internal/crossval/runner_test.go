package crossval

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/stretchr/testify/suite"
)

// fakeBacktester finishes jobs after a pseudo random delay so completion order
// differs from dispatch order.
type fakeBacktester struct {
	fail func(fund types.VirtualFund, window types.BacktestWindow) error

	mu          sync.Mutex
	calls       int
	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func (f *fakeBacktester) Run(ctx context.Context, fund types.VirtualFund, window types.BacktestWindow) (*types.BacktestResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)

	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(fund.ID + window.Name()))

	select {
	case <-time.After(time.Duration(h.Sum32()%5) * time.Millisecond):
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeCancelled, "cancelled", ctx.Err())
	}

	if f.fail != nil {
		if err := f.fail(fund, window); err != nil {
			return nil, err
		}
	}

	return &types.BacktestResult{
		FundID: fund.ID,
		Window: window,
		Metrics: types.Metrics{
			AnnualizedReturn: float64(len(fund.ID)) / 100,
			Sharpe:           float64(window.Start.Month()),
			MaxDrawdown:      0.1,
		},
	}, nil
}

func (f *fakeBacktester) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type RunnerTestSuite struct {
	suite.Suite
	global   types.DateRange
	strategy Strategy
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (suite *RunnerTestSuite) SetupTest() {
	suite.global = types.DateRange{Start: types.Date(2015, 1, 1), End: types.Date(2020, 12, 31)}
	suite.strategy = Strategy{Kind: StrategyRolling, Length: 365, Stride: 90}
}

func simpleFund(id string) types.VirtualFund {
	return types.VirtualFund{ID: id, Holdings: []types.Holding{{Symbol: "A", Weight: 1}}}
}

func (suite *RunnerTestSuite) runner(b Backtester, parallel int) *Runner {
	r, err := NewRunner(b, Config{Parallel: parallel}, nil)
	suite.Require().NoError(err)

	return r
}

func (suite *RunnerTestSuite) TestOrderIsDeterministic() {
	b := &fakeBacktester{}
	funds := []types.VirtualFund{simpleFund("c"), simpleFund("a"), simpleFund("b")}

	seq, err := suite.runner(b, 8).RunAll(context.Background(), funds, suite.global, suite.strategy)
	suite.Require().NoError(err)

	outcomes := slices.Collect(seq)
	windows := slices.Collect(suite.strategy.Windows(suite.global))
	suite.Require().Len(outcomes, 3*len(windows))

	for i, o := range outcomes {
		suite.Equal(i, o.Seq)
		suite.NoError(o.Err)
		suite.Equal(windows[i/3], o.Window)
		suite.Equal([]string{"a", "b", "c"}[i%3], o.FundID)
		suite.Equal(o.FundID, o.Result.FundID)
	}

	suite.LessOrEqual(b.maxInflight.Load(), int64(8))

	// ranging again reruns every job and reproduces the sequence
	again := slices.Collect(seq)
	suite.Equal(outcomes, again)
	suite.Equal(2*len(outcomes), b.Calls())
}

func (suite *RunnerTestSuite) TestParallelIsBounded() {
	b := &fakeBacktester{}
	funds := []types.VirtualFund{simpleFund("a"), simpleFund("b"), simpleFund("c"), simpleFund("d")}

	seq, err := suite.runner(b, 2).RunAll(context.Background(), funds, suite.global, suite.strategy)
	suite.Require().NoError(err)

	for range seq {
	}

	suite.LessOrEqual(b.maxInflight.Load(), int64(2))
}

func (suite *RunnerTestSuite) TestFailuresAreScoped() {
	b := &fakeBacktester{fail: func(fund types.VirtualFund, window types.BacktestWindow) error {
		if fund.ID == "b" && window.Start.Year() == 2015 {
			return errors.NewDataGapError("A", window.Start, nil)
		}

		return nil
	}}

	seq, err := suite.runner(b, 4).RunAll(context.Background(),
		[]types.VirtualFund{simpleFund("a"), simpleFund("b")}, suite.global, suite.strategy)
	suite.Require().NoError(err)

	report := Collect(seq)
	suite.NoError(report.Err)
	suite.Require().NotEmpty(report.Failures)

	for _, f := range report.Failures {
		suite.Equal("b", f.FundID)
		suite.Equal(2015, f.Window.Start.Year())
		suite.Equal(int(errors.ErrCodeDataGap), f.Code)
		suite.Contains(f.Message, "data gap for A")
	}

	windows := len(slices.Collect(suite.strategy.Windows(suite.global)))
	suite.Len(report.Results, 2*windows-len(report.Failures))

	suite.Require().Len(report.Summaries, 2)
	for _, s := range report.Summaries {
		if s.FundID == "b" {
			suite.Equal(len(report.Failures), s.Failures)
		}
	}
}

func (suite *RunnerTestSuite) TestConfigurationErrorStopsDispatch() {
	b := &fakeBacktester{fail: func(types.VirtualFund, types.BacktestWindow) error {
		return errors.New(errors.ErrCodeInvalidFrequency, "bad frequency")
	}}

	seq, err := suite.runner(b, 1).RunAll(context.Background(),
		[]types.VirtualFund{simpleFund("a"), simpleFund("b")}, suite.global, suite.strategy)
	suite.Require().NoError(err)

	report := Collect(seq)
	suite.Require().Len(report.Failures, 1)
	suite.Empty(report.Results)
	suite.True(errors.HasCode(report.Err, errors.ErrCodeInvalidFrequency))
	suite.Equal(1, b.Calls())
}

func (suite *RunnerTestSuite) TestEarlyBreak() {
	b := &fakeBacktester{}

	seq, err := suite.runner(b, 4).RunAll(context.Background(),
		[]types.VirtualFund{simpleFund("a"), simpleFund("b")}, suite.global, suite.strategy)
	suite.Require().NoError(err)

	taken := 0

	for o := range seq {
		suite.NoError(o.Err)

		taken++
		if taken == 3 {
			break
		}
	}

	suite.Equal(3, taken)
	suite.Less(b.Calls(), 2*len(slices.Collect(suite.strategy.Windows(suite.global))))
}

func (suite *RunnerTestSuite) TestCancellation() {
	b := &fakeBacktester{}
	ctx, cancel := context.WithCancel(context.Background())

	seq, err := suite.runner(b, 2).RunAll(ctx,
		[]types.VirtualFund{simpleFund("a"), simpleFund("b")}, suite.global, suite.strategy)
	suite.Require().NoError(err)

	count := 0

	for range seq {
		count++
		if count == 2 {
			cancel()
		}
	}

	suite.Less(count, 2*len(slices.Collect(suite.strategy.Windows(suite.global))))
}

func (suite *RunnerTestSuite) TestInceptionFilter() {
	late := simpleFund("late")
	late.Inception = types.Date(2018, 1, 1)

	baseline := simpleFund("baseline")
	baseline.Inception = types.Date(2018, 1, 1)
	baseline.Permanent = true

	strategy := Strategy{Kind: StrategyRolling, Length: 365}

	var pairs []string

	for fund, window := range Jobs([]types.VirtualFund{late, baseline}, suite.global, strategy) {
		pairs = append(pairs, fund.ID+"@"+window.Start.Format(time.DateOnly))
	}

	suite.Contains(pairs, "baseline@2015-01-01")
	suite.NotContains(pairs, "late@2015-01-01")
	suite.NotContains(pairs, "late@2017-12-31")
	suite.Contains(pairs, "late@2018-12-31")
}

func (suite *RunnerTestSuite) TestRunAllValidation() {
	r := suite.runner(&fakeBacktester{}, 1)
	ctx := context.Background()

	_, err := r.RunAll(ctx, nil, suite.global, suite.strategy)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNoFunds))

	_, err = r.RunAll(ctx, []types.VirtualFund{simpleFund("a"), simpleFund("a")}, suite.global, suite.strategy)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidFund))

	_, err = r.RunAll(ctx, []types.VirtualFund{{ID: "empty"}}, suite.global, suite.strategy)
	suite.True(errors.IsConfigurationError(err))

	_, err = r.RunAll(ctx, []types.VirtualFund{simpleFund("a")}, suite.global, Strategy{Kind: StrategyLeaveOneOut})
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidStrategy))

	future := simpleFund("future")
	future.Inception = types.Date(2030, 1, 1)
	_, err = r.RunAll(ctx, []types.VirtualFund{future}, suite.global, suite.strategy)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNoWindows))

	_, err = NewRunner(&fakeBacktester{}, Config{Parallel: -1}, nil)
	suite.True(errors.IsConfigurationError(err))
}
