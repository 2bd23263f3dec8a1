package simulator

import (
	"testing"

	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/stretchr/testify/suite"
)

type MetricsTestSuite struct {
	suite.Suite
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsTestSuite))
}

func nav(values ...float64) []types.NavPoint {
	out := make([]types.NavPoint, len(values))
	for i, v := range values {
		out[i] = types.NavPoint{Date: types.Date(2020, 1, 1).AddDate(0, 0, i), Value: v}
	}

	return out
}

func (suite *MetricsTestSuite) TestKnownSeries() {
	m := ComputeMetrics(nav(1, 1.1, 0.99, 1.2), 0)

	suite.Equal(4, m.TradingDays)
	suite.InDelta(0.2, m.TotalReturn, 1e-12)
	suite.InDelta(0.1, m.MaxDrawdown, 1e-12)
	suite.Greater(m.Volatility, 0.0)
	suite.Greater(m.AnnualizedReturn, m.TotalReturn)
	suite.InDelta(m.AnnualizedReturn/m.MaxDrawdown, m.Calmar, 1e-9)
	suite.Greater(m.Sharpe, 0.0)
}

func (suite *MetricsTestSuite) TestFlatSeries() {
	m := ComputeMetrics(nav(1, 1, 1, 1, 1), 0.02)

	suite.Equal(types.Metrics{TradingDays: 5}, m)
}

func (suite *MetricsTestSuite) TestDegenerate() {
	suite.Equal(types.Metrics{}, ComputeMetrics(nil, 0))
	suite.Equal(types.Metrics{TradingDays: 1}, ComputeMetrics(nav(1), 0))
}

func (suite *MetricsTestSuite) TestRiskFreeRateLowersSharpe() {
	values := nav(1, 1.01, 1.0, 1.03, 1.02, 1.05)

	suite.Greater(ComputeMetrics(values, 0).Sharpe, ComputeMetrics(values, 0.05).Sharpe)
	suite.Greater(ComputeMetrics(values, 0).Sortino, ComputeMetrics(values, 0.05).Sortino)
}
