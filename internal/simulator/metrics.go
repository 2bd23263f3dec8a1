package simulator

import (
	"math"

	"github.com/rxtech-lab/vfunds/internal/types"
)

const (
	daysPerYear      = 365.2425
	tradeDaysPerYear = 252.0
)

// ComputeMetrics summarizes a NAV series. Ratios that are undefined for the
// series (flat NAV, a single point) are reported as zero.
func ComputeMetrics(nav []types.NavPoint, riskFreeRate float64) types.Metrics {
	metrics := types.Metrics{TradingDays: len(nav)}
	if len(nav) == 0 {
		return metrics
	}

	first, last := nav[0], nav[len(nav)-1]
	if first.Value > 0 {
		metrics.TotalReturn = last.Value/first.Value - 1
	}

	days := last.Date.Sub(first.Date).Hours() / 24
	if first.Value > 0 && last.Value > 0 && days > 0 {
		metrics.AnnualizedReturn = math.Pow(last.Value/first.Value, daysPerYear/days) - 1
	}

	metrics.MaxDrawdown = maxDrawdown(nav)

	returns := dailyReturns(nav)
	if len(returns) > 0 {
		mean := average(returns)
		std := stddev(returns, mean)
		annualReturn := math.Pow(1+mean, tradeDaysPerYear) - 1

		metrics.Volatility = std * math.Sqrt(tradeDaysPerYear)
		if std > 0 {
			metrics.Sharpe = (annualReturn - riskFreeRate) / metrics.Volatility
		}

		var downside []float64

		for _, r := range returns {
			if r < mean {
				downside = append(downside, r)
			}
		}

		if len(downside) > 1 {
			if dstd := stddev(downside, average(downside)); dstd > 0 {
				metrics.Sortino = (annualReturn - riskFreeRate) / (dstd * math.Sqrt(tradeDaysPerYear))
			}
		}
	}

	if metrics.MaxDrawdown > 0 {
		metrics.Calmar = metrics.AnnualizedReturn / metrics.MaxDrawdown
	}

	return sanitize(metrics)
}

func maxDrawdown(nav []types.NavPoint) float64 {
	peak, worst := 0.0, 0.0

	for _, p := range nav {
		if p.Value > peak {
			peak = p.Value
		}

		if peak > 0 {
			if dd := (peak - p.Value) / peak; dd > worst {
				worst = dd
			}
		}
	}

	return worst
}

func dailyReturns(nav []types.NavPoint) []float64 {
	if len(nav) < 2 {
		return nil
	}

	out := make([]float64, 0, len(nav)-1)

	for i := 1; i < len(nav); i++ {
		if prev := nav[i-1].Value; prev > 0 {
			out = append(out, nav[i].Value/prev-1)
		}
	}

	return out
}

func average(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64, mean float64) float64 {
	variance := 0.0

	for _, v := range values {
		d := v - mean
		variance += d * d
	}

	return math.Sqrt(variance / float64(len(values)))
}

func sanitize(m types.Metrics) types.Metrics {
	for _, f := range []*float64{
		&m.TotalReturn, &m.AnnualizedReturn, &m.MaxDrawdown, &m.Volatility,
		&m.Sharpe, &m.Sortino, &m.Calmar,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}

	return m
}
