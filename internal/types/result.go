package types

import (
	"time"
)

// NavPoint is the net asset value of a fund at the close of a trading day.
type NavPoint struct {
	Date  time.Time `yaml:"date" json:"date"`
	Value float64   `yaml:"value" json:"value"`
}

// Metrics summarizes a NAV series.
type Metrics struct {
	// Total return over the window, NAV_end / NAV_start - 1.
	TotalReturn float64 `yaml:"total_return" json:"total_return"`
	// Annualized return using 365.2425 days per year.
	AnnualizedReturn float64 `yaml:"annualized_return" json:"annualized_return"`
	// Maximum peak to trough decline, reported as a positive fraction.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
	// Annualized standard deviation of daily returns.
	Volatility float64 `yaml:"volatility" json:"volatility"`
	// Sharpe ratio over 252 trading days.
	Sharpe float64 `yaml:"sharpe" json:"sharpe"`
	// Sortino ratio over 252 trading days, using downside deviation.
	Sortino float64 `yaml:"sortino" json:"sortino"`
	// Calmar ratio, annualized return over max drawdown.
	Calmar float64 `yaml:"calmar" json:"calmar"`
	// Number of trading days simulated.
	TradingDays int `yaml:"trading_days" json:"trading_days"`
}

// CacheStats counts how the price series of a run were resolved.
type CacheStats struct {
	// Hits were served from a live cache entry.
	Hits int `yaml:"hits" json:"hits"`
	// Misses triggered a fetch by this caller.
	Misses int `yaml:"misses" json:"misses"`
	// Shared waited on a fetch another caller started.
	Shared int `yaml:"shared" json:"shared"`
}

// Add accumulates other into s.
func (s *CacheStats) Add(other CacheStats) {
	s.Hits += other.Hits
	s.Misses += other.Misses
	s.Shared += other.Shared
}

// BacktestResult is the outcome of simulating one fund over one window.
// It is immutable after computation.
type BacktestResult struct {
	// RunID identifies this computation.
	RunID  string         `yaml:"run_id" json:"run_id"`
	FundID string         `yaml:"fund_id" json:"fund_id"`
	Window BacktestWindow `yaml:"window" json:"window"`
	NAV    []NavPoint     `yaml:"nav" json:"nav"`
	// Metrics computed from NAV.
	Metrics Metrics `yaml:"metrics" json:"metrics"`
	// Number of rebalance events, the initial allocation included.
	Rebalances int `yaml:"rebalances" json:"rebalances"`
	// Total transaction costs as a fraction of the starting NAV.
	Costs      float64    `yaml:"costs" json:"costs"`
	CacheStats CacheStats `yaml:"cache_stats" json:"cache_stats"`
}

// Failure records a (fund, window) that could not be simulated.
type Failure struct {
	FundID string         `yaml:"fund_id" json:"fund_id"`
	Window BacktestWindow `yaml:"window" json:"window"`
	// Code is the numeric error code from pkg/errors.
	Code    int    `yaml:"code" json:"code"`
	Message string `yaml:"message" json:"message"`
}
