package backtest

import (
	"context"
	"slices"
	"time"

	"github.com/rxtech-lab/vfunds/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// memberSource tags the NAV series of member funds.
const memberSource = "fund"

// runFunds backtests every member of a fund of funds over window, then
// simulates the fund over the member NAV series with its own rebalance rule.
func (o *Orchestrator) runFunds(ctx context.Context, fund types.VirtualFund, window types.BacktestWindow, runID string, log *zap.Logger) (*types.BacktestResult, error) {
	members := make([]*types.BacktestResult, len(fund.Funds))

	g, gctx := errgroup.WithContext(ctx)

	for i, m := range fund.Funds {
		g.Go(func() error {
			res, err := o.Run(gctx, *m.Definition, window)
			if err != nil {
				return err
			}

			members[i] = res

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Debug("member backtest failed", zap.Error(err))

		return nil, err
	}

	var stats types.CacheStats

	navs := make([][]types.NavPoint, len(members))
	for i, res := range members {
		navs[i] = res.NAV
		stats.Hits += res.CacheStats.Hits
		stats.Misses += res.CacheStats.Misses
		stats.Shared += res.CacheStats.Shared
	}

	seriesBySymbol := make(map[string]types.PriceSeries, len(members))
	for i, s := range memberSeries(navs) {
		s.Symbol = fund.Funds[i].Fund
		seriesBySymbol[s.Symbol] = s
	}

	synthetic := fund
	synthetic.Funds = nil
	synthetic.Holdings = fund.MemberHoldings()

	sim, err := o.simulator.Simulate(synthetic, seriesBySymbol, window)
	if err != nil {
		log.Debug("simulation failed", zap.Error(err))

		return nil, err
	}

	log.Info("fund of funds backtest finished",
		zap.Int("members", len(members)),
		zap.Int("days", len(sim.NAV)),
		zap.Float64("total_return", sim.Metrics.TotalReturn))

	return &types.BacktestResult{
		RunID:      runID,
		FundID:     fund.ID,
		Window:     window,
		NAV:        sim.NAV,
		Metrics:    sim.Metrics,
		Rebalances: sim.Rebalances,
		Costs:      sim.Costs,
		CacheStats: stats,
	}, nil
}

// memberSeries turns member NAVs into price series over their common
// calendar. A member without a NAV on a calendar day keeps its last value;
// days before its first NAV stay empty.
func memberSeries(navs [][]types.NavPoint) []types.PriceSeries {
	var calendar []time.Time
	for _, nav := range navs {
		for _, p := range nav {
			calendar = append(calendar, p.Date)
		}
	}

	slices.SortFunc(calendar, time.Time.Compare)
	calendar = slices.CompactFunc(calendar, time.Time.Equal)

	out := make([]types.PriceSeries, len(navs))

	for i, nav := range navs {
		s := types.PriceSeries{Source: memberSource, Bars: make([]types.Bar, 0, len(calendar))}

		j := 0
		last := 0.0

		for _, date := range calendar {
			for j < len(nav) && !nav[j].Date.After(date) {
				last = nav[j].Value
				j++
			}

			if j == 0 {
				continue
			}

			s.Bars = append(s.Bars, types.Bar{Date: date, Open: last, High: last, Low: last, Close: last})
		}

		out[i] = s
	}

	return out
}
