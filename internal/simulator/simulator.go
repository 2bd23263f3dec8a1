package simulator

import (
	"math"
	"slices"
	"time"

	"github.com/rxtech-lab/vfunds/internal/logger"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// costPrecision is the number of decimal places fees are rounded to.
const costPrecision = 10

// listingTolerance is how far after the window start a symbol's first close
// may fall. It covers the longest exchange holidays.
const listingTolerance = 14 * 24 * time.Hour

// Config holds simulator settings.
type Config struct {
	// RiskFreeRate is the annual rate used by Sharpe and Sortino.
	RiskFreeRate float64 `validate:"gte=0,lt=1"`
}

// Simulation is the raw output of one fund over one window.
type Simulation struct {
	NAV        []types.NavPoint
	Metrics    types.Metrics
	Rebalances int
	// Costs is the total transaction cost paid, as a fraction of starting NAV.
	Costs float64
}

// Simulator replays a fund's rebalance rules over daily closes.
// It is stateless and safe for concurrent use.
type Simulator struct {
	config Config
	log    *logger.Logger
}

// New creates a simulator.
func New(config Config, log *logger.Logger) *Simulator {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Simulator{config: config, log: log.Named("simulator")}
}

// book is the running portfolio state. units and closes follow holding order.
type book struct {
	units    []float64
	cash     float64
	invested bool
	costs    float64
}

func (b *book) value(closes []float64) float64 {
	v := b.cash
	for i, u := range b.units {
		v += u * closes[i]
	}

	return v
}

// Simulate runs fund over window using seriesBySymbol. NAV starts at 1.0.
// Returns a *errors.DataGapError when a held symbol has no close on a trading
// day or its history starts after the window does.
func (s *Simulator) Simulate(fund types.VirtualFund, seriesBySymbol map[string]types.PriceSeries, window types.BacktestWindow) (*Simulation, error) {
	if err := fund.Validate(); err != nil {
		return nil, err
	}

	if err := window.Validate(); err != nil {
		return nil, err
	}

	policies := make([]Policy, len(fund.Holdings))
	for i := range fund.Holdings {
		p, err := NewPolicy(fund.RuleFor(i))
		if err != nil {
			return nil, errors.Wrapf(errors.GetCode(err), err, "fund %s holding %s", fund.ID, fund.Holdings[i].Symbol)
		}

		policies[i] = p
	}

	series := make([]types.PriceSeries, len(fund.Holdings))
	for i, h := range fund.Holdings {
		ps, ok := seriesBySymbol[h.Symbol]
		if !ok {
			return nil, errors.NewDataGapError(h.Symbol, window.Start, errors.New(errors.ErrCodeDataNotFound, "no price series"))
		}

		series[i] = ps.Slice(window.Start, window.End)
		if err := covers(series[i], h.Symbol, window); err != nil {
			return nil, err
		}
	}

	calendar := tradingCalendar(series, window)
	if len(calendar) == 0 {
		return nil, errors.NewDataGapError(fund.Holdings[0].Symbol, window.Start,
			errors.Newf(errors.ErrCodeNoTradingDays, "fund %s has no trading days in %s", fund.ID, window.Name()))
	}

	closes, err := alignCloses(fund, series, calendar)
	if err != nil {
		return nil, err
	}

	weights := make([]float64, len(fund.Holdings))
	for i, h := range fund.Holdings {
		weights[i] = h.Weight
	}

	b := &book{units: make([]float64, len(fund.Holdings)), cash: 1.0}
	sim := &Simulation{NAV: make([]types.NavPoint, 0, len(calendar))}

	var lastRebalance time.Time

	for d, date := range calendar {
		value := b.value(closes[d])

		switch {
		case fund.Suspended(date):
			if b.invested {
				s.liquidate(b, fund.Costs, closes[d], value)
				lastRebalance = time.Time{}
			}
		case !b.invested || due(policies, date, lastRebalance, drift(b, weights, closes[d], value)):
			s.rebalance(b, fund.Costs, weights, closes[d], value)
			sim.Rebalances++
			lastRebalance = date
		}

		nav := b.value(closes[d])
		if nav <= 0 {
			return nil, errors.Newf(errors.ErrCodeSimulationFailed, "fund %s NAV fell to %g on %s", fund.ID, nav, date.Format(time.DateOnly))
		}

		sim.NAV = append(sim.NAV, types.NavPoint{Date: date, Value: nav})

		// cash through an excluded range, re-enter after it
		if b.invested && window.Exclude != nil && d+1 < len(calendar) &&
			!date.After(window.Exclude.Start) && calendar[d+1].After(window.Exclude.End) {
			s.liquidate(b, fund.Costs, closes[d], nav)
			sim.NAV[len(sim.NAV)-1].Value = b.cash
			lastRebalance = time.Time{}
		}
	}

	sim.Costs = b.costs
	sim.Metrics = ComputeMetrics(sim.NAV, s.config.RiskFreeRate)

	s.log.Debug("simulated fund",
		zap.String("fund", fund.ID),
		zap.String("window", window.Name()),
		zap.Int("days", len(sim.NAV)),
		zap.Int("rebalances", sim.Rebalances),
		zap.Float64("total_return", sim.Metrics.TotalReturn))

	return sim, nil
}

// rebalance restores target weights. Fees are paid out of NAV before sizing.
func (s *Simulator) rebalance(b *book, costs types.CostModel, weights, closes []float64, value float64) {
	traded := make([]float64, len(weights))
	for i, w := range weights {
		traded[i] = math.Abs(value*w - b.units[i]*closes[i])
	}

	fee := tradeCost(costs, traded, value)
	post := value - fee

	invested := 0.0

	for i, w := range weights {
		target := post * w
		b.units[i] = target / closes[i]
		invested += target
	}

	b.cash = post - invested
	b.costs += fee
	b.invested = true
}

func (s *Simulator) liquidate(b *book, costs types.CostModel, closes []float64, value float64) {
	traded := make([]float64, len(b.units))
	for i, u := range b.units {
		traded[i] = u * closes[i]
		b.units[i] = 0
	}

	fee := tradeCost(costs, traded, value)
	b.cash = value - fee
	b.costs += fee
	b.invested = false
}

// tradeCost charges Rate on each traded notional with a per trade floor of
// Minimum times NAV, rounded to costPrecision places.
func tradeCost(costs types.CostModel, traded []float64, value float64) float64 {
	if costs.Rate == 0 && costs.Minimum == 0 {
		return 0
	}

	rate := decimal.NewFromFloat(costs.Rate)
	floor := decimal.NewFromFloat(costs.Minimum).Mul(decimal.NewFromFloat(value))
	total := decimal.Zero

	for _, notional := range traded {
		if notional <= 1e-12 {
			continue
		}

		fee := decimal.NewFromFloat(notional).Mul(rate)
		if fee.LessThan(floor) {
			fee = floor
		}

		total = total.Add(fee)
	}

	return total.Round(costPrecision).InexactFloat64()
}

func due(policies []Policy, date, last time.Time, drift float64) bool {
	for _, p := range policies {
		if p.Due(date, last, drift) {
			return true
		}
	}

	return false
}

// drift is the largest absolute deviation of a holding from its target weight.
func drift(b *book, weights, closes []float64, value float64) float64 {
	if value <= 0 {
		return 0
	}

	worst := 0.0

	for i, w := range weights {
		if d := math.Abs(b.units[i]*closes[i]/value - w); d > worst {
			worst = d
		}
	}

	return worst
}

// covers reports a DataGap at the window start when s has no bars in window
// or its first bar is too late to be explained by a holiday.
func covers(s types.PriceSeries, symbol string, window types.BacktestWindow) error {
	if len(s.Bars) == 0 {
		return errors.NewDataGapError(symbol, window.Start, errors.Newf(errors.ErrCodeDataNotFound, "no prices in %s", window.Name()))
	}

	if first := s.First(); first.Sub(window.Start) > listingTolerance {
		return errors.NewDataGapError(symbol, window.Start, errors.Newf(errors.ErrCodeDataNotFound, "prices start on %s", first.Format(time.DateOnly)))
	}

	return nil
}

// tradingCalendar is the sorted union of bar dates, minus the excluded range.
func tradingCalendar(series []types.PriceSeries, window types.BacktestWindow) []time.Time {
	var dates []time.Time

	for _, s := range series {
		for _, bar := range s.Bars {
			if !window.Excluded(bar.Date) {
				dates = append(dates, bar.Date)
			}
		}
	}

	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	return slices.CompactFunc(dates, func(a, b time.Time) bool { return a.Equal(b) })
}

// alignCloses returns closes[day][holding]. A missing close is a data gap.
func alignCloses(fund types.VirtualFund, series []types.PriceSeries, calendar []time.Time) ([][]float64, error) {
	closes := make([][]float64, len(calendar))
	for d := range closes {
		closes[d] = make([]float64, len(series))
	}

	for i, s := range series {
		j := 0

		for d, date := range calendar {
			for j < len(s.Bars) && s.Bars[j].Date.Before(date) {
				j++
			}

			if j >= len(s.Bars) || !s.Bars[j].Date.Equal(date) {
				return nil, errors.NewDataGapError(fund.Holdings[i].Symbol, date, nil)
			}

			closes[d][i] = s.Bars[j].Close
		}
	}

	return closes, nil
}
