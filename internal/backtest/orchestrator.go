package backtest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/vfunds/internal/cache"
	"github.com/rxtech-lab/vfunds/internal/logger"
	"github.com/rxtech-lab/vfunds/internal/simulator"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/rxtech-lab/vfunds/pkg/marketdata"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SeriesFetcher loads a price series from a market data source.
// *marketdata.Client implements it.
type SeriesFetcher interface {
	Fetch(ctx context.Context, params marketdata.FetchParams) (types.PriceSeries, error)
}

// Config holds orchestrator settings.
type Config struct {
	// DefaultSource is used for funds that do not name a source.
	DefaultSource string `validate:"required"`
	// NoExpire serves expired cache entries instead of refetching.
	NoExpire bool
	// FetchParallel bounds concurrent series lookups within one run.
	FetchParallel int `validate:"gte=0"`
}

const defaultFetchParallel = 4

// Orchestrator runs one fund over one window: it resolves the price series
// through the cache, simulates, and assembles the result.
type Orchestrator struct {
	cache     *cache.PriceCache
	fetcher   SeriesFetcher
	simulator *simulator.Simulator
	config    Config
	log       *logger.Logger
}

// NewOrchestrator creates an orchestrator. The cache handle is shared with
// every other orchestrator of the process.
func NewOrchestrator(pc *cache.PriceCache, fetcher SeriesFetcher, sim *simulator.Simulator, config Config, log *logger.Logger) (*Orchestrator, error) {
	if pc == nil || fetcher == nil || sim == nil {
		return nil, errors.New(errors.ErrCodeMissingParameter, "orchestrator needs a cache, a fetcher and a simulator")
	}

	if config.DefaultSource == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "orchestrator needs a default source")
	}

	if config.FetchParallel <= 0 {
		config.FetchParallel = defaultFetchParallel
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Orchestrator{
		cache:     pc,
		fetcher:   fetcher,
		simulator: sim,
		config:    config,
		log:       log.Named("backtest"),
	}, nil
}

// FetchKeys returns the cache keys that cover fund over window: one key per
// symbol per calendar year, so overlapping windows share entries.
func FetchKeys(fund types.VirtualFund, window types.BacktestWindow, source string) []cache.Key {
	if fund.Source != "" {
		source = fund.Source
	}

	var keys []cache.Key

	for _, symbol := range fund.Symbols() {
		for year := window.Start.Year(); year <= window.End.Year(); year++ {
			keys = append(keys, cache.Key{
				Source: source,
				Symbol: symbol,
				Start:  types.Date(year, time.January, 1),
				End:    types.Date(year, time.December, 31),
			})
		}
	}

	return keys
}

// Run backtests fund over window. A fund of funds runs its members first.
// Configuration problems return errors for which errors.IsConfigurationError
// holds; missing prices return a *errors.DataGapError.
func (o *Orchestrator) Run(ctx context.Context, fund types.VirtualFund, window types.BacktestWindow) (*types.BacktestResult, error) {
	if err := fund.Validate(); err != nil {
		return nil, err
	}

	if err := window.Validate(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCancelled, "backtest cancelled", err)
	}

	runID := uuid.New().String()
	log := o.log.With(zap.String("run_id", runID), zap.String("fund", fund.ID), zap.String("window", window.Name()))

	if fund.IsFundOfFunds() {
		return o.runFunds(ctx, fund, window, runID, log)
	}

	keys := FetchKeys(fund, window, o.config.DefaultSource)

	chunks, stats, err := o.resolve(ctx, keys)
	if err != nil {
		return nil, err
	}

	seriesBySymbol := make(map[string]types.PriceSeries, len(fund.Holdings))

	for _, symbol := range fund.Symbols() {
		var parts []types.PriceSeries

		for i, key := range keys {
			if key.Symbol == symbol {
				parts = append(parts, chunks[i])
			}
		}

		seriesBySymbol[symbol] = types.Merge(symbol, parts[0].Source, parts...).Slice(window.Start, window.End)
	}

	sim, err := o.simulator.Simulate(fund, seriesBySymbol, window)
	if err != nil {
		log.Debug("simulation failed", zap.Error(err))

		return nil, err
	}

	log.Info("backtest finished",
		zap.Int("days", len(sim.NAV)),
		zap.Float64("total_return", sim.Metrics.TotalReturn),
		zap.Int("cache_hits", stats.Hits),
		zap.Int("cache_misses", stats.Misses),
		zap.Int("cache_shared", stats.Shared))

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

// resolve looks every key up through the cache. The first failure cancels
// the remaining lookups of the run.
func (o *Orchestrator) resolve(ctx context.Context, keys []cache.Key) ([]types.PriceSeries, types.CacheStats, error) {
	chunks := make([]types.PriceSeries, len(keys))
	outcomes := make([]cache.Outcome, len(keys))

	var opts []cache.Option
	if o.config.NoExpire {
		opts = append(opts, cache.WithNoExpire())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.FetchParallel)

	for i, key := range keys {
		g.Go(func() error {
			fetch := func(fctx context.Context) (types.PriceSeries, error) {
				return o.fetcher.Fetch(fctx, marketdata.FetchParams{
					Symbol: key.Symbol,
					Start:  key.Start,
					End:    key.End,
					Source: marketdata.ProviderType(key.Source),
				})
			}

			series, outcome, err := o.cache.GetOrFetch(gctx, key, fetch, opts...)
			if err != nil {
				return unresolved(ctx, key, err)
			}

			chunks[i] = series
			outcomes[i] = outcome

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, types.CacheStats{}, err
	}

	var stats types.CacheStats

	for _, outcome := range outcomes {
		switch outcome {
		case cache.OutcomeHit:
			stats.Hits++
		case cache.OutcomeMiss:
			stats.Misses++
		case cache.OutcomeShared:
			stats.Shared++
		}
	}

	return chunks, stats, nil
}

// unresolved maps a lookup failure to the error of the run. Cancellation of
// the caller and configuration problems pass through; anything else means the
// series is missing.
func unresolved(ctx context.Context, key cache.Key, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(errors.ErrCodeCancelled, "backtest cancelled", ctx.Err())
	}

	if errors.IsConfigurationError(err) || errors.HasCode(err, errors.ErrCodeInvalidProvider) {
		return err
	}

	return errors.NewDataGapError(key.Symbol, key.Start, err)
}
