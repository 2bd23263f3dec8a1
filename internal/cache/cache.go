// Package cache stores price series by content address with a TTL and
// deduplicates concurrent fetches of the same key.
package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/vfunds/internal/logger"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultSchemaVersion is the layout version of cached series payloads.
// Entries written under another major version are treated as stale.
const DefaultSchemaVersion = "1.0.0"

// Outcome tells how GetOrFetch resolved a key.
type Outcome int

const (
	// OutcomeHit was served from a live entry.
	OutcomeHit Outcome = iota
	// OutcomeMiss ran the fetch function.
	OutcomeMiss
	// OutcomeShared waited on a fetch started by another caller.
	OutcomeShared
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeMiss:
		return "miss"
	case OutcomeShared:
		return "shared"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FetchFunc produces the series for a key on a miss.
type FetchFunc func(ctx context.Context) (types.PriceSeries, error)

// Config controls expiry and fetch behaviour of a PriceCache.
type Config struct {
	// TTL of new entries. Ignored when ExpireAtClose is set.
	TTL time.Duration `validate:"gte=0"`
	// ExpireAtClose expires entries at the next weekday 15:00 China Standard Time.
	ExpireAtClose bool
	// NoExpire serves entries regardless of age. Can also be set per call.
	NoExpire bool
	// Only serves from the cache and never fetches.
	Only bool
	// SchemaVersion of payloads, as semver.
	SchemaVersion string `validate:"required"`
	// FetchTimeout bounds a single shared fetch. Zero means no bound.
	FetchTimeout time.Duration `validate:"gte=0"`
}

// Stats are the running counters of a PriceCache.
type Stats struct {
	Hits        int64
	Misses      int64
	Shared      int64
	Corruptions int64
}

type callOptions struct {
	noExpire bool
	ttl      time.Duration
}

// Option adjusts a single GetOrFetch call.
type Option func(*callOptions)

// WithNoExpire serves an existing entry no matter how old it is.
func WithNoExpire() Option {
	return func(o *callOptions) { o.noExpire = true }
}

// WithTTL overrides the TTL written with a freshly fetched entry.
func WithTTL(ttl time.Duration) Option {
	return func(o *callOptions) { o.ttl = ttl }
}

type flight struct {
	series  types.PriceSeries
	outcome Outcome
}

// waiters counts the callers of one in-flight key. The shared fetch runs
// under ctx, which is cancelled when the last caller leaves.
type waiters struct {
	n      int
	ctx    context.Context
	cancel context.CancelFunc
}

// PriceCache is the shared cache of price series. It is safe for
// concurrent use and is passed explicitly to the components that need it.
type PriceCache struct {
	store      Store
	cfg        Config
	schema     *semver.Version
	schemaLine string
	group      singleflight.Group
	mu         sync.Mutex
	inflight   map[string]*waiters
	now        func() time.Time
	log        *logger.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	shared      atomic.Int64
	corruptions atomic.Int64
}

var marketClose = time.FixedZone("CST", 8*60*60)

// New creates a PriceCache over store.
func New(store Store, cfg Config, log *logger.Logger) (*PriceCache, error) {
	if store == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "cache store is required")
	}

	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = DefaultSchemaVersion
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid cache configuration", err)
	}

	schema, err := semver.NewVersion(cfg.SchemaVersion)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid cache schema version %q", cfg.SchemaVersion)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &PriceCache{
		store:      store,
		cfg:        cfg,
		schema:     schema,
		schemaLine: fmt.Sprintf("v%d", schema.Major()),
		inflight:   make(map[string]*waiters),
		now:        time.Now,
		log:        log.Named("cache"),
	}, nil
}

// WithClock replaces the time source. Used by tests.
func (c *PriceCache) WithClock(now func() time.Time) *PriceCache {
	c.now = now

	return c
}

// GetOrFetch returns the series for key. A live entry is returned without
// calling fetch. Otherwise exactly one caller per key runs fetch while the
// others wait for its result; each waiter may give up through its own ctx
// without cancelling the shared fetch. The fetch is cancelled once every
// waiter has given up. Failures are not cached.
func (c *PriceCache) GetOrFetch(ctx context.Context, key Key, fetch FetchFunc, opts ...Option) (types.PriceSeries, Outcome, error) {
	o := c.callOptions(opts)
	id := key.ID(c.schemaLine)

	if series, ok := c.lookup(ctx, id, key, o); ok {
		c.hits.Add(1)

		return series, OutcomeHit, nil
	}

	if c.cfg.Only {
		return types.PriceSeries{}, OutcomeMiss, errors.Newf(errors.ErrCodeDataUnavailable,
			"%s is not cached and cache-only mode is on", key)
	}

	flightCtx := c.join(ctx, id)
	defer c.leave(id)

	leader := false
	ch := c.group.DoChan(id, func() (any, error) {
		leader = true

		// a flight that finished between our lookup and now may have written the entry
		fctx := flightCtx
		if series, ok := c.lookup(fctx, id, key, o); ok {
			return flight{series: series, outcome: OutcomeHit}, nil
		}

		if c.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.cfg.FetchTimeout)
			defer cancel()
		}

		c.log.Debug("fetching", zap.String("key", key.String()))

		series, err := fetch(fctx)
		if err != nil {
			return nil, err
		}

		c.persist(fctx, id, key, series, o)

		return flight{series: series, outcome: OutcomeMiss}, nil
	})

	select {
	case <-ctx.Done():
		return types.PriceSeries{}, OutcomeShared, errors.Wrapf(errors.ErrCodeCancelled, ctx.Err(), "gave up waiting for %s", key)
	case res := <-ch:
		if res.Err != nil {
			return types.PriceSeries{}, OutcomeMiss, res.Err
		}

		f, _ := res.Val.(flight)

		outcome := f.outcome
		if !leader {
			outcome = OutcomeShared
		}

		switch outcome {
		case OutcomeHit:
			c.hits.Add(1)
		case OutcomeMiss:
			c.misses.Add(1)
		case OutcomeShared:
			c.shared.Add(1)
		}

		series := f.series
		series.Bars = slices.Clone(series.Bars)

		return series, outcome, nil
	}
}

// join registers a caller of the flight for id and returns the context the
// shared fetch runs under. It keeps the values of the first caller's ctx.
func (c *PriceCache) join(ctx context.Context, id string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.inflight[id]
	if !ok {
		w = &waiters{}
		w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
		c.inflight[id] = w
	}

	w.n++

	return w.ctx
}

// leave unregisters a caller. The last one out cancels the shared fetch and
// lets later callers start a fresh flight.
func (c *PriceCache) leave(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.inflight[id]

	w.n--
	if w.n > 0 {
		return
	}

	w.cancel()
	delete(c.inflight, id)
	c.group.Forget(id)
}

// Invalidate removes the entry for key.
func (c *PriceCache) Invalidate(ctx context.Context, key Key) error {
	return c.store.Delete(ctx, key.ID(c.schemaLine))
}

// Stats returns a snapshot of the counters.
func (c *PriceCache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Shared:      c.shared.Load(),
		Corruptions: c.corruptions.Load(),
	}
}

// Close closes the underlying store.
func (c *PriceCache) Close() error {
	return c.store.Close()
}

func (c *PriceCache) callOptions(opts []Option) callOptions {
	o := callOptions{noExpire: c.cfg.NoExpire}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func (c *PriceCache) lookup(ctx context.Context, id string, key Key, o callOptions) (types.PriceSeries, bool) {
	found, err := c.store.Load(ctx, id)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeCacheCorruption) {
			c.corrupted(key, err)
		} else {
			c.log.Warn("cache read failed, treating as miss", zap.String("key", key.String()), zap.Error(err))
		}

		return types.PriceSeries{}, false
	}

	if found.IsNone() {
		return types.PriceSeries{}, false
	}

	entry := found.Unwrap()

	if !c.compatible(entry.SchemaVersion) {
		c.log.Debug("stale schema", zap.String("key", key.String()), zap.String("schema", entry.SchemaVersion))

		return types.PriceSeries{}, false
	}

	if !o.noExpire && entry.Expired(c.now()) {
		c.log.Debug("expired", zap.String("key", key.String()), zap.Time("created_at", entry.CreatedAt))

		return types.PriceSeries{}, false
	}

	if err := entry.Verify(); err != nil {
		c.corrupted(key, err)

		return types.PriceSeries{}, false
	}

	series, err := decodeSeries(entry.Payload)
	if err != nil {
		c.corrupted(key, err)

		return types.PriceSeries{}, false
	}

	return series, true
}

func (c *PriceCache) corrupted(key Key, err error) {
	c.corruptions.Add(1)
	c.log.Warn("corrupt cache entry, refetching", zap.String("key", key.String()), zap.Error(err))
}

func (c *PriceCache) compatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}

	return v.Major() == c.schema.Major()
}

func (c *PriceCache) persist(ctx context.Context, id string, key Key, series types.PriceSeries, o callOptions) {
	payload, err := encodeSeries(series)
	if err != nil {
		c.log.Warn("failed to encode series, not caching", zap.String("key", key.String()), zap.Error(err))

		return
	}

	now := c.now()

	ttl := o.ttl
	if ttl == 0 {
		ttl = c.ttlAt(now)
	}

	if err := c.store.Save(ctx, NewEntry(id, payload, now, ttl, c.schema.String())); err != nil {
		c.log.Warn("failed to persist cache entry", zap.String("key", key.String()), zap.Error(err))
	}
}

// ttlAt returns the TTL of an entry created at now.
func (c *PriceCache) ttlAt(now time.Time) time.Duration {
	if !c.cfg.ExpireAtClose {
		return c.cfg.TTL
	}

	return NextClose(now).Sub(now)
}

// NextClose returns the next weekday 15:00 China Standard Time after now.
func NextClose(now time.Time) time.Time {
	local := now.In(marketClose)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), 15, 0, 0, 0, marketClose)

	if !local.Before(closeAt) {
		closeAt = closeAt.AddDate(0, 0, 1)
	}

	for closeAt.Weekday() == time.Saturday || closeAt.Weekday() == time.Sunday {
		closeAt = closeAt.AddDate(0, 0, 1)
	}

	return closeAt
}
