package crossval

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/vfunds/internal/logger"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var validate = validator.New()

// Backtester runs one fund over one window. *backtest.Orchestrator implements it.
type Backtester interface {
	Run(ctx context.Context, fund types.VirtualFund, window types.BacktestWindow) (*types.BacktestResult, error)
}

// Outcome is the result of one (fund, window) job. Exactly one of Result and
// Err is set.
type Outcome struct {
	// Seq is the position of the job in the output order.
	Seq    int
	FundID string
	Window types.BacktestWindow
	Result *types.BacktestResult
	Err    error

	// skipped jobs were dispatched after a fatal error and never ran
	skipped bool
}

// Failure converts a failed outcome for export.
func (o Outcome) Failure() types.Failure {
	msg := ""
	if o.Err != nil {
		msg = o.Err.Error()
	}

	return types.Failure{
		FundID:  o.FundID,
		Window:  o.Window,
		Code:    int(errors.GetCode(o.Err)),
		Message: msg,
	}
}

// Config holds runner settings.
type Config struct {
	// Parallel is the number of jobs in flight. Defaults to 1.
	Parallel int `validate:"gte=0,lte=256"`
	// Buffer is the number of finished jobs that may wait for an earlier one
	// before dispatch pauses. Defaults to 4 x Parallel.
	Buffer int `validate:"gte=0"`
}

// Runner runs funds over the windows of a strategy with a bounded worker pool.
type Runner struct {
	backtester Backtester
	parallel   int
	buffer     int
	log        *logger.Logger
}

// NewRunner creates a runner.
func NewRunner(backtester Backtester, config Config, log *logger.Logger) (*Runner, error) {
	if err := validate.Struct(config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid runner configuration", err)
	}

	if config.Parallel <= 0 {
		config.Parallel = 1
	}

	if config.Buffer <= 0 {
		config.Buffer = 4 * config.Parallel
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Runner{backtester: backtester, parallel: config.Parallel, buffer: config.Buffer, log: log.Named("crossval")}, nil
}

type job struct {
	seq    int
	fund   types.VirtualFund
	window types.BacktestWindow
}

// Jobs returns the (fund, window) pairs in output order: window start, window
// end, then fund id. Non permanent funds are skipped for windows that start
// before their inception.
func Jobs(funds []types.VirtualFund, global types.DateRange, strategy Strategy) iter.Seq2[types.VirtualFund, types.BacktestWindow] {
	sorted := slices.Clone(funds)
	slices.SortStableFunc(sorted, func(a, b types.VirtualFund) int { return cmp.Compare(a.ID, b.ID) })

	return func(yield func(types.VirtualFund, types.BacktestWindow) bool) {
		for window := range strategy.Windows(global) {
			for _, fund := range sorted {
				if !fund.Permanent && !fund.Inception.IsZero() && fund.Inception.After(window.Start) {
					continue
				}

				if !yield(fund, window) {
					return
				}
			}
		}
	}
}

// RunAll validates the inputs and returns the lazy sequence of outcomes.
// Each range over the sequence reruns every job. A configuration error in a
// job stops dispatch; jobs already running still complete and are yielded.
func (r *Runner) RunAll(ctx context.Context, funds []types.VirtualFund, global types.DateRange, strategy Strategy) (iter.Seq[Outcome], error) {
	if len(funds) == 0 {
		return nil, errors.New(errors.ErrCodeBacktestNoFunds, "no funds to backtest")
	}

	seen := make(map[string]struct{}, len(funds))

	for _, fund := range funds {
		if err := fund.Validate(); err != nil {
			return nil, err
		}

		if _, dup := seen[fund.ID]; dup {
			return nil, errors.Newf(errors.ErrCodeInvalidFund, "fund %s is listed twice", fund.ID)
		}

		seen[fund.ID] = struct{}{}
	}

	if err := strategy.Validate(global); err != nil {
		return nil, err
	}

	empty := true
	for range Jobs(funds, global, strategy) {
		empty = false

		break
	}

	if empty {
		return nil, errors.Newf(errors.ErrCodeBacktestNoWindows, "%s strategy yields no runnable window", strategy.Kind)
	}

	return func(yield func(Outcome) bool) {
		r.run(ctx, Jobs(funds, global, strategy), yield)
	}, nil
}

func (r *Runner) run(ctx context.Context, jobs iter.Seq2[types.VirtualFund, types.BacktestWindow], yield func(Outcome) bool) {
	// stop is closed when the consumer breaks out of the range
	stop := make(chan struct{})
	results := make(chan Outcome)
	slots := make(chan struct{}, r.buffer)

	var fatal atomic.Bool

	go func() {
		defer close(results)

		g := new(errgroup.Group)
		g.SetLimit(r.parallel)

		seq := 0

	dispatch:
		for fund, window := range jobs {
			if fatal.Load() || ctx.Err() != nil || closed(stop) {
				break
			}

			select {
			case slots <- struct{}{}:
			case <-stop:
				break dispatch
			}

			j := job{seq: seq, fund: fund, window: window}
			seq++

			g.Go(func() error {
				o := Outcome{Seq: j.seq, skipped: true}
				if !fatal.Load() && !closed(stop) {
					o = r.execute(ctx, j)
				}

				if o.Err != nil && errors.IsConfigurationError(o.Err) {
					fatal.Store(true)
				}

				select {
				case results <- o:
				case <-stop:
				}

				return nil
			})
		}

		_ = g.Wait()
	}()

	pending := make(map[int]Outcome)
	next := 0
	stopped := false

	for o := range results {
		if stopped {
			continue
		}

		pending[o.Seq] = o

		for {
			p, ok := pending[next]
			if !ok {
				break
			}

			delete(pending, next)
			next++
			<-slots

			if p.skipped {
				continue
			}

			if !yield(p) {
				stopped = true
				close(stop)

				break
			}
		}
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (r *Runner) execute(ctx context.Context, j job) Outcome {
	o := Outcome{Seq: j.seq, FundID: j.fund.ID, Window: j.window}

	result, err := r.backtester.Run(ctx, j.fund, j.window)
	if err != nil {
		r.log.Warn("backtest failed",
			zap.String("fund", j.fund.ID),
			zap.String("window", j.window.Name()),
			zap.Int("code", int(errors.GetCode(err))),
			zap.Error(err))

		o.Err = err

		return o
	}

	o.Result = result

	return o
}
