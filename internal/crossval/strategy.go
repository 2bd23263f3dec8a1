package crossval

import (
	"iter"
	"math"
	"slices"
	"time"

	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// StrategyKind selects how the global range is split into windows.
type StrategyKind string

const (
	// StrategyFixed is a single window over the whole range.
	StrategyFixed StrategyKind = "fixed"
	// StrategyRolling slides a window of Length days by Stride days.
	StrategyRolling StrategyKind = "rolling"
	// StrategyLeaveOneOut holds out one of Folds equal partitions per window.
	StrategyLeaveOneOut StrategyKind = "leave-one-out"
	// StrategyStartDates runs from each of Starts to the end of the range.
	StrategyStartDates StrategyKind = "start-dates"
	// StrategyHalving nests ever shorter overlapping windows down to MinDays.
	StrategyHalving StrategyKind = "halving"
)

// DefaultHalvingMinDays is the shortest window of the halving strategy.
const DefaultHalvingMinDays = 365

// Strategy describes a window partition.
type Strategy struct {
	Kind StrategyKind `yaml:"kind" json:"kind" validate:"required,oneof=fixed rolling leave-one-out start-dates halving"`
	// Length of a rolling window in days.
	Length int `yaml:"length,omitempty" json:"length,omitempty" validate:"gte=0"`
	// Stride between rolling windows in days. Defaults to Length.
	Stride int `yaml:"stride,omitempty" json:"stride,omitempty" validate:"gte=0"`
	// Folds of a leave-one-out partition.
	Folds int `yaml:"folds,omitempty" json:"folds,omitempty" validate:"gte=0"`
	// Starts of a start-dates strategy.
	Starts []time.Time `yaml:"starts,omitempty" json:"starts,omitempty"`
	// MinDays is the shortest halving window.
	MinDays int `yaml:"min_days,omitempty" json:"min_days,omitempty" validate:"gte=0"`
}

// Validate checks the strategy against the global range.
func (s Strategy) Validate(global types.DateRange) error {
	if err := global.Validate(); err != nil {
		return err
	}

	if err := validate.Struct(s); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidStrategy, "invalid window strategy", err)
	}

	switch s.Kind {
	case StrategyRolling:
		if s.Length <= 0 {
			return errors.New(errors.ErrCodeInvalidStrategy, "rolling windows need a positive length")
		}

		if s.Length > global.Days() {
			return errors.Newf(errors.ErrCodeBacktestNoWindows, "rolling length %dd exceeds the %dd range", s.Length, global.Days())
		}
	case StrategyLeaveOneOut:
		if s.Folds < 2 {
			return errors.New(errors.ErrCodeInvalidStrategy, "leave-one-out needs at least 2 folds")
		}

		if s.Folds > global.Days() {
			return errors.Newf(errors.ErrCodeInvalidStrategy, "%d folds do not fit in %d days", s.Folds, global.Days())
		}
	case StrategyStartDates:
		if len(s.Starts) == 0 {
			return errors.New(errors.ErrCodeInvalidStrategy, "start-dates needs at least one start")
		}

		for _, start := range s.Starts {
			if start.Before(global.Start) || !start.Before(global.End) {
				return errors.Newf(errors.ErrCodeInvalidStrategy, "start %s is outside the range", start.Format(time.DateOnly))
			}
		}
	}

	return nil
}

// Windows returns the windows of the strategy over global, ordered by start
// then end. The sequence is lazy and can be ranged over repeatedly.
func (s Strategy) Windows(global types.DateRange) iter.Seq[types.BacktestWindow] {
	global = types.DateRange{Start: types.Day(global.Start), End: types.Day(global.End)}

	switch s.Kind {
	case StrategyRolling:
		return s.rolling(global)
	case StrategyLeaveOneOut:
		return s.leaveOneOut(global)
	case StrategyStartDates:
		return s.startDates(global)
	case StrategyHalving:
		return s.halving(global)
	default:
		return func(yield func(types.BacktestWindow) bool) {
			yield(types.NewWindow(global.Start, global.End))
		}
	}
}

func (s Strategy) rolling(global types.DateRange) iter.Seq[types.BacktestWindow] {
	stride := s.Stride
	if stride <= 0 {
		stride = s.Length
	}

	return func(yield func(types.BacktestWindow) bool) {
		for start := global.Start; ; start = start.AddDate(0, 0, stride) {
			end := start.AddDate(0, 0, s.Length-1)
			if end.After(global.End) {
				return
			}

			if !yield(types.NewWindow(start, end)) {
				return
			}
		}
	}
}

func (s Strategy) leaveOneOut(global types.DateRange) iter.Seq[types.BacktestWindow] {
	size := global.Days() / s.Folds

	return func(yield func(types.BacktestWindow) bool) {
		for k := range s.Folds {
			start := global.Start.AddDate(0, 0, k*size)

			end := start.AddDate(0, 0, size-1)
			if k == s.Folds-1 {
				end = global.End
			}

			w := types.NewWindow(global.Start, global.End)
			w.Exclude = &types.DateRange{Start: start, End: end}

			if !yield(w) {
				return
			}
		}
	}
}

func (s Strategy) startDates(global types.DateRange) iter.Seq[types.BacktestWindow] {
	starts := make([]time.Time, len(s.Starts))
	for i, start := range s.Starts {
		starts[i] = types.Day(start)
	}

	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })
	starts = slices.CompactFunc(starts, func(a, b time.Time) bool { return a.Equal(b) })

	return func(yield func(types.BacktestWindow) bool) {
		for _, start := range starts {
			if !yield(types.NewWindow(start, global.End)) {
				return
			}
		}
	}
}

// halving yields, for n = 1, 2, 4, ..., n overlapping windows of 2T/(n+1)
// days spaced T/(n+1) apart, where T is the range length. Levels stop before
// the window length drops under MinDays.
func (s Strategy) halving(global types.DateRange) iter.Seq[types.BacktestWindow] {
	minDays := s.MinDays
	if minDays <= 0 {
		minDays = DefaultHalvingMinDays
	}

	total := float64(global.Days() - 1)

	var windows []types.BacktestWindow

	for n := 1; ; n *= 2 {
		length := int(math.Round(2 * total / float64(n+1)))
		if n > 1 && length < minDays {
			break
		}

		for j := range n {
			end := global.End.AddDate(0, 0, -int(math.Round(float64(j)*total/float64(n+1))))
			start := end.AddDate(0, 0, -length)

			if start.Before(global.Start) {
				start = global.Start
			}

			windows = append(windows, types.NewWindow(start, end))
		}
	}

	slices.SortFunc(windows, func(a, b types.BacktestWindow) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}

		return a.End.Compare(b.End)
	})

	windows = slices.CompactFunc(windows, func(a, b types.BacktestWindow) bool {
		return a.Start.Equal(b.Start) && a.End.Equal(b.End)
	})

	return slices.Values(windows)
}
