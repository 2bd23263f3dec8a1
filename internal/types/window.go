package types

import (
	"fmt"
	"time"

	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// DateRange is an inclusive range of days.
type DateRange struct {
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`
}

// Contains reports whether date falls inside the range.
func (r DateRange) Contains(date time.Time) bool {
	return !date.Before(r.Start) && !date.After(r.End)
}

// Days returns the number of calendar days covered, counting both ends.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Validate checks that the range is non empty.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New(errors.ErrCodeInvalidWindow, "range needs both start and end")
	}

	if r.End.Before(r.Start) {
		return errors.Newf(errors.ErrCodeInvalidWindow, "range end %s is before start %s",
			r.End.Format(time.DateOnly), r.Start.Format(time.DateOnly))
	}

	return nil
}

// BacktestWindow is one simulation period.
type BacktestWindow struct {
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`
	Label string    `yaml:"label,omitempty" json:"label,omitempty"`
	// Exclude is a held out sub range for leave-one-out runs.
	// The fund sits in cash while inside it.
	Exclude *DateRange `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// NewWindow builds a window with the dates truncated to days.
func NewWindow(start, end time.Time) BacktestWindow {
	return BacktestWindow{Start: Day(start), End: Day(end)}
}

// Range returns the window bounds.
func (w BacktestWindow) Range() DateRange {
	return DateRange{Start: w.Start, End: w.End}
}

// Validate checks the window bounds and the excluded range.
func (w BacktestWindow) Validate() error {
	if err := w.Range().Validate(); err != nil {
		return err
	}

	if w.Exclude != nil {
		if err := w.Exclude.Validate(); err != nil {
			return err
		}

		if w.Exclude.Start.Before(w.Start) || w.Exclude.End.After(w.End) {
			return errors.Newf(errors.ErrCodeInvalidWindow, "excluded range of window %s is outside the window", w.Name())
		}
	}

	return nil
}

// Excluded reports whether date is inside the held out range.
func (w BacktestWindow) Excluded(date time.Time) bool {
	return w.Exclude != nil && w.Exclude.Contains(date)
}

// Name is the label, or start_end when no label was given.
func (w BacktestWindow) Name() string {
	if w.Label != "" {
		return w.Label
	}

	name := fmt.Sprintf("%s_%s", w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly))
	if w.Exclude != nil {
		name += fmt.Sprintf("_x%s", w.Exclude.Start.Format(time.DateOnly))
	}

	return name
}
