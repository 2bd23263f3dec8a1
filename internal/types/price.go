package types

import (
	"slices"
	"sort"
	"time"

	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// Bar is a single daily OHLCV record.
type Bar struct {
	// Date of the bar, normalized to UTC midnight.
	Date   time.Time `yaml:"date" json:"date"`
	Open   float64   `yaml:"open" json:"open"`
	High   float64   `yaml:"high" json:"high"`
	Low    float64   `yaml:"low" json:"low"`
	Close  float64   `yaml:"close" json:"close"`
	Volume float64   `yaml:"volume" json:"volume"`
}

// PriceSeries is the ordered daily history of one symbol from one source.
// Dates are strictly increasing.
type PriceSeries struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	Source string `yaml:"source" json:"source"`
	Bars   []Bar  `yaml:"bars" json:"bars"`
}

// Day truncates t to UTC midnight. All dates in the engine go through it.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC midnight date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Validate checks the series ordering invariant.
func (s PriceSeries) Validate() error {
	for i := 1; i < len(s.Bars); i++ {
		if !s.Bars[i].Date.After(s.Bars[i-1].Date) {
			return errors.Newf(errors.ErrCodeMarketDataParseFailed,
				"series %s is not strictly increasing at %s", s.Symbol, s.Bars[i].Date.Format(time.DateOnly))
		}
	}

	return nil
}

// Normalize sorts bars by date, truncates dates to days and drops duplicates.
// The last bar seen for a date wins. Bars with a non-positive close are dropped.
func Normalize(bars []Bar) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}

		b.Date = Day(b.Date)
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	deduped := out[:0]
	for _, b := range out {
		if n := len(deduped); n > 0 && deduped[n-1].Date.Equal(b.Date) {
			deduped[n-1] = b

			continue
		}

		deduped = append(deduped, b)
	}

	return deduped
}

// Slice returns the bars within [start, end], both inclusive. The returned
// series shares no memory with the receiver.
func (s PriceSeries) Slice(start, end time.Time) PriceSeries {
	lo := sort.Search(len(s.Bars), func(i int) bool { return !s.Bars[i].Date.Before(start) })
	hi := sort.Search(len(s.Bars), func(i int) bool { return s.Bars[i].Date.After(end) })

	out := PriceSeries{Symbol: s.Symbol, Source: s.Source}
	if lo < hi {
		out.Bars = slices.Clone(s.Bars[lo:hi])
	}

	return out
}

// Merge concatenates chunks of the same symbol into one normalized series.
func Merge(symbol, source string, chunks ...PriceSeries) PriceSeries {
	var bars []Bar
	for _, c := range chunks {
		bars = append(bars, c.Bars...)
	}

	return PriceSeries{Symbol: symbol, Source: source, Bars: Normalize(bars)}
}

// CloseOn returns the close for date using binary search.
func (s PriceSeries) CloseOn(date time.Time) (float64, bool) {
	i := sort.Search(len(s.Bars), func(i int) bool { return !s.Bars[i].Date.Before(date) })
	if i < len(s.Bars) && s.Bars[i].Date.Equal(date) {
		return s.Bars[i].Close, true
	}

	return 0, false
}

// First returns the first bar date or the zero time for an empty series.
func (s PriceSeries) First() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}

	return s.Bars[0].Date
}

// Last returns the last bar date or the zero time for an empty series.
func (s PriceSeries) Last() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}

	return s.Bars[len(s.Bars)-1].Date
}
