package simulator

import (
	"strconv"
	"strings"
	"time"

	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// DefaultFrequency is used by calendar rules that leave the frequency unset.
const DefaultFrequency = "quarterly"

// Policy decides when a fund restores its target weights.
type Policy interface {
	// Due reports whether to rebalance on date. last is the date of the previous
	// rebalance and drift the largest absolute deviation from target weights.
	Due(date, last time.Time, drift float64) bool
}

// Period is a parsed calendar frequency.
type Period struct {
	// Unit is one of day, week, month, quarter, year for named frequencies.
	Unit string
	// Days is set for "Nd/Nw/Nm/Ny" frequencies.
	Days int
}

// ParseFrequency parses daily, weekly, monthly, quarterly, yearly or an
// interval like 10d, 2w, 3m, 1y (w=7, m=30, y=365 days).
func ParseFrequency(s string) (Period, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "":
		return ParseFrequency(DefaultFrequency)
	case "daily":
		return Period{Unit: "day"}, nil
	case "weekly":
		return Period{Unit: "week"}, nil
	case "monthly":
		return Period{Unit: "month"}, nil
	case "quarterly":
		return Period{Unit: "quarter"}, nil
	case "yearly", "annually":
		return Period{Unit: "year"}, nil
	}

	multiplier := map[byte]int{'d': 1, 'w': 7, 'm': 30, 'y': 365}

	mult, ok := multiplier[s[len(s)-1]]
	if !ok {
		return Period{}, errors.Newf(errors.ErrCodeInvalidFrequency, "unknown rebalance frequency %q", s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Period{}, errors.Newf(errors.ErrCodeInvalidFrequency, "invalid rebalance frequency %q", s)
	}

	return Period{Days: n * mult}, nil
}

// String returns the canonical form of the period.
func (p Period) String() string {
	if p.Days > 0 {
		return strconv.Itoa(p.Days) + "d"
	}

	switch p.Unit {
	case "day":
		return "daily"
	case "week":
		return "weekly"
	case "month":
		return "monthly"
	case "quarter":
		return "quarterly"
	default:
		return "yearly"
	}
}

type calendarPolicy struct {
	period Period
}

func (p calendarPolicy) Due(date, last time.Time, _ float64) bool {
	if last.IsZero() {
		return true
	}

	if p.period.Days > 0 {
		return date.Sub(last) >= time.Duration(p.period.Days)*24*time.Hour
	}

	switch p.period.Unit {
	case "day":
		return date.After(last)
	case "week":
		y1, w1 := date.ISOWeek()
		y2, w2 := last.ISOWeek()

		return y1 != y2 || w1 != w2
	case "month":
		return date.Year() != last.Year() || date.Month() != last.Month()
	case "quarter":
		return date.Year() != last.Year() || quarter(date) != quarter(last)
	default:
		return date.Year() != last.Year()
	}
}

func quarter(t time.Time) int {
	return (int(t.Month()) - 1) / 3
}

type thresholdPolicy struct {
	threshold float64
}

func (p thresholdPolicy) Due(_, last time.Time, drift float64) bool {
	return last.IsZero() || drift > p.threshold
}

type neverPolicy struct{}

func (neverPolicy) Due(_, last time.Time, _ float64) bool {
	return last.IsZero()
}

// NewPolicy builds the policy for a rule. An empty rule is a quarterly calendar.
func NewPolicy(rule types.RebalanceRule) (Policy, error) {
	switch rule.Kind {
	case "", types.RebalanceCalendar:
		period, err := ParseFrequency(rule.Frequency)
		if err != nil {
			return nil, err
		}

		return calendarPolicy{period: period}, nil
	case types.RebalanceThreshold:
		if rule.Threshold <= 0 {
			return nil, errors.New(errors.ErrCodeInvalidStrategy, "threshold rebalance needs a positive threshold")
		}

		return thresholdPolicy{threshold: rule.Threshold}, nil
	case types.RebalanceNever:
		return neverPolicy{}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidStrategy, "unknown rebalance kind %q", rule.Kind)
	}
}
