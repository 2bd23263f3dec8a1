package crossval

import (
	"cmp"
	"iter"
	"math"
	"slices"
	"strings"

	"github.com/rxtech-lab/vfunds/internal/simulator"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// FundSummary aggregates the windows of one fund.
type FundSummary struct {
	FundID        string  `yaml:"fund_id" json:"fund_id"`
	Windows       int     `yaml:"windows" json:"windows"`
	Failures      int     `yaml:"failures" json:"failures"`
	MeanARR       float64 `yaml:"mean_arr" json:"mean_arr"`
	MinARR        float64 `yaml:"min_arr" json:"min_arr"`
	MeanSharpe    float64 `yaml:"mean_sharpe" json:"mean_sharpe"`
	MinSharpe     float64 `yaml:"min_sharpe" json:"min_sharpe"`
	WorstDrawdown float64 `yaml:"worst_drawdown" json:"worst_drawdown"`
}

// Report is a fully collected run.
type Report struct {
	Results   []*types.BacktestResult `yaml:"results" json:"results"`
	Failures  []types.Failure         `yaml:"failures" json:"failures"`
	Summaries []FundSummary           `yaml:"summaries" json:"summaries"`
	// Err is the configuration error that stopped dispatch, if any.
	Err error `yaml:"-" json:"-"`
}

// Collect drains outcomes into a report.
func Collect(outcomes iter.Seq[Outcome]) *Report {
	report := &Report{}

	for o := range outcomes {
		report.Add(o)
	}

	report.Summaries = Summarize(report.Results, report.Failures)

	return report
}

// Add records one outcome.
func (r *Report) Add(o Outcome) {
	if o.Err == nil {
		r.Results = append(r.Results, o.Result)

		return
	}

	r.Failures = append(r.Failures, o.Failure())

	if r.Err == nil && errors.IsConfigurationError(o.Err) {
		r.Err = o.Err
	}
}

// Summarize aggregates results per fund, best mean Sharpe first.
func Summarize(results []*types.BacktestResult, failures []types.Failure) []FundSummary {
	byFund := make(map[string]*FundSummary)

	get := func(id string) *FundSummary {
		s, ok := byFund[id]
		if !ok {
			s = &FundSummary{FundID: id, MinARR: math.Inf(1), MinSharpe: math.Inf(1)}
			byFund[id] = s
		}

		return s
	}

	for _, res := range results {
		s := get(res.FundID)
		s.Windows++
		s.MeanARR += res.Metrics.AnnualizedReturn
		s.MeanSharpe += res.Metrics.Sharpe
		s.MinARR = math.Min(s.MinARR, res.Metrics.AnnualizedReturn)
		s.MinSharpe = math.Min(s.MinSharpe, res.Metrics.Sharpe)
		s.WorstDrawdown = math.Max(s.WorstDrawdown, res.Metrics.MaxDrawdown)
	}

	for _, f := range failures {
		get(f.FundID).Failures++
	}

	out := make([]FundSummary, 0, len(byFund))

	for _, s := range byFund {
		if s.Windows > 0 {
			s.MeanARR /= float64(s.Windows)
			s.MeanSharpe /= float64(s.Windows)
		} else {
			s.MinARR, s.MinSharpe = 0, 0
		}

		out = append(out, *s)
	}

	slices.SortFunc(out, func(a, b FundSummary) int {
		if c := cmp.Compare(b.MeanSharpe, a.MeanSharpe); c != 0 {
			return c
		}

		return cmp.Compare(a.FundID, b.FundID)
	})

	return out
}

// VariantSeparator joins a fund id and its parameters in variant ids.
const VariantSeparator = "#"

// ExpandVariants returns one copy of each fund per candidate rebalance
// frequency, with ids like "<id>#freq=<f>". The candidate replaces the
// holding overrides too. Without candidates the funds are returned unchanged.
func ExpandVariants(funds []types.VirtualFund, frequencies []string) ([]types.VirtualFund, error) {
	if len(frequencies) == 0 {
		return funds, nil
	}

	out := make([]types.VirtualFund, 0, len(funds)*len(frequencies))

	for _, fund := range funds {
		for _, freq := range frequencies {
			period, err := simulator.ParseFrequency(freq)
			if err != nil {
				return nil, err
			}

			variant := fund
			variant.ID = fund.ID + VariantSeparator + "freq=" + strings.ToLower(strings.TrimSpace(freq))
			variant.Holdings = slices.Clone(fund.Holdings)
			for i := range variant.Holdings {
				variant.Holdings[i].Rebalance = nil
			}

			variant.Rebalance = types.RebalanceRule{Kind: types.RebalanceCalendar, Frequency: period.String()}

			out = append(out, variant)
		}
	}

	return out, nil
}

// BaseID strips variant parameters from a fund id.
func BaseID(id string) string {
	base, _, _ := strings.Cut(id, VariantSeparator)

	return base
}
