package types

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// RebalanceKind selects the rebalance policy of a fund or holding.
type RebalanceKind string

const (
	// RebalanceCalendar rebalances on a fixed schedule (the default).
	RebalanceCalendar RebalanceKind = "calendar"
	// RebalanceThreshold rebalances when a holding drifts too far from its target.
	RebalanceThreshold RebalanceKind = "threshold"
	// RebalanceNever buys once at the window start and holds.
	RebalanceNever RebalanceKind = "never"
)

// RebalanceRule describes when target weights are restored.
type RebalanceRule struct {
	// Kind of policy. Empty means calendar.
	Kind RebalanceKind `yaml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=calendar,enum=threshold,enum=never" validate:"omitempty,oneof=calendar threshold never"`
	// Frequency of a calendar policy: daily, weekly, monthly, quarterly, yearly or Nd/Nw/Nm/Ny.
	Frequency string `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	// Threshold is the absolute weight drift that triggers a threshold policy, e.g. 0.05.
	Threshold float64 `yaml:"threshold,omitempty" json:"threshold,omitempty" validate:"gte=0,lt=1"`
}

// IsZero reports whether the rule was left unset.
func (r RebalanceRule) IsZero() bool {
	return r.Kind == "" && r.Frequency == "" && r.Threshold == 0
}

// Holding is one target allocation of a fund.
type Holding struct {
	Symbol string `yaml:"symbol" json:"symbol" validate:"required"`
	// Weight is the target fraction of NAV in (0, 1].
	Weight float64 `yaml:"weight" json:"weight" validate:"gt=0,lte=1"`
	// Rebalance overrides the fund rule for this holding.
	Rebalance *RebalanceRule `yaml:"rebalance,omitempty" json:"rebalance,omitempty"`
}

// Member is one fund held by a fund of funds.
type Member struct {
	// Fund names the member's definition file without extension.
	Fund string `yaml:"fund" json:"fund" validate:"required"`
	// Weight is relative. Member weights are normalized to sum to 1.
	Weight float64 `yaml:"weight" json:"weight" validate:"gt=0"`
	// Definition is the resolved member fund.
	Definition *VirtualFund `yaml:"-" json:"-" validate:"-"`
}

// CostModel is the transaction cost assumption of a fund.
type CostModel struct {
	// Rate is charged on traded notional, e.g. 0.0003 for 3 bps.
	Rate float64 `yaml:"rate" json:"rate" validate:"gte=0,lt=1"`
	// Minimum fee per trade as a fraction of NAV. Zero disables it.
	Minimum float64 `yaml:"minimum,omitempty" json:"minimum,omitempty" validate:"gte=0,lt=1"`
}

// VirtualFund is a user defined, rules based portfolio.
// It holds either symbols or other funds, never both.
// It is immutable once loaded.
type VirtualFund struct {
	ID       string    `yaml:"id" json:"id" validate:"required"`
	Title    string    `yaml:"title,omitempty" json:"title,omitempty"`
	Holdings []Holding `yaml:"holdings,omitempty" json:"holdings,omitempty" validate:"dive"`
	// Funds makes this a fund of funds that rebalances between the NAV of
	// other funds.
	Funds    []Member `yaml:"funds,omitempty" json:"funds,omitempty" validate:"dive"`
	Currency string   `yaml:"currency,omitempty" json:"currency,omitempty"`
	// Inception is the first date the fund may be simulated from.
	Inception time.Time `yaml:"inception,omitempty" json:"inception,omitempty"`
	// Source of market data. Empty falls back to the configured default.
	Source    string        `yaml:"source,omitempty" json:"source,omitempty"`
	Rebalance RebalanceRule `yaml:"rebalance,omitempty" json:"rebalance,omitempty"`
	Costs     CostModel     `yaml:"costs,omitempty" json:"costs,omitempty"`
	// Permanent funds are baselines and run in every window.
	Permanent bool `yaml:"permanent,omitempty" json:"permanent,omitempty"`
	// SuspendMonths lists calendar months the fund sits fully in cash.
	SuspendMonths []time.Month `yaml:"suspend_months,omitempty" json:"suspend_months,omitempty" validate:"dive,min=1,max=12"`
}

var fundValidator = validator.New()

// Validate checks the fund definition. All failures carry ErrCodeInvalidFund.
func (f VirtualFund) Validate() error {
	if err := fundValidator.Struct(f); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidFund, err, "invalid fund %q", f.ID)
	}

	switch {
	case len(f.Holdings) == 0 && len(f.Funds) == 0:
		return errors.Newf(errors.ErrCodeInvalidFund, "fund %q has no holdings", f.ID)
	case len(f.Holdings) > 0 && len(f.Funds) > 0:
		return errors.Newf(errors.ErrCodeInvalidFund, "fund %q mixes holdings and funds", f.ID)
	case f.IsFundOfFunds():
		return f.validateMembers()
	}

	seen := make(map[string]struct{}, len(f.Holdings))
	total := 0.0

	for _, h := range f.Holdings {
		if _, dup := seen[h.Symbol]; dup {
			return errors.Newf(errors.ErrCodeInvalidFund, "fund %q holds %s twice", f.ID, h.Symbol)
		}

		seen[h.Symbol] = struct{}{}
		total += h.Weight
	}

	if total > 1+1e-9 || math.IsNaN(total) {
		return errors.Newf(errors.ErrCodeInvalidFund, "weights of fund %q sum to %.6f, above 1", f.ID, total)
	}

	return nil
}

func (f VirtualFund) validateMembers() error {
	seen := make(map[string]struct{}, len(f.Funds))

	for _, m := range f.Funds {
		if _, dup := seen[m.Fund]; dup {
			return errors.Newf(errors.ErrCodeInvalidFund, "fund %q holds fund %s twice", f.ID, m.Fund)
		}

		seen[m.Fund] = struct{}{}

		switch {
		case m.Definition == nil:
			return errors.Newf(errors.ErrCodeInvalidFund, "fund %q: member %s is not resolved", f.ID, m.Fund)
		case m.Definition.IsFundOfFunds():
			return errors.Newf(errors.ErrCodeInvalidFund, "fund %q: member %s is itself a fund of funds", f.ID, m.Fund)
		}

		if err := m.Definition.Validate(); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidFund, err, "fund %q: member %s", f.ID, m.Fund)
		}
	}

	return nil
}

// IsFundOfFunds reports whether the fund holds other funds.
func (f VirtualFund) IsFundOfFunds() bool {
	return len(f.Funds) > 0
}

// MemberHoldings returns one holding per member, named by the member and
// weighted by its normalized weight.
func (f VirtualFund) MemberHoldings() []Holding {
	total := 0.0
	for _, m := range f.Funds {
		total += m.Weight
	}

	out := make([]Holding, len(f.Funds))
	for i, m := range f.Funds {
		out[i] = Holding{Symbol: m.Fund, Weight: m.Weight / total}
	}

	return out
}

// Symbols returns the holding symbols in declared order.
func (f VirtualFund) Symbols() []string {
	out := make([]string, len(f.Holdings))
	for i, h := range f.Holdings {
		out[i] = h.Symbol
	}

	return out
}

// RuleFor returns the effective rebalance rule of holding i.
func (f VirtualFund) RuleFor(i int) RebalanceRule {
	if r := f.Holdings[i].Rebalance; r != nil && !r.IsZero() {
		return *r
	}

	return f.Rebalance
}

// Suspended reports whether the fund sits in cash on date.
func (f VirtualFund) Suspended(date time.Time) bool {
	for _, m := range f.SuspendMonths {
		if date.Month() == m {
			return true
		}
	}

	return false
}
