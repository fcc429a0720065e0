package strategy

import (
	"fmt"

	"orderflow_go/internal/domain"
)

// Rule names understood by ScoringTable.
const (
	RuleNetTradeFlow  = "net_trade_flow"
	RuleBuyPercentage = "buy_percentage"
	RuleBuyIntensity  = "buy_intensity"
	RuleImbalance     = "imbalance_ratio"
	RuleLargeOrders   = "large_orders" // large bid count minus large ask count
)

// Rule adds Weight to the bullish score when its input is above BullishAbove,
// or to the bearish score when it is below BearishBelow.
type Rule struct {
	Name         string  `yaml:"name"`
	Weight       int     `yaml:"weight"`
	BullishAbove float64 `yaml:"bullish_above"`
	BearishBelow float64 `yaml:"bearish_below"`
	Secondary    bool    `yaml:"secondary"` // depth-derived, skipped without depth
}

// ScoringTable is a weighted, additive signal scorer.
// A label is directional only when one score leads the other by more than Margin.
type ScoringTable struct {
	Rules  []Rule `yaml:"rules"`
	Margin int    `yaml:"margin"`
}

var _ Scorer = ScoringTable{}

// DefaultScoringTable returns the production weights.
func DefaultScoringTable() ScoringTable {
	return ScoringTable{
		Rules: []Rule{
			{Name: RuleNetTradeFlow, Weight: 3, BullishAbove: 0, BearishBelow: 0},
			{Name: RuleBuyPercentage, Weight: 2, BullishAbove: 60, BearishBelow: 40},
			{Name: RuleBuyIntensity, Weight: 2, BullishAbove: 0.6, BearishBelow: 0.4},
			{Name: RuleImbalance, Weight: 1, BullishAbove: 1.5, BearishBelow: 0.667, Secondary: true},
			{Name: RuleLargeOrders, Weight: 1, BullishAbove: 0, BearishBelow: 0, Secondary: true},
		},
		Margin: 2,
	}
}

func knownRule(name string) bool {
	switch name {
	case RuleNetTradeFlow, RuleBuyPercentage, RuleBuyIntensity, RuleImbalance, RuleLargeOrders:
		return true
	}
	return false
}

// Validate checks the table for unknown or duplicated rules and inverted thresholds.
func (t ScoringTable) Validate() error {
	if t.Margin < 0 {
		return fmt.Errorf("margin must not be negative: %d", t.Margin)
	}
	seen := make(map[string]bool, len(t.Rules))
	for _, r := range t.Rules {
		if !knownRule(r.Name) {
			return fmt.Errorf("unknown scoring rule %q", r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate scoring rule %q", r.Name)
		}
		seen[r.Name] = true
		if r.Weight < 0 {
			return fmt.Errorf("rule %q: weight must not be negative", r.Name)
		}
		if r.BearishBelow > r.BullishAbove {
			return fmt.Errorf("rule %q: bearish_below %.3f above bullish_above %.3f",
				r.Name, r.BearishBelow, r.BullishAbove)
		}
	}
	return nil
}

// input returns the value a rule scores, and false when it is unavailable.
func (in FlowInputs) input(name string) (float64, bool) {
	switch name {
	case RuleNetTradeFlow:
		return float64(in.NetTradeFlow), true
	case RuleBuyPercentage:
		return in.BuyPercentage, true
	case RuleBuyIntensity:
		return in.BuyIntensity, true
	case RuleImbalance:
		return in.ImbalanceRatio, in.HasDepth
	case RuleLargeOrders:
		return float64(in.LargeBidCount - in.LargeAskCount), in.HasDepth
	}
	return 0, false
}

// Score evaluates every rule and labels the result.
func (t ScoringTable) Score(in FlowInputs) ScoreResult {
	var res ScoreResult
	for _, r := range t.Rules {
		v, ok := in.input(r.Name)
		if !ok || (r.Secondary && !in.HasDepth) {
			continue
		}
		switch {
		case v > r.BullishAbove:
			res.Bullish += r.Weight
		case v < r.BearishBelow:
			res.Bearish += r.Weight
		}
	}

	switch {
	case res.Bullish-res.Bearish > t.Margin:
		res.Signal = domain.SignalBullish
	case res.Bearish-res.Bullish > t.Margin:
		res.Signal = domain.SignalBearish
	default:
		res.Signal = domain.SignalNeutral
	}
	return res
}
