// Package causality implements the Causality Attributor, a mirror of the
// Discrepancy Detector over causes rather than discrepancies: TOML-declared
// rule-pack identities, registered Go evaluators, a closed cause taxonomy,
// and two conservatism rules — UNKNOWN_CAUSE when nothing fires, and full
// preservation of every plausible cause when more than one does.
package causality

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/store"
	"github.com/tenon-core/tenon/internal/types"
)

// RulePack is the TOML-declared governance identity of one causality rule.
type RulePack struct {
	RuleID      string `toml:"rule_id"`
	RuleVersion string `toml:"rule_version"`
	CauseType   string `toml:"cause_type"`
}

// LoadRulePacks reads a TOML file declaring one or more [[rule]] tables.
func LoadRulePacks(path string) ([]RulePack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack %s: %w", path, err)
	}
	var doc struct {
		Rule []RulePack `toml:"rule"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	return doc.Rule, nil
}

// Input bundles what a pure causality rule may consult: the discrepancy
// under attribution plus whatever historical evidence the caller chooses
// to supply.
type Input struct {
	Discrepancy types.Discrepancy
	History     []types.EvidenceEvent
}

// Evaluator is the Go-code counterpart to a RulePack.
type Evaluator func(in Input) []types.CausalityAttribution

// Rule pairs a RulePack with its Evaluator.
type Rule struct {
	Pack      RulePack
	Evaluator Evaluator
}

// Attributor runs its registered rules, in registry order, over an Input.
type Attributor struct {
	Rules []Rule
}

// New returns an Attributor for the given, already-ordered rule set.
func New(rules []Rule) *Attributor {
	return &Attributor{Rules: rules}
}

// Attribute iterates rules in order, collects every emission, enforces the
// two conservatism rules — UNKNOWN_CAUSE when every rule returns empty,
// and full preservation of multiple plausible causes when more than one
// rule fires — then sorts by (cause_type, -confidence, causality_id).
func (a *Attributor) Attribute(in Input, attributedAt string, unknownCauseID func() string) ([]types.CausalityAttribution, error) {
	var all []types.CausalityAttribution
	for _, rule := range a.Rules {
		emitted := rule.Evaluator(in)
		for _, att := range emitted {
			if !att.CauseType.Valid() {
				return nil, &errs.ContractViolation{Subject: "CausalityAttribution.CauseType", Reason: "not a declared cause type"}
			}
			if err := store.ValidateAttribution(att); err != nil {
				return nil, err
			}
			att.AttributedAt = attributedAt
			all = append(all, att)
		}
	}

	if len(all) == 0 {
		all = append(all, types.CausalityAttribution{
			CausalityID:     unknownCauseID(),
			DiscrepancyID:   in.Discrepancy.DiscrepancyID,
			CauseType:       types.CauseUnknownCause,
			ConfidenceLevel: 0,
			Explanation:     "no registered rule produced a plausible cause; evidence was insufficient to attribute",
			AttributedAt:    attributedAt,
		})
	}

	sort.SliceStable(all, func(i, j int) bool {
		x, y := all[i], all[j]
		if x.CauseType != y.CauseType {
			return x.CauseType < y.CauseType
		}
		if x.ConfidenceLevel != y.ConfidenceLevel {
			return x.ConfidenceLevel > y.ConfidenceLevel
		}
		return x.CausalityID < y.CausalityID
	})

	return all, nil
}
