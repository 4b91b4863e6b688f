// Package discrepancy implements the Discrepancy Detector, a
// registry-ordered pipeline of pure, versioned diagnostic rules whose
// governance identity (id, version, emitted type) is declared in TOML rule
// packs and whose evaluation logic is registered Go code.
package discrepancy

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/store"
	"github.com/tenon-core/tenon/internal/types"
)

// RulePack is the TOML-declared shape of one discrepancy rule's governance
// metadata: its id, version, and the discrepancy type it is permitted to
// emit. The actual evaluation logic is Go code (Evaluator), registered
// alongside the pack — TOML governs identity and versioning, not
// executable behavior, so no arbitrary expression is ever eval'd from a
// config file.
type RulePack struct {
	RuleID          string `toml:"rule_id"`
	RuleVersion     string `toml:"rule_version"`
	DiscrepancyType string `toml:"discrepancy_type"`
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

// Input bundles everything one rule evaluation may consult. Pure rules
// read only from this bundle — no I/O, no clock.
type Input struct {
	Flow  types.MoneyFlowProjection
	Eval  types.MoneyStateEvaluation
	Links []types.CorrelationLink
}

// Evaluator is the Go-code counterpart to a RulePack: given an Input,
// return zero or more discrepancies. It must be pure and must emit
// INSUFFICIENT_EVIDENCE rather than guess when the evidence does not
// clearly support a more specific discrepancy type.
type Evaluator func(in Input) []types.Discrepancy

// Rule pairs one RulePack's governance identity with its Evaluator.
type Rule struct {
	Pack      RulePack
	Evaluator Evaluator
}

// Detector runs its registered rules, in registry order, over an Input.
type Detector struct {
	Rules []Rule
}

// New returns a Detector for the given, already-ordered rule set.
func New(rules []Rule) *Detector {
	return &Detector{Rules: rules}
}

// Detect iterates rules in registry order, collects every emitted
// discrepancy, validates that each discrepancy's rule_id/rule_version
// matches the emitting rule (a rule may not impersonate another), injects
// detectedAt, and returns the collected list sorted by
// (discrepancy_type, rule_id, rule_version, discrepancy_id).
func (d *Detector) Detect(in Input, detectedAt string) ([]types.Discrepancy, error) {
	var all []types.Discrepancy
	for _, rule := range d.Rules {
		emitted := rule.Evaluator(in)
		for _, disc := range emitted {
			if disc.RuleID != rule.Pack.RuleID || disc.RuleVersion != rule.Pack.RuleVersion {
				return nil, &errs.ContractViolation{
					Subject: "Discrepancy.RuleID/RuleVersion",
					Reason:  fmt.Sprintf("rule %s@%s emitted a discrepancy attributed to %s@%s", rule.Pack.RuleID, rule.Pack.RuleVersion, disc.RuleID, disc.RuleVersion),
				}
			}
			if !disc.DiscrepancyType.Valid() {
				return nil, &errs.ContractViolation{Subject: "Discrepancy.DiscrepancyType", Reason: "not a declared discrepancy type"}
			}
			if err := store.ValidateDiscrepancy(disc); err != nil {
				return nil, err
			}
			disc.DetectedAt = detectedAt
			all = append(all, disc)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.DiscrepancyType != b.DiscrepancyType {
			return a.DiscrepancyType < b.DiscrepancyType
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.RuleVersion != b.RuleVersion {
			return a.RuleVersion < b.RuleVersion
		}
		return a.DiscrepancyID < b.DiscrepancyID
	})

	return all, nil
}

// InsufficientEvidence builds the conservative INSUFFICIENT_EVIDENCE
// discrepancy a rule should emit instead of guessing.
func InsufficientEvidence(discrepancyID, flowID, ruleID, ruleVersion, explanation string, supportingEvents []string) types.Discrepancy {
	return types.Discrepancy{
		DiscrepancyID:    discrepancyID,
		FlowID:           flowID,
		DiscrepancyType:  types.DiscrepancyInsufficientEvidence,
		SeverityHint:     types.SeverityUnknown,
		SupportingEvents: supportingEvents,
		RuleID:           ruleID,
		RuleVersion:      ruleVersion,
		Explanation:      explanation,
	}
}
