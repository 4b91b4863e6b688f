package store

import (
	"fmt"

	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/types"
)

// TraceabilityFields is the declared, ordered list of field names the
// invariant checks below report on. It is a slice, never a set or map, so
// violations always surface in the same order regardless of how many fields
// fail at once.
var TraceabilityFields = []string{
	"rule_id", "rule_version", "explanation",
	"supporting_states", "supporting_events", "supporting_links",
}

// ValidateDiscrepancy enforces the business invariants every emitted
// discrepancy must satisfy: a versioned rule identity, a non-empty
// explanation, and at least one non-empty supporting list. Violations are
// reported in TraceabilityFields order.
func ValidateDiscrepancy(d types.Discrepancy) error {
	empty := map[string]bool{
		"rule_id":      d.RuleID == "",
		"rule_version": d.RuleVersion == "",
		"explanation":  d.Explanation == "",
	}
	for _, field := range TraceabilityFields {
		if empty[field] {
			return &errs.InvariantViolation{Record: "Discrepancy", Field: field, Reason: "must not be empty"}
		}
	}
	if len(d.SupportingStates) == 0 && len(d.SupportingEvents) == 0 && len(d.SupportingLinks) == 0 {
		return &errs.InvariantViolation{
			Record: "Discrepancy", Field: "supporting_states",
			Reason: "at least one of supporting_states, supporting_events, supporting_links must be non-empty",
		}
	}
	return nil
}

// ValidateAttribution enforces the attribution invariants: a non-empty
// explanation and a confidence level inside [0, 1].
func ValidateAttribution(a types.CausalityAttribution) error {
	if a.Explanation == "" {
		return &errs.InvariantViolation{Record: "CausalityAttribution", Field: "explanation", Reason: "must not be empty"}
	}
	if a.ConfidenceLevel < 0 || a.ConfidenceLevel > 1 {
		return &errs.InvariantViolation{
			Record: "CausalityAttribution", Field: "confidence_level",
			Reason: fmt.Sprintf("must be within [0, 1], got %v", a.ConfidenceLevel),
		}
	}
	return nil
}

// ValidateCorrelationLink enforces the link invariants: distinct endpoints,
// a non-empty evidence list, and a score inside [0, 1].
func ValidateCorrelationLink(l types.CorrelationLink) error {
	if l.SourceEventID == l.TargetEventID {
		return &errs.InvariantViolation{Record: "CorrelationLink", Field: "target_event_id", Reason: "source and target must differ"}
	}
	if len(l.Evidence) == 0 {
		return &errs.InvariantViolation{Record: "CorrelationLink", Field: "evidence", Reason: "must not be empty"}
	}
	if l.Score < 0 || l.Score > 1 {
		return &errs.InvariantViolation{
			Record: "CorrelationLink", Field: "score",
			Reason: fmt.Sprintf("must be within [0, 1], got %v", l.Score),
		}
	}
	return nil
}
