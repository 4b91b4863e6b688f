package lineage

import (
	"testing"

	"github.com/tenon-core/tenon/internal/types"
)

func validLink() types.LineageLink {
	return types.LineageLink{Type: types.LineageRefundOf, TargetEventID: "evt-1", Evidence: "manual-review-1", Version: "1"}
}

func TestValidateLinksAcceptsEmpty(t *testing.T) {
	if err := ValidateLinks(nil); err != nil {
		t.Fatalf("expected nil lineage to validate, got %v", err)
	}
}

func TestValidateLinksRejectsMissingEvidence(t *testing.T) {
	l := validLink()
	l.Evidence = ""
	if err := ValidateLinks([]types.LineageLink{l}); err == nil {
		t.Fatalf("expected rejection of a link with no evidence")
	}
}

func TestValidateLinksRejectsUndeclaredType(t *testing.T) {
	l := validLink()
	l.Type = types.LineageType("NOT_A_TYPE")
	if err := ValidateLinks([]types.LineageLink{l}); err == nil {
		t.Fatalf("expected rejection of an undeclared lineage type")
	}
}

func TestValidateAppendOnlyAcceptsPureAddition(t *testing.T) {
	prev := []types.LineageLink{validLink()}
	curr := append(append([]types.LineageLink{}, prev...), types.LineageLink{
		Type: types.LineageRelatedTo, TargetEventID: "evt-2", Evidence: "correlation-link-7", Version: "1",
	})
	if err := ValidateAppendOnly(prev, curr); err != nil {
		t.Fatalf("expected a pure addition to validate, got %v", err)
	}
}

func TestValidateAppendOnlyRejectsDeletion(t *testing.T) {
	prev := []types.LineageLink{validLink()}
	if err := ValidateAppendOnly(prev, nil); err == nil {
		t.Fatalf("expected rejection of a deleted lineage link")
	}
}

func TestValidateAppendOnlyRejectsMutation(t *testing.T) {
	prev := []types.LineageLink{validLink()}
	mutated := validLink()
	mutated.Evidence = "different-evidence"
	if err := ValidateAppendOnly(prev, []types.LineageLink{mutated}); err == nil {
		t.Fatalf("expected rejection of a mutated lineage link sharing (type, target_event_id)")
	}
}

func TestValidateNoCyclesRejectsSelfReference(t *testing.T) {
	l := validLink()
	l.TargetEventID = "evt-self"
	if err := ValidateNoCycles("evt-self", []types.LineageLink{l}); err == nil {
		t.Fatalf("expected rejection of a lineage link targeting its own event")
	}
}

func TestValidateNoCyclesAcceptsDistinctTarget(t *testing.T) {
	if err := ValidateNoCycles("evt-self", []types.LineageLink{validLink()}); err != nil {
		t.Fatalf("expected no cycle for a distinct target, got %v", err)
	}
}
