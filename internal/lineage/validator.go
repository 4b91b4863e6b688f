// Package lineage validates the LineageLink edges carried on a
// CanonicalEvent: explicit (every required field present), type-validated
// against the closed taxonomy, strictly append-only across revisions, and
// never self-referential.
package lineage

import (
	"fmt"

	"github.com/tenon-core/tenon/internal/canon"
	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/types"
)

// ValidateLinks rejects a lineage link carrying an empty TargetEventID,
// Evidence, or Version, or a Type outside the closed LineageType taxonomy.
// A nil or empty list is valid — no lineage is required.
func ValidateLinks(links []types.LineageLink) error {
	for i, l := range links {
		if l.TargetEventID == "" {
			return &errs.ContractViolation{Subject: "LineageLink.TargetEventID", Reason: fmt.Sprintf("link [%d] missing target_event_id", i)}
		}
		if l.Evidence == "" {
			return &errs.ContractViolation{Subject: "LineageLink.Evidence", Reason: fmt.Sprintf("link [%d] missing evidence", i)}
		}
		if l.Version == "" {
			return &errs.ContractViolation{Subject: "LineageLink.Version", Reason: fmt.Sprintf("link [%d] missing version", i)}
		}
		if !l.Type.Valid() {
			return &errs.ContractViolation{Subject: "LineageLink.Type", Reason: fmt.Sprintf("link [%d] has undeclared lineage type %q", i, l.Type)}
		}
	}
	return nil
}

// ValidateAppendOnly rejects a transition from previous to current where a
// previously recorded link is absent from current (deletion) or where a
// link sharing a previous link's (Type, TargetEventID) identity now hashes
// differently over its full field set (mutation in place).
func ValidateAppendOnly(previous, current []types.LineageLink) error {
	prevKeys := make(map[string]bool, len(previous))
	prevByIdentity := make(map[string]types.LineageLink, len(previous))
	for _, l := range previous {
		prevKeys[linkKey(l)] = true
		prevByIdentity[linkIdentity(l)] = l
	}

	currKeys := make(map[string]bool, len(current))
	currByIdentity := make(map[string]types.LineageLink, len(current))
	for _, l := range current {
		currKeys[linkKey(l)] = true
		currByIdentity[linkIdentity(l)] = l
	}

	for k := range prevKeys {
		if !currKeys[k] {
			return &errs.ContractViolation{Subject: "LineageLink", Reason: "lineage links cannot be deleted: append-only violation"}
		}
	}
	for identity, prevLink := range prevByIdentity {
		currLink, ok := currByIdentity[identity]
		if ok && linkKey(currLink) != linkKey(prevLink) {
			return &errs.ContractViolation{Subject: "LineageLink", Reason: "lineage link cannot be modified: append-only violation on " + identity}
		}
	}
	return nil
}

// ValidateNoCycles rejects a link naming the owning event itself as its
// target — the one cycle detectable without the full event graph.
func ValidateNoCycles(eventID string, links []types.LineageLink) error {
	for _, l := range links {
		if l.TargetEventID == eventID {
			return &errs.ContractViolation{Subject: "LineageLink.TargetEventID", Reason: "lineage link cannot point to its own event: cycle detected"}
		}
	}
	return nil
}

// linkKey hashes a link's full field set so an identical link always
// produces the same key regardless of in-memory representation.
func linkKey(l types.LineageLink) string {
	h, err := canon.Hash(l)
	if err != nil {
		return "link-error"
	}
	return h
}

func linkIdentity(l types.LineageLink) string {
	return string(l.Type) + ":" + l.TargetEventID
}
