// Package correlation implements the Correlation Engine, which proposes
// evidence-backed links between canonical events under a registered,
// version-ordered rule set. Link ids hash a canonical shape of the inputs
// — sorted (source_id, target_id, rule_id, rule_version) — never a random
// id, so independent evaluations of the same pair collide instead of
// duplicating.
package correlation

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tenon-core/tenon/internal/canon"
	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/store"
	"github.com/tenon-core/tenon/internal/telemetry"
	"github.com/tenon-core/tenon/internal/types"
)

// ScoreFloor is the fixed minimum score below which a candidate link is
// dropped rather than persisted.
const ScoreFloor = 0.1

// GatherFunc computes the closed-type evidence items linking a and b under
// one rule. It must be pure: no clock reads, no I/O, no randomness.
type GatherFunc func(a, b types.CanonicalEvent) []types.CorrelationEvidenceItem

// Rule is one registered, versioned correlation rule.
type Rule struct {
	RuleID      string
	RuleVersion string
	Gather      GatherFunc
}

// Engine evaluates a version-ordered rule set against a list of canonical
// events, producing every plausible link rather than a single "best" —
// downstream consumers (the state machine, human reviewers) interpret
// ambiguity, the engine never resolves it.
type Engine struct {
	EngineVersion string
	Rules         []Rule
	Tracer        oteltrace.Tracer
}

// New returns an Engine for the given engine version and rules, evaluated
// in the order given.
func New(engineVersion string, rules []Rule) *Engine {
	return &Engine{EngineVersion: engineVersion, Rules: rules, Tracer: telemetry.TracerOrNoop(nil, "tenon/correlation")}
}

// Evaluate runs every registered rule over every unordered pair of events
// (i < j, events sorted by event_id), producing a CorrelationLink for each
// candidate whose score clears ScoreFloor. createdAt is caller-supplied;
// the engine never reads a clock.
func (e *Engine) Evaluate(ctx context.Context, events []types.CanonicalEvent, createdAt string) []types.CorrelationLink {
	_, span := telemetry.TracerOrNoop(e.Tracer, "tenon/correlation").Start(ctx, "correlation.Engine.Evaluate", oteltrace.WithAttributes(
		attribute.Int("event_count", len(events)),
		attribute.Int("rule_count", len(e.Rules)),
	))
	defer span.End()

	sorted := make([]types.CanonicalEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EventID < sorted[j].EventID })

	var links []types.CorrelationLink
	for _, rule := range e.Rules {
		for i := 0; i < len(sorted); i++ {
			for j := i + 1; j < len(sorted); j++ {
				a, b := sorted[i], sorted[j]
				evidence := rule.Gather(a, b)
				if len(evidence) == 0 {
					continue
				}
				score := clampedAverageScore(evidence)
				if score < ScoreFloor {
					continue
				}
				links = append(links, types.CorrelationLink{
					LinkID:        deriveLinkID(a.EventID, b.EventID, rule.RuleID, rule.RuleVersion),
					SourceEventID: a.EventID,
					TargetEventID: b.EventID,
					RuleID:        rule.RuleID,
					RuleVersion:   rule.RuleVersion,
					Score:         score,
					Evidence:      evidence,
					EngineVersion: e.EngineVersion,
					CreatedAt:     createdAt,
				})
			}
		}
	}
	span.SetAttributes(attribute.Int("link_count", len(links)))
	return links
}

// clampedAverageScore sums every evidence item's weight (CONTRADICTION_FLAG
// contributes a negative weight, by convention of its GatherFunc), divides
// by the evidence count, and clamps to [0, 1].
func clampedAverageScore(evidence []types.CorrelationEvidenceItem) float64 {
	var total float64
	for _, ev := range evidence {
		total += ev.Weight
	}
	score := total / float64(len(evidence))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// deriveLinkID hashes the canonical, sorted shape of the link's identity —
// never a random id — so the same pair, rule, and rule version always
// produces the same link_id across independent evaluations.
func deriveLinkID(sourceID, targetID, ruleID, ruleVersion string) string {
	ids := []string{sourceID, targetID}
	sort.Strings(ids)
	h, err := canon.Hash(strings.Join(ids, "|") + "|" + ruleID + "|" + ruleVersion)
	if err != nil {
		// canon.Hash only fails on values json cannot marshal; a string
		// literal always marshals, so this is unreachable in practice.
		return "link-error"
	}
	return "link-" + h[:32]
}

// PersistLinks validates each link's invariants (distinct endpoints,
// non-empty evidence, score in range, declared evidence types) and appends
// it to dest. Persistence is strictly additive: reattempting to persist an
// existing link_id is a WormViolation, not an upsert.
func PersistLinks(dest *store.Store[string, types.CorrelationLink], links []types.CorrelationLink) error {
	for _, l := range links {
		if err := store.ValidateCorrelationLink(l); err != nil {
			return err
		}
		if err := RequireEvidenceTypeValid(l.Evidence); err != nil {
			return err
		}
		if err := dest.Append(l, map[string]string{"source": l.SourceEventID, "target": l.TargetEventID}); err != nil {
			return err
		}
	}
	return nil
}

// BuildMoneyFlow projects every link touching the given event set into a
// canonical, replayable artifact: link ids sorted lexicographically, plus
// the input event ids sorted.
func BuildMoneyFlow(dest *store.Store[string, types.CorrelationLink], flowID string, eventIDs []string) types.MoneyFlowProjection {
	inSet := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		inSet[id] = true
	}

	var linkIDs []string
	for _, l := range dest.All() {
		if inSet[l.SourceEventID] || inSet[l.TargetEventID] {
			linkIDs = append(linkIDs, l.LinkID)
		}
	}
	sort.Strings(linkIDs)

	sortedEventIDs := make([]string, len(eventIDs))
	copy(sortedEventIDs, eventIDs)
	sort.Strings(sortedEventIDs)

	return types.MoneyFlowProjection{
		FlowID:   flowID,
		EventIDs: sortedEventIDs,
		LinkIDs:  linkIDs,
	}
}

// RequireEvidenceTypeValid validates that every evidence item a GatherFunc
// produces uses a declared EvidenceType, catching a rule bug at evaluation
// time rather than letting an unrecognized type silently skew scoring.
func RequireEvidenceTypeValid(evidence []types.CorrelationEvidenceItem) error {
	for _, ev := range evidence {
		if !ev.Type.Valid() {
			return &errs.ContractViolation{Subject: "CorrelationEvidenceItem.Type", Reason: "not a declared evidence type"}
		}
	}
	return nil
}
