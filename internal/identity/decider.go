// Package identity implements the Identity Decider, the companion to the
// Idempotency Guardian that decides whether a canonical event is new, a
// duplicate, or ambiguous relative to events already seen under the same
// or a colliding identifier. The collision check is deliberately strict: a
// source_event_id reappearing under a different key is flagged ambiguous,
// never silently accepted as a second event.
package identity

import (
	"github.com/tenon-core/tenon/internal/canon"
	"github.com/tenon-core/tenon/internal/idkey"
	"github.com/tenon-core/tenon/internal/types"
)

// KeyFields is the priority order for idempotency-key construction.
// Declared as an ordered slice, never a map, so both key derivation and
// any future conflicting-field reporting iterate in a stable, reproducible
// order.
var KeyFields = []string{
	"source_event_id", "external_reference", "source_system", "source_timestamp",
	"observed_at", "amount", "currency", "direction", "event_type",
	"normalizer_version", "adapter_version", "schema_version", "canonicalization_context",
}

// criticalFields is the subset of KeyFields that must match exactly for a
// same-key repeat to be a true duplicate rather than an ambiguous conflict.
var criticalFields = []string{"amount", "currency", "direction", "event_type", "source_system"}

// Values carries one event's field values for identity purposes, keyed by
// the same names as KeyFields.
type Values map[string]string

// BuildKey derives the versioned idempotency key for vals, in KeyFields
// priority order, using hash as the underlying digest function (production
// callers pass sha256; tests inject a stub for deterministic collisions).
func BuildKey(version string, vals Values, hash idkey.HashFunc) string {
	fields := make([]idkey.Field, 0, len(KeyFields))
	for _, name := range KeyFields {
		fields = append(fields, idkey.Field{Name: name, Value: vals[name]})
	}
	return idkey.BuildKey(version, fields, hash)
}

// seenEvent is what the decider remembers about one previously-decided
// event, enough to compare critical fields and detect identifier collision
// on a later event presenting the same source_event_id under a different
// key.
type seenEvent struct {
	eventID       string
	key           string
	sourceEventID string
	values        Values
}

// Decider holds the identity state the guardian needs: key -> event and
// source_event_id -> key, so a later event reusing a source_event_id under
// a new key is flagged rather than silently accepted.
type Decider struct {
	byKey            map[string]seenEvent
	keyBySourceEvent map[string]string
	version          string
	deciderVersion   string
	hash             idkey.HashFunc
}

// New returns an empty Decider. keyVersion is the idempotency-key schema
// version (the "v<version>" prefix on every derived key); deciderVersion
// is recorded on every decision record for provenance.
func New(keyVersion, deciderVersion string, hash idkey.HashFunc) *Decider {
	return &Decider{
		byKey:            make(map[string]seenEvent),
		keyBySourceEvent: make(map[string]string),
		version:          keyVersion,
		deciderVersion:   deciderVersion,
		hash:             hash,
	}
}

// Decide resolves vals against everything seen so far and, on first sight
// of a new key, records it. eventID is the candidate id the caller will use
// if this turns out to be an ACCEPT; on REJECT_DUPLICATE/FLAG_AMBIGUOUS the
// record's EventID instead names the already-accepted event the caller
// matched against, so repeated submissions of the same event resolve to the
// same event_id rather than a fresh, never-recorded candidate each time.
func (d *Decider) Decide(eventID string, vals Values, decidedAt string) types.IdentityDecisionRecord {
	key := BuildKey(d.version, vals, d.hash)

	if prior, ok := d.byKey[key]; ok {
		conflicting := conflictingFields(prior.values, vals)
		if len(conflicting) == 0 {
			return types.IdentityDecisionRecord{
				IdempotencyKey: key,
				Decision:       types.DecisionRejectDuplicate,
				EventID:        prior.eventID,
				DecidedAt:      decidedAt,
				Evidence: types.IdentityDecisionEvidence{
					Reason:         "identical critical fields under an existing key",
					MatchedEventID: prior.eventID,
					MatchScore:     1.0,
				},
				DeciderVersion: d.deciderVersion,
			}
		}
		return types.IdentityDecisionRecord{
			IdempotencyKey: key,
			Decision:       types.DecisionFlagAmbiguous,
			EventID:        prior.eventID,
			DecidedAt:      decidedAt,
			Evidence: types.IdentityDecisionEvidence{
				Reason:            "same key, conflicting critical fields",
				MatchedEventID:    prior.eventID,
				ConflictingFields: conflicting,
				MatchScore:        1.0 - float64(len(conflicting))/float64(len(criticalFields)),
			},
			DeciderVersion: d.deciderVersion,
		}
	}

	sourceEventID := vals["source_event_id"]
	if sourceEventID != "" {
		if existingKey, ok := d.keyBySourceEvent[sourceEventID]; ok && existingKey != key {
			matched := d.byKey[existingKey]
			return types.IdentityDecisionRecord{
				IdempotencyKey: key,
				Decision:       types.DecisionFlagAmbiguous,
				EventID:        matched.eventID,
				DecidedAt:      decidedAt,
				Evidence: types.IdentityDecisionEvidence{
					Reason:         "source_event_id already registered under a different idempotency key",
					MatchedEventID: matched.eventID,
					MatchScore:     0.5,
				},
				DeciderVersion: d.deciderVersion,
			}
		}
	}

	d.byKey[key] = seenEvent{eventID: eventID, key: key, sourceEventID: sourceEventID, values: vals}
	if sourceEventID != "" {
		d.keyBySourceEvent[sourceEventID] = key
	}

	return types.IdentityDecisionRecord{
		IdempotencyKey: key,
		Decision:       types.DecisionAccept,
		EventID:        eventID,
		DecidedAt:      decidedAt,
		DeciderVersion: d.deciderVersion,
	}
}

// conflictingFields returns the critical fields on which a and b disagree,
// in the declared criticalFields order — never derived from map iteration.
func conflictingFields(a, b Values) []string {
	var out []string
	for _, f := range criticalFields {
		if a[f] != b[f] {
			out = append(out, f)
		}
	}
	return out
}

// NormalizeAmount renders a float64 the way idempotency-key values are
// normalized: ≤10 decimals, trailing zeros stripped.
func NormalizeAmount(amount float64) string {
	return canon.FormatFloat(amount)
}
