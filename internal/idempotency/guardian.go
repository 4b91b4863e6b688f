// Package idempotency implements the Idempotency Guardian, the single
// choke point deciding whether an incoming key has been seen before. A
// guardian backing a WORM ledger never updates an existing record: it only
// ever decides ACCEPT_FIRST once, REJECT_DUPLICATE for a repeat of the
// same fingerprint thereafter, and FLAG_AMBIGUOUS the moment a key
// reappears with a different fingerprint.
package idempotency

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tenon-core/tenon/internal/canon"
	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/idkey"
	"github.com/tenon-core/tenon/internal/store"
	"github.com/tenon-core/tenon/internal/types"
	"github.com/tenon-core/tenon/internal/worm"
)

// ExecutionKey derives the "scope|principal|subject" execution-gate key,
// independent of the field-list key internal/identity builds for
// canonical events, plus the fingerprint
// (hash of the canonical-JSON payload) Guard compares against the first
// decision recorded for that key to detect an accidental or deliberate
// collision. hash is injectable for deterministic collision testing.
func ExecutionKey(scope, principal, subject string, payload any, hash idkey.HashFunc) (key, fingerprint string, err error) {
	b, err := canon.Bytes(payload)
	if err != nil {
		return "", "", err
	}
	fingerprint = hash(string(b))
	key = scope + "|" + principal + "|" + subject
	return key, fingerprint, nil
}

// Decision is the outcome of one guard() call: the decision made, and
// whether this call was the one that first saw the key.
type Decision struct {
	Record    types.IdempotencyRecord
	FirstSeen bool
}

type seenKey struct {
	record      types.IdempotencyRecord
	fingerprint string
}

// Guardian is the single authority deciding ACCEPT_FIRST vs
// REJECT_DUPLICATE vs FLAG_AMBIGUOUS for a scoped idempotency key. A
// single mutex guards the key index together with both appends, and every
// decision is written to both the WORM ledger (as an AUDIT_RECORD) and the
// guardian's own append-only idempotency store, so neither trail can be
// complete without the other agreeing.
type Guardian struct {
	mu      sync.Mutex
	seen    map[string]seenKey // key -> first decision + its fingerprint
	store   *store.Store[string, types.IdempotencyRecord]
	ledger  *worm.Ledger
	idAlloc func() string
}

// New returns a Guardian backed by ledger for durable audit trail. idAlloc
// mints the IdempotencyRecord.ID (production callers pass a uuid
// generator; tests inject a deterministic counter).
func New(ledger *worm.Ledger, idAlloc func() string) *Guardian {
	return &Guardian{
		seen:    make(map[string]seenKey),
		store:   store.New[string, types.IdempotencyRecord]("idempotency"),
		ledger:  ledger,
		idAlloc: idAlloc,
	}
}

// Check reports whether key has already been decided, without mutating
// state. Useful for read-only diagnostics; Guard is the authority.
func (g *Guardian) Check(key string) (types.IdempotencyRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.seen[key]
	return rec.record, ok
}

// Guard is the single mutex-guarded decision point: exactly one caller
// among any number of concurrent callers presenting the same key receives
// FirstSeen=true with decision ACCEPT_FIRST. A later caller presenting the
// same key and the same fingerprint receives REJECT_DUPLICATE; a later
// caller presenting the same key with a *different* fingerprint (a
// deliberate or accidental collision) receives FLAG_AMBIGUOUS instead.
// evidenceRefs are evidence log event ids already recorded for this
// attempt (e.g. the INGEST_RECEIVED event), attached to the idempotency
// record for traceability. fingerprint is normally the hash segment of an
// ExecutionKey; passing the same fingerprint every call for a given key is
// the caller's responsibility.
func (g *Guardian) Guard(scope types.IdempotencyScope, key, fingerprint, decidedAt, ruleVersion string, evidenceRefs []string) (Decision, error) {
	if !scope.Valid() {
		return Decision{}, &errs.ContractViolation{Subject: "IdempotencyRecord.Scope", Reason: "not a declared scope"}
	}

	// One critical section across decide + ledger append + store append:
	// the read-modify-append sequence serializes as a unit, so the ledger
	// and store record decisions in the same order they were made.
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, seen := g.seen[key]
	var rec types.IdempotencyRecord
	var firstSeen bool

	switch {
	case !seen:
		rec = types.IdempotencyRecord{
			ID:           g.idAlloc(),
			Key:          key,
			Scope:        scope,
			Decision:     types.DecisionAcceptFirst,
			FirstSeenAt:  decidedAt,
			DecidedAt:    decidedAt,
			EvidenceRefs: evidenceRefs,
			RuleVersion:  ruleVersion,
			Notes:        "fingerprint " + fingerprint,
		}
		g.seen[key] = seenKey{record: rec, fingerprint: fingerprint}
		firstSeen = true
	case existing.fingerprint == fingerprint:
		rec = types.IdempotencyRecord{
			ID:           g.idAlloc(),
			Key:          key,
			Scope:        scope,
			Decision:     types.DecisionRejectDuplicate,
			FirstSeenAt:  existing.record.FirstSeenAt,
			DecidedAt:    decidedAt,
			EvidenceRefs: evidenceRefs,
			RuleVersion:  ruleVersion,
			Notes:        "duplicate of " + existing.record.ID,
		}
	default:
		rec = types.IdempotencyRecord{
			ID:           g.idAlloc(),
			Key:          key,
			Scope:        scope,
			Decision:     types.DecisionFlagAmbiguous,
			FirstSeenAt:  existing.record.FirstSeenAt,
			DecidedAt:    decidedAt,
			EvidenceRefs: evidenceRefs,
			RuleVersion:  ruleVersion,
			Notes:        "key collision: first seen fingerprint " + existing.fingerprint + ", now " + fingerprint,
		}
	}
	// Ledger first: the stored record carries a reference to its own WORM
	// audit entry in EvidenceRefs, so the content appended to the ledger is
	// the record as decided, and the worm ref is derived from the sequence
	// number the append assigned. Reconstruction re-derives it the same way.
	content, err := json.Marshal(rec)
	if err != nil {
		return Decision{}, err
	}
	entry, err := g.ledger.Append(types.EntryAuditRecord, content, decidedAt, types.RetentionPolicy{})
	if err != nil {
		return Decision{}, err
	}
	rec.EvidenceRefs = append(rec.EvidenceRefs, wormRef(entry.SequenceNumber))

	if err := g.store.Append(rec, map[string]string{"key": key, "scope": string(scope)}); err != nil {
		return Decision{}, err
	}

	return Decision{Record: rec, FirstSeen: firstSeen}, nil
}

func wormRef(seq int64) string {
	return fmt.Sprintf("worm:%d", seq)
}

// Reconstruct rebuilds the idempotency record sequence from a ledger's
// AUDIT_RECORD entries. Running it twice over the same ledger yields
// byte-identical record sequences, and the result matches what the live
// Guardian's store held when the entries were written — the replay
// guarantee spec'd for the guardian's audit trail.
func Reconstruct(entries []types.LedgerEntry) ([]types.IdempotencyRecord, error) {
	var out []types.IdempotencyRecord
	for _, e := range entries {
		if e.EntryType != types.EntryAuditRecord {
			continue
		}
		var rec types.IdempotencyRecord
		if err := json.Unmarshal(e.Content, &rec); err != nil {
			return nil, fmt.Errorf("reconstruct idempotency record from ledger sequence %d: %w", e.SequenceNumber, err)
		}
		rec.EvidenceRefs = append(rec.EvidenceRefs, wormRef(e.SequenceNumber))
		out = append(out, rec)
	}
	return out, nil
}

// GuardExec is the guarded-execution operation: thunk runs iff this
// call's decision is ACCEPT_FIRST, never otherwise.
// Bypass detection is an architectural invariant — in-scope operations
// must be invoked only through GuardExec, never executed directly by the
// caller, so that a duplicate or ambiguous key can never re-run work that
// already ran once.
func (g *Guardian) GuardExec(scope types.IdempotencyScope, key, fingerprint, decidedAt, ruleVersion string, evidenceRefs []string, thunk func() error) (Decision, bool, error) {
	decision, err := g.Guard(scope, key, fingerprint, decidedAt, ruleVersion, evidenceRefs)
	if err != nil {
		return Decision{}, false, err
	}
	if !decision.FirstSeen {
		return decision, false, nil
	}
	if thunk == nil {
		return decision, true, nil
	}
	if err := thunk(); err != nil {
		return decision, false, err
	}
	return decision, true, nil
}

// ByKey returns every decision ever recorded for key, including the
// duplicates, in decision order.
func (g *Guardian) ByKey(key string) []types.IdempotencyRecord {
	return g.store.Lookup("key", key)
}

// Len returns the total number of idempotency decisions recorded.
func (g *Guardian) Len() int {
	return g.store.Len()
}
