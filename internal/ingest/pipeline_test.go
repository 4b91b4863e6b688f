package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tenon-core/tenon/internal/evidence"
	"github.com/tenon-core/tenon/internal/identity"
	"github.com/tenon-core/tenon/internal/idempotency"
	"github.com/tenon-core/tenon/internal/types"
	"github.com/tenon-core/tenon/internal/worm"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func counter() func() string {
	var n int64
	return func() string {
		return "id-" + strconv.FormatInt(atomic.AddInt64(&n, 1), 10)
	}
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	registry, err := LoadRuleRegistry("testdata/rules.yaml")
	if err != nil {
		t.Fatalf("load rule registry: %v", err)
	}
	decider := identity.New("1", "1", sha)
	guardian := idempotency.New(worm.New(), counter())
	return NewPipeline(registry, decider, guardian, evidence.New())
}

func baseInput(raw []byte) Input {
	return Input{
		Raw:                   raw,
		Format:                types.FormatJSON,
		SourceSystem:          "bankcorp",
		SourceConnector:       "bankcorp-webhook",
		SourceEnvironment:     "prod",
		SchemaHint:            "payment.v1",
		ObservedAt:            "2026-01-01T00:00:00Z",
		SourceTimestamp:       "2026-01-01T00:00:00Z",
		IngestedAt:            "2026-01-01T00:00:01Z",
		DecidedAt:             "2026-01-01T00:00:01Z",
		AdapterVersion:        "1",
		IngestProtocolVersion: "1",
		SchemaVersion:         "1",
	}
}

// TestIngestAcceptsNewObservation covers the golden path: a well-formed,
// previously-unseen payload normalizes cleanly and is accepted.
func TestIngestAcceptsNewObservation(t *testing.T) {
	p := newTestPipeline(t)
	raw := []byte(`{"source_event_id":"evt-1","external_ref":"ref-1","amount":100.5,"currency":"USD","direction":"IN","type":"PAYMENT_SETTLED"}`)

	res, err := p.Ingest(context.Background(), baseInput(raw), counter())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.IngestRecord.IdempotencyDecision != types.DecisionAccept {
		t.Fatalf("expected ACCEPT, got %+v", res.IngestRecord)
	}
	if res.CanonicalEvent == nil || res.CanonicalEvent.EventType != types.EventPaymentSettled {
		t.Fatalf("expected a canonical PAYMENT_SETTLED event, got %+v", res.CanonicalEvent)
	}
	if res.DiffRef == "" {
		t.Fatalf("expected a diff reference")
	}
}

// TestIngestRetryStorm: the same bytes delivered
// repeatedly (a retry storm) each produce their own unconditional
// IngestRecord, but only the first is a clean ACCEPT — the rest are
// REJECT_DUPLICATE from the Identity Decider, and the raw-hash-level
// Guardian check logs every retry as a duplicate of the first.
func TestIngestRetryStorm(t *testing.T) {
	p := newTestPipeline(t)
	raw := []byte(`{"source_event_id":"evt-retry","external_ref":"ref-retry","amount":50,"currency":"USD","direction":"IN","type":"PAYMENT_SETTLED"}`)

	const attempts = 5
	alloc := counter()
	var accepted int
	var eventIDs []string
	for i := 0; i < attempts; i++ {
		res, err := p.Ingest(context.Background(), baseInput(raw), alloc)
		if err != nil {
			t.Fatalf("ingest attempt %d: %v", i, err)
		}
		if res.IngestRecord.IdempotencyDecision == types.DecisionAccept {
			accepted++
		}
		eventIDs = append(eventIDs, res.IngestRecord.EventID)
	}
	if accepted != 1 {
		t.Fatalf("expected exactly 1 acceptance across %d retries, got %d", attempts, accepted)
	}
	if eventIDs[0] == "" {
		t.Fatalf("expected a non-empty event_id on the accepted attempt")
	}
	for i, id := range eventIDs {
		if id != eventIDs[0] {
			t.Fatalf("expected identical event_id across all %d retry attempts, attempt %d had %q, attempt 0 had %q", attempts, i, id, eventIDs[0])
		}
	}
	if p.Ingests.Len() != attempts {
		t.Fatalf("expected %d unconditionally-appended ingest records, got %d", attempts, p.Ingests.Len())
	}
	if p.Raw.Len() != 1 {
		t.Fatalf("expected the raw payload store to dedupe identical bytes, got %d entries", p.Raw.Len())
	}
}

// TestIngestFlagsSourceEventIDCollision: a new
// idempotency key presenting a source_event_id already registered under a
// different key is flagged ambiguous rather than silently accepted.
func TestIngestFlagsSourceEventIDCollision(t *testing.T) {
	p := newTestPipeline(t)
	alloc := counter()
	first := []byte(`{"source_event_id":"evt-shared","external_ref":"ref-a","amount":10,"currency":"USD","direction":"IN","type":"PAYMENT_SETTLED"}`)
	second := []byte(`{"source_event_id":"evt-shared","external_ref":"ref-b","amount":10,"currency":"USD","direction":"IN","type":"PAYMENT_SETTLED"}`)

	if res, err := p.Ingest(context.Background(), baseInput(first), alloc); err != nil || res.IngestRecord.IdempotencyDecision != types.DecisionAccept {
		t.Fatalf("expected first observation accepted, got %+v err=%v", res, err)
	}

	res2, err := p.Ingest(context.Background(), baseInput(second), alloc)
	if err != nil {
		t.Fatalf("ingest second: %v", err)
	}
	if res2.IngestRecord.IdempotencyDecision != types.DecisionFlagAmbiguous {
		t.Fatalf("expected FLAG_AMBIGUOUS on source_event_id collision under a new key, got %+v", res2.IngestRecord)
	}
	if res2.IdentityDecision == nil || len(res2.IdentityDecision.Evidence.MatchedEventID) == 0 {
		t.Fatalf("expected identity decision evidence to name the matched event, got %+v", res2.IdentityDecision)
	}
}

// TestIngestUnparseablePayloadFlagsAmbiguous covers an unparseable raw
// payload: no crash, a warning is recorded, and the decision is ambiguous
// rather than a silent accept.
func TestIngestUnparseablePayloadFlagsAmbiguous(t *testing.T) {
	p := newTestPipeline(t)
	in := baseInput([]byte(`{not valid json`))

	res, err := p.Ingest(context.Background(), in, counter())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.IngestRecord.IdempotencyDecision != types.DecisionFlagAmbiguous {
		t.Fatalf("expected FLAG_AMBIGUOUS for unparseable payload, got %+v", res.IngestRecord)
	}
	if len(res.IngestRecord.Warnings) == 0 {
		t.Fatalf("expected at least one warning recorded")
	}
	if res.CanonicalEvent != nil {
		t.Fatalf("expected no canonical event for an unparseable payload")
	}
}

// TestIngestMissingRawValueDefaultsToUnknownWithWarning exercises the
// missing-value contract: an absent raw field maps to the literal
// "UNKNOWN" and a warning, never a silently zero-valued field.
func TestIngestMissingRawValueDefaultsToUnknownWithWarning(t *testing.T) {
	p := newTestPipeline(t)
	raw := []byte(`{"source_event_id":"evt-missing","amount":10,"currency":"USD","direction":"IN","type":"PAYMENT_SETTLED"}`)

	res, err := p.Ingest(context.Background(), baseInput(raw), counter())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.CanonicalEvent == nil || res.CanonicalEvent.ExternalReference != "UNKNOWN" {
		t.Fatalf("expected external_reference to default to UNKNOWN, got %+v", res.CanonicalEvent)
	}
	found := false
	for _, w := range res.IngestRecord.Warnings {
		if w != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning about the defaulted field")
	}
}

// TestIngestAttachesValidLineageLinks covers a payload that declares a
// well-formed lineage_links array: the canonical event carries it through
// unchanged and no warning is raised.
func TestIngestAttachesValidLineageLinks(t *testing.T) {
	p := newTestPipeline(t)
	raw := []byte(`{"source_event_id":"evt-refund","external_ref":"ref-refund","amount":25,"currency":"USD","direction":"OUT","type":"PAYMENT_SETTLED",` +
		`"lineage_links":[{"type":"REFUND_OF","target_event_id":"evt-original","evidence":"manual-review-9","version":"1"}]}`)

	res, err := p.Ingest(context.Background(), baseInput(raw), counter())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.CanonicalEvent == nil || len(res.CanonicalEvent.LineageLinks) != 1 {
		t.Fatalf("expected one lineage link attached, got %+v", res.CanonicalEvent)
	}
	link := res.CanonicalEvent.LineageLinks[0]
	if link.Type != types.LineageRefundOf || link.TargetEventID != "evt-original" {
		t.Fatalf("unexpected lineage link: %+v", link)
	}
	for _, w := range res.IngestRecord.Warnings {
		if w != "" {
			t.Fatalf("expected no warnings for valid lineage links, got %q", w)
		}
	}
}

// TestIngestDropsMalformedLineageLinkWithWarning covers a payload whose
// lineage_links entry fails validation (missing evidence): the event is
// still accepted, but carries no lineage and logs a warning instead of
// silently trusting an incomplete link.
func TestIngestDropsMalformedLineageLinkWithWarning(t *testing.T) {
	p := newTestPipeline(t)
	raw := []byte(`{"source_event_id":"evt-badlineage","external_ref":"ref-badlineage","amount":25,"currency":"USD","direction":"OUT","type":"PAYMENT_SETTLED",` +
		`"lineage_links":[{"type":"REFUND_OF","target_event_id":"evt-original","version":"1"}]}`)

	res, err := p.Ingest(context.Background(), baseInput(raw), counter())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.CanonicalEvent == nil || len(res.CanonicalEvent.LineageLinks) != 0 {
		t.Fatalf("expected a malformed lineage link never to attach, got %+v", res.CanonicalEvent)
	}
	found := false
	for _, w := range res.IngestRecord.Warnings {
		if strings.Contains(w, "lineage_links rejected") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a lineage_links rejection warning, got %+v", res.IngestRecord.Warnings)
	}
}
