package evidence

import (
	"testing"

	"github.com/tenon-core/tenon/internal/types"
)

func mkEvent(id string, producedAt string, causedBy ...string) types.EvidenceEvent {
	return types.EvidenceEvent{
		EventID:    id,
		EventType:  types.EvtIngestReceived,
		ProducedAt: producedAt,
		Payload:    map[string]any{"k": "v"},
		CausedBy:   causedBy,
	}
}

func TestAppendAssignsDenseSequenceNumbers(t *testing.T) {
	l := New()
	seq1, err := l.Append(mkEvent("e1", "2026-01-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("append e1: %v", err)
	}
	seq2, err := l.Append(mkEvent("e2", "2026-01-01T00:00:01Z"))
	if err != nil {
		t.Fatalf("append e2: %v", err)
	}
	if seq1 != 1 || seq2 != 2 {
		t.Fatalf("expected dense 1-based sequence numbers, got %d and %d", seq1, seq2)
	}
}

func TestAppendEnforcesProducedAtMonotonicity(t *testing.T) {
	l := New()
	if _, err := l.Append(mkEvent("e1", "2026-01-01T00:00:01Z")); err != nil {
		t.Fatalf("append e1: %v", err)
	}
	_, err := l.Append(mkEvent("e2", "2026-01-01T00:00:00Z"))
	if err == nil {
		t.Fatalf("expected monotonicity violation")
	}
}

func TestAppendRejectsForwardCausedByReference(t *testing.T) {
	l := New()
	_, err := l.Append(mkEvent("e1", "2026-01-01T00:00:00Z", "e2"))
	if err == nil {
		t.Fatalf("expected rejection of forward caused_by reference")
	}
}

func TestAppendAcceptsBackwardCausedByReference(t *testing.T) {
	l := New()
	if _, err := l.Append(mkEvent("e1", "2026-01-01T00:00:00Z")); err != nil {
		t.Fatalf("append e1: %v", err)
	}
	if _, err := l.Append(mkEvent("e2", "2026-01-01T00:00:01Z", "e1")); err != nil {
		t.Fatalf("append e2: %v", err)
	}
}

func TestAppendRejectsDuplicateEventID(t *testing.T) {
	l := New()
	if _, err := l.Append(mkEvent("e1", "2026-01-01T00:00:00Z")); err != nil {
		t.Fatalf("append e1: %v", err)
	}
	if _, err := l.Append(mkEvent("e1", "2026-01-01T00:00:01Z")); err == nil {
		t.Fatalf("expected worm violation on duplicate id")
	}
}

func TestAtOrBeforeFiltersByProducedAt(t *testing.T) {
	l := New()
	_, _ = l.Append(mkEvent("e1", "2026-01-01T00:00:00Z"))
	_, _ = l.Append(mkEvent("e2", "2026-01-01T00:00:01Z", "e1"))
	_, _ = l.Append(mkEvent("e3", "2026-01-01T00:00:02Z", "e2"))

	got := l.AtOrBefore("2026-01-01T00:00:01Z")
	if len(got) != 2 {
		t.Fatalf("expected 2 events at or before cutoff, got %d", len(got))
	}
	if got[0].Seq != 1 || got[0].Event.EventID != "e1" || got[1].Seq != 2 {
		t.Fatalf("expected (seq, event) pairs in order, got %+v", got)
	}
}

func TestReplayFingerprintStableAcrossIdenticalReplays(t *testing.T) {
	build := func() *Log {
		l := New()
		_, _ = l.Append(mkEvent("e1", "2026-01-01T00:00:00Z"))
		_, _ = l.Append(mkEvent("e2", "2026-01-01T00:00:01Z", "e1"))
		return l
	}
	f1 := build().ReplayFingerprint("v1")
	f2 := build().ReplayFingerprint("v1")
	if f1 != f2 {
		t.Fatalf("expected stable fingerprint across identical replays, got %s vs %s", f1, f2)
	}

	f3 := build().ReplayFingerprint("v2")
	if f1 == f3 {
		t.Fatalf("expected engine version change to change fingerprint")
	}
}
