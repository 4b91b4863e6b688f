package idempotency

import (
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tenon-core/tenon/internal/types"
	"github.com/tenon-core/tenon/internal/worm"
)

func counterAlloc() func() string {
	var n int64
	return func() string {
		return "rec-" + strconv.FormatInt(atomic.AddInt64(&n, 1), 10)
	}
}

func TestGuardFirstCallerWinsAcceptFirst(t *testing.T) {
	g := New(worm.New(), counterAlloc())

	d1, err := g.Guard(types.ScopeIngest, "k1", "fp1", "2026-01-01T00:00:00Z", "v1", nil)
	if err != nil {
		t.Fatalf("guard 1: %v", err)
	}
	if !d1.FirstSeen || d1.Record.Decision != types.DecisionAcceptFirst {
		t.Fatalf("expected first caller to win ACCEPT_FIRST, got %+v", d1)
	}

	d2, err := g.Guard(types.ScopeIngest, "k1", "fp1", "2026-01-01T00:00:01Z", "v1", nil)
	if err != nil {
		t.Fatalf("guard 2: %v", err)
	}
	if d2.FirstSeen || d2.Record.Decision != types.DecisionRejectDuplicate {
		t.Fatalf("expected second caller to be rejected as duplicate, got %+v", d2)
	}
}

// TestGuardFlagsAmbiguousOnFingerprintCollision covers the third outcome:
// the same key reused with a different payload fingerprint is neither a
// clean accept nor a clean duplicate.
func TestGuardFlagsAmbiguousOnFingerprintCollision(t *testing.T) {
	g := New(worm.New(), counterAlloc())

	if _, err := g.Guard(types.ScopeIngest, "k1", "fp1", "2026-01-01T00:00:00Z", "v1", nil); err != nil {
		t.Fatalf("guard 1: %v", err)
	}
	d2, err := g.Guard(types.ScopeIngest, "k1", "fp2", "2026-01-01T00:00:01Z", "v1", nil)
	if err != nil {
		t.Fatalf("guard 2: %v", err)
	}
	if d2.FirstSeen || d2.Record.Decision != types.DecisionFlagAmbiguous {
		t.Fatalf("expected FLAG_AMBIGUOUS on fingerprint collision, got %+v", d2)
	}
}

// TestGuardExecRunsThunkOnlyOnFirstSight covers the guard(key, thunk)
// bypass-prevention invariant: the thunk executes exactly once, only for
// the caller that wins ACCEPT_FIRST.
func TestGuardExecRunsThunkOnlyOnFirstSight(t *testing.T) {
	g := New(worm.New(), counterAlloc())
	var runs int64

	_, ran1, err := g.GuardExec(types.ScopeIngest, "k1", "fp1", "2026-01-01T00:00:00Z", "v1", nil, func() error {
		atomic.AddInt64(&runs, 1)
		return nil
	})
	if err != nil || !ran1 {
		t.Fatalf("expected thunk to run on first sight, ran=%v err=%v", ran1, err)
	}

	_, ran2, err := g.GuardExec(types.ScopeIngest, "k1", "fp1", "2026-01-01T00:00:01Z", "v1", nil, func() error {
		atomic.AddInt64(&runs, 1)
		return nil
	})
	if err != nil || ran2 {
		t.Fatalf("expected thunk not to run on duplicate, ran=%v err=%v", ran2, err)
	}

	_, ran3, err := g.GuardExec(types.ScopeIngest, "k1", "fp2", "2026-01-01T00:00:02Z", "v1", nil, func() error {
		atomic.AddInt64(&runs, 1)
		return nil
	})
	if err != nil || ran3 {
		t.Fatalf("expected thunk not to run on ambiguous collision, ran=%v err=%v", ran3, err)
	}

	if runs != 1 {
		t.Fatalf("expected exactly 1 thunk execution, got %d", runs)
	}
}

// TestGuardConcurrentCallersExactlyOneWinner: 100
// concurrent callers presenting the same key produce exactly 1 ACCEPT_FIRST,
// 99 REJECT_DUPLICATE, 100 idempotency records, and at least 100 WORM
// entries (one audit record per decision).
func TestGuardConcurrentCallersExactlyOneWinner(t *testing.T) {
	ledger := worm.New()
	g := New(ledger, counterAlloc())

	const callers = 100
	var wg sync.WaitGroup
	var acceptFirstCount int64
	var rejectCount int64

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.Guard(types.ScopeIngest, "shared-key", "fp-shared", "2026-01-01T00:00:00Z", "v1", nil)
			if err != nil {
				t.Errorf("guard: %v", err)
				return
			}
			if d.FirstSeen {
				atomic.AddInt64(&acceptFirstCount, 1)
			} else {
				atomic.AddInt64(&rejectCount, 1)
			}
		}()
	}
	wg.Wait()

	if acceptFirstCount != 1 {
		t.Fatalf("expected exactly 1 ACCEPT_FIRST, got %d", acceptFirstCount)
	}
	if rejectCount != callers-1 {
		t.Fatalf("expected %d REJECT_DUPLICATE, got %d", callers-1, rejectCount)
	}
	if g.Len() != callers {
		t.Fatalf("expected %d idempotency records, got %d", callers, g.Len())
	}
	if ledger.Len() < callers {
		t.Fatalf("expected at least %d WORM entries, got %d", callers, ledger.Len())
	}
}

// TestReconstructFromLedgerIsDeterministic covers the guardian's replay
// guarantee: rebuilding the idempotency store from the WORM ledger twice
// yields byte-identical record sequences that match what the live store
// held, worm evidence refs included.
func TestReconstructFromLedgerIsDeterministic(t *testing.T) {
	ledger := worm.New()
	g := New(ledger, counterAlloc())

	decisions := []struct{ key, fp string }{
		{"k1", "fp1"},
		{"k1", "fp1"},
		{"k1", "fp2"},
		{"k2", "fpX"},
	}
	var live []types.IdempotencyRecord
	for i, d := range decisions {
		got, err := g.Guard(types.ScopeIngest, d.key, d.fp, "2026-01-01T00:00:0"+strconv.Itoa(i)+"Z", "v1", nil)
		if err != nil {
			t.Fatalf("guard %d: %v", i, err)
		}
		live = append(live, got.Record)
	}

	first, err := Reconstruct(ledger.All())
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	second, err := Reconstruct(ledger.All())
	if err != nil {
		t.Fatalf("reconstruct again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected byte-identical reconstruction across runs")
	}
	if !reflect.DeepEqual(first, live) {
		t.Fatalf("expected reconstruction to match the live record sequence:\n%+v\nvs\n%+v", first, live)
	}
}

func TestGuardAttachesWormEvidenceRef(t *testing.T) {
	g := New(worm.New(), counterAlloc())
	d, err := g.Guard(types.ScopeIngest, "k1", "fp1", "2026-01-01T00:00:00Z", "v1", []string{"ingest-1"})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if len(d.Record.EvidenceRefs) != 2 || d.Record.EvidenceRefs[1] != "worm:1" {
		t.Fatalf("expected the worm audit ref appended to evidence refs, got %v", d.Record.EvidenceRefs)
	}
}

func TestGuardRejectsInvalidScope(t *testing.T) {
	g := New(worm.New(), counterAlloc())
	if _, err := g.Guard(types.IdempotencyScope("BOGUS"), "k1", "fp1", "2026-01-01T00:00:00Z", "v1", nil); err == nil {
		t.Fatalf("expected contract violation for invalid scope")
	}
}
