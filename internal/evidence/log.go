// Package evidence implements the Evidence Log: a causally-ordered,
// append-only record of every event every other component produces, with
// monotonic produced_at timestamps and caused_by references that may only
// point backward.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/types"
)

// Log is the in-memory, append-only evidence stream.
type Log struct {
	mu     sync.RWMutex
	events []types.EvidenceEvent
	byID   map[string]int // event id -> index into events
}

// New returns an empty evidence log.
func New() *Log {
	return &Log{byID: make(map[string]int)}
}

// Append validates produced_at monotonicity and that every caused_by id
// refers to an event already in the log (backward references only — an
// event can never cite a cause that has not yet been recorded), then
// stores the event and returns its dense, gap-free, 1-based sequence
// number.
func (l *Log) Append(e types.EvidenceEvent) (int64, error) {
	if !e.EventType.Valid() {
		return 0, &errs.ContractViolation{Subject: "EvidenceEvent.EventType", Reason: fmt.Sprintf("not a declared event type: %q", e.EventType)}
	}
	if e.EventID == "" {
		return 0, &errs.InvariantViolation{Record: "EvidenceEvent", Field: "EventID", Reason: "must not be empty"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[e.EventID]; exists {
		return 0, &errs.WormViolation{Store: "evidence.Log", ID: e.EventID}
	}

	if len(l.events) > 0 {
		last := l.events[len(l.events)-1]
		if e.ProducedAt < last.ProducedAt {
			return 0, &errs.InvariantViolation{
				Record: "EvidenceEvent", Field: "ProducedAt",
				Reason: fmt.Sprintf("produced_at %q precedes last logged event's %q", e.ProducedAt, last.ProducedAt),
			}
		}
	}

	for _, causeID := range e.CausedBy {
		if causeID == e.EventID {
			return 0, &errs.InvariantViolation{Record: "EvidenceEvent", Field: "CausedBy", Reason: "an event cannot cite itself as its own cause"}
		}
		if _, ok := l.byID[causeID]; !ok {
			return 0, &errs.InvariantViolation{
				Record: "EvidenceEvent", Field: "CausedBy",
				Reason: fmt.Sprintf("caused_by %q does not reference an event already in the log", causeID),
			}
		}
	}

	l.byID[e.EventID] = len(l.events)
	l.events = append(l.events, e)
	return int64(len(l.events)), nil
}

// All returns a snapshot copy of every event, in append (produced_at) order.
func (l *Log) All() []types.EvidenceEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.EvidenceEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Entry pairs an event with the sequence number Append assigned it.
type Entry struct {
	Seq   int64
	Event types.EvidenceEvent
}

// AtOrBefore returns every (seq, event) pair with ProducedAt <= ts, in
// order. Used by the replay harness and by components computing a state as
// of a given instant.
func (l *Log) AtOrBefore(ts string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].ProducedAt > ts
	})
	out := make([]Entry, idx)
	for i := 0; i < idx; i++ {
		out[i] = Entry{Seq: int64(i + 1), Event: l.events[i]}
	}
	return out
}

// ByType returns every event of the given type, preserving order.
func (l *Log) ByType(t types.EvidenceEventType) []types.EvidenceEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []types.EvidenceEvent
	for _, e := range l.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// ReplayFingerprint computes SHA256(engineVersion + "|" + joined event ids)
// over the events currently in the log, in append order. Two independent
// replays over the same evidence stream with the same engine version
// produce the same fingerprint; any divergence in event ids, their order, or
// their count changes it. Event content other than the id is not part of the
// fingerprint.
func (l *Log) ReplayFingerprint(engineVersion string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, len(l.events))
	for i, e := range l.events {
		ids[i] = e.EventID
	}
	sum := sha256.Sum256([]byte(engineVersion + "|" + strings.Join(ids, ";")))
	return hex.EncodeToString(sum[:])
}
