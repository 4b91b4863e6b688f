// Package worm implements a hash-chained, append-only ledger of arbitrary
// content with retention policy and self-verification. Each entry chains
// over the previous entry's header hash:
//
//	header = seq|type|content_hash|written_at|previous_entry_hash
//	header_hash = SHA256(header)
package worm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/types"
)

// genesisPreviousHash is 64 zero bytes hex-encoded: 128 '0' characters.
var genesisPreviousHash = strings.Repeat("0", 128)

// Ledger is the in-memory, single-writer WORM ledger. It is never mutated
// or truncated; the ledger itself is authoritative.
type Ledger struct {
	mu      sync.Mutex
	entries []types.LedgerEntry
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

func headerString(seq int64, entryType types.LedgerEntryType, contentHash, writtenAt, previousHash string) string {
	return fmt.Sprintf("%d|%s|%s|%s|%s", seq, entryType, contentHash, writtenAt, previousHash)
}

func headerHash(seq int64, entryType types.LedgerEntryType, contentHash, writtenAt, previousHash string) string {
	sum := sha256.Sum256([]byte(headerString(seq, entryType, contentHash, writtenAt, previousHash)))
	return hex.EncodeToString(sum[:])
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Append computes the content hash, chains against the previous entry's
// header hash (or genesis), and stores the new entry. writtenAt is supplied
// by the caller; the ledger never reads a clock.
func (l *Ledger) Append(entryType types.LedgerEntryType, content []byte, writtenAt string, retention types.RetentionPolicy) (types.LedgerEntry, error) {
	if !entryType.Valid() {
		return types.LedgerEntry{}, &errs.ContractViolation{Subject: "LedgerEntry.EntryType", Reason: fmt.Sprintf("not a declared entry type: %q", entryType)}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := int64(len(l.entries)) + 1
	prevHash := genesisPreviousHash
	if len(l.entries) > 0 {
		prevHash = l.entries[len(l.entries)-1].EntryHeaderHash
	}

	cHash := contentHash(content)
	hHash := headerHash(seq, entryType, cHash, writtenAt, prevHash)

	entry := types.LedgerEntry{
		SequenceNumber:    seq,
		EntryType:         entryType,
		Content:           append([]byte(nil), content...),
		ContentHash:       cHash,
		WrittenAt:         writtenAt,
		Retention:         retention,
		PreviousEntryHash: prevHash,
		EntryHeaderHash:   hHash,
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// All returns a snapshot copy of every entry, in append order.
func (l *Ledger) All() []types.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries appended so far.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// VerifyChain recomputes every content hash and header hash and checks that
// each entry's PreviousEntryHash matches the prior entry's header hash.
// Tamper detection only: on failure it names the offending sequence number
// and never mutates the ledger.
func (l *Ledger) VerifyChain() (bool, *errs.ChainTampering) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return VerifyEntries(l.entries)
}

// VerifyEntries runs the same tamper check as (*Ledger).VerifyChain against
// an arbitrary, already-ordered entry slice — for verifying a chain loaded
// from a durability sink (SQLStore.Load) without first replaying it through
// a live Ledger.
func VerifyEntries(entries []types.LedgerEntry) (bool, *errs.ChainTampering) {
	prevHash := genesisPreviousHash
	for _, e := range entries {
		gotContentHash := contentHash(e.Content)
		if gotContentHash != e.ContentHash {
			return false, &errs.ChainTampering{SequenceNumber: e.SequenceNumber, Reason: "Content hash mismatch at sequence " + strconv.FormatInt(e.SequenceNumber, 10)}
		}
		if e.PreviousEntryHash != prevHash {
			return false, &errs.ChainTampering{SequenceNumber: e.SequenceNumber, Reason: "Previous entry hash mismatch at sequence " + strconv.FormatInt(e.SequenceNumber, 10)}
		}
		gotHeaderHash := headerHash(e.SequenceNumber, e.EntryType, e.ContentHash, e.WrittenAt, e.PreviousEntryHash)
		if gotHeaderHash != e.EntryHeaderHash {
			return false, &errs.ChainTampering{SequenceNumber: e.SequenceNumber, Reason: "Header hash mismatch at sequence " + strconv.FormatInt(e.SequenceNumber, 10)}
		}
		prevHash = e.EntryHeaderHash
	}
	return true, nil
}

// DueForPurgeAfter returns the sequence numbers of entries whose
// ImmutableUntil has passed asOf. This is a query only — the ledger has no
// delete method; a future archival job decides what to do with the result.
func (l *Ledger) DueForPurgeAfter(asOf string) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []int64
	for _, e := range l.entries {
		if e.Retention.ImmutableUntil != "" && e.Retention.ImmutableUntil <= asOf {
			due = append(due, e.SequenceNumber)
		}
	}
	return due
}
