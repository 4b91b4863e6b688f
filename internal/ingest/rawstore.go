package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/tenon-core/tenon/internal/idkey"
	"github.com/tenon-core/tenon/internal/types"
)

// RawPayload is one content-addressed raw observation, stored exactly as
// received. Pointer is an opaque, stable reference derived from the
// content hash, never from an externally-supplied name.
type RawPayload struct {
	Pointer string
	Hash    string
	Format  types.RawFormat
	Bytes   []byte
}

func (r RawPayload) RecordID() string { return r.Pointer }

// RawPayloadStore is the content-hash-addressed raw payload intake.
// Storage is idempotent by hash: Put never errors on a repeat of bytes
// already seen — it returns the existing record instead of appending a
// second one.
type RawPayloadStore struct {
	mu      sync.RWMutex
	byHash  map[string]RawPayload
	ordered []RawPayload
}

// NewRawPayloadStore returns an empty store.
func NewRawPayloadStore() *RawPayloadStore {
	return &RawPayloadStore{byHash: make(map[string]RawPayload)}
}

// Put stores raw under its content hash. A second Put of identical bytes
// is a no-op that returns the original record, independent of and prior to
// the Idempotency Guardian's own key-based decision.
func (s *RawPayloadStore) Put(raw []byte, format types.RawFormat) RawPayload {
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	pointer := "raw:" + idkey.EncodeBase36(sum[:], 24)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byHash[hash]; ok {
		return existing
	}
	rec := RawPayload{Pointer: pointer, Hash: hash, Format: format, Bytes: raw}
	s.byHash[hash] = rec
	s.ordered = append(s.ordered, rec)
	return rec
}

// Get looks up a previously-stored payload by its content hash.
func (s *RawPayloadStore) Get(hash string) (RawPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byHash[hash]
	return rec, ok
}

// Len returns the number of distinct raw payloads stored.
func (s *RawPayloadStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}
