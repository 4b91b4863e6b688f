// Package store implements a generic, append-only record store usable for
// every entity kind in the system (canonical events, correlation links,
// discrepancies, causality attributions, risk signals, version entries...).
// The public type deliberately exposes no update, delete, upsert, replace,
// clear, or truncate method — an append-only store cannot be asked to
// mutate.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tenon-core/tenon/internal/errs"
)

// Identified is implemented by any record type with a stable, caller-chosen
// id, the only thing a Store needs to enforce uniqueness.
type Identified[ID comparable] interface {
	RecordID() ID
}

// Store is a generic, append-only, in-memory store of records keyed by a
// comparable id, with optional secondary indices keyed by string.
type Store[ID comparable, T Identified[ID]] struct {
	name string

	mu      sync.RWMutex
	byID    map[ID]T
	order   []ID
	indices map[string]map[string][]ID // index name -> index key -> ids, in insertion order
}

// New returns an empty store. name identifies the store in WormViolation
// errors and is otherwise cosmetic.
func New[ID comparable, T Identified[ID]](name string) *Store[ID, T] {
	return &Store[ID, T]{
		name:    name,
		byID:    make(map[ID]T),
		indices: make(map[string]map[string][]ID),
	}
}

// Append inserts a record. A duplicate id is a WormViolation: the store
// never overwrites.
func (s *Store[ID, T]) Append(record T, indexKeys map[string]string) error {
	id := record.RecordID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[id]; exists {
		return &errs.WormViolation{Store: s.name, ID: fmt.Sprintf("%v", id)}
	}

	s.byID[id] = record
	s.order = append(s.order, id)

	for indexName, key := range indexKeys {
		idx, ok := s.indices[indexName]
		if !ok {
			idx = make(map[string][]ID)
			s.indices[indexName] = idx
		}
		idx[key] = append(idx[key], id)
	}

	return nil
}

// Get returns the record for id, if present.
func (s *Store[ID, T]) Get(id ID) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	return v, ok
}

// All returns every record in append order.
func (s *Store[ID, T]) All() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Len returns the number of records in the store.
func (s *Store[ID, T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Lookup returns every record whose indexName/key pair was registered at
// Append time, in insertion order.
func (s *Store[ID, T]) Lookup(indexName, key string) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[indexName]
	if !ok {
		return nil
	}
	ids := idx[key]
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

// SortByFunc returns a copy of records sorted by less, used by callers that
// need deterministic ordering (discrepancy and causality registries sort
// their output by declared tie-break keys) without the store itself
// imposing an order.
func SortByFunc[T any](records []T, less func(a, b T) bool) []T {
	out := make([]T, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
