package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/tenon-core/tenon/internal/canon"
)

// DiffDocument records exactly what normalization did to one observation:
// the rule applied (if any), the resulting canonical document, and which
// fields were defaulted to "UNKNOWN" or are declared lossy. It is written
// unconditionally, including when normalization could not run at all.
type DiffDocument struct {
	Ref          string
	RawPointer   string
	RuleID       string
	RuleVersion  string
	RuleMatched  bool
	Canonical    map[string]any
	MissingPaths []string
	LossyFields  []string
	FailureNote  string
}

func (d DiffDocument) RecordID() string { return d.Ref }

// DiffStore is the append-only home for DiffDocuments, addressed by an
// opaque, stable reference derived from the document's own content so the
// same diff recorded twice (e.g. on replay) resolves to the same ref.
type DiffStore struct {
	mu   sync.RWMutex
	byID map[string]DiffDocument
	refs []string
}

// NewDiffStore returns an empty diff store.
func NewDiffStore() *DiffStore {
	return &DiffStore{byID: make(map[string]DiffDocument)}
}

// Record writes doc (filling in its Ref) and returns the ref.
func (s *DiffStore) Record(doc DiffDocument) (string, error) {
	doc.Ref = ""
	b, err := canon.Bytes(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	ref := "diff:" + hex.EncodeToString(sum[:])[:32]
	doc.Ref = ref

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[ref]; !exists {
		s.byID[ref] = doc
		s.refs = append(s.refs, ref)
	}
	return ref, nil
}

// Get looks up a previously-recorded diff document by its reference.
func (s *DiffStore) Get(ref string) (DiffDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.byID[ref]
	return doc, ok
}

// applyMapping copies each mapping's raw value to its canonical path.
// Missing raw values become the literal "UNKNOWN" and are reported in
// missing, never defaulted silently.
func applyMapping(raw map[string]any, rule Rule) (canonical map[string]any, missing []string) {
	canonical = make(map[string]any)
	for _, m := range rule.Mappings {
		v, ok := getPath(raw, m.RawPath)
		if !ok {
			setPath(canonical, m.CanonicalPath, "UNKNOWN")
			missing = append(missing, m.CanonicalPath)
			continue
		}
		setPath(canonical, m.CanonicalPath, v)
	}
	return canonical, missing
}
