// Package versioning implements change control: per-component version
// histories resolved deterministically by effective-at, and the
// declaration-then-builder path that turns an authorized change request
// into both its audit event and the registry updates it names.
package versioning

import (
	"sort"

	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/types"
)

// Registry holds, per component, an ordered list of (version, effective_at)
// entries.
type Registry struct {
	byComponent map[string][]types.VersionEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byComponent: make(map[string][]types.VersionEntry)}
}

// Register adds a version entry for component. Entries are kept sorted by
// EffectiveAt so Resolve can binary-search.
func (r *Registry) Register(component string, entry types.VersionEntry) {
	entries := append(r.byComponent[component], entry)
	sort.Slice(entries, func(i, j int) bool { return entries[i].EffectiveAt < entries[j].EffectiveAt })
	r.byComponent[component] = entries
}

// Resolver answers "what version of this component was effective at this
// instant" queries against a Registry.
type Resolver struct {
	registry *Registry
}

// NewResolver returns a Resolver bound to registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns the latest entry for component with EffectiveAt <= ts,
// and false if no entry qualifies.
func (r *Resolver) Resolve(component, ts string) (types.VersionEntry, bool) {
	entries := r.registry.byComponent[component]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].EffectiveAt > ts })
	if idx == 0 {
		return types.VersionEntry{}, false
	}
	return entries[idx-1], true
}

// VersionTransition is one component's (from, to) version move carried by
// a ChangeDeclaration.
type VersionTransition struct {
	Component   string
	FromVersion string
	ToVersion   string
}

// ChangeDeclaration is the frozen, author-facing request that authorizes a
// change: an RFC id, its classification, and every component/version
// transition it covers. ChangeEventBuilder is the only thing that turns one
// into a persistable ChangeEvent — nothing constructs a ChangeEvent by hand.
type ChangeDeclaration struct {
	RFCID              string
	ChangeType         types.ChangeType
	Compatibility      types.Compatibility
	EffectiveAt        string
	ComponentsImpacted []string
	VersionsAffected   []VersionTransition
}

// ChangeEventBuilder constructs a ChangeEvent from a ChangeDeclaration and,
// when bound to a Registry, registers every named version transition's new
// version as effective at the declaration's effective_at — so authorizing a
// change both produces its audit record and updates what Resolve answers
// for every affected component, in one call.
type ChangeEventBuilder struct {
	Registry *Registry
}

// Build validates decl via ValidateChangeEvent and, on success, registers
// its version transitions before returning the resulting ChangeEvent. On
// validation failure nothing is registered — a rejected declaration must
// never have a partial effect on version resolution.
func (b ChangeEventBuilder) Build(decl ChangeDeclaration) (types.ChangeEvent, error) {
	versions := make([]types.ComponentVersionChange, len(decl.VersionsAffected))
	for i, vt := range decl.VersionsAffected {
		versions[i] = types.ComponentVersionChange{Component: vt.Component, From: vt.FromVersion, To: vt.ToVersion}
	}

	event := types.ChangeEvent{
		RFCID:              decl.RFCID,
		EffectiveAt:        decl.EffectiveAt,
		ComponentsImpacted: decl.ComponentsImpacted,
		VersionsAffected:   versions,
		ChangeType:         decl.ChangeType,
		Compatibility:      decl.Compatibility,
	}
	if err := ValidateChangeEvent(event); err != nil {
		return types.ChangeEvent{}, err
	}

	if b.Registry != nil {
		for _, vt := range decl.VersionsAffected {
			b.Registry.Register(vt.Component, types.VersionEntry{Version: vt.ToVersion, EffectiveAt: decl.EffectiveAt})
		}
	}
	return event, nil
}

// ValidateChangeEvent enforces the one hard classification rule for change
// events: ChangeType Major implies Compatibility breaking. No ledger
// persistence happens at this layer — callers that want an audit trail
// append the event to the WORM ledger themselves.
func ValidateChangeEvent(e types.ChangeEvent) error {
	if !e.ChangeType.Valid() {
		return &errs.ContractViolation{Subject: "ChangeEvent.ChangeType", Reason: "not a declared change type"}
	}
	if !e.Compatibility.Valid() {
		return &errs.ContractViolation{Subject: "ChangeEvent.Compatibility", Reason: "not a declared compatibility value"}
	}
	if e.ChangeType == types.ChangeMajor && e.Compatibility != types.CompatBreaking {
		return &errs.ContractViolation{
			Subject: "ChangeEvent.Compatibility",
			Reason:  "a Major change must declare breaking compatibility",
		}
	}
	return nil
}
