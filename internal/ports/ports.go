// Package ports declares the external collaborators the core deliberately
// does not implement: ExternalEventSource and HumanInterventionSink. They
// exist here only as interfaces — the core depends on them at its edges
// but never implements or embeds a concrete adapter.
package ports

import "context"

// RawObservation is what an ExternalEventSource hands the ingest pipeline:
// bytes plus the declared adapter-boundary metadata from the
// IngestDeclaration contract. event_type, state, discrepancy, and cause
// are deliberately absent — those fields are prohibited at the adapter
// boundary.
type RawObservation struct {
	SourceSystem      string
	PayloadRaw        []byte
	PayloadFormat     string
	AdapterVersion    string
	SourceEventID     string
	ExternalReference string
	SourceTimestamp   string
}

// ExternalEventSource is a port: a connector that produces raw observations
// from an upstream system (bank, PSP, ERP, marketplace). Concrete adapters
// are out of scope for the core; this interface is the boundary a real
// deployment's connector package would satisfy.
type ExternalEventSource interface {
	Fetch(ctx context.Context) ([]RawObservation, error)
}

// HumanInterventionRequest is what the core hands a HumanInterventionSink
// when a discrepancy or ambiguity needs a human decision.
type HumanInterventionRequest struct {
	DiscrepancyID string
	FlowID        string
	Summary       string
	EvidenceRefs  []string
}

// HumanInterventionSink is a port: the channel through which the core
// surfaces cases it cannot resolve on its own. The core only ever writes
// to this port; it never reads a response from it synchronously, since
// doing so would turn the deterministic pipeline into something that
// blocks on a human.
type HumanInterventionSink interface {
	Notify(ctx context.Context, req HumanInterventionRequest) error
}
