package ingest

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tenon-core/tenon/internal/evidence"
	"github.com/tenon-core/tenon/internal/identity"
	"github.com/tenon-core/tenon/internal/idempotency"
	"github.com/tenon-core/tenon/internal/lineage"
	"github.com/tenon-core/tenon/internal/store"
	"github.com/tenon-core/tenon/internal/telemetry"
	"github.com/tenon-core/tenon/internal/types"
)

// Input is one observation presented to the pipeline. observed_at,
// source_timestamp, and ingested_at are carried separately throughout and
// never collapsed into one another.
type Input struct {
	Raw                     []byte          `json:"raw"`
	Format                  types.RawFormat `json:"format"`
	SourceSystem            string          `json:"source_system"`
	SourceConnector         string          `json:"source_connector"`
	SourceEnvironment       string          `json:"source_environment"`
	SchemaHint              string          `json:"schema_hint"`
	ObservedAt              string          `json:"observed_at"`
	SourceTimestamp         string          `json:"source_timestamp,omitempty"`
	IngestedAt              string          `json:"ingested_at"`
	DecidedAt               string          `json:"decided_at"`
	AdapterVersion          string          `json:"adapter_version"`
	IngestProtocolVersion   string          `json:"ingest_protocol_version"`
	SchemaVersion           string          `json:"schema_version"`
	CanonicalizationContext string          `json:"canonicalization_context,omitempty"`
}

// Result is everything one Ingest call produced.
type Result struct {
	IngestRecord     types.IngestRecord            `json:"ingest_record"`
	CanonicalEvent   *types.CanonicalEvent         `json:"canonical_event,omitempty"`
	IdentityDecision *types.IdentityDecisionRecord `json:"identity_decision,omitempty"`
	DiffRef          string                        `json:"diff_ref"`
}

// Pipeline wires together the ingest building blocks: content-addressed
// raw intake, format-specific identity parsing, the declarative
// RuleRegistry, the Identity Decider, and the Idempotency Guardian for a
// raw-bytes-level retry audit trail independent of the event-level
// identity decision.
type Pipeline struct {
	Raw      *RawPayloadStore
	Registry *RuleRegistry
	Diffs    *DiffStore
	Decider  *identity.Decider
	Guardian *idempotency.Guardian
	Evidence *evidence.Log
	Ingests  *store.Store[string, types.IngestRecord]
	Events   *store.Store[string, types.CanonicalEvent]
	Tracer   oteltrace.Tracer
}

// NewPipeline wires a Pipeline from its component dependencies. Callers
// share one identity.Decider and idempotency.Guardian across pipelines
// operating on the same domain so duplicate/collision detection sees every
// observation, not just the ones routed through this Pipeline instance.
func NewPipeline(registry *RuleRegistry, decider *identity.Decider, guardian *idempotency.Guardian, ev *evidence.Log) *Pipeline {
	return &Pipeline{
		Raw:      NewRawPayloadStore(),
		Registry: registry,
		Diffs:    NewDiffStore(),
		Decider:  decider,
		Guardian: guardian,
		Evidence: ev,
		Ingests:  store.New[string, types.IngestRecord]("ingest-records"),
		Events:   store.New[string, types.CanonicalEvent]("canonical-events"),
		Tracer:   telemetry.TracerOrNoop(nil, "tenon/ingest"),
	}
}

// WithTracer attaches a tracer bound to a provider the host process
// exports, e.g. one built by telemetry.NewTracerProvider. Returns p for
// chaining off NewPipeline.
func (p *Pipeline) WithTracer(tracer oteltrace.Tracer) *Pipeline {
	p.Tracer = telemetry.TracerOrNoop(tracer, "tenon/ingest")
	return p
}

// Ingest runs the five-step protocol: raw intake, identity parse,
// idempotency decision, canonicalization, unconditional record append.
// idAlloc mints the ingest record id and, when an event is accepted, its
// event_id.
func (p *Pipeline) Ingest(ctx context.Context, in Input, idAlloc func() string) (result Result, err error) {
	_, span := p.Tracer.Start(ctx, "ingest.Pipeline.Ingest", oteltrace.WithAttributes(
		attribute.String("source_system", in.SourceSystem),
		attribute.String("schema_hint", in.SchemaHint),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	// Step 1: idempotent-by-hash raw intake.
	raw := p.Raw.Put(in.Raw, in.Format)

	// A raw-bytes-level retry audit trail through C4, independent of the
	// event-level identity decision computed below: exercises the
	// guardian without gating whether step 5 (unconditional append) runs.
	if _, err := p.Guardian.Guard(types.ScopeIngest, raw.Hash, raw.Hash, in.DecidedAt, in.IngestProtocolVersion, nil); err != nil {
		return Result{}, err
	}

	// Step 2: parse for identity purposes.
	var warnings []string
	parsed, perr := parseForIdentity(in.Format, in.Raw)
	unparseable := perr != nil
	if unparseable {
		warnings = append(warnings, perr.Error())
	}

	rule, ruleFound := Rule{}, false
	if !unparseable {
		rule, ruleFound = p.Registry.Lookup(in.SourceSystem, in.Format, in.SchemaHint)
	}

	var canonicalMap map[string]any
	var missing []string
	switch {
	case unparseable:
		// nothing to map
	case !ruleFound:
		warnings = append(warnings, "no normalization rule registered for source_system="+in.SourceSystem+
			" raw_format="+string(in.Format)+" schema_hint="+in.SchemaHint)
	default:
		canonicalMap, missing = applyMapping(parsed, rule)
		for _, m := range missing {
			warnings = append(warnings, "missing raw value for canonical field "+m+"; defaulted to UNKNOWN")
		}
	}

	// Diff document: written always, including on failure.
	diffRef, err := p.Diffs.Record(DiffDocument{
		RawPointer:   raw.Pointer,
		RuleID:       rule.RuleID,
		RuleVersion:  rule.RuleVersion,
		RuleMatched:  ruleFound,
		Canonical:    canonicalMap,
		MissingPaths: missing,
		LossyFields:  rule.LossyFields,
		FailureNote:  failureNote(unparseable, ruleFound, perr),
	})
	if err != nil {
		return Result{}, err
	}

	// Step 3: compute the identity/idempotency decision.
	var identityDecision *types.IdentityDecisionRecord
	var idempotencyDecision types.IdempotencyDecision
	var eventID string
	var canonicalEvent *types.CanonicalEvent

	if unparseable || !ruleFound {
		idempotencyDecision = types.DecisionFlagAmbiguous
		warnings = append(warnings, "FLAG_AMBIGUOUS: insufficient structure to compute an identity decision")
	} else {
		candidateEventID := idAlloc()
		vals := identity.Values{
			"source_event_id":          asString(canonicalMap["source_event_id"]),
			"external_reference":       asString(canonicalMap["external_reference"]),
			"source_system":            in.SourceSystem,
			"source_timestamp":         in.SourceTimestamp,
			"observed_at":              in.ObservedAt,
			"amount":                   asString(canonicalMap["amount"]),
			"currency":                 asString(canonicalMap["currency"]),
			"direction":                asString(canonicalMap["direction"]),
			"event_type":               asString(canonicalMap["event_type"]),
			"normalizer_version":       rule.NormalizerVersion,
			"adapter_version":          in.AdapterVersion,
			"schema_version":           in.SchemaVersion,
			"canonicalization_context": in.CanonicalizationContext,
		}
		rec := p.Decider.Decide(candidateEventID, vals, in.DecidedAt)
		identityDecision = &rec
		idempotencyDecision = rec.Decision
		// rec.EventID is the candidate id on ACCEPT, but the already-accepted
		// event's id on REJECT_DUPLICATE/FLAG_AMBIGUOUS (see identity.Decide) —
		// using it unconditionally is what gives repeated submissions of the
		// same event an identical event_id across every attempt.
		eventID = rec.EventID

		if rec.Decision == types.DecisionAccept {
			canonicalEvent = buildCanonicalEvent(eventID, in, raw, rule, canonicalMap, parsed, rec.IdempotencyKey, &warnings)
			if err := p.Events.Append(*canonicalEvent, map[string]string{"source_system": in.SourceSystem}); err != nil {
				return Result{}, err
			}
		}
	}

	status := types.StatusRecorded
	if len(warnings) > 0 {
		status = types.StatusRecordedWithWarnings
	}

	ingestRecord := types.IngestRecord{
		IngestID:              idAlloc(),
		ObservedAt:            in.ObservedAt,
		SourceTimestamp:       in.SourceTimestamp,
		IngestedAt:            in.IngestedAt,
		SourceSystem:          in.SourceSystem,
		SourceConnector:       in.SourceConnector,
		SourceEnvironment:     in.SourceEnvironment,
		RawPointer:            raw.Pointer,
		RawHash:               raw.Hash,
		RawSize:               len(in.Raw),
		RawFormat:             in.Format,
		AdapterVersion:        in.AdapterVersion,
		IngestProtocolVersion: in.IngestProtocolVersion,
		IdempotencyDecision:   idempotencyDecision,
		EventID:               eventID,
		Status:                status,
		Warnings:              warnings,
	}

	// Step 5: append the IngestRecord unconditionally — duplicates and
	// ambiguous observations are recorded exactly like accepted ones.
	if err := p.Ingests.Append(ingestRecord, map[string]string{"source_system": in.SourceSystem}); err != nil {
		return Result{}, err
	}

	if _, err := p.Evidence.Append(types.EvidenceEvent{
		EventID:    ingestRecord.IngestID,
		EventType:  types.EvtIngestReceived,
		ProducedAt: in.IngestedAt,
		Payload: map[string]any{
			"ingest_id":           ingestRecord.IngestID,
			"idempotency_decision": string(idempotencyDecision),
			"diff_ref":            diffRef,
		},
	}); err != nil {
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("idempotency_decision", string(idempotencyDecision)),
		attribute.String("event_id", eventID),
	)

	return Result{
		IngestRecord:     ingestRecord,
		CanonicalEvent:   canonicalEvent,
		IdentityDecision: identityDecision,
		DiffRef:          diffRef,
	}, nil
}

func failureNote(unparseable, ruleFound bool, perr error) string {
	switch {
	case unparseable:
		return "parse failure: " + perr.Error()
	case !ruleFound:
		return "no normalization rule matched"
	default:
		return ""
	}
}

// buildCanonicalEvent assembles a CanonicalEvent from the mapped canonical
// document, defaulting unparseable Direction/EventType values to their
// declared UNKNOWN members (never an invalid enum value) and appending a
// warning when it does so.
func buildCanonicalEvent(eventID string, in Input, raw RawPayload, rule Rule, canonical map[string]any, parsed map[string]any, idempotencyKey string, warnings *[]string) *types.CanonicalEvent {
	direction := types.Direction(asString(canonical["direction"]))
	if !direction.Valid() {
		*warnings = append(*warnings, "direction value not in the declared taxonomy; defaulted to UNKNOWN")
		direction = types.DirectionUnknown
	}
	eventType := types.EventType(asString(canonical["event_type"]))
	if !eventType.Valid() {
		*warnings = append(*warnings, "event_type value not in the declared taxonomy; defaulted to UNKNOWN")
		eventType = types.EventUnknown
	}

	// An event declaring lineage links that fail validation keeps no
	// lineage at all rather than a partially-trusted edge set — the same
	// defaulting posture as an unrecognized Direction/EventType above.
	lineageLinks := extractLineageLinks(parsed)
	if len(lineageLinks) > 0 {
		if err := lineage.ValidateLinks(lineageLinks); err != nil {
			*warnings = append(*warnings, "lineage_links rejected: "+err.Error())
			lineageLinks = nil
		} else if err := lineage.ValidateNoCycles(eventID, lineageLinks); err != nil {
			*warnings = append(*warnings, "lineage_links rejected: "+err.Error())
			lineageLinks = nil
		}
	}

	return &types.CanonicalEvent{
		LineageLinks:        lineageLinks,
		EventID:             eventID,
		SourceSystem:        in.SourceSystem,
		SourceConnector:     in.SourceConnector,
		SourceEnvironment:   in.SourceEnvironment,
		ObservedAt:          in.ObservedAt,
		SourceTimestamp:     in.SourceTimestamp,
		Direction:           direction,
		EventType:           eventType,
		Amount:              asFloat(canonical["amount"]),
		Currency:            asString(canonical["currency"]),
		RawPayloadHash:      raw.Hash,
		RawPointer:          raw.Pointer,
		RawFormat:           raw.Format,
		NormalizerVersion:   rule.NormalizerVersion,
		AdapterVersion:      in.AdapterVersion,
		SchemaVersion:       in.SchemaVersion,
		IdempotencyKey:      idempotencyKey,
		IdempotencyDecision: types.DecisionAccept,
		SourceEventID:       asString(canonical["source_event_id"]),
		ExternalReference:   asString(canonical["external_reference"]),
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
