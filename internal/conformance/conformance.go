// Package conformance implements the adapter gatekeeping suite: schema
// compliance, behavioral probes (no payload_raw mutation, idempotent
// emit), and negative probes (rejection of prohibited canonical-field
// writes and unknown-field injection). Any single FAIL causes overall FAIL
// — the suite is a gatekeeper, not a score.
package conformance

import (
	"bytes"

	"github.com/tenon-core/tenon/internal/canon"
)

// IngestDeclaration is the adapter contract: the only fields an adapter
// may ever construct. event_type, state, discrepancy, and cause are
// deliberately absent from this type — there is no field an adapter could
// even attempt to set them through.
type IngestDeclaration struct {
	SourceSystem      string
	PayloadRaw        []byte
	PayloadFormat     string
	AdapterVersion    string
	SourceEventID     string
	ExternalReference string
	SourceTimestamp   string
}

// ProhibitedFields are the canonical fields an adapter boundary must never
// be allowed to populate directly.
var ProhibitedFields = []string{"event_type", "state", "discrepancy", "cause"}

// Probe is the function a concrete adapter under test provides: given a
// declaration, produce the field set it would emit toward the core.
type Probe func(decl IngestDeclaration) (map[string]any, error)

// CheckResult is one named probe's outcome.
type CheckResult struct {
	Name   string
	Passed bool
	Detail string
}

// Report is the conformance_report.schema.json-shaped output of Evaluate.
type Report struct {
	AdapterVersion string
	SchemaVersion  string
	Checks         []CheckResult
	Pass           bool
}

// Evaluate runs the full gatekeeping suite against probe using base as the
// well-formed declaration, and allowedOutputFields as the canonical field
// set the probe is permitted to emit (everything else, prohibited or not,
// is an injection). schemaVersion is recorded on the report and checked
// for presence alongside base.AdapterVersion.
func Evaluate(base IngestDeclaration, schemaVersion string, allowedOutputFields []string, probe Probe) Report {
	checks := []CheckResult{
		schemaCompliance(base, schemaVersion),
		noPayloadMutation(base, probe),
		idempotentEmit(base, probe),
		rejectsProhibitedFields(base, probe),
		rejectsUnknownFieldInjection(base, allowedOutputFields, probe),
	}

	pass := true
	for _, c := range checks {
		if !c.Passed {
			pass = false
		}
	}
	return Report{AdapterVersion: base.AdapterVersion, SchemaVersion: schemaVersion, Checks: checks, Pass: pass}
}

func schemaCompliance(base IngestDeclaration, schemaVersion string) CheckResult {
	missing := []string{}
	if base.SourceSystem == "" {
		missing = append(missing, "source_system")
	}
	if base.PayloadFormat == "" {
		missing = append(missing, "payload_format")
	}
	if base.AdapterVersion == "" {
		missing = append(missing, "adapter_version")
	}
	if schemaVersion == "" {
		missing = append(missing, "schema_version")
	}
	if len(missing) > 0 {
		return CheckResult{Name: "schema_compliance", Passed: false, Detail: "missing required fields: " + join(missing)}
	}
	return CheckResult{Name: "schema_compliance", Passed: true}
}

func noPayloadMutation(base IngestDeclaration, probe Probe) CheckResult {
	before := append([]byte(nil), base.PayloadRaw...)
	if _, err := probe(base); err != nil {
		return CheckResult{Name: "no_payload_mutation", Passed: false, Detail: "probe error: " + err.Error()}
	}
	if !bytes.Equal(before, base.PayloadRaw) {
		return CheckResult{Name: "no_payload_mutation", Passed: false, Detail: "payload_raw was mutated by the adapter"}
	}
	return CheckResult{Name: "no_payload_mutation", Passed: true}
}

func idempotentEmit(base IngestDeclaration, probe Probe) CheckResult {
	first, err := probe(base)
	if err != nil {
		return CheckResult{Name: "idempotent_emit", Passed: false, Detail: "probe error: " + err.Error()}
	}
	second, err := probe(base)
	if err != nil {
		return CheckResult{Name: "idempotent_emit", Passed: false, Detail: "probe error on second emit: " + err.Error()}
	}
	h1, err := canon.Hash(first)
	if err != nil {
		return CheckResult{Name: "idempotent_emit", Passed: false, Detail: "hash error: " + err.Error()}
	}
	h2, err := canon.Hash(second)
	if err != nil {
		return CheckResult{Name: "idempotent_emit", Passed: false, Detail: "hash error: " + err.Error()}
	}
	if h1 != h2 {
		return CheckResult{Name: "idempotent_emit", Passed: false, Detail: "repeated emit of the same declaration produced different output"}
	}
	return CheckResult{Name: "idempotent_emit", Passed: true}
}

func rejectsProhibitedFields(base IngestDeclaration, probe Probe) CheckResult {
	out, err := probe(base)
	if err != nil {
		return CheckResult{Name: "rejects_prohibited_fields", Passed: false, Detail: "probe error: " + err.Error()}
	}
	for _, f := range ProhibitedFields {
		if _, present := out[f]; present {
			return CheckResult{Name: "rejects_prohibited_fields", Passed: false, Detail: "adapter emitted prohibited field " + f}
		}
	}
	return CheckResult{Name: "rejects_prohibited_fields", Passed: true}
}

func rejectsUnknownFieldInjection(base IngestDeclaration, allowed []string, probe Probe) CheckResult {
	out, err := probe(base)
	if err != nil {
		return CheckResult{Name: "rejects_unknown_field_injection", Passed: false, Detail: "probe error: " + err.Error()}
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}
	for k := range out {
		if _, ok := allowedSet[k]; !ok {
			return CheckResult{Name: "rejects_unknown_field_injection", Passed: false, Detail: "adapter emitted undeclared field " + k}
		}
	}
	return CheckResult{Name: "rejects_unknown_field_injection", Passed: true}
}

func join(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
