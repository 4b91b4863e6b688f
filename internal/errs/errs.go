// Package errs implements the structural error taxonomy shared by every
// component. These are the local, structural kinds that are surfaced to
// the caller immediately: bugs or attacks, never expected outcomes.
// Expected outcomes (protocol rejections, unparseable-but-recorded input)
// are represented as typed result values elsewhere (see
// internal/identity.Decide, internal/idempotency.Guard) rather than as
// errors.
package errs

import "fmt"

// SchemaValidationError reports a record that does not satisfy its schema.
type SchemaValidationError struct {
	FieldPath string
	Message   string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed at %s: %s", e.FieldPath, e.Message)
}

// ContractViolation reports a write or registration that breaks a boundary
// contract: a prohibited canonical field write, an invalid state reference
// in a registered transition, or a vanity risk metric.
type ContractViolation struct {
	Subject string
	Reason  string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract violation on %s: %s", e.Subject, e.Reason)
}

// WormViolation reports an attempt to append a duplicate id to an
// append-only store.
type WormViolation struct {
	Store string
	ID    string
}

func (e *WormViolation) Error() string {
	return fmt.Sprintf("worm violation: %s already contains id %q", e.Store, e.ID)
}

// InvariantViolation reports a record failing a business invariant:
// uniqueness, non-empty traceability fields, out-of-range confidence, empty
// explanation, empty evidence.
type InvariantViolation struct {
	Record string
	Field  string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on %s.%s: %s", e.Record, e.Field, e.Reason)
}

// ChainTampering reports a WORM ledger chain-verification failure, naming
// the offending sequence number.
type ChainTampering struct {
	SequenceNumber int64
	Reason         string
}

func (e *ChainTampering) Error() string {
	return fmt.Sprintf("chain tampering detected at sequence %d: %s", e.SequenceNumber, e.Reason)
}

// UnparseableInput reports a raw payload that could not be parsed in its
// declared format. This leads the caller to a FLAG_AMBIGUOUS outcome rather
// than a crash — it is returned alongside a structured result, not used as
// the sole signal of rejection.
type UnparseableInput struct {
	Format string
	Reason string
}

func (e *UnparseableInput) Error() string {
	return fmt.Sprintf("unparseable %s input: %s", e.Format, e.Reason)
}
