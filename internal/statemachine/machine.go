// Package statemachine implements a diagnostic finite-state evaluator over
// canonical events and correlation links: iterate candidate transitions to
// a verdict, never mutate state in place. The state set is closed at
// eleven members, AMBIGUOUS and UNKNOWN included.
package statemachine

import (
	"sort"
	"strings"

	"github.com/tenon-core/tenon/internal/canon"
	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/types"
)

// TimeoutPolicy is opaque to the machine itself; it is carried on a
// Transition for downstream schedulers to interpret, never evaluated here
// (the machine never reads a clock).
type TimeoutPolicy struct {
	Description string
}

// Transition is one declared (from, to) edge, gated by required and
// forbidden evidence.
type Transition struct {
	From              types.MoneyState
	To                types.MoneyState
	RequiredEvidence  []types.StateEvidence
	ForbiddenEvidence []types.StateEvidence
	Timeout           TimeoutPolicy
	Version           string
	Confidence        float64
}

// Machine holds a declared, validated transition table.
type Machine struct {
	Transitions    []Transition
	MachineVersion string
}

// New validates every transition's From/To against the declared state set
// before returning a Machine — an undeclared state reference is a
// ContractViolation, not a silent no-op.
func New(machineVersion string, transitions []Transition) (*Machine, error) {
	for _, tr := range transitions {
		if !tr.From.Valid() {
			return nil, &errs.ContractViolation{Subject: "Transition.From", Reason: "not a declared money state: " + string(tr.From)}
		}
		if !tr.To.Valid() {
			return nil, &errs.ContractViolation{Subject: "Transition.To", Reason: "not a declared money state: " + string(tr.To)}
		}
	}
	return &Machine{Transitions: transitions, MachineVersion: machineVersion}, nil
}

// EvidenceProjector turns the events and links touching a flow into the
// closed StateEvidence set. Injected so the machine stays pure — the
// projection logic (which event types imply which evidence) lives with
// the caller's domain wiring, not the machine.
type EvidenceProjector func(events []types.CanonicalEvent, links []types.CorrelationLink) map[types.StateEvidence]bool

// Evaluate resolves a flow's state: ambiguity on coexisting terminal
// success/failure evidence, else the single highest-confidence satisfied
// transition, else a pattern default, else UNKNOWN. evaluatedAt and
// evidencePointer are caller-supplied — the machine never reads a clock.
func (m *Machine) Evaluate(
	flowID string,
	events []types.CanonicalEvent,
	links []types.CorrelationLink,
	project EvidenceProjector,
	evaluatedAt, evidencePointer string,
) types.MoneyStateEvaluation {
	evidence := project(events, links)

	eventIDs := sortedEventIDs(events)
	linkIDs := sortedLinkIDs(links)
	evalID := deriveEvaluationID(flowID, eventIDs, linkIDs, evaluatedAt, evidencePointer)

	successTerminal := evidence[types.EvidenceSettlementConfirmation] || evidence[types.EvidenceRefundLink]
	failureTerminal := evidence[types.EvidenceProcessingFailure] || evidence[types.EvidenceTimeoutExceeded] || evidence[types.EvidenceReversalLink]

	if successTerminal && failureTerminal {
		return types.MoneyStateEvaluation{
			EvaluationID:     evalID,
			FlowID:           flowID,
			State:            types.StateAmbiguous,
			TransitionReason: "coexisting success-terminal and failure-terminal evidence",
			EvidencePointer:  evidencePointer,
			MachineVersion:   m.MachineVersion,
			ConfidenceLevel:  0.5,
			EvaluatedAt:      evaluatedAt,
		}
	}

	var satisfied []Transition
	for _, tr := range m.Transitions {
		if transitionSatisfied(tr, evidence) {
			satisfied = append(satisfied, tr)
		}
	}

	terminalStates := distinctTerminalStates(satisfied)
	if len(terminalStates) > 1 {
		return types.MoneyStateEvaluation{
			EvaluationID:     evalID,
			FlowID:           flowID,
			State:            types.StateAmbiguous,
			TransitionReason: "multiple plausible terminal states satisfied simultaneously",
			EvidencePointer:  evidencePointer,
			MachineVersion:   m.MachineVersion,
			ConfidenceLevel:  0.5,
			EvaluatedAt:      evaluatedAt,
		}
	}

	if best := highestConfidence(satisfied); best != nil {
		return types.MoneyStateEvaluation{
			EvaluationID:     evalID,
			FlowID:           flowID,
			State:            best.To,
			TransitionReason: "transition satisfied under version " + best.Version,
			StateVersion:     best.Version,
			EvidencePointer:  evidencePointer,
			MachineVersion:   m.MachineVersion,
			ConfidenceLevel:  best.Confidence,
			EvaluatedAt:      evaluatedAt,
		}
	}

	if state, reason, confidence, ok := patternDefault(evidence); ok {
		return types.MoneyStateEvaluation{
			EvaluationID:     evalID,
			FlowID:           flowID,
			State:            state,
			TransitionReason: reason,
			EvidencePointer:  evidencePointer,
			MachineVersion:   m.MachineVersion,
			ConfidenceLevel:  confidence,
			EvaluatedAt:      evaluatedAt,
		}
	}

	return types.MoneyStateEvaluation{
		EvaluationID:     evalID,
		FlowID:           flowID,
		State:            types.StateUnknown,
		TransitionReason: "no declared transition satisfied and no pattern default matched",
		EvidencePointer:  evidencePointer,
		MachineVersion:   m.MachineVersion,
		ConfidenceLevel:  0.1,
		EvaluatedAt:      evaluatedAt,
	}
}

// patternDefault is the fallback tier when no declared Transition is
// satisfied: a small, priority-ordered set of evidence patterns strong
// enough on their own to imply a state without a configured transition
// rule for it. Checked in priority order — settlement beats failure beats
// authorization beats initiation — not mutual exclusivity.
func patternDefault(evidence map[types.StateEvidence]bool) (types.MoneyState, string, float64, bool) {
	switch {
	case evidence[types.EvidenceSettlementConfirmation]:
		return types.StateSettled, "pattern default: settlement evidence found", 0.9, true
	case evidence[types.EvidenceProcessingFailure]:
		return types.StateFailed, "pattern default: failure evidence found", 0.9, true
	case evidence[types.EvidenceAuthorizationConfirmation]:
		return types.StateAuthorized, "pattern default: authorization evidence found", 0.7, true
	case evidence[types.EvidenceInitiationObserved]:
		return types.StateInitiated, "pattern default: initiation evidence found", 0.7, true
	default:
		return "", "", 0, false
	}
}

func transitionSatisfied(tr Transition, evidence map[types.StateEvidence]bool) bool {
	for _, req := range tr.RequiredEvidence {
		if !evidence[req] {
			return false
		}
	}
	for _, forbidden := range tr.ForbiddenEvidence {
		if evidence[forbidden] {
			return false
		}
	}
	return true
}

// distinctTerminalStates returns the distinct target states among
// satisfied transitions that are themselves terminal (success or failure).
func distinctTerminalStates(satisfied []Transition) map[types.MoneyState]bool {
	out := make(map[types.MoneyState]bool)
	for _, tr := range satisfied {
		if tr.To.IsTerminalSuccess() || tr.To.IsTerminalFailure() {
			out[tr.To] = true
		}
	}
	return out
}

func highestConfidence(satisfied []Transition) *Transition {
	if len(satisfied) == 0 {
		return nil
	}
	best := satisfied[0]
	for _, tr := range satisfied[1:] {
		if tr.Confidence > best.Confidence {
			best = tr
		}
	}
	return &best
}

func sortedEventIDs(events []types.CanonicalEvent) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.EventID
	}
	sort.Strings(ids)
	return ids
}

func sortedLinkIDs(links []types.CorrelationLink) []string {
	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.LinkID
	}
	sort.Strings(ids)
	return ids
}

func deriveEvaluationID(flowID string, eventIDs, linkIDs []string, evaluatedAt, evidencePointer string) string {
	parts := strings.Join([]string{
		flowID,
		strings.Join(eventIDs, ","),
		strings.Join(linkIDs, ","),
		evaluatedAt,
		evidencePointer,
	}, "|")
	h, err := canon.Hash(parts)
	if err != nil {
		return "eval-error"
	}
	return "eval-" + h[:32]
}
