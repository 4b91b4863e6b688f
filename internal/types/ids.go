package types

// RecordID implementations let the generic internal/store.Store hold each
// record kind without that package needing to know their field layouts.

func (r IdempotencyRecord) RecordID() string       { return r.ID }
func (r IngestRecord) RecordID() string             { return r.IngestID }
func (e CanonicalEvent) RecordID() string           { return e.EventID }
func (l CorrelationLink) RecordID() string          { return l.LinkID }
func (e MoneyStateEvaluation) RecordID() string     { return e.EvaluationID }
func (d Discrepancy) RecordID() string              { return d.DiscrepancyID }
func (c CausalityAttribution) RecordID() string     { return c.CausalityID }
func (s RiskSignal) RecordID() string               { return s.SignalID }
func (a RiskAggregate) RecordID() string             { return a.AggregateID }
func (a RiskAlert) RecordID() string                 { return a.AlertID }
func (e ChangeEvent) RecordID() string               { return e.RFCID }
