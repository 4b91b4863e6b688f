// Package risk implements Risk Observability: a bounded, closed severity
// set combined by worst-case across institutional discrepancy, state,
// idempotency, change, and human-escalation signal families. The
// forbidden-substring gate and threshold governance are the anti-noise
// rule: an observation that looks like raw infrastructure telemetry (cpu,
// latency, throughput...) is rejected outright rather than silently folded
// into institutional risk.
package risk

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/tenon-core/tenon/internal/canon"
	"github.com/tenon-core/tenon/internal/errs"
	"github.com/tenon-core/tenon/internal/telemetry"
	"github.com/tenon-core/tenon/internal/types"
)

// ForbiddenSubstrings is the hard-coded, case-insensitive list of
// infrastructure-metric substrings a RiskObservation's metric_key must not
// contain. This system observes institutional financial risk, never
// machine resource pressure.
var ForbiddenSubstrings = []string{
	"cpu", "ram", "memory", "latency", "qps", "throughput", "bandwidth",
	"disk", "io_wait", "load_avg", "network",
}

// SignalComputer validates a RiskObservation against the forbidden-pattern
// list and a governed ThresholdSet, emitting a RiskSignal only when a
// threshold actually fires.
type SignalComputer struct {
	Thresholds ThresholdSet
	Tracer     oteltrace.Tracer
}

// NewSignalComputer returns a SignalComputer bound to thresholds.
func NewSignalComputer(thresholds ThresholdSet) *SignalComputer {
	return &SignalComputer{Thresholds: thresholds, Tracer: telemetry.TracerOrNoop(nil, "tenon/risk")}
}

// ThresholdSet is the YAML-declared, governed collection of threshold
// rules. Every rule must carry a non-empty ApprovedChangeRef — thresholds
// are change-controlled, never auto-tuned.
type ThresholdSet = types.ThresholdSet

// LoadThresholdSet reads a governed threshold configuration from YAML and
// validates that every rule declares an approved_change_ref.
func LoadThresholdSet(path string) (ThresholdSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("read threshold set %s: %w", path, err)
	}
	var ts ThresholdSet
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return ThresholdSet{}, fmt.Errorf("parse threshold set %s: %w", path, err)
	}
	for _, rule := range ts.Rules {
		if rule.ApprovedChangeRef == "" {
			return ThresholdSet{}, &errs.ContractViolation{
				Subject: "ThresholdRule.ApprovedChangeRef",
				Reason:  fmt.Sprintf("rule for signal type %q has no approved_change_ref; thresholds are never auto-tuned", rule.SignalType),
			}
		}
	}
	return ts, nil
}

func checkForbidden(metricKey string) error {
	lower := strings.ToLower(metricKey)
	for _, substr := range ForbiddenSubstrings {
		if strings.Contains(lower, substr) {
			return &errs.ContractViolation{
				Subject: "RiskObservation.MetricKey",
				Reason:  fmt.Sprintf("%q contains forbidden infrastructure substring %q: risk observability never ingests raw machine telemetry", metricKey, substr),
			}
		}
	}
	return nil
}

// Compute validates obs and, if it survives the forbidden-pattern gate,
// evaluates it against every matching threshold rule (by RiskMapping).
// Matching severities combine with max(); a signal is emitted only when at
// least one boundary fires — no threshold firing means no noise.
func (c *SignalComputer) Compute(ctx context.Context, obs types.RiskObservation) (_ *types.RiskSignal, err error) {
	_, span := telemetry.TracerOrNoop(c.Tracer, "tenon/risk").Start(ctx, "risk.SignalComputer.Compute", oteltrace.WithAttributes(
		attribute.String("metric_key", obs.MetricKey),
		attribute.String("risk_mapping", string(obs.RiskMapping)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if err := checkForbidden(obs.MetricKey); err != nil {
		return nil, err
	}
	if !obs.Scope.Valid() {
		return nil, &errs.ContractViolation{Subject: "RiskObservation.Scope", Reason: "not a declared risk scope"}
	}

	var fired types.Severity
	var thresholdRef string
	for _, rule := range c.Thresholds.Rules {
		if rule.SignalType != obs.RiskMapping {
			continue
		}
		for _, b := range rule.Boundaries {
			if obs.MetricValue >= b.Value {
				fired = types.MaxSeverity(fired, b.Severity)
				thresholdRef = rule.ApprovedChangeRef
			}
		}
	}

	if fired == "" {
		return nil, nil
	}

	signalID := deriveSignalID(obs)
	return &types.RiskSignal{
		SignalID:     signalID,
		SignalType:   obs.RiskMapping,
		Severity:     fired,
		Scope:        obs.Scope,
		ScopeKey:     obs.ScopeKey,
		MetricKey:    obs.MetricKey,
		MetricValue:  obs.MetricValue,
		ThresholdRef: thresholdRef,
		EvidenceRefs: obs.EvidenceRefs,
		ObservedAt:   obs.ObservedAt,
	}, nil
}

func deriveSignalID(obs types.RiskObservation) string {
	h, err := canon.Hash(strings.Join([]string{
		string(obs.Scope), obs.ScopeKey, string(obs.RiskMapping), obs.ObservedAt, canon.FormatFloat(obs.MetricValue),
	}, "|"))
	if err != nil {
		return "signal-error"
	}
	return "signal-" + h[:32]
}

// RiskAssessor computes a pure aggregate over a window of signals.
type RiskAssessor struct {
	ModelVersion string
	Tracer       oteltrace.Tracer
}

// Assess is pure: overall_risk_level is the max severity across signals,
// drivers are the sorted signal ids whose severity equals the overall
// level, and computed_at is the window's end — the assessor never reads a
// clock.
func (a *RiskAssessor) Assess(ctx context.Context, window types.RiskWindow, signals []types.RiskSignal) types.RiskAggregate {
	_, span := telemetry.TracerOrNoop(a.Tracer, "tenon/risk").Start(ctx, "risk.RiskAssessor.Assess", oteltrace.WithAttributes(
		attribute.Int("signal_count", len(signals)),
	))
	defer span.End()

	var overall types.Severity
	for _, s := range signals {
		overall = types.MaxSeverity(overall, s.Severity)
	}

	var drivers []string
	var signalIDs []string
	for _, s := range signals {
		signalIDs = append(signalIDs, s.SignalID)
		if s.Severity == overall {
			drivers = append(drivers, s.SignalID)
		}
	}
	sort.Strings(drivers)
	sort.Strings(signalIDs)

	return types.RiskAggregate{
		AggregateID:      deriveAggregateID(window),
		Window:           window,
		OverallRiskLevel: overall,
		Drivers:          drivers,
		SignalIDs:        signalIDs,
		ModelVersion:     a.ModelVersion,
		ComputedAt:       window.EndAt,
	}
}

func deriveAggregateID(window types.RiskWindow) string {
	h, err := canon.Hash(window.StartAt + "||" + window.EndAt)
	if err != nil {
		return "aggregate-error"
	}
	return "aggregate-" + h[:32]
}

// AlertBuilder maps a risk aggregate to an institutionally-framed alert.
type AlertBuilder struct{}

// Build maps severity to alert type deterministically: CRITICAL maps to
// INSTITUTIONAL_BREACH, HIGH to RISK_ESCALATION, MEDIUM to EARLY_WARNING,
// LOW produces no alert (nil). raisedAt is caller-supplied.
func (AlertBuilder) Build(agg types.RiskAggregate, raisedAt, potentialImpact, operationalRecommendation string, alertID func() string) *types.RiskAlert {
	alertType := types.AlertTypeForSeverity(agg.OverallRiskLevel)
	if alertType == "" {
		return nil
	}
	return &types.RiskAlert{
		AlertID:                   alertID(),
		AggregateID:               agg.AggregateID,
		AlertType:                 alertType,
		Severity:                  agg.OverallRiskLevel,
		PotentialImpact:           potentialImpact,
		OperationalRecommendation: operationalRecommendation,
		ContributingSignalIDs:     agg.Drivers,
		RaisedAt:                  raisedAt,
	}
}
