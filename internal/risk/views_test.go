package risk

import (
	"testing"

	"github.com/tenon-core/tenon/internal/types"
)

func TestBuildExecutiveViewEmptyAggregates(t *testing.T) {
	view := BuildExecutiveView(nil, nil)
	if view.SystemRiskLevel != types.SevLow || view.Trend != TrendStable {
		t.Fatalf("expected LOW/STABLE placeholder for no data, got %+v", view)
	}
}

func TestBuildExecutiveViewExtractsTopDriversBySeverity(t *testing.T) {
	signals := []types.RiskSignal{
		{SignalID: "s1", Severity: types.SevHigh},
		{SignalID: "s2", Severity: types.SevCritical},
		{SignalID: "s3", Severity: types.SevMedium},
	}
	agg := types.RiskAggregate{OverallRiskLevel: types.SevCritical, Drivers: []string{"s1", "s2", "s3"}}

	view := BuildExecutiveView([]types.RiskAggregate{agg}, signals)
	if len(view.TopDrivers) != 3 || view.TopDrivers[0].SignalID != "s2" {
		t.Fatalf("expected drivers sorted by descending severity starting with s2, got %+v", view.TopDrivers)
	}
}

func TestBuildExecutiveViewCapsTopDriversAtFive(t *testing.T) {
	var signals []types.RiskSignal
	var driverIDs []string
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		signals = append(signals, types.RiskSignal{SignalID: id, Severity: types.SevHigh})
		driverIDs = append(driverIDs, id)
	}
	agg := types.RiskAggregate{OverallRiskLevel: types.SevHigh, Drivers: driverIDs}

	view := BuildExecutiveView([]types.RiskAggregate{agg}, signals)
	if len(view.TopDrivers) != 5 {
		t.Fatalf("expected top drivers capped at 5, got %d", len(view.TopDrivers))
	}
}

func TestComputeTrendEscalating(t *testing.T) {
	aggs := []types.RiskAggregate{
		{OverallRiskLevel: types.SevCritical},
		{OverallRiskLevel: types.SevCritical},
		{OverallRiskLevel: types.SevHigh},
		{OverallRiskLevel: types.SevLow},
		{OverallRiskLevel: types.SevLow},
		{OverallRiskLevel: types.SevLow},
	}
	if trend := computeTrend(aggs); trend != TrendEscalating {
		t.Fatalf("expected ESCALATING trend, got %v", trend)
	}
}

func TestComputeTrendImproving(t *testing.T) {
	aggs := []types.RiskAggregate{
		{OverallRiskLevel: types.SevLow},
		{OverallRiskLevel: types.SevLow},
		{OverallRiskLevel: types.SevLow},
		{OverallRiskLevel: types.SevCritical},
		{OverallRiskLevel: types.SevCritical},
		{OverallRiskLevel: types.SevHigh},
	}
	if trend := computeTrend(aggs); trend != TrendImproving {
		t.Fatalf("expected IMPROVING trend, got %v", trend)
	}
}

func TestComputeTrendStableWithoutEnoughHistory(t *testing.T) {
	if trend := computeTrend([]types.RiskAggregate{{OverallRiskLevel: types.SevHigh}}); trend != TrendStable {
		t.Fatalf("expected STABLE trend with fewer than 2 aggregates, got %v", trend)
	}
}

func TestBuildOperationalViewEmptySignals(t *testing.T) {
	view := BuildOperationalView(nil)
	if len(view.BySource) != 0 || len(view.ByFlow) != 0 {
		t.Fatalf("expected empty groupings for no signals, got %+v", view)
	}
}

func TestBuildOperationalViewGroupsBySourceAndFlow(t *testing.T) {
	signals := []types.RiskSignal{
		{SignalID: "s1", Scope: types.ScopeSource, ScopeKey: "bankcorp", Severity: types.SevMedium},
		{SignalID: "s2", Scope: types.ScopeFlow, ScopeKey: "flow-1", Severity: types.SevHigh},
	}
	view := BuildOperationalView(signals)
	if len(view.BySource["bankcorp"]) != 1 || len(view.ByFlow["flow-1"]) != 1 {
		t.Fatalf("unexpected scope grouping: %+v", view)
	}
}

func TestBuildOperationalViewExtractsCriticalDiscrepancyBacklog(t *testing.T) {
	signals := []types.RiskSignal{
		{SignalID: "s1", SignalType: types.SigDiscrepancyAmountExtreme, Severity: types.SevCritical},
		{SignalID: "s2", SignalType: types.SigDiscrepancyAmountExtreme, Severity: types.SevHigh},
		{SignalID: "s3", SignalType: types.SigChangeUnreviewed, Severity: types.SevCritical},
	}
	view := BuildOperationalView(signals)
	if len(view.CriticalBacklog) != 1 || view.CriticalBacklog[0].SignalID != "s1" {
		t.Fatalf("expected only the CRITICAL discrepancy signal in the backlog, got %+v", view.CriticalBacklog)
	}
}

func TestBuildOperationalViewExtractsStaleStates(t *testing.T) {
	signals := []types.RiskSignal{
		{SignalID: "s1", SignalType: types.SigStateStuckInTransit, Severity: types.SevHigh},
		{SignalID: "s2", SignalType: types.SigStateAmbiguousRateElevated, Severity: types.SevMedium},
		{SignalID: "s3", SignalType: types.SigDiscrepancyRateElevated, Severity: types.SevHigh},
	}
	view := BuildOperationalView(signals)
	if len(view.StaleStates) != 2 {
		t.Fatalf("expected 2 stale-state signals, got %+v", view.StaleStates)
	}
}
