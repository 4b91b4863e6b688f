package risk

import (
	"sort"
	"strconv"

	"github.com/tenon-core/tenon/internal/types"
)

// ExecutiveView is the institutional risk summary built by
// BuildExecutiveView. It never carries machine telemetry — only the
// severity-governed signal and aggregate fields the rest of this package
// already produces.
type ExecutiveView struct {
	SystemRiskLevel types.Severity
	TopDrivers      []types.RiskSignal
	Trend           Trend
	Summary         string
}

// Trend is the closed three-value temporal-comparison taxonomy the
// executive view reports.
type Trend string

const (
	TrendEscalating Trend = "ESCALATING"
	TrendStable     Trend = "STABLE"
	TrendImproving  Trend = "IMPROVING"
)

// BuildExecutiveView projects a set of aggregates (most recent first) plus
// the full signal set they were computed from into an executive summary:
// the latest overall risk level, its top five contributing drivers by
// severity, and a trend computed by comparing the three most recent
// aggregates against the three before them.
func BuildExecutiveView(aggregates []types.RiskAggregate, signals []types.RiskSignal) ExecutiveView {
	if len(aggregates) == 0 {
		return ExecutiveView{SystemRiskLevel: types.SevLow, Trend: TrendStable, Summary: "no risk data available"}
	}

	latest := aggregates[0]
	topDrivers := extractTopDrivers(latest, signals)
	trend := computeTrend(firstN(aggregates, 10))

	return ExecutiveView{
		SystemRiskLevel: latest.OverallRiskLevel,
		TopDrivers:      topDrivers,
		Trend:           trend,
		Summary:         executiveSummary(latest.OverallRiskLevel, trend),
	}
}

func extractTopDrivers(agg types.RiskAggregate, signals []types.RiskSignal) []types.RiskSignal {
	driverSet := make(map[string]bool, len(agg.Drivers))
	for _, id := range agg.Drivers {
		driverSet[id] = true
	}

	var matched []types.RiskSignal
	for _, s := range signals {
		if driverSet[s.SignalID] {
			matched = append(matched, s)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Severity.Rank() > matched[j].Severity.Rank()
	})
	if len(matched) > 5 {
		matched = matched[:5]
	}
	return matched
}

// computeTrend compares the average severity rank of the three most recent
// aggregates against the three before them. A 10% swing either way moves
// the trend off STABLE.
func computeTrend(aggregates []types.RiskAggregate) Trend {
	if len(aggregates) < 2 {
		return TrendStable
	}

	recent := firstN(aggregates, 3)
	var older []types.RiskAggregate
	if len(aggregates) > 3 {
		older = firstN(aggregates[3:], 3)
	}
	if len(older) == 0 {
		return TrendStable
	}

	avgRecent := averageRank(recent)
	avgOlder := averageRank(older)

	switch {
	case avgRecent > avgOlder*1.1:
		return TrendEscalating
	case avgRecent < avgOlder*0.9:
		return TrendImproving
	default:
		return TrendStable
	}
}

func averageRank(aggregates []types.RiskAggregate) float64 {
	var sum int
	for _, a := range aggregates {
		sum += a.OverallRiskLevel.Rank()
	}
	return float64(sum) / float64(len(aggregates))
}

func firstN[T any](items []T, n int) []T {
	if len(items) < n {
		return items
	}
	return items[:n]
}

func executiveSummary(level types.Severity, trend Trend) string {
	trendText := map[Trend]string{
		TrendEscalating: "escalating",
		TrendStable:     "stable",
		TrendImproving:  "improving",
	}[trend]
	if trendText == "" {
		trendText = "no clear trend"
	}
	return "system risk: " + string(level) + " (" + trendText + ")"
}

// OperationalView is the source/flow-scoped risk breakdown built by
// BuildOperationalView, for operator triage rather than executive
// reporting.
type OperationalView struct {
	BySource        map[string][]types.RiskSignal
	ByFlow          map[string][]types.RiskSignal
	CriticalBacklog []types.RiskSignal
	StaleStates     []types.RiskSignal
	Summary         string
}

// staleSignalTypes are the signal types the operational view surfaces as
// stale/ambiguous state entries.
var staleSignalTypes = map[types.RiskSignalType]bool{
	types.SigStateStuckInTransit:        true,
	types.SigStateAmbiguousRateElevated: true,
	types.SigStateUnknownRateElevated:   true,
	types.SigStateFlapping:              true,
}

// BuildOperationalView groups active signals by source and by flow scope,
// pulls out the CRITICAL discrepancy backlog, and surfaces stale/ambiguous
// state signals for operator triage.
func BuildOperationalView(signals []types.RiskSignal) OperationalView {
	if len(signals) == 0 {
		return OperationalView{
			BySource: map[string][]types.RiskSignal{},
			ByFlow:   map[string][]types.RiskSignal{},
			Summary:  "no active risk signals",
		}
	}

	return OperationalView{
		BySource:        groupByScope(signals, types.ScopeSource),
		ByFlow:          groupByScope(signals, types.ScopeFlow),
		CriticalBacklog: extractCriticalDiscrepancies(signals),
		StaleStates:     extractStaleStates(signals),
		Summary:         operationalSummary(signals),
	}
}

func groupByScope(signals []types.RiskSignal, scope types.RiskScope) map[string][]types.RiskSignal {
	grouped := make(map[string][]types.RiskSignal)
	for _, s := range signals {
		if s.Scope != scope {
			continue
		}
		key := s.ScopeKey
		if key == "" {
			key = "UNKNOWN"
		}
		grouped[key] = append(grouped[key], s)
	}
	return grouped
}

func extractCriticalDiscrepancies(signals []types.RiskSignal) []types.RiskSignal {
	var critical []types.RiskSignal
	for _, s := range signals {
		if s.Severity == types.SevCritical && isDiscrepancySignal(s.SignalType) {
			critical = append(critical, s)
		}
	}
	return critical
}

func isDiscrepancySignal(t types.RiskSignalType) bool {
	switch t {
	case types.SigDiscrepancyRateElevated, types.SigDiscrepancyAmountExtreme,
		types.SigDiscrepancyRecurring, types.SigDiscrepancyUnattributed,
		types.SigDiscrepancyClusterDetected:
		return true
	default:
		return false
	}
}

func extractStaleStates(signals []types.RiskSignal) []types.RiskSignal {
	var stale []types.RiskSignal
	for _, s := range signals {
		if staleSignalTypes[s.SignalType] {
			stale = append(stale, s)
		}
	}
	return stale
}

func operationalSummary(signals []types.RiskSignal) string {
	var critical, high int
	for _, s := range signals {
		switch s.Severity {
		case types.SevCritical:
			critical++
		case types.SevHigh:
			high++
		}
	}
	return strconv.Itoa(len(signals)) + " active signals: " + strconv.Itoa(critical) + " CRITICAL, " + strconv.Itoa(high) + " HIGH"
}
