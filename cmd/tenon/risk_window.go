package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tenon-core/tenon/internal/risk"
	"github.com/tenon-core/tenon/internal/types"
)

var (
	riskObservationsPath string
	riskWindowStart      string
	riskWindowEnd        string
	riskModelVersion     string
	riskIncludeViews     bool
)

var riskWindowCmd = &cobra.Command{
	Use:   "risk-window",
	Short: "compute risk signals and an aggregate over a window of observations",
	Long: `Reads a JSON array of RiskObservation from a file, evaluates each
one against the configured governed threshold set, and assesses the
resulting signals over the given window. Emits a risk alert only when the
overall severity maps to one (CRITICAL, HIGH, and MEDIUM do; LOW raises
nothing).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(riskObservationsPath)
		if err != nil {
			return fmt.Errorf("read observations file: %w", err)
		}
		var observations []types.RiskObservation
		if err := json.Unmarshal(raw, &observations); err != nil {
			return fmt.Errorf("parse observations file: %w", err)
		}

		thresholdSet, err := risk.LoadThresholdSet(cfg.ThresholdsPath)
		if err != nil {
			return fmt.Errorf("load threshold set: %w", err)
		}
		computer := risk.NewSignalComputer(thresholdSet)
		computer.Tracer = componentTracer("tenon/risk")

		var signals []types.RiskSignal
		for _, obs := range observations {
			signal, err := computer.Compute(context.Background(), obs)
			if err != nil {
				logger.Warn("risk observation rejected", "metric_key", obs.MetricKey, "error", err)
				continue
			}
			if signal != nil {
				signals = append(signals, *signal)
			}
		}
		sort.Slice(signals, func(i, j int) bool { return signals[i].SignalID < signals[j].SignalID })

		assessor := risk.RiskAssessor{ModelVersion: riskModelVersion, Tracer: componentTracer("tenon/risk")}
		window := types.RiskWindow{StartAt: riskWindowStart, EndAt: riskWindowEnd}
		aggregate := assessor.Assess(context.Background(), window, signals)

		alert := risk.AlertBuilder{}.Build(aggregate, riskWindowEnd,
			"see contributing_signal_ids for the observations driving this severity",
			"review the contributing signals before the next settlement cycle",
			func() string { return uuid.NewString() })

		out := struct {
			Signals     []types.RiskSignal    `json:"signals"`
			Aggregate   types.RiskAggregate   `json:"aggregate"`
			Alert       *types.RiskAlert      `json:"alert,omitempty"`
			Executive   *risk.ExecutiveView   `json:"executive_view,omitempty"`
			Operational *risk.OperationalView `json:"operational_view,omitempty"`
		}{Signals: signals, Aggregate: aggregate, Alert: alert}

		if riskIncludeViews {
			executive := risk.BuildExecutiveView([]types.RiskAggregate{aggregate}, signals)
			operational := risk.BuildOperationalView(signals)
			out.Executive = &executive
			out.Operational = &operational
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	riskWindowCmd.Flags().StringVar(&riskObservationsPath, "observations", "", "path to a JSON file containing a []types.RiskObservation")
	riskWindowCmd.Flags().StringVar(&riskWindowStart, "start", "", "window start_at (RFC3339)")
	riskWindowCmd.Flags().StringVar(&riskWindowEnd, "end", "", "window end_at (RFC3339)")
	riskWindowCmd.Flags().StringVar(&riskModelVersion, "model-version", "1", "risk model version recorded on the aggregate")
	riskWindowCmd.Flags().BoolVar(&riskIncludeViews, "views", false, "include executive and operational risk views in the output")
	_ = riskWindowCmd.MarkFlagRequired("observations")
	_ = riskWindowCmd.MarkFlagRequired("start")
	_ = riskWindowCmd.MarkFlagRequired("end")
}
