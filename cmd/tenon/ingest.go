package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tenon-core/tenon/internal/evidence"
	"github.com/tenon-core/tenon/internal/identity"
	"github.com/tenon-core/tenon/internal/idempotency"
	"github.com/tenon-core/tenon/internal/ingest"
	"github.com/tenon-core/tenon/internal/worm"
)

var ingestInputPath string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "run one observation through the ingest pipeline",
	Long: `Reads a single ingest.Input from a JSON file (--input) and runs it
through the full five-step ingest protocol: content-addressed raw intake,
identity parsing, rule-registry normalization, identity/idempotency
decision, and unconditional IngestRecord append.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(ingestInputPath)
		if err != nil {
			return fmt.Errorf("read input file: %w", err)
		}
		var in ingest.Input
		if err := json.Unmarshal(raw, &in); err != nil {
			return fmt.Errorf("parse input file as ingest.Input: %w", err)
		}

		registry, err := ingest.LoadRuleRegistry(cfg.RulesPath)
		if err != nil {
			return fmt.Errorf("load rule registry: %w", err)
		}

		decider := identity.New(cfg.KeyVersion, cfg.DeciderVersion, sha256Hex)
		guardian := idempotency.New(worm.New(), func() string { return uuid.NewString() })
		pipeline := ingest.NewPipeline(registry, decider, guardian, evidence.New()).WithTracer(componentTracer("tenon/ingest"))

		logger.Info("running ingest pipeline", "source_system", in.SourceSystem, "schema_hint", in.SchemaHint)

		result, err := pipeline.Ingest(context.Background(), in, func() string { return uuid.NewString() })
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestInputPath, "input", "", "path to a JSON file containing an ingest.Input")
	_ = ingestCmd.MarkFlagRequired("input")
}
