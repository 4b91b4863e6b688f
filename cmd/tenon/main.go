// Command tenon is a thin wiring layer over the core TENON packages: it
// parses flags, loads configuration, constructs the component graph, and
// prints results. It contains no decision logic of its own — every
// ACCEPT/REJECT/FLAG outcome, every hash, every threshold evaluation comes
// from internal/*.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tenon-core/tenon/internal/config"
	"github.com/tenon-core/tenon/internal/telemetry"
)

var (
	configPath string
	rulesPath  string
	thresholds string
	mysqlDSN   string
	logLevel   string

	cfg            config.Config
	logger         *slog.Logger
	tracerProvider *sdktrace.TracerProvider
)

// componentTracer returns a named tracer off the process-wide provider
// built in PersistentPreRunE. Every core component is wired through this
// rather than the otel global so shutting tracerProvider down at exit
// flushes every span the run produced.
func componentTracer(name string) oteltrace.Tracer {
	return telemetry.Tracer(tracerProvider, name)
}

var rootCmd = &cobra.Command{
	Use:   "tenon",
	Short: "tenon — institutional financial-event observability core",
	Long: `tenon wires the WORM ledger, idempotency guardian, ingest pipeline,
identity decider, and risk observability components together from the
command line. It is a diagnostic and operational front end, not a decision
engine: every outcome it prints was computed by a core package.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if rulesPath != "" {
			loaded.RulesPath = rulesPath
		}
		if thresholds != "" {
			loaded.ThresholdsPath = thresholds
		}
		if mysqlDSN != "" {
			loaded.MySQLDSN = mysqlDSN
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		cfg = loaded
		logger = telemetry.NewLogger(os.Stderr, parseLevel(cfg.LogLevel))
		tracerProvider = telemetry.NewTracerProvider()
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if tracerProvider == nil {
			return nil
		}
		return tracerProvider.Shutdown(context.Background())
	},
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "tenon.yaml", "path to tenon's YAML config file")
	rootCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "override rules_path from config")
	rootCmd.PersistentFlags().StringVar(&thresholds, "thresholds", "", "override thresholds_path from config")
	rootCmd.PersistentFlags().StringVar(&mysqlDSN, "mysql-dsn", "", "override mysql_dsn from config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from config (debug, info, warn, error)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(verifyChainCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(riskWindowCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
