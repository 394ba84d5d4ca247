package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"atlas/internal/atlaserr"
	"atlas/internal/audit"
	"atlas/internal/batch"
	"atlas/internal/config"
	"atlas/internal/coordinator"
	"atlas/internal/domain"
	"atlas/internal/retry"
	"atlas/internal/secret"
	"atlas/internal/shutdown"
	"atlas/internal/telemetry"
	"atlas/internal/transform"
	"atlas/internal/verify"
	"atlas/internal/watermark"
)

var (
	flagYes                bool
	flagDryRun             bool
	flagTemplateIDs        []string
	flagEhrIDs             []string
	flagMode               string
	flagLogLevel           string
	flagAnonymizeEnable    bool
	flagAnonymizeDisable   bool
	flagAnonymizeMode      string
	flagAnonymizeDryRun    bool
	flagAnonymizeDryRunSet bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run one export pass against the configured source and sink",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "Skip the interactive confirmation prompt")
	exportCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Fetch, transform, and anonymize, but do not write to the sink or advance watermarks")
	exportCmd.Flags().StringArrayVar(&flagTemplateIDs, "template-id", nil, "Template id to export (repeatable); overrides query.template_ids")
	exportCmd.Flags().StringArrayVar(&flagEhrIDs, "ehr-id", nil, "EHR id to export (repeatable); overrides query.ehr_ids")
	exportCmd.Flags().StringVar(&flagMode, "mode", "", "Override export.mode (full|incremental)")
	exportCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Override logging.level")
	exportCmd.Flags().BoolVar(&flagAnonymizeEnable, "anonymize-enable", false, "Force anonymization.enabled=true")
	exportCmd.Flags().BoolVar(&flagAnonymizeDisable, "anonymize-disable", false, "Force anonymization.enabled=false")
	exportCmd.Flags().StringVar(&flagAnonymizeMode, "anonymize-mode", "", "Override anonymization.strategy (redact|token)")
	exportCmd.Flags().BoolVar(&flagAnonymizeDryRun, "anonymize-dry-run", false, "Override anonymization.dry_run")
}

func runExport(cmd *cobra.Command, args []string) error {
	flagAnonymizeDryRunSet = cmd.Flags().Changed("anonymize-dry-run")

	cfg, err := config.Load(configPath)
	if err != nil {
		return exitWith(err)
	}
	cfg = config.ApplyCLIOverrides(cfg, cliOverrides(cmd))

	if err := config.Validate(cfg); err != nil {
		return exitWith(err)
	}

	log := telemetry.NewLogger(cfg.Logging.Level, cfg.Logging.Format).WithField("component", "export")

	if !flagYes && !confirm(cfg) {
		fmt.Fprintln(os.Stderr, "aborted: confirmation declined")
		os.Exit(atlaserr.ExitInterruptedSignal)
	}

	ctrl := shutdown.New(context.Background())
	stop := ctrl.ListenForSignals(os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer secret.Purge()

	policy := retry.NewPolicy(cfg.Export.BackoffBase, cfg.Export.BackoffMax, cfg.Export.MaxRetries)
	metricsProvider := telemetry.SelectProvider(cfg.Telemetry.Enabled, cfg.Telemetry.Backend, "atlas")

	src, err := buildSource(cfg, log, policy)
	if err != nil {
		return exitWith(err)
	}

	sinks, err := buildSink(ctrl.Context(), cfg)
	if err != nil {
		return exitWith(err)
	}
	defer sinks.Close()

	detector, anonymizer, err := buildAnonymizer(cfg)
	if err != nil {
		return exitWith(err)
	}

	var auditRecorder batch.AuditRecorder
	if cfg.Anonymization.Enabled {
		logger, err := audit.Open(cfg.Anonymization.AuditLogPath, audit.FormatJSONLines)
		if err != nil {
			return exitWith(err)
		}
		defer func() {
			if closeErr := logger.Close(); closeErr != nil {
				log.WithError(closeErr).Error("audit log failed to flush cleanly")
			}
		}()
		auditRecorder = logger
	}

	processor := &batch.Processor{
		Source:          src,
		Sink:            sinks.adapter,
		Transformer:     transform.New(domain.TransformMode(cfg.Export.Format)),
		Detector:        detector,
		Anonymizer:      anonymizer,
		Audit:           auditRecorder,
		Watermarks:      watermark.New(sinks.adapter),
		FetchPolicy:     policy,
		EngineVersion:   engineVersion,
		ExportMode:      cfg.Export.Mode,
		Strategy:        domain.Strategy(cfg.Anonymization.Strategy),
		Compliance:      domain.ComplianceMode(cfg.Anonymization.ComplianceMode),
		Concurrency:     cfg.Query.ParallelEhrs,
		DryRun:          cfg.Export.DryRun,
		AnonymizeDryRun: cfg.Anonymization.DryRun,
		Metrics:         metricsProvider,
	}

	ehrs, err := resolveEhrIDs(ctrl.Context(), src, cfg.Query.EhrIDs)
	if err != nil {
		return exitWith(err)
	}

	coord := &coordinator.Coordinator{
		Source:       src,
		Processor:    processor,
		Shutdown:     ctrl,
		BatchSize:    cfg.Query.BatchSize,
		ParallelEhrs: cfg.Query.ParallelEhrs,
		Mode:         coordinator.Mode(cfg.Export.Mode),
		DrainTimeout: cfg.Export.ShutdownTimeout,
		Metrics:      metricsProvider,
	}

	summary := coord.Run(ctrl.Context(), templateIDs(cfg.Query.TemplateIDs), ehrs)
	printSummary(summary)

	if cfg.Verification.Enabled {
		runVerification(ctrl.Context(), log, sinks, summary, cfg)
	}

	os.Exit(runExitCode(summary, ctrl))
	return nil
}

// runVerification re-checks every successful composition this run wrote
// against the sink, per spec §4.11.
func runVerification(ctx context.Context, log interface{ Warnf(string, ...any) }, sinks *sinkHandles, summary domain.RunSummary, cfg config.Config) {
	var targets []verify.Target
	for _, e := range summary.PerEhr {
		for _, uid := range e.SuccessfulUids {
			targets = append(targets, verify.Target{TemplateId: e.TemplateId, Uid: uid})
		}
	}
	v := &verify.Verifier{Sink: sinks.adapter, Concurrency: cfg.Query.ParallelEhrs, SampleRate: cfg.Verification.SampleRate}
	report := v.Run(ctx, targets)
	if report.SuccessRate < 1-cfg.Verification.FailureThreshold {
		log.Warnf("verification success rate %.4f below threshold", report.SuccessRate)
	}
	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Fprintf(os.Stderr, "=== VERIFICATION ===\n%s\n", string(b))
}

func cliOverrides(cmd *cobra.Command) config.CLIOverrides {
	ov := config.CLIOverrides{Mode: flagMode, LogLevel: flagLogLevel, AnonymizationMode: flagAnonymizeMode}
	if cmd.Flags().Changed("template-id") {
		ov.TemplateIDs = flagTemplateIDs
	}
	if cmd.Flags().Changed("ehr-id") {
		ov.EhrIDs = flagEhrIDs
	}
	if cmd.Flags().Changed("dry-run") {
		v := flagDryRun
		ov.DryRun = &v
	}
	if flagAnonymizeEnable {
		v := true
		ov.AnonymizationEnable = &v
	}
	if flagAnonymizeDisable {
		v := false
		ov.AnonymizationEnable = &v
	}
	if flagAnonymizeDryRunSet {
		v := flagAnonymizeDryRun
		ov.AnonymizationDryRun = &v
	}
	return ov
}

// confirm implements the interactive yes/no gate spec.md §6 names: a
// summary of what the run will touch, answered 'y' to proceed. Skipped
// entirely by --yes or when stdin isn't a terminal the operator can
// answer (dry runs still prompt, since a dry run still contacts the
// live source).
func confirm(cfg config.Config) bool {
	fmt.Fprintf(os.Stderr, "about to export templates=%v ehrs=%v mode=%s dry_run=%v against %s\nproceed? [y/N] ",
		cfg.Query.TemplateIDs, cfg.Query.EhrIDs, cfg.Export.Mode, cfg.Export.DryRun, cfg.Source.BaseURL)
	return confirmReader(os.Stdin)
}

// confirmReader reads one answer line from r and reports whether it was
// an affirmative y/yes, split out from confirm so the decision logic is
// testable without a real stdin.
func confirmReader(r io.Reader) bool {
	reader := bufio.NewReader(r)
	line, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y") || strings.EqualFold(strings.TrimSpace(line), "yes")
}

func printSummary(summary domain.RunSummary) {
	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Fprintf(os.Stderr, "=== SUMMARY (%s) ===\n%s\n", time.Now().UTC().Format(time.RFC3339), string(b))
}

// runExitCode maps a completed run's summary to the taxonomy in spec
// §4.10, distinguishing an interactive SIGINT (130) from a termination
// SIGTERM (143) via the Shutdown Controller's recorded signal.
func runExitCode(summary domain.RunSummary, ctrl *shutdown.Controller) int {
	return runExitCodeForSignal(summary, ctrl.LastSignal())
}

// runExitCodeForSignal holds the actual mapping logic, split out from
// runExitCode so it's testable against a plain os.Signal value instead
// of a live Shutdown Controller.
func runExitCodeForSignal(summary domain.RunSummary, sig os.Signal) int {
	if summary.Interrupted > 0 {
		if sig == syscall.SIGTERM {
			return atlaserr.ExitTerminatedSignal
		}
		return atlaserr.ExitInterruptedSignal
	}
	return summary.ExitCode()
}

// exitWith classifies a run-aborting error into its exit code and
// returns it as a cobra-compatible error after printing it, so
// rootCmd.Execute's own error path does not also print a usage banner
// for what is a runtime, not a usage, failure.
func exitWith(err error) error {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(atlaserr.ExitCodeForKind(atlaserr.KindOf(err)))
	return nil
}
