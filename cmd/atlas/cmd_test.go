package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas/internal/domain"
	"atlas/internal/shutdown"
	"atlas/internal/sink"
	"atlas/internal/source"
	"atlas/internal/telemetry"
)

func TestCliOverridesOnlyReflectsChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "export"}
	cmd.Flags().StringArrayVar(&flagTemplateIDs, "template-id", nil, "")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "")

	ov := cliOverrides(cmd)
	assert.Nil(t, ov.TemplateIDs)
	assert.Nil(t, ov.DryRun)

	require.NoError(t, cmd.Flags().Set("dry-run", "true"))
	flagDryRun = true
	ov = cliOverrides(cmd)
	require.NotNil(t, ov.DryRun)
	assert.True(t, *ov.DryRun)
}

func TestCliOverridesAnonymizeEnableDisableArePointers(t *testing.T) {
	cmd := &cobra.Command{Use: "export"}
	flagAnonymizeEnable = true
	flagAnonymizeDisable = false
	defer func() { flagAnonymizeEnable, flagAnonymizeDisable = false, false }()

	ov := cliOverrides(cmd)
	require.NotNil(t, ov.AnonymizationEnable)
	assert.True(t, *ov.AnonymizationEnable)
}

func TestRunExitCodeMapsSigtermTo143(t *testing.T) {
	summary := domain.RunSummary{Interrupted: 1}
	got := runExitCodeForSignal(summary, syscall.SIGTERM)
	assert.Equal(t, 143, got)
}

func TestRunExitCodeReadsLastSignalFromController(t *testing.T) {
	ctrl := shutdown.New(context.Background())
	stop := ctrl.ListenForSignals(syscall.SIGTERM)
	defer stop()
	ctrl.Signal()
	assert.Equal(t, 0, runExitCode(domain.RunSummary{}, ctrl))
}

func TestRunExitCodeMapsSigintTo130(t *testing.T) {
	summary := domain.RunSummary{Interrupted: 1}
	got := runExitCodeForSignal(summary, os.Interrupt)
	assert.Equal(t, 130, got)
}

func TestRunExitCodeFallsBackToSummaryExitCode(t *testing.T) {
	summary := domain.RunSummary{Failed: 3}
	got := runExitCodeForSignal(summary, nil)
	assert.Equal(t, summary.ExitCode(), got)
}

func TestConfirmAcceptsYAndYes(t *testing.T) {
	for _, answer := range []string{"y\n", "Y\n", "yes\n", "YES\n"} {
		assert.True(t, confirmReader(strings.NewReader(answer)), "answer=%q", answer)
	}
}

func TestConfirmRejectsAnythingElse(t *testing.T) {
	for _, answer := range []string{"n\n", "\n", "nope\n"} {
		assert.False(t, confirmReader(strings.NewReader(answer)), "answer=%q", answer)
	}
}

func TestRunInitWritesStarterConfig(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "atlas.yaml")
	defer func() { configPath = "atlas.yaml" }()

	require.NoError(t, runInit(&cobra.Command{}, nil))

	b, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "template_ids")
	assert.Contains(t, string(b), "environment")
}

func TestRunInitRefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "atlas.yaml")
	defer func() { configPath = "atlas.yaml"; initForce = false }()

	require.NoError(t, os.WriteFile(configPath, []byte("existing: true\n"), 0o600))
	initForce = false

	err := runInit(&cobra.Command{}, nil)
	require.Error(t, err)

	b, _ := os.ReadFile(configPath)
	assert.Equal(t, "existing: true\n", string(b))
}

func TestRunInitOverwritesWhenForced(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "atlas.yaml")
	defer func() { configPath = "atlas.yaml"; initForce = false }()

	require.NoError(t, os.WriteFile(configPath, []byte("existing: true\n"), 0o600))
	initForce = true

	require.NoError(t, runInit(&cobra.Command{}, nil))
	b, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.NotEqual(t, "existing: true\n", string(b))
}

func TestPrintSummaryEmitsJSON(t *testing.T) {
	out := captureStderr(t, func() {
		printSummary(domain.RunSummary{Total: 2, Successful: 2})
	})
	assert.Contains(t, out, "\"Total\"")
}

// fakeHealthSource and fakeHealthSink implement just enough of
// source.Adapter/sink.Adapter to drive healthProbes' two connectivity
// checks; every other method is unreachable from those probes.
type fakeHealthSource struct {
	source.Adapter
	authErr error
}

func (f *fakeHealthSource) EnsureAuthenticated(ctx context.Context) error { return f.authErr }

type fakeHealthSink struct {
	sink.Adapter
	watermarkErr error
}

func (f *fakeHealthSink) ReadWatermark(ctx context.Context, templateID domain.TemplateId, ehrID domain.EhrId) (domain.Watermark, error) {
	if f.watermarkErr != nil {
		return domain.Watermark{}, f.watermarkErr
	}
	return domain.NotStarted(templateID, ehrID), nil
}

func TestHealthProbesAllHealthyWhenSourceAndSinkSucceed(t *testing.T) {
	probes := healthProbes(&fakeHealthSource{}, &fakeHealthSink{})
	require.Len(t, probes, 2)

	for _, p := range probes {
		r := p.Check(context.Background())
		assert.Equal(t, telemetry.StatusHealthy, r.Status)
	}
}

func TestHealthProbesSourceUnhealthyWhenEnsureAuthenticatedFails(t *testing.T) {
	probes := healthProbes(&fakeHealthSource{authErr: assert.AnError}, &fakeHealthSink{})
	eval := telemetry.NewEvaluator(0, probes...)
	snap := eval.Evaluate(context.Background())
	assert.Equal(t, telemetry.StatusUnhealthy, snap.Overall)

	var found bool
	for _, r := range snap.Probes {
		if r.Name == "source" {
			found = true
			assert.Equal(t, telemetry.StatusUnhealthy, r.Status)
		}
	}
	assert.True(t, found, "expected a \"source\" probe result")
}

func TestHealthProbesSinkUnhealthyWhenReadWatermarkFails(t *testing.T) {
	probes := healthProbes(&fakeHealthSource{}, &fakeHealthSink{watermarkErr: assert.AnError})
	eval := telemetry.NewEvaluator(0, probes...)
	snap := eval.Evaluate(context.Background())
	assert.Equal(t, telemetry.StatusUnhealthy, snap.Overall)
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stderr = w
	fn()
	w.Close()
	os.Stderr = old
	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}
