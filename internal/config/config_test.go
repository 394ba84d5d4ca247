package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
environment: development
source:
  base_url: https://ehr.example.org
  auth_mode: basic
  username: svc
  password: ${SOURCE_PASSWORD}
sink:
  document: true
document_store:
  path: /var/lib/atlas/docs
state:
  path: /var/lib/atlas/state
anonymization:
  enabled: true
  audit_log_path: /var/lib/atlas/audit.log
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "atlas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadSubstitutesEnvTokens(t *testing.T) {
	t.Setenv("SOURCE_PASSWORD", "s3cret")
	path := writeTemp(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Source.Password)
	assert.Equal(t, 500, cfg.Query.BatchSize, "unset fields keep Defaults()")
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("SOURCE_PASSWORD", "s3cret")
	t.Setenv("ATLAS_EXPORT_MODE", "full")
	t.Setenv("ATLAS_QUERY_BATCH_SIZE", "250")
	path := writeTemp(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Export.Mode)
	assert.Equal(t, 250, cfg.Query.BatchSize)
}

func TestValidateRejectsProductionTLSDisable(t *testing.T) {
	cfg := Defaults()
	cfg.Environment = "production"
	cfg.Source.BaseURL = "https://ehr.example.org"
	cfg.Source.AuthMode = "basic"
	cfg.Source.TLSInsecureSkipVerify = true
	cfg.Sink.Document = true

	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateRequiresAtLeastOneSink(t *testing.T) {
	cfg := Defaults()
	cfg.Source.BaseURL = "https://ehr.example.org"
	cfg.Source.AuthMode = "basic"

	err := Validate(cfg)
	assert.Error(t, err)
}

func TestApplyCLIOverridesDryRun(t *testing.T) {
	cfg := Defaults()
	yes := true
	cfg = ApplyCLIOverrides(cfg, CLIOverrides{DryRun: &yes, Mode: "full"})
	assert.True(t, cfg.Export.DryRun)
	assert.Equal(t, "full", cfg.Export.Mode)
}

func TestParseStringList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseStringList("a,b"))
	assert.Equal(t, []string{"a", "b"}, parseStringList(`["a","b"]`))
	assert.Equal(t, []string{}, parseStringList(""))
}
