// Package config defines the engine's declarative configuration schema
// and its defaults. The shape mirrors the teacher's engine.Config /
// engine/configx section-struct style (one struct per concern, assembled
// into a single top-level document) generalized from crawl/extract/output
// sections to source/sink/export/anonymization sections.
package config

import "time"

// Config is the root configuration document. Every field maps onto a
// YAML key and an ATLAS_<SECTION>_<KEY> environment override.
type Config struct {
	Environment string `yaml:"environment" validate:"required,oneof=development staging production"`

	Source        SourceConfig        `yaml:"source" validate:"required"`
	Sink          SinkConfig          `yaml:"sink" validate:"required"`
	Query         QueryConfig         `yaml:"query"`
	Export        ExportConfig        `yaml:"export"`
	Document      DocumentStoreConfig `yaml:"document_store"`
	Relational    RelationalStoreConfig `yaml:"relational_store"`
	State         StateConfig         `yaml:"state"`
	Verification  VerificationConfig  `yaml:"verification"`
	Logging       LoggingConfig       `yaml:"logging"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Anonymization AnonymizationConfig `yaml:"anonymization"`
}

// SourceConfig names the openEHR source endpoint and its credentials.
type SourceConfig struct {
	BaseURL      string `yaml:"base_url" validate:"required,url"`
	AuthMode     string `yaml:"auth_mode" validate:"required,oneof=basic oidc"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`
	TLSInsecureSkipVerify bool          `yaml:"tls_insecure_skip_verify"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
}

// SinkConfig selects which sink implementation(s) are active. Both may be
// enabled; a composite sink writes to both in that case.
type SinkConfig struct {
	Document   bool `yaml:"document"`
	Relational bool `yaml:"relational"`
}

// QueryConfig scopes the source query: which templates/EHRs to pull, the
// time range for incremental mode, and the batch/concurrency shape.
type QueryConfig struct {
	TemplateIDs  []string      `yaml:"template_ids"`
	EhrIDs       []string      `yaml:"ehr_ids"`
	Since        time.Time     `yaml:"since"`
	BatchSize    int           `yaml:"batch_size" validate:"omitempty,min=100,max=5000"`
	ParallelEhrs int           `yaml:"parallel_ehrs" validate:"omitempty,min=1,max=100"`
}

// ExportConfig drives the run's mode, retry policy, and shutdown/dry-run
// behavior.
type ExportConfig struct {
	Mode            string        `yaml:"mode" validate:"omitempty,oneof=full incremental"`
	Format          string        `yaml:"format" validate:"omitempty,oneof=preserve flatten"`
	MaxRetries      int           `yaml:"max_retries" validate:"omitempty,min=0"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DryRun          bool          `yaml:"dry_run"`
}

// DocumentStoreConfig configures the document-store sink (Badger-backed
// in this engine; spec only requires one-container-per-template plus a
// watermark control container).
type DocumentStoreConfig struct {
	Path string `yaml:"path" validate:"required_with=Enabled"`
}

// RelationalStoreConfig configures the relational sink.
type RelationalStoreConfig struct {
	DSN string `yaml:"dsn" validate:"required_with=Enabled"`
}

// StateConfig locates the watermark store, independent of the sinks —
// the engine may keep watermarks in Badger even when the sink itself is
// relational, or vice versa.
type StateConfig struct {
	Path string `yaml:"path"`
}

// VerificationConfig controls the optional post-export verification
// sweep (spec §4.11).
type VerificationConfig struct {
	Enabled        bool    `yaml:"enabled"`
	SampleRate     float64 `yaml:"sample_rate" validate:"omitempty,min=0,max=1"`
	FailureThreshold float64 `yaml:"failure_threshold" validate:"omitempty,min=0,max=1"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// TelemetryConfig selects the metrics backend, mirroring the teacher's
// MetricsEnabled/PrometheusListenAddr/MetricsBackend trio in engine.Config.
type TelemetryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Backend    string `yaml:"backend" validate:"omitempty,oneof=prometheus otel noop"`
	ListenAddr string `yaml:"listen_addr"`
}

// AnonymizationConfig is independent of ExportConfig.DryRun — see
// DESIGN.md's Open Question 2.
type AnonymizationConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ComplianceMode string  `yaml:"compliance_mode" validate:"omitempty,oneof=hipaa_safe_harbor gdpr"`
	Strategy       string  `yaml:"strategy" validate:"omitempty,oneof=redact token"`
	DryRun         bool    `yaml:"dry_run"`
	ConfidenceMin  float64 `yaml:"confidence_min" validate:"omitempty,min=0,max=1"`
	PatternFile    string  `yaml:"pattern_file"`
	AuditLogPath   string  `yaml:"audit_log_path" validate:"required_if=Enabled true"`
	Seed           int64   `yaml:"seed"`
}

// Defaults returns a Config with the engine's conservative out-of-box
// values, in the same spirit as the teacher's engine.Defaults().
func Defaults() Config {
	return Config{
		Environment: "development",
		Query: QueryConfig{
			BatchSize:    500,
			ParallelEhrs: 4,
		},
		Export: ExportConfig{
			Mode:            "incremental",
			Format:          "preserve",
			MaxRetries:      5,
			BackoffBase:     200 * time.Millisecond,
			BackoffMax:      30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Verification: VerificationConfig{
			Enabled:          false,
			SampleRate:       1.0,
			FailureThreshold: 0.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Backend: "prometheus",
		},
		Anonymization: AnonymizationConfig{
			Enabled:        false,
			ComplianceMode: "hipaa_safe_harbor",
			Strategy:       "redact",
			ConfidenceMin:  0.75,
		},
	}
}
