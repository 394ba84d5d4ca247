package domain

// ComplianceMode selects which PII category set the detector evaluates.
type ComplianceMode string

const (
	ComplianceHIPAASafeHarbor ComplianceMode = "hipaa_safe_harbor"
	ComplianceGDPR            ComplianceMode = "gdpr"
)

// Strategy selects how a detected entity is replaced.
type Strategy string

const (
	StrategyRedact Strategy = "redact"
	StrategyToken  Strategy = "token"
)

// Position locates a detected entity within a composition body: a path
// (flatpath-joined, see internal/transform) plus a half-open byte offset
// span within the leaf's string value.
type Position struct {
	Path  string `json:"path"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// PIIEntity is one detected entity. OriginalHash is the SHA-256 hex digest
// of the original plaintext; the plaintext itself never leaves the
// detector/anonymizer boundary (spec invariant 4).
type PIIEntity struct {
	Category     string   `json:"category"`
	Position     Position `json:"position"`
	Confidence   float64  `json:"confidence"`
	OriginalHash string   `json:"original_hash"`
	Replacement  string   `json:"replacement"`
}

// AuditDetection is the PII-free projection of a PIIEntity recorded in an
// AuditRecord: category, replacement, position, and hash only.
type AuditDetection struct {
	Category         string   `json:"category"`
	OriginalHash     string   `json:"original_hash"`
	ReplacementValue string   `json:"replacement_value"`
	Position         Position `json:"position"`
}

// AuditRecord is the tamper-evident, PII-free record written once per
// anonymized composition.
type AuditRecord struct {
	Timestamp         string           `json:"timestamp"`
	CompositionUid    CompositionUid   `json:"composition_uid"`
	Detections        []AuditDetection `json:"detections"`
	Strategy          Strategy         `json:"strategy"`
	ComplianceMode    ComplianceMode   `json:"compliance_mode"`
	ProcessingTimeMs  int64            `json:"processing_time_ms"`
}
