package domain

import "time"

// VerifyMiss is one (template, uid) the Verifier expected to find in the
// sink but did not.
type VerifyMiss struct {
	TemplateId TemplateId
	Uid        CompositionUid
	Reason     string
}

// VerifyReport is the Verifier's post-export output.
type VerifyReport struct {
	Checked     int
	Hits        int
	Misses      []VerifyMiss
	SuccessRate float64
	Duration    time.Duration
}
