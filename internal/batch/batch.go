// Package batch implements the Batch Processor (spec §4.8): for one
// batch of composition metadata within a (template, ehr) run it fetches,
// transforms, optionally anonymizes, writes to the sink, and advances
// the watermark. Grounded on the teacher's internal/processor worker
// pool — bounded-concurrency fan-out over a slice of items with
// per-item error isolation feeding one aggregated result struct —
// generalized from per-page HTML processing to per-composition
// transform/anonymize/sink-write.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"atlas/internal/anonymize"
	"atlas/internal/atlaserr"
	"atlas/internal/domain"
	"atlas/internal/pii"
	"atlas/internal/retry"
	"atlas/internal/sink"
	"atlas/internal/source"
	"atlas/internal/telemetry"
	"atlas/internal/transform"
	"atlas/internal/watermark"
)

// AuditRecorder is the subset of *audit.Logger the Batch Processor
// depends on, so tests can supply a lightweight fake instead of opening
// a real audit file.
type AuditRecorder interface {
	Record(r domain.AuditRecord)
}

// Processor wires one (template, ehr) batch's dependencies together.
// A nil Detector/Anonymizer disables anonymization entirely, matching
// AnonymizationConfig.Enabled=false.
type Processor struct {
	Source      source.Adapter
	Sink        sink.Adapter
	Transformer transform.Transformer
	Detector    *pii.Detector
	Anonymizer  *anonymize.Anonymizer
	Audit       AuditRecorder
	Watermarks  *watermark.Store
	FetchPolicy *retry.Policy

	EngineVersion string
	ExportMode    string
	Strategy      domain.Strategy
	Compliance    domain.ComplianceMode
	Concurrency   int
	DryRun        bool

	// AnonymizeDryRun mirrors AnonymizationConfig.DryRun (spec §4.8):
	// independent of the export-level DryRun above, it withholds only
	// the compositions that actually went through anonymization from
	// the sink-forward/watermark-advance path, while detection still
	// runs and still produces an audit record for them.
	AnonymizeDryRun bool

	// Metrics records per-composition counters/histograms through the
	// configured telemetry.Provider. Nil uses a noop provider, so
	// existing callers built by struct literal (including every test in
	// this package) see no behavior change.
	Metrics telemetry.Provider

	metricsOnce sync.Once
	metrics     processorMetrics
}

// processorMetrics holds the metric handles Process emits into, built
// once on first use from whatever Processor.Metrics was set to.
type processorMetrics struct {
	compositions   telemetry.Counter // labeled "outcome": successful|duplicate|failed
	piiDetections  telemetry.Counter
	anonymizeTimer telemetry.Histogram
}

func (p *Processor) ensureMetrics() processorMetrics {
	p.metricsOnce.Do(func() {
		provider := p.Metrics
		if provider == nil {
			provider = telemetry.NewNoopProvider()
		}
		p.metrics = processorMetrics{
			compositions: provider.NewCounter(telemetry.CounterOpts{CommonOpts: telemetry.CommonOpts{
				Namespace: "atlas", Subsystem: "batch", Name: "compositions_total",
				Help: "Compositions processed, by outcome.", Labels: []string{"outcome"},
			}}),
			piiDetections: provider.NewCounter(telemetry.CounterOpts{CommonOpts: telemetry.CommonOpts{
				Namespace: "atlas", Subsystem: "batch", Name: "pii_detections_total",
				Help: "PII entities detected across all processed compositions.",
			}}),
			anonymizeTimer: provider.NewHistogram(telemetry.HistogramOpts{CommonOpts: telemetry.CommonOpts{
				Namespace: "atlas", Subsystem: "batch", Name: "anonymization_duration_ms",
				Help: "Per-composition anonymization latency in milliseconds.",
			}}),
		}
	})
	return p.metrics
}

type fetchOutcome struct {
	meta            domain.CompositionMetadata
	doc             domain.ExportedDocument
	err             error
	piiDetections   int
	anonymizationMs int64
	// withheld marks a composition that was anonymized but must not be
	// forwarded to the sink or counted toward watermark progress,
	// because AnonymizeDryRun is set.
	withheld bool
}

// Process runs the full transform -> anonymize -> sink-write ->
// watermark-advance pipeline for one batch, given the watermark already
// reopened by watermark.Store.Begin. A sink-wide error aborts the batch
// without advancing w, per spec §4.8; a single composition's fetch/
// transform/anonymization failure is isolated and reported in
// BatchResult.Errors instead.
func (p *Processor) Process(ctx context.Context, w domain.Watermark, metas []domain.CompositionMetadata) (domain.BatchResult, domain.Watermark, error) {
	metrics := p.ensureMetrics()
	outcomes := p.fetchAndTransform(ctx, metas)

	result := domain.BatchResult{}
	docs := make([]domain.ExportedDocument, 0, len(outcomes))
	docMeta := make([]domain.CompositionMetadata, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, o.err)
			metrics.compositions.Inc(1, "failed")
			continue
		}
		result.PIIDetections += o.piiDetections
		result.AnonymizationMs += o.anonymizationMs
		if o.piiDetections > 0 {
			metrics.piiDetections.Inc(float64(o.piiDetections))
			metrics.anonymizeTimer.Observe(float64(o.anonymizationMs))
		}
		if o.withheld {
			// AnonymizeDryRun: anonymized and audited, but per spec §4.8 /
			// §3 invariant 4 never reaches the sink and never advances the
			// watermark — excluded before it can contribute to this
			// batch's docs/cursor at all.
			continue
		}
		docs = append(docs, o.doc)
		docMeta = append(docMeta, o.meta)
	}

	if len(docs) == 0 {
		return result, w, nil
	}

	if p.DryRun {
		result.Successful += len(docs)
		metrics.compositions.Inc(float64(len(docs)), "successful")
		result.LastTimestamp, result.LastUid = maxCursor(docMeta)
		for _, m := range docMeta {
			result.SuccessfulUids = append(result.SuccessfulUids, m.Uid)
		}
		return result, w, nil
	}

	insertResults, err := p.Sink.BulkInsert(ctx, docMeta[0].TemplateId, docs)
	if err != nil {
		return domain.BatchResult{}, w, atlaserr.New(atlaserr.KindSink, "batch.bulk_insert", string(docMeta[0].TemplateId), err)
	}
	if len(insertResults) != len(docs) {
		return domain.BatchResult{}, w, atlaserr.New(atlaserr.KindSink, "batch.bulk_insert", string(docMeta[0].TemplateId),
			fmt.Errorf("sink returned %d results for %d documents", len(insertResults), len(docs)))
	}

	var progressed []domain.CompositionMetadata
	for i, r := range insertResults {
		switch r.Outcome {
		case sink.Inserted:
			result.Successful++
			progressed = append(progressed, docMeta[i])
			result.SuccessfulUids = append(result.SuccessfulUids, docMeta[i].Uid)
			metrics.compositions.Inc(1, "successful")
		case sink.Duplicate:
			result.DuplicatesSkipped++
			progressed = append(progressed, docMeta[i])
			result.SuccessfulUids = append(result.SuccessfulUids, docMeta[i].Uid)
			metrics.compositions.Inc(1, "duplicate")
		default:
			result.Failed++
			result.Errors = append(result.Errors, atlaserr.New(atlaserr.KindSink, "batch.insert_item", string(r.CompositionUid), fmt.Errorf("%s", r.Reason)))
			metrics.compositions.Inc(1, "failed")
		}
	}

	if len(progressed) == 0 {
		return result, w, nil
	}
	result.LastTimestamp, result.LastUid = maxCursor(progressed)

	next, err := p.Watermarks.Commit(ctx, w, result.LastTimestamp, result.LastUid, int64(result.Successful+result.DuplicatesSkipped))
	if err != nil {
		return result, w, err
	}
	return result, next, nil
}

// fetchAndTransform runs the fetch/transform/anonymize chain for every
// metadata entry with bounded concurrency, preserving input order in the
// returned slice regardless of completion order.
func (p *Processor) fetchAndTransform(ctx context.Context, metas []domain.CompositionMetadata) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(metas))
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, meta := range metas {
		wg.Add(1)
		go func(i int, meta domain.CompositionMetadata) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = fetchOutcome{meta: meta, err: ctx.Err()}
				return
			}
			outcomes[i] = p.processOne(ctx, meta)
		}(i, meta)
	}
	wg.Wait()
	return outcomes
}

func (p *Processor) processOne(ctx context.Context, meta domain.CompositionMetadata) fetchOutcome {
	var body domain.CompositionBody
	fetchErr := p.FetchPolicy.Do(ctx, atlaserr.IsTransient, func() error {
		b, err := p.Source.FetchComposition(ctx, meta)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if fetchErr != nil {
		return fetchOutcome{meta: meta, err: atlaserr.New(atlaserr.KindSourceData, "batch.fetch", string(meta.Uid), fetchErr)}
	}

	doc, err := p.Transformer.Transform(meta, body, p.EngineVersion, p.ExportMode)
	if err != nil {
		return fetchOutcome{meta: meta, err: atlaserr.New(atlaserr.KindTransformation, "batch.transform", string(meta.Uid), err)}
	}

	if p.Detector == nil {
		return fetchOutcome{meta: meta, doc: doc}
	}

	entities := p.Detector.Detect(doc.Content)
	if len(entities) == 0 {
		return fetchOutcome{meta: meta, doc: doc}
	}

	start := time.Now()
	detections, err := p.Anonymizer.Apply(doc.Content, entities)
	if err != nil {
		// Fail-safe per spec §4.8: never forward un-anonymized data when
		// anonymization was requested — drop the composition instead of
		// emitting it unredacted.
		return fetchOutcome{meta: meta, err: atlaserr.New(atlaserr.KindAnonymization, "batch.anonymize", string(meta.Uid), err)}
	}
	elapsed := time.Since(start)

	if p.Audit != nil {
		p.Audit.Record(domain.AuditRecord{
			Timestamp:        time.Now().UTC().Format(time.RFC3339Nano),
			CompositionUid:   meta.Uid,
			Detections:       detections,
			Strategy:         p.Strategy,
			ComplianceMode:   p.Compliance,
			ProcessingTimeMs: elapsed.Milliseconds(),
		})
	}

	if p.AnonymizeDryRun {
		return fetchOutcome{meta: meta, withheld: true, piiDetections: len(entities), anonymizationMs: elapsed.Milliseconds()}
	}

	return fetchOutcome{meta: meta, doc: doc, piiDetections: len(entities), anonymizationMs: elapsed.Milliseconds()}
}

// maxCursor returns the (time_committed, uid) pair spec §4.8 calls the
// batch's cursor: the maximum under CompositionMetadata.Before's
// ordering among the given (already successful/duplicate-skipped)
// entries.
func maxCursor(metas []domain.CompositionMetadata) (time.Time, domain.CompositionUid) {
	best := metas[0]
	for _, m := range metas[1:] {
		if best.Before(m) {
			best = m
		}
	}
	return best.TimeCommitted, best.Uid
}
