// Package coordinator implements the Export Coordinator (spec §4.10):
// the top-level state machine driving per-template, per-EHR export over
// a shared batch.Processor. Grounded on the teacher's engine.Engine
// facade (engine/engine.go) — a single composition root wrapping
// pipeline/limiter/resource-manager subsystems behind New/Start/Stop/
// Snapshot — generalized from one crawl pipeline to the templates×EHRs
// matrix this spec names, with bounded per-EHR fan-out replacing the
// teacher's single linear pipeline.
package coordinator

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"atlas/internal/atlaserr"
	"atlas/internal/batch"
	"atlas/internal/domain"
	"atlas/internal/shutdown"
	"atlas/internal/source"
	"atlas/internal/telemetry"
)

// Mode selects the composition-listing cursor strategy.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Coordinator drives the template/EHR state machine described in spec
// §4.10 over one shared batch.Processor.
type Coordinator struct {
	Source       source.Adapter
	Processor    *batch.Processor
	Shutdown     *shutdown.Controller
	BatchSize    int
	ParallelEhrs int
	Mode         Mode

	// DrainTimeout bounds how long runTemplate waits for in-flight EHRs
	// to finish once shutdown has been observed, per spec §4.9. Zero
	// uses shutdown.DefaultDrainTimeout.
	DrainTimeout time.Duration

	// terminate is called when the bounded drain itself expires, so the
	// process self-terminates rather than hang indefinitely (spec §4.9).
	// Defaults to os.Exit; overridden in tests to avoid killing the test
	// binary.
	terminate func(code int)

	// Metrics records per-EHR counters/gauges through the configured
	// telemetry.Provider. Nil uses a noop provider, so existing callers
	// built by struct literal (including every test in this package) see
	// no behavior change.
	Metrics telemetry.Provider

	metricsOnce sync.Once
	metrics     coordinatorMetrics
}

// coordinatorMetrics holds the metric handles Run/runTemplate emit
// into, built once on first use from whatever Coordinator.Metrics was
// set to.
type coordinatorMetrics struct {
	ehrsCompleted telemetry.Counter // labeled "status": completed|failed|interrupted
	ehrsInFlight  telemetry.Gauge
}

func (c *Coordinator) ensureMetrics() coordinatorMetrics {
	c.metricsOnce.Do(func() {
		provider := c.Metrics
		if provider == nil {
			provider = telemetry.NewNoopProvider()
		}
		c.metrics = coordinatorMetrics{
			ehrsCompleted: provider.NewCounter(telemetry.CounterOpts{CommonOpts: telemetry.CommonOpts{
				Namespace: "atlas", Subsystem: "coordinator", Name: "ehrs_total",
				Help: "EHRs finished, by final status.", Labels: []string{"status"},
			}}),
			ehrsInFlight: provider.NewGauge(telemetry.GaugeOpts{CommonOpts: telemetry.CommonOpts{
				Namespace: "atlas", Subsystem: "coordinator", Name: "ehrs_in_flight",
				Help: "EHRs currently being processed concurrently.",
			}}),
		}
	})
	return c.metrics
}

// Run executes the full state machine: for each template (strictly
// sequential, decoupling per-template failure handling per spec §5),
// fan out over ehrIDs with degree ParallelEhrs (bounded 1-100), and
// aggregate into a RunSummary. Run never starts a new EHR or template
// once the Shutdown Controller's observable has fired.
func (c *Coordinator) Run(ctx context.Context, templates []domain.TemplateId, ehrIDs []domain.EhrId) domain.RunSummary {
	start := time.Now()
	summary := domain.RunSummary{}

	for _, template := range templates {
		if c.shuttingDown() {
			break
		}
		perEhr := c.runTemplate(ctx, template, ehrIDs)
		summary.PerEhr = append(summary.PerEhr, perEhr...)
	}

	for _, e := range summary.PerEhr {
		summary.Total += e.Successful + e.Failed + e.DuplicatesSkipped
		summary.Successful += e.Successful
		summary.Failed += e.Failed
		summary.DuplicatesSkipped += e.DuplicatesSkipped
		if e.Interrupted {
			summary.Interrupted++
		}
	}
	summary.Duration = time.Since(start)
	return summary
}

func (c *Coordinator) shuttingDown() bool {
	select {
	case <-c.Shutdown.Done():
		return true
	default:
		return false
	}
}

// runTemplate fans out over ehrIDs with degree ParallelEhrs, bounded
// 1-100 per spec §4.10, and returns one EhrSummary per EHR processed
// (an EHR skipped entirely because shutdown was already observed before
// it started is omitted, matching "the coordinator does not start new
// batches or new EHRs" after observation).
func (c *Coordinator) runTemplate(ctx context.Context, template domain.TemplateId, ehrIDs []domain.EhrId) []domain.EhrSummary {
	degree := c.ParallelEhrs
	if degree < 1 {
		degree = 1
	}
	if degree > 100 {
		degree = 100
	}

	metrics := c.ensureMetrics()
	sem := make(chan struct{}, degree)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var summaries []domain.EhrSummary

	for _, ehr := range ehrIDs {
		if c.shuttingDown() {
			break
		}
		wg.Add(1)
		go func(ehr domain.EhrId) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			metrics.ehrsInFlight.Add(1)
			s := c.runEhr(ctx, template, ehr)
			metrics.ehrsInFlight.Add(-1)
			metrics.ehrsCompleted.Inc(1, string(s.FinalStatus))
			mu.Lock()
			summaries = append(summaries, s)
			mu.Unlock()
		}(ehr)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return summaries
	case <-c.Shutdown.Done():
	}

	// Shutdown was observed: bound the remaining wait instead of hanging
	// on straggling EHR goroutines indefinitely (spec §4.9).
	if shutdown.Drain(func() { <-done }, c.DrainTimeout) {
		return summaries
	}
	c.exit(atlaserr.ExitTerminatedSignal)
	return summaries
}

// exit self-terminates the process once a bounded drain has itself
// expired, per spec §4.9's "the process self-terminates even if a drain
// is ongoing." Defaults to os.Exit; Coordinator.terminate lets tests
// intercept it.
func (c *Coordinator) exit(code int) {
	if c.terminate != nil {
		c.terminate(code)
		return
	}
	os.Exit(code)
}

// runEhr executes LOAD_WATERMARK -> MARK_IN_PROGRESS -> LIST_COMPOSITIONS
// -> stream-into-batches -> PROCESS_BATCH* -> MARK_{COMPLETED,FAILED,
// INTERRUPTED} for one (template, ehr) pair. Batches within one EHR run
// strictly sequentially so the watermark stays monotone (spec §5); the
// cancellation observable is only checked between batches, never
// mid-bulk-insert.
func (c *Coordinator) runEhr(ctx context.Context, template domain.TemplateId, ehr domain.EhrId) domain.EhrSummary {
	summary := domain.EhrSummary{TemplateId: template, EhrId: ehr}

	w, err := c.Processor.Watermarks.Begin(ctx, template, ehr)
	if err != nil {
		summary.Failed++
		summary.FinalStatus = domain.StatusFailed
		return summary
	}

	seq, err := c.Source.ListCompositions(ctx, template, ehr, c.cursor(w))
	if err != nil {
		_ = c.Processor.Watermarks.Fail(ctx, w)
		summary.Failed++
		summary.FinalStatus = domain.StatusFailed
		return summary
	}

	interrupted := false
	for {
		if c.shuttingDown() {
			interrupted = true
			break
		}
		metas, eof, err := pullBatch(ctx, seq, c.batchSize())
		if err != nil {
			_ = c.Processor.Watermarks.Fail(ctx, w)
			summary.Failed++
			summary.FinalStatus = domain.StatusFailed
			return summary
		}
		if len(metas) > 0 {
			result, next, err := c.Processor.Process(ctx, w, metas)
			if err != nil {
				_ = c.Processor.Watermarks.Fail(ctx, w)
				summary.Failed += len(metas)
				summary.FinalStatus = domain.StatusFailed
				return summary
			}
			w = next
			summary.Successful += result.Successful
			summary.Failed += result.Failed
			summary.DuplicatesSkipped += result.DuplicatesSkipped
			summary.SuccessfulUids = append(summary.SuccessfulUids, result.SuccessfulUids...)
		}
		if eof {
			break
		}
	}

	if interrupted {
		_ = c.Processor.Watermarks.Interrupt(ctx, w)
		summary.Interrupted = true
		summary.FinalStatus = domain.StatusInterrupted
		return summary
	}

	if _, err := c.Processor.Watermarks.Complete(ctx, w); err != nil {
		summary.Failed++
		summary.FinalStatus = domain.StatusFailed
		return summary
	}

	summary.FinalStatus = domain.StatusCompleted
	return summary
}

func (c *Coordinator) batchSize() int {
	if c.BatchSize <= 0 {
		return 500
	}
	return c.BatchSize
}

// cursor maps Mode and the just-reopened watermark onto the since filter
// spec §4.10's mode-selection rule describes: full always lists from
// the beginning; incremental resumes from the watermark's last
// acknowledged (time_committed, uid).
func (c *Coordinator) cursor(w domain.Watermark) *source.CompositionCursor {
	if c.Mode == ModeFull {
		return nil
	}
	if w.LastExportedTimestamp.IsZero() {
		return nil
	}
	return &source.CompositionCursor{
		TimeCommitted: w.LastExportedTimestamp.UnixNano(),
		UID:           w.LastExportedCompositionUid,
	}
}

// pullBatch drains up to size entries from seq, reporting eof=true once
// the sequence is exhausted within this call (a short final batch still
// gets processed, not discarded).
func pullBatch(ctx context.Context, seq source.CompositionSeq, size int) (metas []domain.CompositionMetadata, eof bool, err error) {
	for i := 0; i < size; i++ {
		m, err := seq.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return metas, true, nil
			}
			return metas, false, atlaserr.New(atlaserr.KindSourceData, "coordinator.list_compositions", string(m.Uid), err)
		}
		metas = append(metas, m)
	}
	return metas, false, nil
}
