// Package audit implements the Audit Logger (spec §4.6): one PII-free
// entry per anonymized composition, written as a JSON-per-line or
// plain-text stream, buffered and flushed on a ticker the way the
// teacher's checkpoint log is, but — unlike the teacher's
// swallow-the-write-error checkpoint loop — surfacing any write failure
// loudly instead of dropping it, since the audit log is a
// safety-critical surface (spec §4.6 is explicit that loss must be
// reported, not merely logged).
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"atlas/internal/atlaserr"
	"atlas/internal/domain"
)

// Format selects the on-disk serialization.
type Format string

const (
	FormatJSONLines Format = "json_lines"
	FormatPlainText Format = "plain_text"
)

const (
	defaultFlushInterval = 50 * time.Millisecond
	defaultFlushBatch    = 64
)

// Logger buffers AuditRecords in memory and flushes them to an
// append-only file on a ticker or when the buffer fills, grounded on
// the teacher's resources.Manager checkpointLoop (buffered channel,
// ticker-driven flush, append-mode file).
type Logger struct {
	format Format
	ch     chan domain.AuditRecord
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastErr error
	closeCh chan struct{}
}

// Open starts a Logger writing to path in format, creating the file's
// parent directory if needed.
func Open(path string, format Format) (*Logger, error) {
	l := &Logger{
		format:  format,
		ch:      make(chan domain.AuditRecord, 1024),
		closeCh: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.loop(path)
	return l, nil
}

// Record enqueues one record. Non-blocking with respect to the writer
// goroutine; returns only once the record is queued, not once it is
// durable — callers that need durability confirmation should call Close
// and inspect its returned error, or LastError.
func (l *Logger) Record(r domain.AuditRecord) {
	select {
	case l.ch <- r:
	case <-l.closeCh:
	}
}

// LastError returns the most recent write failure, or nil. The Batch
// Processor surfaces this at batch-completion time per spec §4.6.
func (l *Logger) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Logger) setErr(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

// Close signals the writer goroutine to drain and stop, flushing any
// buffered records, and returns the last write error encountered (if
// any) so a caller that wants synchronous confirmation at shutdown can
// observe it directly. Close never closes the record channel itself —
// a concurrent Record call racing a channel close is how "send on
// closed channel" panics happen — it only closes closeCh, which
// Record's select also watches.
func (l *Logger) Close() error {
	close(l.closeCh)
	l.wg.Wait()
	return l.LastError()
}

func (l *Logger) loop(path string) {
	defer l.wg.Done()
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	buf := make([]domain.AuditRecord, 0, defaultFlushBatch)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := appendRecords(path, l.format, buf); err != nil {
			l.setErr(atlaserr.New(atlaserr.KindAnonymization, "audit.write", path, err))
		}
		buf = buf[:0]
	}

	for {
		select {
		case r := <-l.ch:
			buf = append(buf, r)
			if len(buf) >= defaultFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.closeCh:
			drainRemaining(l.ch, &buf)
			flush()
			return
		}
	}
}

// drainRemaining collects any records already queued in ch without
// blocking, so a Close racing in-flight Record calls still captures
// whatever made it into the channel buffer before closeCh fired.
func drainRemaining(ch <-chan domain.AuditRecord, buf *[]domain.AuditRecord) {
	for {
		select {
		case r := <-ch:
			*buf = append(*buf, r)
		default:
			return
		}
	}
}

func appendRecords(path string, format Format, records []domain.AuditRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range records {
		line, err := serialize(format, r)
		if err != nil {
			return err
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func serialize(format Format, r domain.AuditRecord) (string, error) {
	if format == FormatPlainText {
		return plainText(r), nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func plainText(r domain.AuditRecord) string {
	line := fmt.Sprintf("%s composition=%s strategy=%s mode=%s processing_ms=%d",
		r.Timestamp, r.CompositionUid, r.Strategy, r.ComplianceMode, r.ProcessingTimeMs)
	for _, d := range r.Detections {
		line += fmt.Sprintf(" [%s@%s:%d-%d->%s]", d.Category, d.Position.Path, d.Position.Start, d.Position.End, d.ReplacementValue)
	}
	return line
}
