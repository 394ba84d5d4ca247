package telemetry

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the engine's root logrus logger. Every component
// downstream receives a *logrus.Entry derived from it via WithField, in
// the same style estuary-flow's ops wiring threads a single configured
// logger through its connector stages.
func NewLogger(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// RedactingHook scrubs fields that must never reach a log line in
// plaintext — anything the PII detector or secret package tags as
// sensitive. Components log a SHA-256 hash or a category name instead;
// this hook is a last line of defense against an accidental raw field.
type RedactingHook struct {
	Fields map[string]struct{}
}

// NewRedactingHook builds a hook that blanks the named fields.
func NewRedactingHook(fields ...string) *RedactingHook {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return &RedactingHook{Fields: set}
}

func (h *RedactingHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *RedactingHook) Fire(entry *logrus.Entry) error {
	for f := range h.Fields {
		if _, ok := entry.Data[f]; ok {
			entry.Data[f] = "[redacted]"
		}
	}
	return nil
}
