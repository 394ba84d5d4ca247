package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"atlas/internal/anonymize"
	"atlas/internal/atlaserr"
	"atlas/internal/config"
	"atlas/internal/domain"
	"atlas/internal/pii"
	"atlas/internal/retry"
	"atlas/internal/secret"
	"atlas/internal/sink"
	"atlas/internal/sink/document"
	"atlas/internal/sink/relational"
	"atlas/internal/source"
)

// buildSource constructs the configured Source Adapter variant, selected
// by SourceConfig.AuthMode per spec §6's "source vendors as capability
// set" note — both variants satisfy the same source.Adapter interface.
// Every HTTP round trip the adapter makes runs through a dedicated
// sony/gobreaker circuit breaker (internal/retry.NewBreaker) so a source
// that's gone down fails fast instead of burning its full retry/backoff
// schedule on every call.
func buildSource(cfg config.Config, log *logrus.Entry, policy *retry.Policy) (source.Adapter, error) {
	httpCfg := source.HTTPConfig{
		BaseURL:               cfg.Source.BaseURL,
		RequestTimeout:        cfg.Source.RequestTimeout,
		TLSInsecureSkipVerify: cfg.Source.TLSInsecureSkipVerify,
	}
	breaker := retry.NewBreaker("source." + cfg.Source.AuthMode)
	switch cfg.Source.AuthMode {
	case "basic":
		return source.NewBasicAuthAdapter(httpCfg, cfg.Source.Username, secret.FromString(cfg.Source.Password), log, policy, breaker), nil
	case "oidc":
		creds := source.OIDCCredentials{
			TokenURL:     cfg.Source.TokenURL,
			ClientID:     cfg.Source.ClientID,
			ClientSecret: secret.FromString(cfg.Source.ClientSecret),
			Username:     cfg.Source.Username,
			Password:     secret.FromString(cfg.Source.Password),
			Scope:        cfg.Source.Scope,
		}
		return source.NewOIDCAdapter(httpCfg, creds, log, policy, breaker), nil
	default:
		return nil, atlaserr.New(atlaserr.KindConfiguration, "wire.build_source", cfg.Source.AuthMode, fmt.Errorf("unsupported source.auth_mode"))
	}
}

// sinkHandles bundles whatever underlying stores buildSink opened, so the
// caller can Close them on shutdown.
type sinkHandles struct {
	adapter  sink.Adapter
	document *document.Store
	relational *relational.Store
}

func (h *sinkHandles) Close() {
	if h.document != nil {
		_ = h.document.Close()
	}
	if h.relational != nil {
		_ = h.relational.Close()
	}
}

// buildSink opens whichever sink(s) SinkConfig enables and, when both are
// enabled, wraps them in a sink.Composite per spec.md §6's documented
// dual-sink behavior. Each underlying adapter is wrapped in its own
// sony/gobreaker circuit breaker (internal/retry.NewBreaker) before
// composition, so a flapping document or relational store trips
// independently of the other.
func buildSink(ctx context.Context, cfg config.Config) (*sinkHandles, error) {
	h := &sinkHandles{}
	var adapters []sink.Adapter

	if cfg.Sink.Document {
		store, err := document.Open(cfg.Document.Path)
		if err != nil {
			return nil, err
		}
		h.document = store
		adapters = append(adapters, sink.NewBreakingAdapter(store, retry.NewBreaker("sink.document")))
	}
	if cfg.Sink.Relational {
		store, err := relational.Open(ctx, cfg.Relational.DSN)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.relational = store
		adapters = append(adapters, sink.NewBreakingAdapter(store, retry.NewBreaker("sink.relational")))
	}
	if len(adapters) == 0 {
		return nil, atlaserr.New(atlaserr.KindConfiguration, "wire.build_sink", "", fmt.Errorf("no sink enabled"))
	}
	h.adapter = sink.NewComposite(adapters...)
	return h, nil
}

// buildAnonymizer loads the PII registry and wires a Detector/Anonymizer
// pair, or returns (nil, nil, nil) when anonymization is disabled — the
// Batch Processor treats a nil Detector as "anonymization off" per its
// own ledger entry.
func buildAnonymizer(cfg config.Config) (*pii.Detector, *anonymize.Anonymizer, error) {
	if !cfg.Anonymization.Enabled {
		return nil, nil, nil
	}

	var registry *pii.Registry
	var err error
	if cfg.Anonymization.PatternFile != "" {
		data, readErr := os.ReadFile(cfg.Anonymization.PatternFile)
		if readErr != nil {
			return nil, nil, atlaserr.New(atlaserr.KindConfiguration, "wire.build_anonymizer", cfg.Anonymization.PatternFile, readErr)
		}
		registry, err = pii.LoadFile(data, cfg.Anonymization.PatternFile)
	} else {
		registry, err = pii.LoadDefault()
	}
	if err != nil {
		return nil, nil, atlaserr.New(atlaserr.KindConfiguration, "wire.build_anonymizer", "", err)
	}

	mode := domain.ComplianceMode(cfg.Anonymization.ComplianceMode)
	detector := pii.New(registry, mode, cfg.Anonymization.ConfidenceMin)

	strategyName := domain.Strategy(cfg.Anonymization.Strategy)
	prng, err := anonymize.NewRunPRNG()
	if err != nil {
		return nil, nil, atlaserr.New(atlaserr.KindFatal, "wire.build_anonymizer", "", err)
	}
	anonymizer := anonymize.New(anonymize.NewStrategy(strategyName), prng)
	return detector, anonymizer, nil
}

func templateIDs(raw []string) []domain.TemplateId {
	out := make([]domain.TemplateId, len(raw))
	for i, s := range raw {
		out[i] = domain.TemplateId(s)
	}
	return out
}

func ehrIDs(raw []string) []domain.EhrId {
	out := make([]domain.EhrId, len(raw))
	for i, s := range raw {
		out[i] = domain.EhrId(s)
	}
	return out
}

// resolveEhrIDs returns the configured EHR id list, or — when none is
// configured — drains the source's list_ehr_ids stream (spec §4.1, LIST_EHRS
// step). The stream is lazy and potentially large; the engine only
// materializes it here because the coordinator needs a concrete worklist
// to fan out over.
func resolveEhrIDs(ctx context.Context, src source.Adapter, configured []string) ([]domain.EhrId, error) {
	if len(configured) > 0 {
		return ehrIDs(configured), nil
	}
	seq, err := src.ListEhrIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.EhrId
	for {
		id, err := seq.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
