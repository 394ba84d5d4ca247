package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"atlas/internal/atlaserr"
	"atlas/internal/domain"
	"atlas/internal/retry"
)

// HTTPConfig is the transport-level configuration shared by both auth
// modes: base URL, TLS verification, and timeouts.
type HTTPConfig struct {
	BaseURL            string
	RequestTimeout     time.Duration
	TLSInsecureSkipVerify bool
}

func newHTTPClient(cfg HTTPConfig) *http.Client {
	transport := &http.Transport{}
	if cfg.TLSInsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// wireListing is the JSON shape of the listing endpoint's page: metadata
// tuples (uid, ehr_id, template_id, time_committed), per spec §6.
type wireListing struct {
	Items []wireMetadata `json:"items"`
}

type wireMetadata struct {
	UID           string `json:"uid"`
	EhrID         string `json:"ehr_id"`
	TemplateID    string `json:"template_id"`
	TimeCommitted string `json:"time_committed"` // RFC3339
}

func (m wireMetadata) toDomain() (domain.CompositionMetadata, error) {
	t, err := time.Parse(time.RFC3339Nano, m.TimeCommitted)
	if err != nil {
		return domain.CompositionMetadata{}, fmt.Errorf("parse time_committed: %w", err)
	}
	return domain.CompositionMetadata{
		Uid:           domain.CompositionUid(m.UID),
		EhrId:         domain.EhrId(m.EhrID),
		TemplateId:    domain.TemplateId(m.TemplateID),
		TimeCommitted: t,
	}, nil
}

// classify maps an HTTP status / transport error to an atlaserr.Kind per
// spec §4.1's transient/terminal split: network errors, 429, and 5xx are
// transient; 401/403 are authentication; 404 and other 4xx are source
// data errors.
func classifyStatus(status int) atlaserr.Kind {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return atlaserr.KindTransient
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return atlaserr.KindAuthentication
	case status >= 400:
		return atlaserr.KindSourceData
	default:
		return atlaserr.KindFatal
	}
}

func isTransientErr(err error) bool {
	return atlaserr.IsTransient(err)
}

// doJSON performs req, decoding a 2xx JSON body into out (if out != nil)
// and turning any non-2xx response into a classified *atlaserr.Error.
func doJSON(client *http.Client, log *logrus.Entry, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return atlaserr.New(atlaserr.KindTransient, "source.http", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.WithField("status", resp.StatusCode).WithField("path", req.URL.Path).Debug("source request failed")
		return atlaserr.New(classifyStatus(resp.StatusCode), "source.http", req.URL.Path,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// retryingDo wraps a single HTTP round trip in the shared backoff
// policy, retrying only on transient classifications. When breaker is
// non-nil, the whole retry loop runs inside it, so a source that's
// tripped the breaker fails fast instead of burning through its backoff
// schedule against an endpoint already known to be down.
func retryingDo(ctx context.Context, policy *retry.Policy, breaker *gobreaker.CircuitBreaker, do func() error) error {
	if breaker == nil {
		return policy.Do(ctx, isTransientErr, do)
	}
	_, err := breaker.Execute(func() (any, error) {
		return nil, policy.Do(ctx, isTransientErr, do)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return atlaserr.New(atlaserr.KindTransient, "source.breaker", "", err)
	}
	return err
}
