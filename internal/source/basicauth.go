package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"atlas/internal/domain"
	"atlas/internal/retry"
	"atlas/internal/secret"
)

// BasicAuthAdapter implements Adapter against a CDR that authenticates
// with HTTP Basic credentials. EnsureAuthenticated is a no-op beyond
// validating the credentials are present — Basic auth has no refreshable
// expiry, unlike the OIDC adapter.
type BasicAuthAdapter struct {
	client   *http.Client
	baseURL  string
	username string
	password secret.String
	log      *logrus.Entry
	policy   *retry.Policy
	breaker  *gobreaker.CircuitBreaker
}

// NewBasicAuthAdapter builds an adapter for a basic-auth CDR. breaker may
// be nil, disabling the circuit breaker (every call retries per policy
// alone) — used by tests that don't care about breaker behavior.
func NewBasicAuthAdapter(cfg HTTPConfig, username string, password secret.String, log *logrus.Entry, policy *retry.Policy, breaker *gobreaker.CircuitBreaker) *BasicAuthAdapter {
	return &BasicAuthAdapter{
		client:   newHTTPClient(cfg),
		baseURL:  cfg.BaseURL,
		username: username,
		password: password,
		log:      log.WithField("adapter", "basicauth"),
		policy:   policy,
		breaker:  breaker,
	}
}

func (a *BasicAuthAdapter) EnsureAuthenticated(ctx context.Context) error {
	if a.username == "" {
		return fmt.Errorf("basic auth username is empty")
	}
	return nil
}

func (a *BasicAuthAdapter) authorize(req *http.Request) error {
	return a.password.Use(func(pw []byte) error {
		req.SetBasicAuth(a.username, string(pw))
		return nil
	})
}

func (a *BasicAuthAdapter) ListEhrIDs(ctx context.Context) (EhrIDSeq, error) {
	var page struct {
		EhrIDs []string `json:"ehr_ids"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/ehr", nil)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(req); err != nil {
		return nil, err
	}
	if err := retryingDo(ctx, a.policy, a.breaker, func() error { return doJSON(a.client, a.log, req, &page) }); err != nil {
		return nil, err
	}
	ids := make([]domain.EhrId, len(page.EhrIDs))
	for i, id := range page.EhrIDs {
		ids[i] = domain.EhrId(id)
	}
	return NewEhrIDSeq(ids), nil
}

func (a *BasicAuthAdapter) ListCompositions(ctx context.Context, templateID domain.TemplateId, ehrID domain.EhrId, since *CompositionCursor) (CompositionSeq, error) {
	addr := fmt.Sprintf("%s/ehr/%s/composition?template_id=%s", a.baseURL, ehrID, templateID)
	if since != nil {
		addr += fmt.Sprintf("&since_time_committed=%s&since_uid=%s",
			url.QueryEscape(time.Unix(0, since.TimeCommitted).UTC().Format(time.RFC3339Nano)), since.UID)
	}
	var listing wireListing
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(req); err != nil {
		return nil, err
	}
	if err := retryingDo(ctx, a.policy, a.breaker, func() error { return doJSON(a.client, a.log, req, &listing) }); err != nil {
		return nil, err
	}
	items := make([]domain.CompositionMetadata, 0, len(listing.Items))
	for _, m := range listing.Items {
		dm, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, dm)
	}
	return NewCompositionSeq(items), nil
}

func (a *BasicAuthAdapter) FetchComposition(ctx context.Context, meta domain.CompositionMetadata) (domain.CompositionBody, error) {
	addr := fmt.Sprintf("%s/composition/%s", a.baseURL, meta.Uid)
	var body domain.CompositionBody
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(req); err != nil {
		return nil, err
	}
	if err := retryingDo(ctx, a.policy, a.breaker, func() error { return doJSON(a.client, a.log, req, &body) }); err != nil {
		return nil, err
	}
	return body, nil
}
