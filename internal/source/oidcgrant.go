package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"atlas/internal/domain"
	"atlas/internal/retry"
	"atlas/internal/secret"
)

// tokenRefreshSafetyMargin is how far ahead of expiry EnsureAuthenticated
// proactively refreshes, per spec §4.1.
const tokenRefreshSafetyMargin = 60 * time.Second

// OIDCAdapter implements Adapter against a CDR fronted by an OIDC/OAuth2
// password-grant token endpoint. Token refresh is single-flight: the
// first caller to observe an expired-or-expiring token performs the
// refresh; every other concurrent caller blocks on that same refresh
// instead of issuing its own, per spec §4.1's concurrency-safety
// requirement. Grounded on estuary-flow's ControlPlaneAuthorizer
// cache-until-expiry pattern, simplified from its per-(shard,
// capability) cache map to a single token slot (one adapter talks to one
// CDR, not many tenants).
type OIDCAdapter struct {
	client   *http.Client
	baseURL  string
	tokenURL string
	clientID string
	secret   secret.String
	username string
	password secret.String
	scope    string
	log      *logrus.Entry
	policy   *retry.Policy
	breaker  *gobreaker.CircuitBreaker

	mu          sync.Mutex
	token       secret.String
	expiresAt   time.Time
	refreshing  bool
	refreshDone chan struct{}
	refreshErr  error
}

// OIDCCredentials bundles the password-grant inputs.
type OIDCCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret secret.String
	Username     string
	Password     secret.String
	Scope        string
}

// NewOIDCAdapter builds an adapter for an OIDC password-grant CDR.
// breaker may be nil, disabling the circuit breaker.
func NewOIDCAdapter(cfg HTTPConfig, creds OIDCCredentials, log *logrus.Entry, policy *retry.Policy, breaker *gobreaker.CircuitBreaker) *OIDCAdapter {
	return &OIDCAdapter{
		client:   newHTTPClient(cfg),
		baseURL:  cfg.BaseURL,
		tokenURL: creds.TokenURL,
		clientID: creds.ClientID,
		secret:   creds.ClientSecret,
		username: creds.Username,
		password: creds.Password,
		scope:    creds.Scope,
		log:      log.WithField("adapter", "oidcgrant"),
		policy:   policy,
		breaker:  breaker,
	}
}

// EnsureAuthenticated refreshes the token if it is absent or within
// tokenRefreshSafetyMargin of expiry. Concurrent callers collapse onto
// the single in-flight refresh.
func (a *OIDCAdapter) EnsureAuthenticated(ctx context.Context) error {
	a.mu.Lock()
	if !a.needsRefreshLocked() {
		a.mu.Unlock()
		return nil
	}
	if a.refreshing {
		done := a.refreshDone
		a.mu.Unlock()
		select {
		case <-done:
			return a.refreshErrSnapshot()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.refreshing = true
	a.refreshDone = make(chan struct{})
	a.mu.Unlock()

	err := retryingDo(ctx, a.policy, a.breaker, func() error { return a.refresh(ctx) })

	a.mu.Lock()
	a.refreshErr = err
	a.refreshing = false
	close(a.refreshDone)
	a.mu.Unlock()

	return err
}

func (a *OIDCAdapter) refreshErrSnapshot() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshErr
}

func (a *OIDCAdapter) needsRefreshLocked() bool {
	if a.token.Empty() {
		return true
	}
	return time.Until(a.expiresAt) < tokenRefreshSafetyMargin
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *OIDCAdapter) refresh(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", a.clientID)
	form.Set("username", a.username)
	form.Set("scope", a.scope)
	if err := a.password.Use(func(pw []byte) error {
		form.Set("password", string(pw))
		return nil
	}); err != nil {
		return err
	}
	if !a.secret.Empty() {
		if err := a.secret.Use(func(s []byte) error {
			form.Set("client_secret", string(s))
			return nil
		}); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tr tokenResponse
	if err := doJSON(a.client, a.log, req, &tr); err != nil {
		return err
	}

	expiresAt := tokenExpiry(tr)

	a.mu.Lock()
	a.token = secret.FromString(tr.AccessToken)
	a.expiresAt = expiresAt
	a.mu.Unlock()
	return nil
}

// tokenExpiry prefers the token's own "exp" claim (parsed without
// signature verification — the engine is a relying party, not the
// issuer) and falls back to expires_in when the token isn't a parseable
// JWT or carries no exp claim.
func tokenExpiry(tr tokenResponse) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if tr.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return time.Now().Add(5 * time.Minute)
}

func (a *OIDCAdapter) authorize(req *http.Request) error {
	return a.token.Use(func(tok []byte) error {
		req.Header.Set("Authorization", "Bearer "+string(tok))
		return nil
	})
}

func (a *OIDCAdapter) ListEhrIDs(ctx context.Context) (EhrIDSeq, error) {
	if err := a.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
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

func (a *OIDCAdapter) ListCompositions(ctx context.Context, templateID domain.TemplateId, ehrID domain.EhrId, since *CompositionCursor) (CompositionSeq, error) {
	if err := a.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
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

func (a *OIDCAdapter) FetchComposition(ctx context.Context, meta domain.CompositionMetadata) (domain.CompositionBody, error) {
	if err := a.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
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
