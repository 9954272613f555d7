package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
)

const maxTokenBody = 1 << 16

// TokenManager holds the process-wide bearer token for the marketplace API.
// The cached token is replaced wholesale on refresh; expiry is discovered by
// the request client through 401 responses.
type TokenManager struct {
	httpClient *http.Client
	tokenURL   string
	scope      string
	creds      domain.Credentials
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	current *domain.Token

	sg        singleflight.Group
	refreshes atomic.Int64
}

// NewTokenManager creates a TokenManager. Nothing is fetched until the first
// GetToken or AcquireToken call.
func NewTokenManager(httpClient *http.Client, tokenURL, scope string, creds domain.Credentials, metrics *observability.Metrics, logger *zap.Logger) *TokenManager {
	return &TokenManager{
		httpClient: httpClient,
		tokenURL:   tokenURL,
		scope:      scope,
		creds:      creds,
		metrics:    metrics,
		logger:     logger.Named("token_manager"),
		now:        time.Now,
	}
}

// GetToken returns the cached token. With nothing cached it falls back to
// the configured static token, then to an OAuth2 acquisition.
func (m *TokenManager) GetToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur != nil {
		return cur.Value, nil
	}

	if m.creds.StaticToken != "" {
		m.mu.Lock()
		if m.current == nil {
			m.current = m.newToken(m.creds.StaticToken, domain.TokenSourceStatic, 0)
			m.logger.Info("using static API token")
		}
		value := m.current.Value
		m.mu.Unlock()
		return value, nil
	}

	tok, err := m.AcquireToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// AcquireToken runs the client-credentials grant and replaces the cached
// token. Concurrent callers share one in-flight acquisition. Missing
// credentials fail with *domain.ConfigError before any network I/O.
func (m *TokenManager) AcquireToken(ctx context.Context) (*domain.Token, error) {
	if m.creds.ClientID == "" {
		return nil, &domain.ConfigError{Field: "MARKET_CLIENT_ID"}
	}
	if m.creds.ClientSecret == "" {
		return nil, &domain.ConfigError{Field: "MARKET_CLIENT_SECRET"}
	}

	// The flight outlives any single caller's cancellation; each caller
	// still stops waiting when its own context ends.
	ch := m.sg.DoChan("acquire", func() (any, error) {
		return m.acquire(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		tok := *res.Val.(*domain.Token)
		return &tok, nil
	}
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *TokenManager) acquire(ctx context.Context) (*domain.Token, error) {
	ctx, span := tracer.Start(ctx, "TokenManager.AcquireToken")
	defer span.End()
	span.SetAttributes(attribute.String("oauth.token_url", m.tokenURL))

	tok, err := m.requestToken(ctx)
	if err != nil {
		m.metrics.IncrTokenAcquisition("failure")
		m.logger.Warn("token acquisition failed", zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	m.mu.Lock()
	m.current = tok
	m.mu.Unlock()

	n := m.refreshes.Add(1)
	m.metrics.IncrTokenAcquisition("success")
	fields := []zap.Field{zap.Int64("refreshes", n)}
	if !tok.ExpiresHint.IsZero() {
		fields = append(fields, zap.Time("expires_hint", tok.ExpiresHint))
	}
	m.logger.Info("token acquired", fields...)

	return tok, nil
}

func (m *TokenManager) requestToken(ctx context.Context) (*domain.Token, error) {
	payload, err := json.Marshal(tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     m.creds.ClientID,
		ClientSecret: m.creds.ClientSecret,
		Scope:        m.scope,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.ConfigError{Field: "MARKET_TOKEN_URL", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", ClientName)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: http.MethodPost, URL: m.tokenURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return nil, &domain.NetworkError{Op: http.MethodPost, URL: m.tokenURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.AuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &domain.AuthError{Status: resp.StatusCode, Body: string(body), Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return nil, &domain.AuthError{Status: resp.StatusCode, Body: string(body), Err: fmt.Errorf("response has no access_token")}
	}

	return m.newToken(tr.AccessToken, domain.TokenSourceOAuth, tr.ExpiresIn), nil
}

func (m *TokenManager) newToken(value string, source domain.TokenSource, expiresIn int64) *domain.Token {
	now := m.now()
	tok := &domain.Token{
		Value:      value,
		AcquiredAt: now,
		Source:     source,
	}
	if expiresIn > 0 {
		tok.ExpiresHint = now.Add(time.Duration(expiresIn) * time.Second)
	} else {
		tok.ExpiresHint = jwtExpiry(value)
	}
	return tok
}

// jwtExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens yield the zero time.
func jwtExpiry(value string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time.UTC()
}

// Status returns a redacted view of the cached token.
func (m *TokenManager) Status() *domain.TokenStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := &domain.TokenStatus{Refreshes: m.refreshes.Load()}
	if m.current == nil {
		return st
	}
	st.Cached = true
	st.Source = m.current.Source
	st.AcquiredAt = m.current.AcquiredAt.UTC().Format(time.RFC3339)
	if !m.current.ExpiresHint.IsZero() {
		st.ExpiresHint = m.current.ExpiresHint.Format(time.RFC3339)
	}
	return st
}

// TokenSource adapts the manager to oauth2.TokenSource so it can back an
// oauth2.Transport.
func (m *TokenManager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m}
}

type tokenSource struct {
	ctx context.Context
	m   *TokenManager
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	value, err := s.m.GetToken(s.ctx)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: value, TokenType: "Bearer"}
	s.m.mu.RLock()
	if s.m.current != nil {
		tok.Expiry = s.m.current.ExpiresHint
	}
	s.m.mu.RUnlock()
	return tok, nil
}
