package market_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/market"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
	"github.com/accmarket/market-bfa-go/internal/infra/resilience"
)

// upstream fakes both the OAuth endpoint (/oauth/token) and the API.
type upstream struct {
	*httptest.Server
	tokenHits atomic.Int32
	apiHits   atomic.Int32

	mu       sync.Mutex
	lastReq  *http.Request
	authSeen []string

	tokenHandler http.HandlerFunc
	apiHandler   http.HandlerFunc
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		n := u.tokenHits.Load()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"oauth-` + string(rune('0'+n)) + `","token_type":"bearer"}`))
	}
	u.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			u.tokenHits.Add(1)
			u.tokenHandler(w, r)
			return
		}
		u.apiHits.Add(1)
		u.mu.Lock()
		u.lastReq = r.Clone(context.Background())
		u.authSeen = append(u.authSeen, r.Header.Get("Authorization"))
		u.mu.Unlock()
		u.apiHandler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) last() *http.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastReq
}

func (u *upstream) auths() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.authSeen...)
}

func newClient(t *testing.T, u *upstream, creds domain.Credentials, timeout time.Duration) (*market.Client, *market.TokenManager) {
	t.Helper()
	httpClient := &http.Client{Timeout: timeout}
	metrics := observability.NewMetrics()
	tm := market.NewTokenManager(httpClient, u.URL+"/oauth/token", "basic read market", creds, metrics, zap.NewNop())
	cfg := resilience.Config{MaxConcurrency: 4}
	cb := resilience.NewCircuitBreaker("market-test", market.IsSuccessful)
	return market.NewClient(httpClient, u.URL, tm, cb, cfg, metrics, zap.NewNop()), tm
}

var oauthCreds = domain.Credentials{ClientID: "id", ClientSecret: "secret"}

func TestAcquireToken_MissingCredentialsFailsBeforeNetwork(t *testing.T) {
	u := newUpstream(t)

	for _, creds := range []domain.Credentials{
		{},
		{ClientID: "id"},
		{ClientSecret: "secret"},
		{StaticToken: "static"},
	} {
		_, tm := newClient(t, u, creds, time.Second)
		_, err := tm.AcquireToken(context.Background())

		var cfgErr *domain.ConfigError
		require.ErrorAs(t, err, &cfgErr)
	}
	assert.Equal(t, int32(0), u.tokenHits.Load())
}

func TestAcquireToken_SendsClientCredentialsJSON(t *testing.T) {
	u := newUpstream(t)
	var got map[string]string
	u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"access_token":"abc"}`))
	}
	_, tm := newClient(t, u, oauthCreds, time.Second)

	tok, err := tm.AcquireToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Value)
	assert.Equal(t, domain.TokenSourceOAuth, tok.Source)
	assert.Equal(t, map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     "id",
		"client_secret": "secret",
		"scope":         "basic read market",
	}, got)

	value, err := tm.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", value)
	assert.Equal(t, int32(1), u.tokenHits.Load())
}

func TestAcquireToken_NonSuccessIsAuthError(t *testing.T) {
	u := newUpstream(t)
	u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}
	_, tm := newClient(t, u, oauthCreds, time.Second)

	_, err := tm.AcquireToken(context.Background())

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusBadRequest, authErr.Status)
	assert.Contains(t, authErr.Body, "invalid_client")
	assert.False(t, tm.Status().Cached)
}

func TestAcquireToken_MissingAccessTokenIsAuthError(t *testing.T) {
	u := newUpstream(t)
	u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token_type":"bearer"}`))
	}
	_, tm := newClient(t, u, oauthCreds, time.Second)

	_, err := tm.AcquireToken(context.Background())

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestAcquireToken_ConcurrentCallersShareOneFlight(t *testing.T) {
	u := newUpstream(t)
	release := make(chan struct{})
	u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"access_token":"shared"}`))
	}
	_, tm := newClient(t, u, oauthCreds, 5*time.Second)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := tm.AcquireToken(context.Background())
			if err == nil {
				results[i] = tok.Value
			}
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), u.tokenHits.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestDo_StaticTokenNeverCallsOAuth(t *testing.T) {
	u := newUpstream(t)
	c, tm := newClient(t, u, domain.Credentials{StaticToken: "static-tok"}, time.Second)

	for i := 0; i < 3; i++ {
		_, err := c.ListLatest(context.Background(), nil)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(0), u.tokenHits.Load())
	assert.Equal(t, int32(3), u.apiHits.Load())
	assert.Equal(t, "Bearer static-tok", u.last().Header.Get("Authorization"))
	assert.Equal(t, domain.TokenSourceStatic, tm.Status().Source)
}

func TestDo_RetriesOnceAfter401(t *testing.T) {
	u := newUpstream(t)
	u.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer expired" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
	creds := oauthCreds
	creds.StaticToken = "expired"
	c, _ := newClient(t, u, creds, time.Second)

	raw, err := c.Do(context.Background(), domain.RequestSpec{Endpoint: "/steam"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	assert.Equal(t, int32(1), u.tokenHits.Load())
	assert.Equal(t, int32(2), u.apiHits.Load())
	assert.Equal(t, []string{"Bearer expired", "Bearer oauth-1"}, u.auths())
}

func TestDo_Second401IsAPIErrorWithoutFurtherRetries(t *testing.T) {
	u := newUpstream(t)
	u.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
	}
	c, _ := newClient(t, u, oauthCreds, time.Second)

	_, err := c.Do(context.Background(), domain.RequestSpec{Endpoint: "/steam"})

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "invalid_token")

	// One acquisition for the initial token, one refresh after the 401.
	assert.Equal(t, int32(2), u.tokenHits.Load())
	assert.Equal(t, int32(2), u.apiHits.Load())
}

func TestDo_RefreshFailureIsWrapped(t *testing.T) {
	u := newUpstream(t)
	u.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	c, _ := newClient(t, u, domain.Credentials{StaticToken: "stale"}, time.Second)

	_, err := c.Do(context.Background(), domain.RequestSpec{Endpoint: "/"})

	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "refresh token after 401")
	assert.Equal(t, int32(1), u.apiHits.Load())
	assert.Equal(t, int32(0), u.tokenHits.Load())
}

func TestDo_OtherStatusesAreNotRetried(t *testing.T) {
	u := newUpstream(t)
	u.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}
	c, _ := newClient(t, u, domain.Credentials{StaticToken: "tok"}, time.Second)

	_, err := c.GetItem(context.Background(), 42)

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Not Found", apiErr.StatusText)
	assert.Equal(t, int32(1), u.apiHits.Load())
	assert.Equal(t, int32(0), u.tokenHits.Load())
	assert.Equal(t, "/42", u.last().URL.Path)
}

func TestDo_TimeoutIsNetworkError(t *testing.T) {
	u := newUpstream(t)
	u.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}
	c, _ := newClient(t, u, domain.Credentials{StaticToken: "tok"}, 200*time.Millisecond)

	start := time.Now()
	_, err := c.ListLatest(context.Background(), nil)
	elapsed := time.Since(start)

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDo_CallerHeadersCannotOverrideAuthorization(t *testing.T) {
	u := newUpstream(t)
	c, _ := newClient(t, u, domain.Credentials{StaticToken: "real"}, time.Second)

	_, err := c.Do(context.Background(), domain.RequestSpec{
		Endpoint: "/user/items",
		Headers: http.Header{
			"Authorization": []string{"Bearer forged"},
			"X-Trace":       []string{"abc"},
		},
	})
	require.NoError(t, err)

	req := u.last()
	assert.Equal(t, "Bearer real", req.Header.Get("Authorization"))
	assert.Equal(t, "abc", req.Header.Get("X-Trace"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, market.ClientName, req.Header.Get("User-Agent"))
}

func TestDo_EmptyBodyIsNull(t *testing.T) {
	u := newUpstream(t)
	u.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
	c, _ := newClient(t, u, domain.Credentials{StaticToken: "tok"}, time.Second)

	raw, err := c.Do(context.Background(), domain.RequestSpec{Endpoint: "/", Method: http.MethodDelete})
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestDo_ServerErrorsOpenBreaker(t *testing.T) {
	u := newUpstream(t)
	u.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	c, _ := newClient(t, u, domain.Credentials{StaticToken: "tok"}, time.Second)

	for i := 0; i < 5; i++ {
		_, _ = c.ListLatest(context.Background(), nil)
	}
	_, err := c.ListLatest(context.Background(), nil)

	var open *domain.ErrCircuitOpen
	require.ErrorAs(t, err, &open)
	assert.Equal(t, int32(5), u.apiHits.Load())
}

func TestListCategory_QueryConvention(t *testing.T) {
	u := newUpstream(t)
	c, _ := newClient(t, u, domain.Credentials{StaticToken: "tok"}, time.Second)

	_, err := c.ListCategory(context.Background(), domain.CategorySteam, domain.Filters{
		"game":      []int{730, 570},
		"origin":    "brute, stealer",
		"pmax":      100,
		"email":     "",
		"has_ban":   false,
		"order_by":  "",
		"daybreak":  7,
		"not_known": "kept",
	})
	require.NoError(t, err)

	raw := u.last().URL.RawQuery
	assert.Contains(t, raw, "game[0]=730&game[1]=570")
	assert.Contains(t, raw, "origin[0]=brute&origin[1]=stealer")
	assert.Contains(t, raw, "order_by=price_to_up")
	assert.Contains(t, raw, "limit=20")
	assert.Contains(t, raw, "page=1")
	assert.Contains(t, raw, "pmax=100")
	assert.Contains(t, raw, "not_known=kept")
	assert.NotContains(t, raw, "email")
	assert.NotContains(t, raw, "has_ban")
	assert.NotContains(t, raw, "730,570")
	assert.Equal(t, "/steam", u.last().URL.Path)
}

func TestListCategory_UnknownCategory(t *testing.T) {
	u := newUpstream(t)
	c, _ := newClient(t, u, domain.Credentials{StaticToken: "tok"}, time.Second)

	_, err := c.ListCategory(context.Background(), domain.CategoryOther, nil)

	var vErr *domain.ErrValidation
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, int32(0), u.apiHits.Load())
}

func TestListLatest_DefaultsAndOverrides(t *testing.T) {
	u := newUpstream(t)
	c, _ := newClient(t, u, domain.Credentials{StaticToken: "tok"}, time.Second)

	_, err := c.ListLatest(context.Background(), domain.Filters{"page": 3})
	require.NoError(t, err)

	assert.Equal(t, "limit=20&order_by=pdate_to_down&page=3", u.last().URL.RawQuery)
	assert.Equal(t, "/", u.last().URL.Path)
}

func TestEncodeQuery(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want string
	}{
		{"array uses indexed brackets", map[string]any{"key": []string{"a", "b"}}, "key[0]=a&key[1]=b"},
		{"any slice", map[string]any{"key": []any{"a", "", 3}}, "key[0]=a&key[1]=3"},
		{"sorted scalars", map[string]any{"b": 2, "a": "x y"}, "a=x+y&b=2"},
		{"floats without exponent", map[string]any{"pmin": 1e6, "pmax": 10.5}, "pmax=10.5&pmin=1000000"},
		{"true kept, false dropped", map[string]any{"on": true, "off": false}, "on=true"},
		{"empty values dropped", map[string]any{"e": "", "n": nil, "s": []string{}}, ""},
		{"bracket suffix normalized", map[string]any{"game[]": []int{1}}, "game[0]=1"},
		{"values escaped", map[string]any{"q": "a&b=c"}, "q=a%26b%3Dc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := market.EncodeQuery(tt.in)
			assert.Equal(t, tt.want, got)
			assert.False(t, strings.Contains(got, ","), "never comma-joined")
		})
	}
}

func TestTokenSource_AdaptsManager(t *testing.T) {
	u := newUpstream(t)
	_, tm := newClient(t, u, domain.Credentials{StaticToken: "tok"}, time.Second)

	tok, err := tm.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
}

func TestTokenManager_StatusReportsJWTExpiry(t *testing.T) {
	u := newUpstream(t)
	// header {"alg":"HS256","typ":"JWT"}, payload {"exp":4102444800}, bogus signature
	jwtTok := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJleHAiOjQxMDI0NDQ4MDB9.c2ln"
	u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"` + jwtTok + `"}`))
	}
	_, tm := newClient(t, u, oauthCreds, time.Second)

	_, err := tm.AcquireToken(context.Background())
	require.NoError(t, err)

	st := tm.Status()
	assert.True(t, st.Cached)
	assert.Equal(t, int64(1), st.Refreshes)
	assert.Equal(t, "2100-01-01T00:00:00Z", st.ExpiresHint)
}

func TestAcquireToken_CallerCancellation(t *testing.T) {
	u := newUpstream(t)
	u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"access_token":"late"}`))
	}
	_, tm := newClient(t, u, oauthCreds, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tm.AcquireToken(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDo_SaturatedBulkheadTimesOut(t *testing.T) {
	u := newUpstream(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	u.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"items":[]}`))
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	metrics := observability.NewMetrics()
	tm := market.NewTokenManager(httpClient, u.URL+"/oauth/token", "", domain.Credentials{StaticToken: "static"}, metrics, zap.NewNop())
	c := market.NewClient(httpClient, u.URL, tm,
		resilience.NewCircuitBreaker("market-bulkhead", market.IsSuccessful),
		resilience.Config{MaxConcurrency: 1}, metrics, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := c.ListLatest(context.Background(), nil)
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.ListLatest(ctx, nil)

	var timeout *domain.ErrTimeout
	assert.True(t, errors.As(err, &timeout), "expected ErrTimeout, got %v", err)

	close(release)
	require.NoError(t, <-done)
}

func TestDo_ThrottledCallPastDeadlineTimesOut(t *testing.T) {
	u := newUpstream(t)

	httpClient := &http.Client{Timeout: 5 * time.Second}
	metrics := observability.NewMetrics()
	tm := market.NewTokenManager(httpClient, u.URL+"/oauth/token", "", domain.Credentials{StaticToken: "static"}, metrics, zap.NewNop())
	c := market.NewClient(httpClient, u.URL, tm,
		resilience.NewCircuitBreaker("market-throttle", market.IsSuccessful),
		resilience.Config{MaxConcurrency: 4, RequestsPerSecond: 1}, metrics, zap.NewNop())

	_, err := c.ListLatest(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListLatest(ctx, nil)

	var timeout *domain.ErrTimeout
	assert.True(t, errors.As(err, &timeout), "expected ErrTimeout, got %v", err)
	assert.Equal(t, int32(1), u.apiHits.Load())
}
