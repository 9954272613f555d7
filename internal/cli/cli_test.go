package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/accmarket/market-bfa-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	mu       sync.Mutex
	path     string
	rawQuery string
	auth     string
	reqID    string
}

func newUpstream(t *testing.T) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.path = r.URL.Path
		rec.rawQuery = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		rec.reqID = r.Header.Get("X-Request-ID")
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/category":
			w.Write([]byte(`{"categories":[{"category_id":1,"category_name":"steam","category_title":"Steam"}]}`))
		case r.URL.Path == "/7":
			w.Write([]byte(`{"item":{"item_id":7,"price":3,"category_name":"steam","steam_level":12}}`))
		default:
			w.Write([]byte(`{"items":[{"item_id":42,"price":10.5,"steam_level":30,"title":"Prime"}]}`))
		}
	}))
	t.Cleanup(srv.Close)

	t.Setenv("APP_MODE", "production")
	t.Setenv("MARKET_BASE_URL", srv.URL)
	t.Setenv("MARKET_API_TOKEN", "static-token")
	t.Setenv("MARKET_CLIENT_ID", "")
	t.Setenv("MARKET_CLIENT_SECRET", "")
	return srv, rec
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(&out)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestAccounts_JSONWithArrayFilters(t *testing.T) {
	_, rec := newUpstream(t)

	out, err := run(t, "accounts", "steam", "--filter", "game=730", "--filter", "game=570", "--limit", "5")
	require.NoError(t, err)

	var page domain.AccountPage
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(42), page.Items[0].ID)
	assert.Equal(t, domain.CategorySteam, page.Category)

	assert.Equal(t, "/steam", rec.path)
	assert.Contains(t, rec.rawQuery, "game[0]=730&game[1]=570")
	assert.Contains(t, rec.rawQuery, "limit=5")
	assert.Equal(t, "Bearer static-token", rec.auth)
}

func TestAccounts_YAML(t *testing.T) {
	newUpstream(t)

	out, err := run(t, "accounts", "steam", "-o", "yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "items:")
	assert.Contains(t, out, "steamLevel: 30")
}

func TestAccounts_Table(t *testing.T) {
	newUpstream(t)

	out, err := run(t, "accounts", "steam", "-o", "table")
	require.NoError(t, err)

	assert.Contains(t, out, "LAST ACTIVITY")
	assert.Contains(t, out, "Prime")
}

func TestAccounts_UnknownCategory(t *testing.T) {
	newUpstream(t)

	_, err := run(t, "accounts", "minecraft")

	assert.Error(t, err)
}

func TestItem_Dump(t *testing.T) {
	newUpstream(t)

	out, err := run(t, "item", "7", "--dump")
	require.NoError(t, err)

	assert.Contains(t, out, "NormalizedAccount")
	assert.Contains(t, out, "SteamLevel: (int) 12")
}

func TestCategories(t *testing.T) {
	_, rec := newUpstream(t)

	out, err := run(t, "categories", "-o", "table")
	require.NoError(t, err)

	assert.Equal(t, "/category", rec.path)
	assert.Contains(t, out, "Steam")
}

func TestRaw_UsesTokenSourceAndRequestID(t *testing.T) {
	_, rec := newUpstream(t)

	out, err := run(t, "raw", "/steam", "--query", "pmax=500")
	require.NoError(t, err)

	assert.Equal(t, "/steam", rec.path)
	assert.Equal(t, "pmax=500", rec.rawQuery)
	assert.Equal(t, "Bearer static-token", rec.auth)
	assert.NotEmpty(t, rec.reqID)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	assert.Contains(t, out, "\n  \"items\"")
}

func TestRaw_RefreshesOnceAfter401(t *testing.T) {
	var tokenHits, apiHits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path == "/oauth/token" {
			tokenHits++
			w.Write([]byte(`{"access_token":"fresh-token"}`))
			return
		}
		apiHits++
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	t.Setenv("APP_MODE", "production")
	t.Setenv("MARKET_BASE_URL", srv.URL)
	t.Setenv("MARKET_TOKEN_URL", srv.URL+"/oauth/token")
	t.Setenv("MARKET_API_TOKEN", "expired-token")
	t.Setenv("MARKET_CLIENT_ID", "id")
	t.Setenv("MARKET_CLIENT_SECRET", "secret")

	out, err := run(t, "raw", "/me")
	require.NoError(t, err)

	assert.Contains(t, out, `"ok": true`)
	assert.Equal(t, 1, tokenHits)
	assert.Equal(t, 2, apiHits)
}

func TestRaw_NonSuccessStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":["not found"]}`))
	}))
	t.Cleanup(srv.Close)
	t.Setenv("APP_MODE", "production")
	t.Setenv("MARKET_BASE_URL", srv.URL)
	t.Setenv("MARKET_API_TOKEN", "static-token")
	t.Setenv("MARKET_CLIENT_ID", "")
	t.Setenv("MARKET_CLIENT_SECRET", "")

	_, err := run(t, "raw", "/missing")

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, err.Error(), "404 Not Found")
	assert.NotContains(t, err.Error(), "404 404")
}

func TestToken_RedactedByDefault(t *testing.T) {
	newUpstream(t)

	out, err := run(t, "token")
	require.NoError(t, err)
	assert.Contains(t, out, `"source": "static"`)
	assert.NotContains(t, out, "static-token")

	out, err = run(t, "token", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, "static-token")
}

func TestUnknownOutputFormat(t *testing.T) {
	newUpstream(t)

	_, err := run(t, "categories", "-o", "xml")

	assert.Error(t, err)
}

func TestParseFilters(t *testing.T) {
	got, err := parseFilters([]string{"game=730", "game=570", "game=440", "pmax=100", "origin=brute,stealer"})
	require.NoError(t, err)
	assert.Equal(t, domain.Filters{
		"game":   []string{"730", "570", "440"},
		"pmax":   "100",
		"origin": "brute,stealer",
	}, got)

	_, err = parseFilters([]string{"novalue"})
	assert.Error(t, err)
}
