package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/accmarket/market-bfa-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// filtersFromQuery turns listing query parameters into Filters. Repeated
// keys and the key[] / key[n] forms become string lists; everything else
// stays a single string.
func filtersFromQuery(q url.Values) domain.Filters {
	type queryValue struct {
		index int
		pos   int
		value string
		list  bool
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make(map[string][]queryValue)
	var names []string
	for _, key := range keys {
		name, index, list := splitIndexedKey(key)
		if _, ok := groups[name]; !ok {
			names = append(names, name)
		}
		for _, v := range q[key] {
			groups[name] = append(groups[name], queryValue{index: index, pos: len(groups[name]), value: v, list: list})
		}
	}

	out := make(domain.Filters, len(names))
	for _, name := range names {
		g := groups[name]
		if len(g) == 1 && !g[0].list {
			out[name] = g[0].value
			continue
		}
		sort.SliceStable(g, func(a, b int) bool {
			if g[a].index != g[b].index {
				return g[a].index < g[b].index
			}
			return g[a].pos < g[b].pos
		})
		values := make([]string, len(g))
		for i, v := range g {
			values[i] = v.value
		}
		out[name] = values
	}
	return out
}

// splitIndexedKey splits "game[2]" into ("game", 2, true) and "game[]" into
// ("game", -1, true). Plain keys come back unchanged with list=false.
func splitIndexedKey(key string) (name string, index int, list bool) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return key, -1, false
	}
	inner := key[open+1 : len(key)-1]
	if inner == "" {
		return key[:open], -1, true
	}
	n, err := strconv.Atoi(inner)
	if err != nil || n < 0 {
		return key, -1, false
	}
	return key[:open], n, true
}

// parseCategories accepts ?categories=steam,riot and repeated keys.
func parseCategories(q url.Values) ([]domain.Category, error) {
	var out []domain.Category
	for _, raw := range q["categories"] {
		for _, tag := range strings.Split(raw, ",") {
			if strings.TrimSpace(tag) == "" {
				continue
			}
			c, ok := domain.ParseCategory(tag)
			if !ok {
				return nil, &domain.ErrValidation{Field: "categories", Message: "unknown category " + strconv.Quote(tag)}
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var apiErr *domain.APIError
	var netErr *domain.NetworkError
	var authErr *domain.AuthError
	var cfgErr *domain.ConfigError
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized
	var rateLimited *domain.ErrRateLimited
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &cfgErr):
		logger.Error("market client misconfigured", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.As(err, &authErr):
		logger.Error("market authentication failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream authentication failed")
	case errors.As(err, &apiErr):
		// 4xx keeps its status; anything else is the upstream's fault.
		status := apiErr.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		logger.Warn("market API error", zap.Int("upstream_status", apiErr.Status), zap.Int("status", status))
		writeError(w, status, err.Error())
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			logger.Error("market request timed out", zap.Error(err))
			writeError(w, http.StatusGatewayTimeout, "upstream timeout")
			return
		}
		logger.Error("market unreachable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unreachable")
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &rateLimited):
		logger.Warn("rate limited", zap.String("key", rateLimited.Key))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
