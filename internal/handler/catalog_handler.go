package handler

import (
	"net/http"
	"strconv"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
	"github.com/accmarket/market-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// 1. Listings
// GET /v1/accounts
// GET /v1/categories/{category}/accounts
// GET /v1/user/items
// ============================================================

func listLatestHandler(svc *service.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts")
		defer span.End()

		page, err := svc.ListAccounts(ctx, "", filtersFromQuery(r.URL.Query()))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func listCategoryHandler(svc *service.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/categories/{category}/accounts")
		defer span.End()

		tag := chi.URLParam(r, "category")
		category, ok := domain.ParseCategory(tag)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown category "+strconv.Quote(tag))
			return
		}
		span.SetAttributes(attribute.String("category", string(category)))

		page, err := svc.ListAccounts(ctx, category, filtersFromQuery(r.URL.Query()))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func userItemsHandler(svc *service.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/user/items")
		defer span.End()

		page, err := svc.ListUserItems(ctx, filtersFromQuery(r.URL.Query()))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// ============================================================
// 2. Single account
// GET /v1/accounts/{itemId}
// ============================================================

func getAccountHandler(svc *service.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{itemId}")
		defer span.End()

		itemID, err := strconv.ParseInt(chi.URLParam(r, "itemId"), 10, 64)
		if err != nil || itemID <= 0 {
			writeError(w, http.StatusBadRequest, "itemId must be a positive integer")
			return
		}
		span.SetAttributes(attribute.Int64("item.id", itemID))

		acc, err := svc.GetAccount(ctx, itemID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	}
}

// ============================================================
// 3. Categories & overview
// GET /v1/categories
// GET /v1/overview?categories=steam,riot&limit=8
// ============================================================

func listCategoriesHandler(svc *service.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/categories")
		defer span.End()

		cats, err := svc.ListCategories(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
	}
}

func overviewHandler(svc *service.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/overview")
		defer span.End()

		q := r.URL.Query()
		categories, err := parseCategories(q)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		limit := 0
		if v := q.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil || limit <= 0 || limit > 100 {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
				return
			}
		}

		ov, err := svc.Overview(ctx, categories, limit)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ov)
	}
}

// ============================================================
// 4. Metrics
// GET /v1/metrics/market
// ============================================================

func marketMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
