package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/accmarket/market-bfa-go/internal/domain"
)

// Default listing parameters; caller filters override them.
const (
	DefaultPage  = 1
	DefaultLimit = 20

	orderNewest   = "pdate_to_down"
	orderCheapest = "price_to_up"
)

// listing describes one listing endpoint: its path, default sort and the
// filter keys the upstream expects as key[i]=v arrays.
type listing struct {
	path      string
	orderBy   string
	arrayKeys []string
}

var commonArrayKeys = []string{"origin", "not_origin", "country", "not_country"}

var (
	latestListing = listing{path: "/", orderBy: orderNewest}
	userListing   = listing{path: "/user/items", orderBy: orderNewest}
)

var categoryListings = map[domain.Category]listing{
	domain.CategorySteam: {
		path:      "/steam",
		orderBy:   orderCheapest,
		arrayKeys: []string{"game", "not_game", "mm_ban"},
	},
	domain.CategoryFortnite: {
		path:      "/fortnite",
		orderBy:   orderCheapest,
		arrayKeys: []string{"skin", "pickaxe", "dance", "glider"},
	},
	domain.CategoryRiot: {
		path:      "/riot",
		orderBy:   orderCheapest,
		arrayKeys: []string{"valorant_rank", "valorant_region", "valorant_skin"},
	},
	domain.CategoryDiscord: {
		path:    "/discord",
		orderBy: orderCheapest,
	},
	domain.CategoryInstagram: {
		path:    "/instagram",
		orderBy: orderCheapest,
	},
	domain.CategoryTelegram: {
		path:    "/telegram",
		orderBy: orderCheapest,
	},
}

// ListLatest returns the newest listings across all categories.
func (c *Client) ListLatest(ctx context.Context, filters domain.Filters) (json.RawMessage, error) {
	return c.list(ctx, latestListing, filters)
}

// ListCategory returns one category's listings.
func (c *Client) ListCategory(ctx context.Context, category domain.Category, filters domain.Filters) (json.RawMessage, error) {
	l, ok := categoryListings[category]
	if !ok {
		return nil, &domain.ErrValidation{Field: "category", Message: fmt.Sprintf("unsupported category %q", category)}
	}
	return c.list(ctx, l, filters)
}

// ListUserItems returns the authenticated user's own listings.
func (c *Client) ListUserItems(ctx context.Context, filters domain.Filters) (json.RawMessage, error) {
	return c.list(ctx, userListing, filters)
}

// GetItem returns one listing by ID.
func (c *Client) GetItem(ctx context.Context, itemID int64) (json.RawMessage, error) {
	if itemID <= 0 {
		return nil, &domain.ErrValidation{Field: "item_id", Message: "must be a positive integer"}
	}
	ctx, span := tracer.Start(ctx, "MarketClient.GetItem")
	defer span.End()
	span.SetAttributes(attribute.Int64("market.item_id", itemID))

	return c.Do(ctx, domain.RequestSpec{
		Endpoint: fmt.Sprintf("/%d", itemID),
		Method:   http.MethodGet,
	})
}

// ListCategories returns the upstream category metadata.
func (c *Client) ListCategories(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, domain.RequestSpec{Endpoint: "/category", Method: http.MethodGet})
}

func (c *Client) list(ctx context.Context, l listing, filters domain.Filters) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "MarketClient.List")
	defer span.End()
	span.SetAttributes(attribute.String("market.path", l.path))

	return c.Do(ctx, domain.RequestSpec{
		Endpoint: l.path,
		Method:   http.MethodGet,
		Query:    l.query(filters),
	})
}

// query merges filters over the listing defaults. Empty caller values never
// replace a default and are never sent. Comma-separated strings for array
// keys are split into lists.
func (l listing) query(filters domain.Filters) map[string]any {
	q := map[string]any{
		"page":     DefaultPage,
		"limit":    DefaultLimit,
		"order_by": l.orderBy,
	}
	for k, v := range filters {
		k = strings.TrimSuffix(k, "[]")
		if isEmpty(v) {
			continue
		}
		if s, ok := v.(string); ok && l.isArrayKey(k) {
			v = splitList(s)
		}
		q[k] = v
	}
	return q
}

func (l listing) isArrayKey(key string) bool {
	for _, k := range commonArrayKeys {
		if k == key {
			return true
		}
	}
	for _, k := range l.arrayKeys {
		if k == key {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
