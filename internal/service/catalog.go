package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/market"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
	"github.com/accmarket/market-bfa-go/internal/normalize"
	"github.com/accmarket/market-bfa-go/internal/port"
)

var tracer = otel.Tracer("service/catalog")

const (
	categoriesCacheKey = "categories"
	overviewFanout     = 4
)

// Catalog turns raw marketplace listings into normalized account pages.
type Catalog struct {
	market     port.MarketAPI
	categories port.Cache[[]domain.CategoryInfo]
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewCatalog creates the catalog service with all dependencies injected.
func NewCatalog(
	api port.MarketAPI,
	categories port.Cache[[]domain.CategoryInfo],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Catalog {
	return &Catalog{
		market:     api,
		categories: categories,
		metrics:    metrics,
		logger:     logger.Named("catalog"),
		now:        time.Now,
	}
}

// ListAccounts returns one page of normalized listings. An empty category
// lists the newest accounts across all categories.
func (c *Catalog) ListAccounts(ctx context.Context, category domain.Category, filters domain.Filters) (*domain.AccountPage, error) {
	ctx, span := tracer.Start(ctx, "Catalog.ListAccounts")
	defer span.End()
	span.SetAttributes(attribute.String("category", string(category)))

	var (
		body []byte
		err  error
	)
	if category == "" {
		body, err = c.market.ListLatest(ctx, filters)
	} else {
		body, err = c.market.ListCategory(ctx, category, filters)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s accounts: %w", categoryLabel(category), err)
	}

	return c.page(body, category, filters)
}

// ListUserItems returns the authenticated seller's own listings.
func (c *Catalog) ListUserItems(ctx context.Context, filters domain.Filters) (*domain.AccountPage, error) {
	ctx, span := tracer.Start(ctx, "Catalog.ListUserItems")
	defer span.End()

	body, err := c.market.ListUserItems(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list user items: %w", err)
	}
	return c.page(body, "", filters)
}

// GetAccount returns one normalized account. An upstream 404 becomes
// *domain.ErrNotFound.
func (c *Catalog) GetAccount(ctx context.Context, itemID int64) (*domain.NormalizedAccount, error) {
	ctx, span := tracer.Start(ctx, "Catalog.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.Int64("item.id", itemID))

	body, err := c.market.GetItem(ctx, itemID)
	if err != nil {
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, &domain.ErrNotFound{Resource: "account", ID: strconv.FormatInt(itemID, 10)}
		}
		return nil, fmt.Errorf("get account %d: %w", itemID, err)
	}

	raw, err := normalize.DecodeItem(body)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "market", Err: err}
	}
	acc := normalize.Account(raw, "")
	if acc.ID == 0 {
		acc.ID = itemID
	}
	return &acc, nil
}

// ListCategories returns the upstream category metadata, cached for the
// configured TTL.
func (c *Catalog) ListCategories(ctx context.Context) ([]domain.CategoryInfo, error) {
	ctx, span := tracer.Start(ctx, "Catalog.ListCategories")
	defer span.End()

	if cached, ok := c.categories.Get(ctx, categoriesCacheKey); ok {
		c.metrics.IncrCacheHit("categories")
		return cached, nil
	}
	c.metrics.IncrCacheMiss("categories")

	body, err := c.market.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	cats, err := normalize.Categories(body)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "market", Err: err}
	}

	c.categories.Set(ctx, categoriesCacheKey, cats)
	return cats, nil
}

// Overview fetches the first page of each category concurrently, in the
// order given. Any failing category fails the whole overview.
func (c *Catalog) Overview(ctx context.Context, categories []domain.Category, limit int) (*domain.Overview, error) {
	ctx, span := tracer.Start(ctx, "Catalog.Overview")
	defer span.End()

	if len(categories) == 0 {
		categories = domain.Categories
	}
	if limit <= 0 {
		limit = market.DefaultLimit
	}

	sections := make([]domain.AccountPage, len(categories))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(overviewFanout)

	for i, cat := range categories {
		i, cat := i, cat // per-iteration copies (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			page, err := c.ListAccounts(gCtx, cat, domain.Filters{"limit": limit})
			if err != nil {
				c.logger.Error("overview section failed",
					zap.String("category", string(cat)),
					zap.Error(err),
				)
				return err
			}
			sections[i] = *page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.Overview{
		Sections:    sections,
		GeneratedAt: c.now().UTC().Format(time.RFC3339),
	}, nil
}

// page decodes a listing body and applies the pagination rule: with
// totalItems and perPage present, more pages exist while page*perPage is
// below the total; without them, a full page implies there may be more.
func (c *Catalog) page(body []byte, category domain.Category, filters domain.Filters) (*domain.AccountPage, error) {
	env, err := normalize.DecodeEnvelope(body)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "market", Err: err}
	}

	page := intFilter(filters, "page", market.DefaultPage)
	if env.Page > 0 {
		page = env.Page
	}
	limit := intFilter(filters, "limit", market.DefaultLimit)

	out := &domain.AccountPage{
		Items:    normalize.Accounts(env.Items, category),
		Category: category,
		Page:     page,
		PerPage:  limit,
	}

	if env.TotalKnown() {
		out.PerPage = env.PerPage
		out.TotalItems = env.Total
		out.TotalKnown = true
		out.HasMore = page*env.PerPage < env.Total
	} else {
		out.HasMore = len(env.Items) > 0 && len(env.Items) >= limit
	}
	return out, nil
}

// intFilter reads a positive integer filter, accepting ints and numeric
// strings.
func intFilter(filters domain.Filters, key string, def int) int {
	switch v := filters[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func categoryLabel(c domain.Category) string {
	if c == "" {
		return "latest"
	}
	return c.Slug()
}
