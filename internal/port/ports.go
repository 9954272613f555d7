// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"encoding/json"

	"github.com/accmarket/market-bfa-go/internal/domain"
)

// TokenProvider hands out the current bearer token and re-acquires it on
// demand. Implemented by market.TokenManager.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
	AcquireToken(ctx context.Context) (*domain.Token, error)
}

// MarketAPI is the set of marketplace domain methods. Every method returns
// the raw upstream JSON; normalization is the caller's step.
type MarketAPI interface {
	ListLatest(ctx context.Context, filters domain.Filters) (json.RawMessage, error)
	ListCategory(ctx context.Context, category domain.Category, filters domain.Filters) (json.RawMessage, error)
	GetItem(ctx context.Context, itemID int64) (json.RawMessage, error)
	ListCategories(ctx context.Context) (json.RawMessage, error)
	ListUserItems(ctx context.Context, filters domain.Filters) (json.RawMessage, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	Set(ctx context.Context, key string, value T)
	SetIfAbsent(ctx context.Context, key string, value T) bool
	Delete(ctx context.Context, key string)
}

// PaymentForwarder delivers a verified payment callback downstream.
type PaymentForwarder interface {
	Forward(ctx context.Context, cb *domain.PaymentCallback, deliveryID string) error
}
