package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/repartos-backend/pkg/redis"
)

// NotificationGuard remembers gateway notifications that were already applied
// so redeliveries are acknowledged without touching the order again.
type NotificationGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewNotificationGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*NotificationGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &NotificationGuard{store: store, ttl: ttl, scope: scope}, nil
}

// Seen marks key and reports whether it had been marked before.
func (g *NotificationGuard) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("notification key is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, key), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set notification key: %w", err)
	}
	return !set, nil
}

// Forget clears key so a failed notification can be retried by the gateway.
func (g *NotificationGuard) Forget(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("notification key is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, key))
}
