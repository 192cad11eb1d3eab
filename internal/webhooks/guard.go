package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReplayStore is the redis surface the replay guard needs.
type ReplayStore interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	WebhookKey(provider, eventID string) string
}

// ReplayGuard marks provider deliveries as seen so retries skip settlement.
type ReplayGuard struct {
	store    ReplayStore
	ttl      time.Duration
	provider string
}

func NewReplayGuard(store ReplayStore, ttl time.Duration, provider string) (*ReplayGuard, error) {
	if store == nil {
		return nil, errors.New("replay store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if provider == "" {
		return nil, errors.New("provider is required")
	}
	return &ReplayGuard{store: store, ttl: ttl, provider: provider}, nil
}

// CheckAndMark returns true when the delivery was already seen.
func (g *ReplayGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.WebhookKey(g.provider, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set replay key: %w", err)
	}
	return !set, nil
}

// Delete forgets a delivery so the provider's retry is processed again.
func (g *ReplayGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.WebhookKey(g.provider, eventID))
}
