package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clipforge/server/internal/module/provider"
)

const (
	providerHealthKeyPrefix = "clipforge:provider:health:"
	providerHealthTTL       = 5 * time.Minute
)

// providerHealthMirror implements provider.HealthMirror so every instance
// sees adapter failures detected by the others.
type providerHealthMirror struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewProviderHealthMirror creates a new provider health mirror.
func NewProviderHealthMirror(client redis.UniversalClient) provider.HealthMirror {
	return &providerHealthMirror{client: client, ttl: providerHealthTTL}
}

func (m *providerHealthMirror) GetHealth(ctx context.Context, name string) (bool, error) {
	val, err := m.client.Get(ctx, providerHealthKeyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		// Nothing mirrored or expired.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get health: %w", err)
	}
	return val == "1", nil
}

func (m *providerHealthMirror) SetHealth(ctx context.Context, name string, healthy bool) error {
	val := "0"
	if healthy {
		val = "1"
	}
	if err := m.client.Set(ctx, providerHealthKeyPrefix+name, val, m.ttl).Err(); err != nil {
		return fmt.Errorf("set health: %w", err)
	}
	return nil
}

var _ provider.HealthMirror = (*providerHealthMirror)(nil)
