// Package cache keeps the festival catalog in Valkey so list requests do not
// hit the backend on every page view. Counters are not trusted from here:
// callers overlay live capacity on whatever the cache returns.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"festtix/internal/metrics"
	"festtix/internal/models"

	"github.com/redis/rueidis"
)

const catalogKey = "festtix:catalog:events"

type Config struct {
	Addr     string
	Password string
	TTL      time.Duration
}

type ValkeyClient struct {
	client rueidis.Client
	ttl    time.Duration
}

func NewValkeyClient(cfg Config) (*ValkeyClient, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ValkeyClient{client: client, ttl: ttl}, nil
}

// Events returns the cached catalog; ok is false on a miss
func (v *ValkeyClient) Events(ctx context.Context) ([]models.Event, bool, error) {
	raw, err := v.client.Do(ctx, v.client.B().Get().Key(catalogKey).Build()).ToString()
	if rueidis.IsRedisNil(err) {
		metrics.CatalogCacheTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.CatalogCacheTotal.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("cache lookup error: %w", err)
	}

	events, err := decodeCatalog(raw)
	if err != nil {
		metrics.CatalogCacheTotal.WithLabelValues("error").Inc()
		return nil, false, err
	}
	metrics.CatalogCacheTotal.WithLabelValues("hit").Inc()
	return events, true, nil
}

// StoreEvents caches the catalog for the configured TTL
func (v *ValkeyClient) StoreEvents(ctx context.Context, events []models.Event) error {
	raw, err := encodeCatalog(events)
	if err != nil {
		return err
	}
	cmd := v.client.B().Set().Key(catalogKey).Value(raw).Ex(v.ttl).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache store error: %w", err)
	}
	return nil
}

// Invalidate drops the cached catalog after an admin write
func (v *ValkeyClient) Invalidate(ctx context.Context) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(catalogKey).Build()).Error(); err != nil {
		return fmt.Errorf("cache invalidate error: %w", err)
	}
	return nil
}

func (v *ValkeyClient) Ping(ctx context.Context) error {
	return v.client.Do(ctx, v.client.B().Ping().Build()).Error()
}

func (v *ValkeyClient) Close() error {
	v.client.Close()
	return nil
}

func encodeCatalog(events []models.Event) (string, error) {
	data, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to encode catalog: %w", err)
	}
	return string(data), nil
}

func decodeCatalog(raw string) ([]models.Event, error) {
	var events []models.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, fmt.Errorf("invalid catalog in cache: %w", err)
	}
	return events, nil
}
