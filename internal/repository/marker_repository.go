package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
)

// MarkerRepository keeps small JSON markers in Redis. Keys are stored under a fixed namespace.
type MarkerRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewMarkerRepository constructs a marker repository.
func NewMarkerRepository(client redis.UniversalClient, prefix string) *MarkerRepository {
	return &MarkerRepository{client: client, prefix: prefix}
}

func (r *MarkerRepository) key(k string) string {
	return r.prefix + k
}

// Get unmarshals the marker into dest. A missing key is ErrMarkerMissing.
func (r *MarkerRepository) Get(ctx context.Context, key string, dest interface{}) error {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrMarkerMissing
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal marker %s: %w", key, err)
	}
	return nil
}

// Set stores value with the given TTL.
func (r *MarkerRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal marker %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes one marker. Deleting a missing key is not an error.
func (r *MarkerRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *MarkerRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (r *MarkerRepository) Close() error {
	return r.client.Close()
}
