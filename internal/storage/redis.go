package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rmalik/vidvault/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CacheTTL is the time-to-live for cached file records.
const CacheTTL = 5 * time.Minute

// RedisRecordCache implements RecordCache on Redis.
type RedisRecordCache struct {
	client *redis.Client
}

// NewRedisRecordCache initializes and pings a Redis client.
func NewRedisRecordCache(addr, password string, db int) (*RedisRecordCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisRecordCache{client: client}, nil
}

// Close closes the Redis connection.
func (rc *RedisRecordCache) Close() error {
	return rc.client.Close()
}

func cacheKey(storedName string) string {
	return fmt.Sprintf("file:%s", storedName)
}

// Get retrieves a cached record. A miss returns (nil, nil).
func (rc *RedisRecordCache) Get(ctx context.Context, storedName string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.get_record",
		trace.WithAttributes(attribute.String("stored_name", storedName)),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, cacheKey(storedName)).Result()
	if err == redis.Nil {
		span.SetAttributes(attribute.Bool("cache_hit", false))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var rec models.FileRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached record: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache_hit", true))
	return &rec, nil
}

// Set stores a record with the default TTL.
func (rc *RedisRecordCache) Set(ctx context.Context, storedName string, rec *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "redis.set_record",
		trace.WithAttributes(attribute.String("stored_name", storedName)),
	)
	defer span.End()

	data, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := rc.client.Set(ctx, cacheKey(storedName), data, CacheTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// Invalidate removes a record from the cache.
func (rc *RedisRecordCache) Invalidate(ctx context.Context, storedName string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_record",
		trace.WithAttributes(attribute.String("stored_name", storedName)),
	)
	defer span.End()

	if err := rc.client.Del(ctx, cacheKey(storedName)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	return nil
}
