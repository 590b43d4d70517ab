package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/proto-clique/internal/ratelimit"
)

// ErrStoreConflict is returned when an optimistic transaction kept losing races.
var ErrStoreConflict = errors.New("rate limit store: too many conflicting updates")

const defaultRedisMaxRetries = 10

// RateLimitRedisStore is a Redis implementation of ratelimit.Store.
// Records live in hashes with fields hits and window_end (unix ms). Updates use
// WATCH/MULTI so concurrent writers of one key retry instead of overwriting each other.
type RateLimitRedisStore struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

// NewRateLimitRedisStore creates a new Redis-backed rate limit store.
func NewRateLimitRedisStore(client *redis.Client) *RateLimitRedisStore {
	return &RateLimitRedisStore{
		client:     client,
		prefix:     "ratelimit:",
		maxRetries: defaultRedisMaxRetries,
	}
}

func (r *RateLimitRedisStore) Get(ctx context.Context, key string) (*ratelimit.Record, error) {
	fields, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return nil, err
	}

	return decodeRecord(fields)
}

func (r *RateLimitRedisStore) Update(ctx context.Context, key string, fn ratelimit.UpdateFunc) error {
	redisKey := r.prefix + key

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return err
		}

		current, err := decodeRecord(fields)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		if next == nil {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey,
				"hits", next.Hits,
				"window_end", next.WindowEnd.UnixMilli(),
			)
			// Stale records are treated as absent anyway; let Redis reclaim them.
			pipe.PExpireAt(ctx, redisKey, next.WindowEnd.Add(time.Second))

			return nil
		})

		return err
	}

	for range r.maxRetries {
		err := r.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return nil
		}

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		return err
	}

	return ErrStoreConflict
}

// Shutdown is a no-op for RateLimitRedisStore (client managed externally).
func (r *RateLimitRedisStore) Shutdown() error {
	return nil
}

func decodeRecord(fields map[string]string) (*ratelimit.Record, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	hits, err := strconv.ParseInt(fields["hits"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode hits: %w", err)
	}

	windowEnd, err := strconv.ParseInt(fields["window_end"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode window_end: %w", err)
	}

	return &ratelimit.Record{
		Hits:      hits,
		WindowEnd: time.UnixMilli(windowEnd),
	}, nil
}

// Compile-time check.
var _ ratelimit.Store = (*RateLimitRedisStore)(nil)
