package redisbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FranksOps/indexcheck/internal/storage"
)

// ensure redisBackend implements storage.Backend
var _ storage.Backend = (*redisBackend)(nil)

// Config configures the Redis backend.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, default "indexcheck:".
	Prefix string
	// TTL expires run and verdict records. Providers discard finished batches
	// after a while, so stale runs are not worth keeping forever. Zero keeps
	// records indefinitely.
	TTL time.Duration
}

type redisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and returns a storage.Backend.
func New(ctx context.Context, cfg Config) (storage.Backend, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "indexcheck:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisBackend{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (b *redisBackend) runKey(id string) string      { return b.prefix + "run:" + id }
func (b *redisBackend) verdictsKey(id string) string { return b.prefix + "verdicts:" + id }
func (b *redisBackend) indexKey() string             { return b.prefix + "runs" }

func (b *redisBackend) SaveRun(ctx context.Context, run *storage.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.runKey(run.ID), payload, b.ttl)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: run.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (b *redisBackend) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	val, err := b.client.Get(ctx, b.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	var run storage.Run
	if err := json.Unmarshal(val, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}

func (b *redisBackend) ListRuns(ctx context.Context, filter storage.Filter) ([]*storage.Run, error) {
	ids, err := b.client.ZRevRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.runKey(id)
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var (
		out     []*storage.Run
		expired []any
	)
	for i, val := range vals {
		s, ok := val.(string)
		if !ok {
			// TTL expired the record; drop it from the index.
			expired = append(expired, ids[i])
			continue
		}
		var run storage.Run
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", ids[i], err)
		}
		if storage.MatchRun(&run, filter) {
			out = append(out, &run)
		}
	}
	if len(expired) > 0 {
		_ = b.client.ZRem(ctx, b.indexKey(), expired...).Err()
	}

	// The index is ordered by score already; keep the order stable for ties.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return storage.Page(out, filter.Offset, filter.Limit), nil
}

func (b *redisBackend) SaveVerdicts(ctx context.Context, runID string, verdicts []storage.Verdict) error {
	if verdicts == nil {
		verdicts = []storage.Verdict{}
	}
	payload, err := json.Marshal(verdicts)
	if err != nil {
		return fmt.Errorf("encode verdicts: %w", err)
	}
	if err := b.client.Set(ctx, b.verdictsKey(runID), payload, b.ttl).Err(); err != nil {
		return fmt.Errorf("save verdicts for %s: %w", runID, err)
	}
	return nil
}

func (b *redisBackend) QueryVerdicts(ctx context.Context, filter storage.VerdictFilter) ([]storage.Verdict, error) {
	val, err := b.client.Get(ctx, b.verdictsKey(filter.RunID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get verdicts for %s: %w", filter.RunID, err)
	}

	var verdicts []storage.Verdict
	if err := json.Unmarshal(val, &verdicts); err != nil {
		return nil, fmt.Errorf("decode verdicts for %s: %w", filter.RunID, err)
	}
	return storage.FilterVerdicts(verdicts, filter), nil
}

// Close closes the Redis client.
func (b *redisBackend) Close() error {
	return b.client.Close()
}
