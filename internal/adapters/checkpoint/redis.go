package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	backend "github.com/redis/go-redis/v9"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// RedisStore keeps checkpoints in Redis so several processes can share
// threads. Each thread is a hash {checkpoint, revision}; a sorted set scored
// by update time indexes them for listing.
type RedisStore struct {
	client *backend.Client
	prefix string
}

// RedisOption configures the store.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store with its own client.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "casework:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying client so a RedisLocker can share it.
func (s *RedisStore) Client() *backend.Client {
	return s.client
}

func (s *RedisStore) key(id core.ThreadID) string {
	return s.prefix + "checkpoint:" + string(id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "checkpoints"
}

func (s *RedisStore) Save(ctx context.Context, cp *core.Checkpoint) error {
	stored := *cp
	stored.Revision = 0
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(cp.ThreadID), "checkpoint", data)
	pipe.HIncrBy(ctx, s.key(cp.ThreadID), "revision", 1)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(cp.UpdatedAt.UnixMilli()),
		Member: string(cp.ThreadID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving checkpoint %s to redis: %w", cp.ThreadID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id core.ThreadID) (*core.Checkpoint, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s from redis: %w", id, err)
	}
	raw, ok := fields["checkpoint"]
	if !ok {
		return nil, core.ErrNotFound("checkpoint", string(id))
	}

	var cp core.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "decoding checkpoint "+string(id)).WithCause(err)
	}
	if rev, err := strconv.Atoi(fields["revision"]); err == nil {
		cp.Revision = rev
	}
	return &cp, nil
}

func (s *RedisStore) Delete(ctx context.Context, id core.ThreadID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting checkpoint %s from redis: %w", id, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]core.ThreadSummary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	out := make([]core.ThreadSummary, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Load(ctx, core.ThreadID(id))
		if core.IsCategory(err, core.ErrCatNotFound) {
			// Index entry outlived its hash; prune lazily.
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp.Summary())
	}
	return out, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
