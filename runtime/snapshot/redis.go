package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opal-lang/datacube/runtime/executor"
)

// RedisClient is the subset of *redis.Client the store uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisStore keeps entries under <prefix><name>, with the set of names at
// <prefix>index. A zero TTL never expires.
type RedisStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to a redis:// URL and checks the connection.
func NewRedisStore(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix, ttl), nil
}

// NewRedisStoreWithClient uses an existing client.
func NewRedisStoreWithClient(client RedisClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(name string) string { return s.prefix + "entry:" + name }
func (s *RedisStore) indexKey() string       { return s.prefix + "index" }

func (s *RedisStore) Save(ctx context.Context, name string, e *executor.Entry) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(name), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	if err := s.client.SAdd(ctx, s.indexKey(), name).Err(); err != nil {
		return fmt.Errorf("index snapshot %s: %w", name, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, name string) (*executor.Entry, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	e, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return e, nil
}

// List returns the indexed names, sorted. Names whose entry has expired
// are still listed until the index is rebuilt; Load reports them as
// ErrNotFound.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
