package core

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tokens in Redis with server-enforced TTLs.
//
// When the server supports GETDEL (Redis >= 6.2), Take is a single
// network-level atomic command and the store is linearizable across every
// process sharing it. On older servers Take degrades to a pipelined
// GET+DEL guarded by in-process key locks; that restores the single-use
// guarantee inside one process only. The capability is probed once at
// construction, never re-derived per call.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	atomic    bool
	locks     keyLocks
}

func NewRedisStore(ctx context.Context, client redis.UniversalClient, keyPrefix string) (*RedisStore, error) {
	if keyPrefix == "" {
		keyPrefix = KeyPrefix
	}
	atomic, err := probeGetDel(ctx, client, keyPrefix)
	if err != nil {
		return nil, err
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		atomic:    atomic,
	}, nil
}

// probeGetDel issues a real GETDEL against a throwaway key. A missing key
// is a successful probe; only an unknown-command reply selects the
// non-atomic path.
func probeGetDel(ctx context.Context, client redis.UniversalClient, keyPrefix string) (bool, error) {
	key := keyPrefix + "probe:" + uuid.NewString()
	err := client.GetDel(ctx, key).Err()
	switch {
	case err == nil || errors.Is(err, redis.Nil):
		return true, nil
	case strings.Contains(strings.ToLower(err.Error()), "unknown command"):
		return false, nil
	default:
		return false, fmt.Errorf("%w: probe: %v", ErrStoreUnavailable, err)
	}
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

func (s *RedisStore) Put(ctx context.Context, id, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(id), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, id string) (string, error) {
	key := s.key(id)
	if s.atomic {
		val, err := s.client.GetDel(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return val, nil
	}
	return s.takeNonAtomic(ctx, key)
}

// takeNonAtomic pipelines GET+DEL. Nothing on the server prevents two
// clients in different processes from both reading before either delete
// lands, so same-key calls are serialized here to at least keep one
// process honest.
func (s *RedisStore) takeNonAtomic(ctx context.Context, key string) (string, error) {
	mu := s.locks.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	pipe := s.client.TxPipeline()
	get := pipe.Get(ctx, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	val, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return val, nil
}

func (s *RedisStore) Atomic() bool {
	return s.atomic
}

// keyLocks shards same-key critical sections for the non-atomic path.
type keyLocks [64]sync.Mutex

func (l *keyLocks) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l[h.Sum32()%uint32(len(l))]
}
