package core

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps tokens in process memory with ttlcache enforcing
// expiry. Take is serialized by a single mutex, so within this process it
// behaves like an atomic store. The state is not shared: running more
// than one instance voids the single-use guarantee, which the service
// warns about at startup.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, string]
}

func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

func (s *MemoryStore) Put(_ context.Context, id, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(id, value, ttl)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.cache.Get(id)
	if item == nil || item.IsExpired() {
		return "", ErrNotFound
	}
	s.cache.Delete(id)
	return item.Value(), nil
}

func (s *MemoryStore) Atomic() bool {
	return true
}

// Close stops the background expiry loop.
func (s *MemoryStore) Close() {
	s.cache.Stop()
}
