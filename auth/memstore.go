package auth

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps session state in process memory. Each session record
// lives under the configured TTL with sliding expiration; the ttlcache
// janitor reclaims abandoned sessions in the background.
type MemoryStore struct {
	cache *ttlcache.Cache[string, *memSession]
}

type memSession struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore constructs the store and starts its cleanup loop.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *memSession](ttl),
	)
	go cache.Start()

	return &MemoryStore{cache: cache}
}

func (m *MemoryStore) session(sid string, create bool) *memSession {
	if item := m.cache.Get(sid); item != nil {
		return item.Value()
	}
	if !create {
		return nil
	}
	sess := &memSession{values: make(map[string]string)}
	m.cache.Set(sid, sess, ttlcache.DefaultTTL)
	return sess
}

// Put stores a value for the session, creating the record if needed.
func (m *MemoryStore) Put(_ context.Context, sid, key, value string) error {
	sess := m.session(sid, true)
	sess.mu.Lock()
	sess.values[key] = value
	sess.mu.Unlock()
	return nil
}

// Get returns the value stored under key, or absent.
func (m *MemoryStore) Get(_ context.Context, sid, key string) (string, bool, error) {
	sess := m.session(sid, false)
	if sess == nil {
		return "", false, nil
	}
	sess.mu.RLock()
	value, ok := sess.values[key]
	sess.mu.RUnlock()
	return value, ok, nil
}

// Remove deletes the value stored under key.
func (m *MemoryStore) Remove(_ context.Context, sid, key string) error {
	sess := m.session(sid, false)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	delete(sess.values, key)
	sess.mu.Unlock()
	return nil
}

// Clear drops the whole session record.
func (m *MemoryStore) Clear(_ context.Context, sid string) error {
	m.cache.Delete(sid)
	return nil
}

// Close stops the cleanup goroutine.
func (m *MemoryStore) Close() {
	m.cache.Stop()
}
