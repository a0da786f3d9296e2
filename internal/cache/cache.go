// Package cache is the shared read cache in front of the gamedata
// store. Values are serialized once and returned byte-identical on
// every hit; mutation paths purge keys explicitly after their writing
// transaction commits. TTLs are only a safety net.
package cache

import (
	"encoding/json"
	"log/slog"
	"path"
	"sync"
	"time"
)

// Timeouts for cached payloads.
const (
	Timeout15Min = 15 * time.Minute
	Timeout30Min = 30 * time.Minute
	Timeout3H    = 3 * time.Hour
	Timeout1Day  = 24 * time.Hour
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is an in-process key-value cache. Writes are last-write-wins;
// cached values are derived and recomputable, so no coordination beyond
// the mutex is needed.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	Log *slog.Logger
	Now func() time.Time

	stop chan struct{}
}

func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		entries: make(map[string]entry),
		Log:     log,
		Now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Close stops the expiry janitor.
func (s *Store) Close() {
	close(s.stop)
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// Get returns the stored payload unchanged, or false on miss/expiry.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores a payload with a freshness timeout.
func (s *Store) Set(key string, value []byte, timeout time.Duration) {
	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: s.Now().Add(timeout)}
	s.mu.Unlock()
}

// GetOrSet returns the cached payload, computing and storing it on
// miss. The compute result is serialized with encoding/json; the stored
// bytes are returned as-is on later hits.
func (s *Store) GetOrSet(key string, timeout time.Duration, compute func() (any, error)) ([]byte, bool, error) {
	if data, ok := s.Get(key); ok {
		return data, true, nil
	}
	value, err := compute()
	if err != nil {
		return nil, false, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false, err
	}
	s.Set(key, data, timeout)
	return data, false, nil
}

// Delete purges one key.
func (s *Store) Delete(key string) {
	s.Log.Info("cache_key_purged", "key", key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// DeletePattern purges every key matching the glob pattern, e.g.
// "GAMEDATA:planet*". Used for coarse invalidation when one mutation
// touches many entries.
func (s *Store) DeletePattern(pattern string) {
	s.Log.Info("cache_pattern_purged", "pattern", pattern)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.entries, k)
		}
	}
}

// Len reports the number of live entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
