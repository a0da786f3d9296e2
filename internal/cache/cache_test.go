package cache_test

import (
	"bytes"
	"testing"
	"time"

	"prunsync/internal/cache"
	"prunsync/internal/domain"
)

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	s := cache.New(nil)
	t.Cleanup(s.Close)
	return s
}

func TestGetOrSetReturnsIdenticalBytes(t *testing.T) {
	s := newStore(t)
	computed := 0
	compute := func() (any, error) {
		computed++
		return map[string]any{"b": 2, "a": 1}, nil
	}
	first, hit, err := s.GetOrSet("k", cache.Timeout15Min, compute)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	second, hit, err := s.GetOrSet("k", cache.Timeout15Min, compute)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cached bytes differ: %q vs %q", first, second)
	}
	if computed != 1 {
		t.Fatalf("compute ran %d times, want 1", computed)
	}
}

func TestExpiry(t *testing.T) {
	s := newStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }
	s.Set("k", []byte("v"), cache.Timeout15Min)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("fresh entry missing")
	}
	now = now.Add(16 * time.Minute)
	if _, ok := s.Get("k"); ok {
		t.Fatal("expired entry still served")
	}
}

func TestDeletePattern(t *testing.T) {
	s := newStore(t)
	s.Set(cache.KeyPlanet("OT-580b"), []byte("1"), cache.Timeout1Day)
	s.Set(cache.KeyPlanetList(), []byte("2"), cache.Timeout1Day)
	s.Set(cache.KeyExchangeList(), []byte("3"), cache.Timeout1Day)
	s.DeletePattern("GAMEDATA:planet*")
	if _, ok := s.Get(cache.KeyPlanet("OT-580b")); ok {
		t.Fatal("planet key survived pattern purge")
	}
	if _, ok := s.Get(cache.KeyPlanetList()); ok {
		t.Fatal("planet list key survived pattern purge")
	}
	if _, ok := s.Get(cache.KeyExchangeList()); !ok {
		t.Fatal("exchange key purged by planet pattern")
	}
}

func TestSearchKeyIsOrderInsensitive(t *testing.T) {
	yes := true
	a := domain.PlanetSearch{Materials: []string{"FEO", "LST", "H2O"}, COGCPrograms: []string{"AGRICULTURE"}, LocalMarket: &yes}
	b := domain.PlanetSearch{Materials: []string{"H2O", "FEO", "LST"}, COGCPrograms: []string{"AGRICULTURE"}, LocalMarket: &yes}
	if cache.KeyPlanetSearch(a) != cache.KeyPlanetSearch(b) {
		t.Fatalf("keys differ for reordered lists:\n%s\n%s", cache.KeyPlanetSearch(a), cache.KeyPlanetSearch(b))
	}
	c := a
	c.LocalMarket = nil
	if cache.KeyPlanetSearch(a) == cache.KeyPlanetSearch(c) {
		t.Fatal("tri-state change must produce a different key")
	}
}

func TestPricesKeyHierarchy(t *testing.T) {
	full := cache.KeyPrices("RAT", "AI1")
	prefix := cache.KeyPrices("RAT", "")
	if full == prefix {
		t.Fatal("ticker-only key must differ from pair key")
	}
	s := newStore(t)
	s.Set(full, []byte("v"), cache.Timeout1Day)
	s.DeletePattern(prefix + "*")
	if _, ok := s.Get(full); ok {
		t.Fatal("pair key survived ticker-prefix purge")
	}
}
