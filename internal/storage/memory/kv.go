// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e kvEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// KV is a mutex-guarded TTL key-value store implementing bot.KV. Expired
// entries are dropped lazily on access and periodically by a janitor.
type KV struct {
	mu      sync.Mutex
	entries map[string]kvEntry
	clock   bot.Clock

	janitorOnce sync.Once
	stop        chan struct{}
}

// NewKV constructs a KV using the provided clock.
func NewKV(clock bot.Clock) *KV {
	return &KV{
		entries: make(map[string]kvEntry),
		clock:   clock,
		stop:    make(chan struct{}),
	}
}

// StartJanitor begins a background sweep that evicts expired entries until
// Close is called. Safe to call once; lazy expiry works without it.
func (s *KV) StartJanitor(interval time.Duration) {
	s.janitorOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.sweep()
				case <-s.stop:
					return
				}
			}
		}()
	})
}

// Close stops the janitor.
func (s *KV) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

func (s *KV) sweep() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

// Get returns the value and whether the key exists and has not expired.
func (s *KV) Get(_ context.Context, key string) (string, bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.expired(now) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set writes the value with a TTL. A non-positive TTL means no expiry.
func (s *KV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = kvEntry{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

// SetNX writes only if the key is absent or expired, returning whether it
// wrote.
func (s *KV) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	s.entries[key] = kvEntry{value: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

// Incr atomically increments the integer at key. The TTL applies only when
// this call creates the key, matching counter-window semantics.
func (s *KV) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		s.entries[key] = kvEntry{value: "1", expiresAt: s.deadline(ttl)}
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e
	return n, nil
}

// Delete removes the key.
func (s *KV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *KV) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}
