// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package cache is a small thread-safe TTL cache. Used for database-backed
// settings reads and provider freshness lookups, where a stale read for up
// to the TTL is acceptable.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Entry is one cached item.
type Entry struct {
	Data      any
	ExpiresAt time.Time
}

// Stats tracks cache performance counters.
type Stats struct {
	mu          sync.RWMutex
	Hits        int64
	Misses      int64
	Evictions   int64
	LastCleanup time.Time
}

// Cache is a thread-safe in-memory cache with a fixed TTL per instance.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	stats   Stats
	stop    chan struct{}
	once    sync.Once
}

// New creates a cache. A background goroutine sweeps expired entries every
// cleanupInterval; call Stop to end it.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		stats:   Stats{LastCleanup: time.Now()},
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

const cleanupInterval = 5 * time.Minute

// Get returns the cached value for key. Expired entries count as misses
// and are removed lazily.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.stats.miss()
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.stats.miss()
		return nil, false
	}
	c.stats.hit()
	return entry.Data, true
}

// Set stores a value under key with the cache's TTL.
func (c *Cache) Set(key string, data any) {
	c.SetWithTTL(key, data, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *Cache) SetWithTTL(key string, data any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry{Data: data, ExpiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes one key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Flush removes everything, used after settings writes.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

// Len returns the current entry count, expired entries included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// HitRate returns hits/(hits+misses), zero when unused.
func (c *Cache) HitRate() float64 {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.Hits) / float64(total)
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Cache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	var evicted int64
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	c.mu.Unlock()

	c.stats.mu.Lock()
	c.stats.Evictions += evicted
	c.stats.LastCleanup = now
	c.stats.mu.Unlock()
}

func (s *Stats) hit() {
	s.mu.Lock()
	s.Hits++
	s.mu.Unlock()
}

func (s *Stats) miss() {
	s.mu.Lock()
	s.Misses++
	s.mu.Unlock()
}

// GenerateKey builds a deterministic cache key from any JSON-serializable
// parts.
func GenerateKey(parts ...any) string {
	payload, err := json.Marshal(parts)
	if err != nil {
		return fmt.Sprintf("%v", parts)
	}
	return fmt.Sprintf("%x", sha256.Sum256(payload))
}
