// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package cache

import (
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) reported a hit")
	}
	c.Set("k", 42)
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("Get(k) missed after Set")
	}
	if got.(int) != 42 {
		t.Errorf("Get(k) = %v, want 42", got)
	}
}

func TestExpiry(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.SetWithTTL("k", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry still served")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after lazy eviction, want 0", c.Len())
	}
}

func TestDeleteAndFlush(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still served")
	}
	c.Flush()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after flush, want 0", c.Len())
	}
}

func TestHitRate(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("k", 1)
	c.Get("k")
	c.Get("k")
	c.Get("missing")
	if rate := c.HitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("HitRate() = %v, want 2/3", rate)
	}
}

func TestGenerateKeyDeterministic(t *testing.T) {
	a := GenerateKey("movie", int64(5), "poster")
	b := GenerateKey("movie", int64(5), "poster")
	if a != b {
		t.Error("identical inputs produced different keys")
	}
	if a == GenerateKey("movie", int64(6), "poster") {
		t.Error("different inputs produced the same key")
	}
}
