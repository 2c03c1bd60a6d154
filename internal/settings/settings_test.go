// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package settings

import (
	"context"
	"testing"

	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := NewService(db)
	t.Cleanup(s.Close)
	return s
}

func TestBoolDefaults(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		key  string
		want bool
	}{
		{KeyChainEnrich, true},
		{KeyChainPublish, true},
		{KeyNFOWriteLocked, false},
		{KeyRecycleEnabled, true},
		{"unknown.key", false},
	}
	for _, tt := range tests {
		got, err := s.Bool(ctx, tt.key)
		if err != nil {
			t.Fatalf("Bool(%s): %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("Bool(%s) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestSetBoolOverridesDefault(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if err := s.SetBool(ctx, KeyChainPublish, false); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	got, err := s.Bool(ctx, KeyChainPublish)
	if err != nil {
		t.Fatalf("Bool: %v", err)
	}
	if got {
		t.Error("override did not stick")
	}
}

func TestSelectCountDefaults(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if n, err := s.SelectCount(ctx, models.AssetPoster); err != nil || n != 1 {
		t.Errorf("SelectCount(poster) = %d, %v; want 1", n, err)
	}
	if n, err := s.SelectCount(ctx, models.AssetBackdrop); err != nil || n != 3 {
		t.Errorf("SelectCount(backdrop) = %d, %v; want 3", n, err)
	}
}

func TestSetSelectCount(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if err := s.SetSelectCount(ctx, models.AssetBackdrop, 5); err != nil {
		t.Fatalf("SetSelectCount: %v", err)
	}
	if n, err := s.SelectCount(ctx, models.AssetBackdrop); err != nil || n != 5 {
		t.Errorf("SelectCount(backdrop) = %d, %v; want 5", n, err)
	}
	if err := s.SetSelectCount(ctx, models.AssetPoster, -1); err == nil {
		t.Error("negative count accepted")
	}
}

func TestWriteFlushesCache(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// Prime the cache with the default (negative entry).
	if _, err := s.Bool(ctx, KeyChainVerify); err != nil {
		t.Fatalf("Bool: %v", err)
	}
	if err := s.SetBool(ctx, KeyChainVerify, false); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	got, err := s.Bool(ctx, KeyChainVerify)
	if err != nil {
		t.Fatalf("Bool after write: %v", err)
	}
	if got {
		t.Error("stale cached value served after write")
	}
}
