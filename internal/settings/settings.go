// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package settings exposes runtime-tunable values stored in the database:
// workflow chain toggles and per-asset-type selection counts. Reads go
// through a short TTL cache so hot paths do not hammer SQLite; writes
// flush the cache.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/metarr/metarr/internal/cache"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/models"
)

// Well-known keys. Chain toggles gate which follow-up jobs a completed
// workflow step enqueues.
const (
	KeyChainEnrich    = "workflow.chain.enrich"   // scan -> enrich
	KeyChainSelect    = "workflow.chain.select"   // enrich -> select
	KeyChainPublish   = "workflow.chain.publish"  // select -> publish
	KeyChainVerify    = "workflow.chain.verify"   // publish -> verify
	KeyChainNotify    = "workflow.chain.notify"   // publish -> notify
	KeyNFOWriteLocked = "nfo.write_locked_fields" // reconcile honors locks
	KeyRecycleEnabled = "verify.recycle_to_trash" // trash instead of delete
	keySelectPrefix   = "select.count."           // + asset type
)

// Stage toggles. Each disables a whole family of job types: flipping one
// off makes the queue skip those jobs instead of running them.
const (
	KeyToggleWebhooks       = "workflow.webhooks"
	KeyToggleScanning       = "workflow.scanning"
	KeyToggleIdentification = "workflow.identification"
	KeyToggleEnrichment     = "workflow.enrichment"
	KeyTogglePublishing     = "workflow.publishing"
)

// ToggleJobTypes maps each stage toggle onto the job types it gates.
var ToggleJobTypes = map[string][]models.JobType{
	KeyToggleWebhooks: {models.JobWebhookReceived},
	KeyToggleScanning: {
		models.JobLibraryScan, models.JobDirectoryScan,
		models.JobScanMovie, models.JobScheduledFileScan,
	},
	KeyToggleIdentification: {models.JobDiscoverAssets},
	KeyToggleEnrichment: {
		models.JobFetchProviderAssets, models.JobEnrichMetadata,
		models.JobSelectAssets, models.JobCacheAsset,
	},
	KeyTogglePublishing: {models.JobPublish, models.JobVerifyMovie},
}

// Defaults applied when a key has never been written.
var boolDefaults = map[string]bool{
	KeyChainEnrich:          true,
	KeyChainSelect:          true,
	KeyChainPublish:         true,
	KeyChainVerify:          true,
	KeyChainNotify:          true,
	KeyNFOWriteLocked:       false,
	KeyRecycleEnabled:       true,
	KeyToggleWebhooks:       true,
	KeyToggleScanning:       true,
	KeyToggleIdentification: true,
	KeyToggleEnrichment:     true,
	KeyTogglePublishing:     true,
}

// defaultSelectCounts is how many assets selection keeps per type.
var defaultSelectCounts = map[models.AssetType]int{
	models.AssetPoster:   1,
	models.AssetBackdrop: 3,
	models.AssetLogo:     1,
	models.AssetBanner:   1,
	models.AssetThumb:    1,
	models.AssetDiscArt:  1,
	models.AssetClearArt: 1,
}

// Service reads and writes settings.
type Service struct {
	db    *database.DB
	cache *cache.Cache
}

func NewService(db *database.DB) *Service {
	return &Service{
		db:    db,
		cache: cache.New(time.Minute),
	}
}

// Close stops the cache sweeper.
func (s *Service) Close() {
	s.cache.Stop()
}

// Bool reads a boolean setting, falling back to the registered default.
func (s *Service) Bool(ctx context.Context, key string) (bool, error) {
	raw, err := s.get(ctx, key)
	if database.IsNotFound(err) {
		return boolDefaults[key], nil
	}
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("setting %s: %w", key, err)
	}
	return v, nil
}

// SetBool writes a boolean setting.
func (s *Service) SetBool(ctx context.Context, key string, v bool) error {
	return s.put(ctx, key, strconv.FormatBool(v))
}

// SelectCount returns how many assets of a type selection keeps.
func (s *Service) SelectCount(ctx context.Context, assetType models.AssetType) (int, error) {
	raw, err := s.get(ctx, keySelectPrefix+string(assetType))
	if database.IsNotFound(err) {
		if n, ok := defaultSelectCounts[assetType]; ok {
			return n, nil
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("setting %s%s: invalid count %q", keySelectPrefix, assetType, raw)
	}
	return n, nil
}

// SetSelectCount overrides the per-type selection count.
func (s *Service) SetSelectCount(ctx context.Context, assetType models.AssetType, n int) error {
	if n < 0 {
		return fmt.Errorf("selection count must not be negative")
	}
	return s.put(ctx, keySelectPrefix+string(assetType), strconv.Itoa(n))
}

// All returns the raw stored settings map, defaults not included.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	return s.db.AllSettings(ctx)
}

func (s *Service) get(ctx context.Context, key string) (string, error) {
	if v, ok := s.cache.Get(key); ok {
		if v == nil {
			return "", database.ErrNotFound
		}
		return v.(string), nil
	}
	raw, err := s.db.GetSetting(ctx, key)
	if database.IsNotFound(err) {
		// Negative entries keep default-valued keys from hitting the
		// database on every read.
		s.cache.Set(key, nil)
		return "", database.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	s.cache.Set(key, raw)
	return raw, nil
}

func (s *Service) put(ctx context.Context, key, value string) error {
	if err := s.db.PutSetting(ctx, key, value); err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}
