// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

// perProviderTimeout bounds one provider's fetch independently of the
// caller's deadline so one slow upstream cannot starve the others.
const perProviderTimeout = 20 * time.Second

// Orchestrator fans a fetch out to every configured provider, merges the
// responses by provider rank and caches the merged record. A cached record
// younger than the TTL is served directly unless the caller forces a
// refresh.
type Orchestrator struct {
	cfg     config.ProvidersConfig
	db      *database.DB
	bus     *events.Bus
	clients []Client
}

func NewOrchestrator(cfg config.ProvidersConfig, db *database.DB, bus *events.Bus) *Orchestrator {
	var clients []Client
	if cfg.TMDB.Enabled && cfg.TMDB.APIKey != "" {
		clients = append(clients, NewTMDB(cfg.TMDB))
	}
	if cfg.Fanart.Enabled && cfg.Fanart.APIKey != "" {
		clients = append(clients, NewFanart(cfg.Fanart))
	}
	if cfg.TVDB.Enabled && cfg.TVDB.APIKey != "" {
		clients = append(clients, NewTVDB(cfg.TVDB))
	}
	return &Orchestrator{cfg: cfg, db: db, bus: bus, clients: clients}
}

// NewOrchestratorWithClients injects explicit clients, for tests.
func NewOrchestratorWithClients(cfg config.ProvidersConfig, db *database.DB, bus *events.Bus, clients ...Client) *Orchestrator {
	return &Orchestrator{cfg: cfg, db: db, bus: bus, clients: clients}
}

// Providers lists the names of the configured clients.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.clients))
	for _, c := range o.clients {
		names = append(names, c.Name())
	}
	return names
}

// cacheKey identifies a movie in the provider cache. External ids take
// precedence over the title so renames do not split cache entries.
func cacheKey(ref MovieRef) string {
	switch {
	case ref.TmdbID != 0:
		return fmt.Sprintf("tmdb:%d", ref.TmdbID)
	case ref.ImdbID != "":
		return "imdb:" + ref.ImdbID
	default:
		return fmt.Sprintf("title:%s:%d", ref.Title, ref.Year)
	}
}

// FetchMovie returns the merged provider record for the ref. Providers
// that fail are listed in Degraded and the remainder still merge; if every
// provider fails a stale cache entry is served when one exists, otherwise
// the result carries no record and the caller skips.
func (o *Orchestrator) FetchMovie(ctx context.Context, entityID int64, ref MovieRef, forceRefresh bool) (*models.FetchResult, error) {
	log := logging.Ctx(ctx)
	if ref.Empty() {
		return nil, queue.Validation(fmt.Errorf("provider: empty movie ref"))
	}
	if len(o.clients) == 0 {
		return nil, queue.Permanent(fmt.Errorf("provider: no providers configured"))
	}

	key := cacheKey(ref)
	cached, err := o.db.GetProviderRecord(ctx, models.KindMovie, key)
	if err != nil && !database.IsNotFound(err) {
		return nil, err
	}
	if cached != nil && !forceRefresh {
		age := time.Since(cached.FetchedAt)
		if age < o.cfg.CacheTTL {
			metrics.ProviderCacheHits.Inc()
			log.Debug().Str("cache_key", key).Dur("age", age).
				Msg("provider record served from cache")
			return &models.FetchResult{
				Record:    cached,
				Source:    models.FetchSourceCache,
				Providers: o.Providers(),
				Age:       age,
			}, nil
		}
	}

	metrics.ProviderCacheMisses.Inc()
	records, degraded, rateLimited := o.fetchAll(ctx, ref)
	if len(records) == 0 {
		o.publishDegraded(entityID, ref, degraded)
		if cached != nil {
			log.Warn().Str("cache_key", key).Strs("degraded", degraded).
				Msg("all providers failed, serving stale cache entry")
			return &models.FetchResult{
				Record:      cached,
				Source:      models.FetchSourceCache,
				Providers:   o.Providers(),
				Degraded:    degraded,
				RateLimited: rateLimited,
				Age:         time.Since(cached.FetchedAt),
			}, nil
		}
		return &models.FetchResult{
			Source:      models.FetchSourceLive,
			Degraded:    degraded,
			RateLimited: rateLimited,
		}, nil
	}

	merged := Merge(records)
	if err := o.db.PutProviderRecord(ctx, key, merged); err != nil {
		// A cache write failure must not discard a successful fetch.
		log.Error().Err(err).Str("cache_key", key).Msg("caching provider record")
	}
	o.logRefresh(ctx, entityID, records, degraded)

	source := models.FetchSourceLive
	if len(degraded) > 0 {
		o.publishDegraded(entityID, ref, degraded)
		if cached != nil {
			source = models.FetchSourceMixed
		}
	}

	fetched := make([]string, 0, len(records))
	for name := range records {
		fetched = append(fetched, name)
	}
	return &models.FetchResult{
		Record:      merged,
		Source:      source,
		Providers:   fetched,
		Degraded:    degraded,
		RateLimited: rateLimited,
	}, nil
}

// fetchAll runs every client concurrently under its own deadline and
// partitions the outcomes into records and degraded provider names.
func (o *Orchestrator) fetchAll(ctx context.Context, ref MovieRef) (map[string]*models.ProviderRecord, []string, bool) {
	var (
		mu          sync.Mutex
		records     = make(map[string]*models.ProviderRecord)
		degraded    []string
		rateLimited bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, client := range o.clients {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, perProviderTimeout)
			defer cancel()

			rec, err := client.FetchMovie(cctx, ref)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				switch queue.Classify(err) {
				case queue.KindNotFound:
					// A miss is an answer, not an outage.
					metrics.RecordProviderRequest(client.Name(), "not_found")
					logging.Ctx(ctx).Debug().Err(err).
						Str("provider", client.Name()).Msg("provider has no record")
					return nil
				case queue.KindRateLimit:
					rateLimited = true
					metrics.RecordProviderRequest(client.Name(), "rate_limited")
				default:
					metrics.RecordProviderRequest(client.Name(), "error")
				}
				logging.Ctx(ctx).Warn().Err(err).
					Str("provider", client.Name()).Msg("provider fetch failed")
				degraded = append(degraded, client.Name())
				return nil
			}
			metrics.RecordProviderRequest(client.Name(), "ok")
			records[client.Name()] = rec
			return nil
		})
	}
	_ = g.Wait() // goroutines report via the maps, never an error

	return records, degraded, rateLimited
}

func (o *Orchestrator) logRefresh(ctx context.Context, entityID int64, records map[string]*models.ProviderRecord, degraded []string) {
	if entityID == 0 {
		return
	}
	now := time.Now().UTC()
	for name := range records {
		entry := &models.RefreshLog{
			EntityKind:   models.KindMovie,
			EntityID:     entityID,
			Provider:     name,
			LastChecked:  now,
			LastModified: &now,
		}
		if err := o.db.UpsertRefreshLog(ctx, entry); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("provider", name).
				Msg("updating refresh log")
		}
	}
	for _, name := range degraded {
		entry := &models.RefreshLog{
			EntityKind:   models.KindMovie,
			EntityID:     entityID,
			Provider:     name,
			LastChecked:  now,
			NeedsRefresh: true,
		}
		if err := o.db.UpsertRefreshLog(ctx, entry); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("provider", name).
				Msg("updating refresh log")
		}
	}
}

func (o *Orchestrator) publishDegraded(entityID int64, ref MovieRef, degraded []string) {
	if o.bus == nil || len(degraded) == 0 {
		return
	}
	o.bus.Publish(events.TypeScrapeDegraded, map[string]any{
		"entity_kind": models.KindMovie,
		"entity_id":   entityID,
		"title":       ref.Title,
		"providers":   degraded,
	})
}
