// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package enrich runs the five-phase asset pipeline for one entity:
// fetch provider metadata, match existing cache files, analyze candidate
// downloads, score, select. Each phase is resumable; re-running after a
// crash converges on the same state.
package enrich

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/provider"
	"github.com/metarr/metarr/internal/settings"
)

// Fetcher is the provider orchestrator surface the pipeline needs.
type Fetcher interface {
	FetchMovie(ctx context.Context, entityID int64, ref provider.MovieRef, forceRefresh bool) (*models.FetchResult, error)
}

// providerAssetTypes maps provider-native image kinds onto internal asset
// types. Unmapped kinds are skipped during candidate ingestion.
var providerAssetTypes = map[string]models.AssetType{
	"poster":   models.AssetPoster,
	"backdrop": models.AssetBackdrop,
	"logo":     models.AssetLogo,
	"banner":   models.AssetBanner,
	"thumb":    models.AssetThumb,
	"discart":  models.AssetDiscArt,
	"clearart": models.AssetClearArt,
}

// selectableTypes is the fixed phase-5 iteration order.
var selectableTypes = []models.AssetType{
	models.AssetPoster,
	models.AssetBackdrop,
	models.AssetLogo,
	models.AssetBanner,
	models.AssetThumb,
	models.AssetDiscArt,
	models.AssetClearArt,
}

// Result summarizes one pipeline run for the caller's chain decisions.
type Result struct {
	// NoData means every provider failed or returned nothing; the run was
	// skipped rather than failed.
	NoData      bool
	RateLimited bool
	Changed     bool
}

// Pipeline enriches one movie at a time. Safe for concurrent use across
// distinct entities; the job dedupe key guarantees at most one active run
// per entity.
type Pipeline struct {
	cfg      config.EnrichConfig
	paths    config.PathsConfig
	db       *database.DB
	fetcher  Fetcher
	settings *settings.Service
	bus      *events.Bus
	client   *http.Client
	language string
}

func NewPipeline(cfg config.EnrichConfig, paths config.PathsConfig, language string,
	db *database.DB, fetcher Fetcher, st *settings.Service, bus *events.Bus) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		paths:    paths,
		db:       db,
		fetcher:  fetcher,
		settings: st,
		bus:      bus,
		client:   &http.Client{Timeout: 60 * time.Second},
		language: language,
	}
}

// Phase indices and labels, in execution order.
const (
	phaseFetch   = 1
	phaseMatch   = 2
	phaseAnalyze = 3
	phaseScore   = 4
	phaseSelect  = 5
)

var phaseNames = map[int]string{
	phaseFetch:   "fetch",
	phaseMatch:   "match",
	phaseAnalyze: "analyze",
	phaseScore:   "score",
	phaseSelect:  "select",
}

func (p *Pipeline) phaseDone(movieID int64, phase int, detail string) {
	if p.bus == nil {
		return
	}
	p.bus.PublishEnrichPhase(events.EnrichPhase{
		EntityKind: models.KindMovie,
		EntityID:   movieID,
		Phase:      phase,
		Name:       phaseNames[phase],
		Detail:     detail,
	})
}

// fail reports which phase an enrichment run died in and passes the error
// through unchanged.
func (p *Pipeline) fail(movieID int64, phase int, err error) error {
	if p.bus != nil {
		p.bus.PublishEnrichFailed(events.EnrichPhase{
			EntityKind: models.KindMovie,
			EntityID:   movieID,
			Phase:      phase,
			Name:       phaseNames[phase],
			Detail:     err.Error(),
		})
	}
	return err
}

// Run executes all five phases for one movie. Manual runs refresh stored
// candidate metadata and bypass automation-only restrictions; forceRefresh
// additionally bypasses the provider cache TTL.
func (p *Pipeline) Run(ctx context.Context, movieID int64, manual, forceRefresh bool) (*Result, error) {
	log := logging.Ctx(ctx)
	movie, err := p.db.GetMovie(ctx, movieID)
	if err != nil {
		return nil, err
	}
	if p.bus != nil {
		p.bus.PublishEnrichStarted(models.KindMovie, movie.ID)
	}

	// Phase 1: provider fetch and metadata copy.
	res, err := p.fetcher.FetchMovie(ctx, movie.ID, provider.MovieRef{
		TmdbID: movie.TmdbID,
		ImdbID: movie.ImdbID,
		Title:  movie.Title,
		Year:   movie.Year,
	}, forceRefresh)
	if err != nil {
		return nil, p.fail(movie.ID, phaseFetch, err)
	}
	if res.Record == nil {
		log.Warn().Int64("movie_id", movie.ID).Strs("degraded", res.Degraded).
			Msg("no provider data, skipping enrichment")
		if p.bus != nil {
			p.bus.PublishEnrichComplete(models.KindMovie, movie.ID, "no provider data")
		}
		metrics.EnrichRuns.WithLabelValues("no_data").Inc()
		return &Result{NoData: true, RateLimited: res.RateLimited}, nil
	}
	if err := p.applyMetadata(ctx, movie, res.Record, manual); err != nil {
		return nil, p.fail(movie.ID, phaseFetch, err)
	}
	p.phaseDone(movie.ID, phaseFetch, fmt.Sprintf("%d images from %v", len(res.Record.Images), res.Providers))

	candidates, err := p.db.ListCandidates(ctx, models.KindMovie, movie.ID, "")
	if err != nil {
		return nil, p.fail(movie.ID, phaseMatch, err)
	}

	// Phase 2: match already-held files to candidates.
	matched, err := p.matchExisting(ctx, movie, candidates)
	if err != nil {
		return nil, p.fail(movie.ID, phaseMatch, err)
	}
	p.phaseDone(movie.ID, phaseMatch, fmt.Sprintf("%d matched", matched))

	// Phase 3: bounded-concurrency download and analysis.
	analyzed := p.analyze(ctx, candidates)
	p.phaseDone(movie.ID, phaseAnalyze, fmt.Sprintf("%d analyzed", analyzed))

	// Phase 4: scoring. Re-list so phase-3 results are visible.
	candidates, err = p.db.ListCandidates(ctx, models.KindMovie, movie.ID, "")
	if err != nil {
		return nil, p.fail(movie.ID, phaseScore, err)
	}
	for i := range candidates {
		c := &candidates[i]
		if c.IsRejected {
			continue
		}
		score := Score(c, p.language)
		if score != c.Score {
			if err := p.db.UpdateCandidateScore(ctx, c.ID, score); err != nil {
				return nil, p.fail(movie.ID, phaseScore, err)
			}
			c.Score = score
		}
	}
	p.phaseDone(movie.ID, phaseScore, fmt.Sprintf("%d scored", len(candidates)))

	// Phase 5: top-N selection and cache materialization.
	changed, err := p.selectAssets(ctx, movie, candidates)
	if err != nil {
		return nil, p.fail(movie.ID, phaseSelect, err)
	}
	p.actorThumbs(ctx, movie)

	now := time.Now().UTC()
	movie.EnrichedAt = &now
	movie.IdentificationStatus = models.StatusEnriched
	if err := p.db.UpdateMovie(ctx, movie); err != nil {
		return nil, p.fail(movie.ID, phaseSelect, err)
	}
	p.phaseDone(movie.ID, phaseSelect, "")
	if changed {
		metrics.EnrichRuns.WithLabelValues("changed").Inc()
	} else {
		metrics.EnrichRuns.WithLabelValues("unchanged").Inc()
	}
	if p.bus != nil {
		p.bus.PublishEnrichComplete(models.KindMovie, movie.ID, "")
		if changed {
			p.bus.PublishMoviesChanged(events.MoviesChanged{
				EntityKind: models.KindMovie,
				EntityID:   movie.ID,
				Action:     "updated",
			})
		}
	}
	return &Result{Changed: changed, RateLimited: res.RateLimited}, nil
}

// applyMetadata copies merged provider scalars onto the movie row,
// skipping locked fields, then swaps cast, ratings and candidate rows.
func (p *Pipeline) applyMetadata(ctx context.Context, movie *models.Movie, rec *models.ProviderRecord, manual bool) error {
	setStr := func(dst *string, val string, locked bool) {
		if !locked && val != "" {
			*dst = val
		}
	}
	setStr(&movie.Title, rec.Title, movie.Locks.Title)
	setStr(&movie.OriginalTitle, rec.OriginalTitle, movie.Locks.OriginalTitle)
	setStr(&movie.Plot, rec.Plot, movie.Locks.Plot)
	setStr(&movie.Outline, rec.Outline, movie.Locks.Outline)
	setStr(&movie.Tagline, rec.Tagline, movie.Locks.Tagline)
	setStr(&movie.MPAA, rec.MPAA, movie.Locks.MPAA)
	setStr(&movie.Premiered, rec.Premiered, movie.Locks.Premiered)
	if !movie.Locks.Year && rec.Year > 0 {
		movie.Year = rec.Year
	}
	if !movie.Locks.Runtime && rec.Runtime > 0 {
		movie.Runtime = rec.Runtime
	}
	if rec.TmdbID > 0 {
		movie.TmdbID = rec.TmdbID
	}
	if rec.ImdbID != "" {
		movie.ImdbID = rec.ImdbID
	}
	if rec.TvdbID > 0 {
		movie.TvdbID = rec.TvdbID
	}
	if len(rec.Genres) > 0 {
		movie.Genres = rec.Genres
	}
	if len(rec.Studios) > 0 {
		movie.Studios = rec.Studios
	}
	if len(rec.Countries) > 0 {
		movie.Countries = rec.Countries
	}
	if rec.SetName != "" {
		movie.SetName = rec.SetName
		movie.SetOverview = rec.SetOverview
		movie.SetTmdbID = rec.SetTmdbID
	}
	if err := p.db.UpdateMovie(ctx, movie); err != nil {
		return err
	}

	if len(rec.Ratings) > 0 {
		if err := p.db.ReplaceRatings(ctx, models.KindMovie, movie.ID, rec.Ratings); err != nil {
			return err
		}
	}
	if len(rec.Cast) > 0 {
		cast := make([]models.CastMember, 0, len(rec.Cast))
		for _, member := range rec.Cast {
			actorID, err := p.db.UpsertActorByPersonID(ctx, &models.Actor{
				Name:         member.Name,
				TmdbPersonID: member.PersonID,
				ProfileURL:   member.ProfileURL,
			})
			if err != nil {
				return err
			}
			cast = append(cast, models.CastMember{
				ActorID:   actorID,
				Role:      member.Role,
				SortOrder: member.SortOrder,
			})
		}
		if err := p.db.ReplaceCast(ctx, models.KindMovie, movie.ID, cast); err != nil {
			return err
		}
	}

	for _, img := range rec.Images {
		assetType, ok := providerAssetTypes[img.Type]
		if !ok {
			continue
		}
		c := &models.Candidate{
			EntityKind:  models.KindMovie,
			EntityID:    movie.ID,
			AssetType:   assetType,
			Provider:    img.Provider,
			URL:         img.URL,
			Width:       img.Width,
			Height:      img.Height,
			Language:    img.Language,
			VoteAverage: img.VoteAverage,
			VoteCount:   img.VoteCount,
		}
		if err := p.db.UpsertCandidate(ctx, c, manual); err != nil {
			return err
		}
	}
	return nil
}

// matchExisting links locally-held cache files to candidates by perceptual
// similarity, so already-downloaded art is never re-fetched. Cache rows
// that predate perceptual hashing are backfilled opportunistically.
func (p *Pipeline) matchExisting(ctx context.Context, movie *models.Movie, candidates []models.Candidate) (int, error) {
	log := logging.Ctx(ctx)
	files, err := p.db.ListCacheFiles(ctx, models.KindMovie, movie.ID, "")
	if err != nil {
		return 0, err
	}

	for i := range files {
		f := &files[i]
		if f.PerceptualHash != 0 {
			continue
		}
		data, err := os.ReadFile(f.FilePath)
		if err != nil {
			continue
		}
		a, err := analyzeImage(data)
		if err != nil {
			log.Debug().Err(err).Str("path", f.FilePath).Msg("backfill hash failed")
			continue
		}
		f.PerceptualHash = a.PerceptualHash
		if err := p.db.UpdateCacheFileProvenance(ctx, f.ID, f.Provider, f.SourceURL, a.PerceptualHash); err != nil {
			return 0, err
		}
	}

	matched := 0
	for i := range candidates {
		c := &candidates[i]
		if c.IsDownloaded || c.PerceptualHash == 0 {
			continue
		}
		for j := range files {
			f := &files[j]
			if f.AssetType != c.AssetType || f.PerceptualHash == 0 {
				continue
			}
			if Similarity(c.PerceptualHash, f.PerceptualHash) < p.cfg.MatchThreshold {
				continue
			}
			if err := p.db.MarkCandidateDownloaded(ctx, c.ID, f.ContentHash); err != nil {
				return matched, err
			}
			if err := p.db.UpdateCacheFileProvenance(ctx, f.ID, c.Provider, c.URL, f.PerceptualHash); err != nil {
				return matched, err
			}
			c.IsDownloaded = true
			c.ContentHash = f.ContentHash
			matched++
			break
		}
	}
	return matched, nil
}

// selectAssets runs phase 5 per asset type: dedup-aware top-N selection,
// cache materialization for additions, eviction for removals, and recycle
// of superseded scanned-in files.
func (p *Pipeline) selectAssets(ctx context.Context, movie *models.Movie, candidates []models.Candidate) (bool, error) {
	log := logging.Ctx(ctx)
	byType := make(map[models.AssetType][]models.Candidate)
	for _, c := range candidates {
		byType[c.AssetType] = append(byType[c.AssetType], c)
	}

	changed := false
	for _, assetType := range selectableTypes {
		cands := byType[assetType]
		if len(cands) == 0 {
			continue
		}
		if pinnedByUser(cands) {
			continue
		}

		limit, err := p.settings.SelectCount(ctx, assetType)
		if err != nil {
			return changed, err
		}
		winners := selectTopN(cands, limit, p.cfg.DedupThreshold)

		previous, err := p.db.SelectedCandidateIDs(ctx, models.KindMovie, movie.ID, assetType)
		if err != nil {
			return changed, err
		}
		if sameIDSet(winners, previous) {
			continue
		}

		if err := p.db.SwapSelection(ctx, models.KindMovie, movie.ID, assetType, winners, models.SelectedAuto); err != nil {
			return changed, err
		}
		changed = true
		metrics.AssetsSelected.WithLabelValues(string(assetType)).Add(float64(len(winners)))

		prevSet := make(map[int64]struct{}, len(previous))
		for _, id := range previous {
			prevSet[id] = struct{}{}
		}
		winnerSet := make(map[int64]struct{}, len(winners))
		for _, id := range winners {
			winnerSet[id] = struct{}{}
		}

		byID := make(map[int64]*models.Candidate, len(cands))
		for i := range cands {
			byID[cands[i].ID] = &cands[i]
		}
		for _, id := range winners {
			if _, was := prevSet[id]; was {
				continue
			}
			if c := byID[id]; c != nil {
				if err := p.materialize(ctx, c); err != nil {
					log.Warn().Err(err).Int64("candidate_id", id).
						Msg("materializing selected asset")
				}
			}
		}
		for _, id := range previous {
			if _, still := winnerSet[id]; still {
				continue
			}
			c := byID[id]
			if c == nil || c.ContentHash == "" {
				continue
			}
			if err := p.evict(ctx, movie.ID, assetType, c.ContentHash); err != nil {
				log.Warn().Err(err).Int64("candidate_id", id).
					Msg("evicting deselected asset")
			}
		}

		// Scanned-in placeholders are superseded by the selected set.
		removed, err := p.db.DeleteLocalCacheFiles(ctx, models.KindMovie, movie.ID, assetType)
		if err != nil {
			return changed, err
		}
		for _, f := range removed {
			if err := os.Remove(f.FilePath); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", f.FilePath).Msg("removing local cache file")
			}
		}
	}
	return changed, nil
}

// pinnedByUser reports whether any current selection for the type was made
// manually; automation never overrides a user pick.
func pinnedByUser(cands []models.Candidate) bool {
	for _, c := range cands {
		if c.IsSelected && c.SelectedBy == models.SelectedUser {
			return true
		}
	}
	return false
}

// materialize downloads a selected candidate into the canonical cache path
// and registers the cache file row. Candidates matched in phase 2 already
// have a row and are left alone.
func (p *Pipeline) materialize(ctx context.Context, c *models.Candidate) error {
	if c.ContentHash != "" {
		if _, err := p.db.GetCacheFileByHash(ctx, c.EntityKind, c.EntityID, c.AssetType, c.ContentHash); err == nil {
			return nil
		} else if !database.IsNotFound(err) {
			return err
		}
	}

	data, err := p.download(ctx, c.URL)
	if err != nil {
		return err
	}
	a, err := analyzeImage(data)
	if err != nil {
		return err
	}
	if !c.Analyzed {
		c.Width = a.Width
		c.Height = a.Height
		c.ContentHash = a.ContentHash
		c.PerceptualHash = a.PerceptualHash
		c.DifferenceHash = a.DifferenceHash
		c.Format = a.Format
		c.AlphaRatio = a.AlphaRatio
		c.ForegroundRatio = a.ForegroundRatio
		if err := p.db.UpdateCandidateAnalysis(ctx, c); err != nil {
			return err
		}
	}

	path := filepath.Join(p.paths.CacheDir, string(c.AssetType),
		a.ContentHash[:2], a.ContentHash+extensionFor(a.Format))
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	if _, err := p.db.InsertCacheFile(ctx, &models.CacheFile{
		EntityKind:     c.EntityKind,
		EntityID:       c.EntityID,
		AssetType:      c.AssetType,
		FilePath:       path,
		FileSize:       int64(len(data)),
		ContentHash:    a.ContentHash,
		PerceptualHash: a.PerceptualHash,
		Source:         models.CacheSourceProvider,
		SourceURL:      c.URL,
		Provider:       c.Provider,
	}); err != nil {
		return err
	}
	return p.db.MarkCandidateDownloaded(ctx, c.ID, a.ContentHash)
}

// evict deletes the cache file and row backing a deselected candidate.
func (p *Pipeline) evict(ctx context.Context, movieID int64, assetType models.AssetType, contentHash string) error {
	f, err := p.db.GetCacheFileByHash(ctx, models.KindMovie, movieID, assetType, contentHash)
	if database.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(f.FilePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return p.db.DeleteCacheFile(ctx, f.ID)
}

// actorThumbs is phase 5C: cache profile images for linked actors. Failures
// are logged and skipped; a missing headshot never fails the pipeline.
func (p *Pipeline) actorThumbs(ctx context.Context, movie *models.Movie) {
	log := logging.Ctx(ctx)
	cast, err := p.db.ListCast(ctx, models.KindMovie, movie.ID)
	if err != nil {
		log.Warn().Err(err).Int64("movie_id", movie.ID).Msg("listing cast for thumbs")
		return
	}
	for _, member := range cast {
		actor := member.Actor
		if actor == nil || actor.ProfileURL == "" || actor.ImageHash != "" {
			continue
		}
		data, err := p.download(ctx, actor.ProfileURL)
		if err != nil {
			log.Debug().Err(err).Str("actor", actor.Name).Msg("actor thumb download failed")
			continue
		}
		a, err := analyzeImage(data)
		if err != nil {
			log.Debug().Err(err).Str("actor", actor.Name).Msg("actor thumb decode failed")
			continue
		}
		path := filepath.Join(p.paths.CacheDir, "actors",
			a.ContentHash[:2], a.ContentHash[2:4], a.ContentHash+extensionFor(a.Format))
		if err := writeFileAtomic(path, data); err != nil {
			log.Warn().Err(err).Str("actor", actor.Name).Msg("writing actor thumb")
			continue
		}
		if _, err := p.db.InsertCacheFile(ctx, &models.CacheFile{
			EntityKind:     models.KindActor,
			EntityID:       actor.ID,
			AssetType:      models.AssetActorThumb,
			FilePath:       path,
			FileSize:       int64(len(data)),
			ContentHash:    a.ContentHash,
			PerceptualHash: a.PerceptualHash,
			Source:         models.CacheSourceProvider,
			SourceURL:      actor.ProfileURL,
			Provider:       models.ProviderTMDB,
		}); err != nil {
			log.Warn().Err(err).Str("actor", actor.Name).Msg("registering actor thumb")
			continue
		}
		if err := p.db.UpdateActorImage(ctx, actor.ID, a.ContentHash, path, a.Width, a.Height); err != nil {
			log.Warn().Err(err).Str("actor", actor.Name).Msg("stamping actor image")
		}
	}
}
