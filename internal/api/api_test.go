// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/enrich"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
	"github.com/metarr/metarr/internal/scheduler"
	"github.com/metarr/metarr/internal/settings"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

type fixture struct {
	handler  http.Handler
	db       *database.DB
	store    *queue.Store
	registry *queue.Registry
	settings *settings.Service
	libID    int64
}

func newFixture(t *testing.T, cfg config.ServerConfig) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	st := settings.NewService(db)
	t.Cleanup(st.Close)

	store := queue.NewStore(db)
	registry := queue.NewRegistry()
	bulk := enrich.NewBulk(config.EnrichConfig{}, db, store, nil)
	sched := scheduler.New(config.SchedulerConfig{}, store)

	router := New(cfg, db, store, registry, sched, bulk, st, nil)
	return &fixture{handler: router.Setup(), db: db, store: store, registry: registry, settings: st}
}

func (f *fixture) request(t *testing.T, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
		}
	}
	return rec, resp
}

func (f *fixture) addMovie(t *testing.T, title string) int64 {
	t.Helper()
	if f.libID == 0 {
		libID, err := f.db.InsertLibrary(context.Background(), &models.Library{
			Name: "Movies", RootPath: "/media", Kind: models.LibraryMovies, Enabled: true,
		})
		if err != nil {
			t.Fatalf("insert library: %v", err)
		}
		f.libID = libID
	}
	id, err := f.db.InsertMovie(context.Background(), &models.Movie{
		LibraryID: f.libID,
		Title:     title,
		Year:      2010,
		Path:      "/media/" + title,
		Monitored: true,
	})
	if err != nil {
		t.Fatalf("insert movie: %v", err)
	}
	return id
}

func (f *fixture) pendingTypes(t *testing.T) []models.JobType {
	t.Helper()
	jobs, err := f.store.List(context.Background(), models.JobPending, 50)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	types := make([]models.JobType, 0, len(jobs))
	for _, j := range jobs {
		types = append(types, j.Type)
	}
	return types
}

const downloadPayload = `{
	"source": "radarr",
	"eventType": "Download",
	"movie": {"id": 42, "title": "Inception", "year": 2010,
		"folderPath": "/media/Inception (2010)", "tmdbId": 27205}
}`

func TestWebhookEnqueuesDownload(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec, resp := f.request(t, http.MethodPost, "/api/v1/webhook", downloadPayload, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	if !resp.Success {
		t.Fatal("expected success envelope")
	}

	types := f.pendingTypes(t)
	if len(types) != 1 || types[0] != models.JobWebhookReceived {
		t.Errorf("pending = %v, want one webhook-received", types)
	}
}

func TestWebhookDedupesSamePath(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	f.request(t, http.MethodPost, "/api/v1/webhook", downloadPayload, nil)
	f.request(t, http.MethodPost, "/api/v1/webhook", downloadPayload, nil)

	if got := len(f.pendingTypes(t)); got != 1 {
		t.Errorf("pending jobs = %d, want 1 after duplicate webhook", got)
	}
}

func TestWebhookSecretEnforced(t *testing.T) {
	f := newFixture(t, config.ServerConfig{WebhookSecret: "hunter2"})

	rec, _ := f.request(t, http.MethodPost, "/api/v1/webhook", downloadPayload, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no secret: status = %d, want 401", rec.Code)
	}

	rec, _ = f.request(t, http.MethodPost, "/api/v1/webhook", downloadPayload,
		map[string]string{"X-Webhook-Secret": "hunter2"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("with secret: status = %d, want 202", rec.Code)
	}
}

func TestWebhookTestEventEnqueuesNothing(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec, _ := f.request(t, http.MethodPost, "/api/v1/webhook",
		`{"source":"radarr","eventType":"Test"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := len(f.pendingTypes(t)); got != 0 {
		t.Errorf("pending jobs = %d, want 0", got)
	}
}

func TestListMoviesPaginates(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	f.addMovie(t, "Alpha")
	f.addMovie(t, "Beta")
	f.addMovie(t, "Gamma")

	rec, resp := f.request(t, http.MethodGet, "/api/v1/movies?limit=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	p := resp.Meta.Pagination
	if p == nil {
		t.Fatal("no pagination meta")
	}
	if p.Total != 3 || p.Count != 2 || !p.HasMore {
		t.Errorf("pagination = %+v, want total 3, count 2, has_more", p)
	}
}

func TestGetMovieNotFound(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec, resp := f.request(t, http.MethodGet, "/api/v1/movies/99", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", resp.Error)
	}
}

func TestEnrichTriggerEnqueuesManualFetch(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	id := f.addMovie(t, "Inception")

	rec, _ := f.request(t, http.MethodPost, "/api/v1/movies/1/enrich?force=true", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}

	jobs, err := f.store.List(context.Background(), models.JobPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Type != models.JobFetchProviderAssets {
		t.Fatalf("pending = %v, want one fetch-provider-assets", jobs)
	}
	if jobs[0].Priority != models.PriorityHigh {
		t.Errorf("priority = %d, want high", jobs[0].Priority)
	}

	var p queue.EntityPayload
	if err := json.Unmarshal(jobs[0].Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.EntityID != id || !p.Manual || !p.ForceRefresh {
		t.Errorf("payload = %+v, want manual force refresh for movie %d", p, id)
	}

	// Second trigger while the first is still queued conflicts.
	rec, _ = f.request(t, http.MethodPost, "/api/v1/movies/1/enrich", "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate trigger: status = %d, want 409", rec.Code)
	}
}

func TestJobStatsCancelLifecycle(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	f.addMovie(t, "Inception")
	f.request(t, http.MethodPost, "/api/v1/movies/1/verify", "", nil)

	rec, resp := f.request(t, http.MethodGet, "/api/v1/jobs/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats models.QueueStats
	raw, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(raw, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}

	rec, _ = f.request(t, http.MethodDelete, "/api/v1/jobs/1", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", rec.Code)
	}

	rec, _ = f.request(t, http.MethodDelete, "/api/v1/jobs/1", "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel terminal job: status = %d, want 409", rec.Code)
	}
}

func TestListJobsRejectsUnknownState(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec, _ := f.request(t, http.MethodGet, "/api/v1/jobs?state=bogus", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPutSettingToggle(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec, _ := f.request(t, http.MethodPut, "/api/v1/settings/"+settings.KeyChainEnrich,
		`{"value": false}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	on, err := f.settings.Bool(context.Background(), settings.KeyChainEnrich)
	if err != nil {
		t.Fatal(err)
	}
	if on {
		t.Error("toggle still on after PUT false")
	}
}

func TestPutSettingStageToggleDisablesJobs(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	if !f.registry.Enabled(models.JobEnrichMetadata) {
		t.Fatal("enrichment jobs disabled before any PUT")
	}

	rec, _ := f.request(t, http.MethodPut, "/api/v1/settings/"+settings.KeyToggleEnrichment,
		`{"value": false}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	for _, jt := range settings.ToggleJobTypes[settings.KeyToggleEnrichment] {
		if f.registry.Enabled(jt) {
			t.Errorf("%s still enabled after disabling the stage", jt)
		}
	}

	rec, _ = f.request(t, http.MethodPut, "/api/v1/settings/"+settings.KeyToggleEnrichment,
		`{"value": true}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-enable status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if !f.registry.Enabled(models.JobEnrichMetadata) {
		t.Error("enrichment jobs still disabled after re-enabling the stage")
	}
}

func TestPutSettingSelectCount(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec, _ := f.request(t, http.MethodPut, "/api/v1/settings/select.count.backdrop",
		`{"value": 5}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	n, err := f.settings.SelectCount(context.Background(), models.AssetBackdrop)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("select count = %d, want 5", n)
	}
}

func TestPutSettingUnknownKey(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec, _ := f.request(t, http.MethodPut, "/api/v1/settings/no.such.key",
		`{"value": true}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSchedulerRunNow(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec, _ := f.request(t, http.MethodPost, "/api/v1/scheduler/cleanup/run", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	types := f.pendingTypes(t)
	if len(types) != 1 || types[0] != models.JobScheduledCleanup {
		t.Errorf("pending = %v, want one scheduled-cleanup", types)
	}

	rec, _ = f.request(t, http.MethodPost, "/api/v1/scheduler/cleanup/run", "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second run: status = %d, want 409", rec.Code)
	}
}

func TestScanDisabledLibraryConflicts(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	if _, err := f.db.InsertLibrary(context.Background(), &models.Library{
		Name: "Archive", RootPath: "/archive", Kind: models.LibraryMovies, Enabled: false,
	}); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.request(t, http.MethodPost, "/api/v1/libraries/1/scan", "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec, resp := f.request(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !resp.Success {
		t.Error("expected success envelope")
	}
}

func TestRequestIDInEnvelope(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	_, resp := f.request(t, http.MethodGet, "/healthz", "",
		map[string]string{"X-Request-ID": "trace-me"})
	if resp.Meta == nil || resp.Meta.RequestID != "trace-me" {
		t.Errorf("meta = %+v, want request id trace-me", resp.Meta)
	}
}
