// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/settings"
)

// boolKeys is the closed set of toggles the API will write. Anything else
// is rejected so a typo cannot plant a dead row in the settings table.
var boolKeys = map[string]bool{
	settings.KeyChainEnrich:          true,
	settings.KeyChainSelect:          true,
	settings.KeyChainPublish:         true,
	settings.KeyChainVerify:          true,
	settings.KeyChainNotify:          true,
	settings.KeyNFOWriteLocked:       true,
	settings.KeyRecycleEnabled:       true,
	settings.KeyToggleWebhooks:       true,
	settings.KeyToggleScanning:       true,
	settings.KeyToggleIdentification: true,
	settings.KeyToggleEnrichment:     true,
	settings.KeyTogglePublishing:     true,
}

const selectCountPrefix = "select.count."

type settingUpdate struct {
	Value json.RawMessage `json:"value"`
}

func (router *Router) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	all, err := router.settings.All(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(all)
}

// handlePutSetting updates one toggle or selection count. Toggles take a
// JSON boolean, select.count.<asset_type> keys take a small integer.
func (router *Router) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	key := chi.URLParam(r, "key")

	var upd settingUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil || len(upd.Value) == 0 {
		rw.BadRequest("body must be {\"value\": ...}")
		return
	}

	switch {
	case boolKeys[key]:
		var v bool
		if err := json.Unmarshal(upd.Value, &v); err != nil {
			rw.ValidationError("value must be a boolean", map[string]string{"key": key})
			return
		}
		if err := router.settings.SetBool(r.Context(), key, v); err != nil {
			rw.DatabaseError(err)
			return
		}
		// Stage toggles take effect on the running pool immediately.
		if jobTypes, ok := settings.ToggleJobTypes[key]; ok && router.registry != nil {
			for _, jt := range jobTypes {
				router.registry.SetEnabled(jt, v)
			}
		}
		rw.Success(map[string]any{"key": key, "value": v})

	case strings.HasPrefix(key, selectCountPrefix):
		var n int
		if err := json.Unmarshal(upd.Value, &n); err != nil || n < 0 || n > 20 {
			rw.ValidationError("value must be an integer between 0 and 20", map[string]string{"key": key})
			return
		}
		assetType := models.AssetType(strings.TrimPrefix(key, selectCountPrefix))
		if err := router.settings.SetSelectCount(r.Context(), assetType, n); err != nil {
			rw.DatabaseError(err)
			return
		}
		rw.Success(map[string]any{"key": key, "value": n})

	default:
		rw.NotFound("unknown setting key")
	}
}
