// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package models defines the shared data structures used across Metarr:
// entities (movies, series, episodes, actors), libraries, queued jobs,
// provider cache records, asset candidates, and cache file rows.
//
// These types mirror the database schema in internal/database. They carry
// no behavior beyond small helpers; all persistence lives in the stores.
package models
