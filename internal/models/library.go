// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package models

import (
	"path/filepath"
	"strings"
)

// AutomationMode controls how far the workflow chain runs without user input.
type AutomationMode string

const (
	// ModeManual does nothing automatically.
	ModeManual AutomationMode = "manual"
	// ModeYolo selects and publishes without approval.
	ModeYolo AutomationMode = "yolo"
	// ModeHybrid auto-selects assets but waits for the user to publish.
	ModeHybrid AutomationMode = "hybrid"
)

// LibraryKind identifies what a library contains.
type LibraryKind string

const (
	LibraryMovies LibraryKind = "movie"
	LibrarySeries LibraryKind = "series"
	LibraryMusic  LibraryKind = "music"
)

// Library owns entities by path prefix. Longest prefix wins when a path is
// resolved against multiple libraries.
type Library struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	RootPath string         `json:"root_path"`
	Kind     LibraryKind    `json:"kind"`
	Enabled  bool           `json:"enabled"`
	Mode     AutomationMode `json:"mode"`

	// Per-phase auto flags, consulted by the chain router in hybrid mode.
	AutoIdentify bool `json:"auto_identify"`
	AutoEnrich   bool `json:"auto_enrich"`
	AutoSelect   bool `json:"auto_select"`
	AutoPublish  bool `json:"auto_publish"`
}

// Contains reports whether p falls under the library root.
func (l *Library) Contains(p string) bool {
	root := filepath.Clean(l.RootPath)
	p = filepath.Clean(p)
	if p == root {
		return true
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

// ResolveLibrary returns the library whose root is the longest matching
// prefix of path, or nil when no enabled library contains it.
func ResolveLibrary(libraries []Library, path string) *Library {
	var best *Library
	bestLen := -1
	for i := range libraries {
		l := &libraries[i]
		if !l.Enabled || !l.Contains(path) {
			continue
		}
		if n := len(filepath.Clean(l.RootPath)); n > bestLen {
			best = l
			bestLen = n
		}
	}
	return best
}

// PathMapping rewrites a remote downloader path prefix to a local one before
// library resolution (e.g. /downloads inside a container to /media on disk).
type PathMapping struct {
	ID         int64  `json:"id"`
	FromPrefix string `json:"from_prefix"`
	ToPrefix   string `json:"to_prefix"`
}

// ApplyPathMappings rewrites path using the first matching mapping.
func ApplyPathMappings(mappings []PathMapping, path string) string {
	for _, m := range mappings {
		if strings.HasPrefix(path, m.FromPrefix) {
			return m.ToPrefix + strings.TrimPrefix(path, m.FromPrefix)
		}
	}
	return path
}
