// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package nfo reads and writes Kodi-style sidecar metadata. Parsing is
// hardened against XML entity expansion and tolerates the three formats
// found in the wild: well-formed XML, bare provider URLs, and broken XML
// that still carries recognizable id tags.
package nfo

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
)

// Status classifies a parse result.
type Status string

const (
	StatusValid     Status = "valid"
	StatusAmbiguous Status = "ambiguous"
	StatusInvalid   Status = "invalid"
)

// File priorities: the exact-basename sidecar wins over movie.nfo, which
// wins over any stray .nfo/.txt in the directory.
const (
	priorityExact   = 30
	priorityGeneric = 20
	priorityOther   = 10
)

// Identifiers are the external provider ids a sidecar can carry.
type Identifiers struct {
	TmdbID int64
	ImdbID string
	TvdbID int64
}

func (i Identifiers) empty() bool {
	return i.TmdbID == 0 && i.ImdbID == "" && i.TvdbID == 0
}

// conflictsWith reports irreconcilable ids: both sides set and different.
func (i Identifiers) conflictsWith(other Identifiers) bool {
	if i.TmdbID != 0 && other.TmdbID != 0 && i.TmdbID != other.TmdbID {
		return true
	}
	if i.ImdbID != "" && other.ImdbID != "" && i.ImdbID != other.ImdbID {
		return true
	}
	return false
}

// ActorRef is one <actor> element from a sidecar.
type ActorRef struct {
	Name  string
	Role  string
	Order int
	Thumb string
}

// Metadata is the structured content of one or more merged NFO files.
type Metadata struct {
	Identifiers

	Title         string
	OriginalTitle string
	SortTitle     string
	Year          int
	Plot          string
	Outline       string
	Tagline       string
	Runtime       int
	MPAA          string
	Premiered     string

	Genres    []string
	Directors []string
	Writers   []string
	Studios   []string
	Countries []string
	Tags      []string

	Actors  []ActorRef
	Ratings []models.Rating

	SetName     string
	SetOverview string
}

// Result is the outcome of parsing an entity's candidate sidecars.
type Result struct {
	Status     Status
	Diagnostic string
	Metadata   *Metadata
	// Source is the path of the winning file.
	Source string
}

// parsedFile is one file's contribution before merging.
type parsedFile struct {
	path     string
	priority int
	modTime  time.Time
	meta     *Metadata
}

var (
	reTmdbURL = regexp.MustCompile(`themoviedb\.org/(?:movie|tv)/(\d+)`)
	reImdbURL = regexp.MustCompile(`imdb\.com/title/(tt\d+)`)
	reTvdbURL = regexp.MustCompile(`thetvdb\.com/series/(\d+)`)
	reTvdbID  = regexp.MustCompile(`thetvdb\.com/[^\s]*\?id=(\d+)`)

	// Fallbacks for XML too broken to parse.
	reTmdbTag   = regexp.MustCompile(`(?i)<tmdbid>\s*(\d+)\s*</tmdbid>`)
	reImdbTag   = regexp.MustCompile(`(?i)<imdbid>\s*(tt\d+)\s*</imdbid>`)
	reUniqueTag = regexp.MustCompile(`(?i)<uniqueid[^>]*type="(\w+)"[^>]*>\s*([^<\s]+)\s*</uniqueid>`)

	// XML carrying DTD constructs is rejected outright.
	reForbidden = regexp.MustCompile(`(?i)<!(?:ENTITY|DOCTYPE)`)
)

// Parse reads every candidate sidecar for an entity, resolves conflicts by
// file priority and produces one merged metadata object. videoBase is the
// main media file's name without extension; its exact-match sidecar has
// the highest priority.
func Parse(paths []string, videoBase string) *Result {
	var files []parsedFile
	for _, path := range paths {
		pf, err := parseOne(path, videoBase)
		if err != nil {
			logging.Debug().Err(err).Str("path", path).Msg("sidecar skipped")
			continue
		}
		if pf != nil {
			files = append(files, *pf)
		}
	}
	if len(files) == 0 {
		return &Result{Status: StatusInvalid, Diagnostic: "no readable sidecar files"}
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].priority != files[j].priority {
			return files[i].priority > files[j].priority
		}
		return files[i].modTime.After(files[j].modTime)
	})

	winner := files[0]
	kept := files[:1]
	for _, f := range files[1:] {
		if winner.meta.conflictsWith(f.meta.Identifiers) {
			if f.priority == winner.priority {
				return &Result{
					Status: StatusAmbiguous,
					Source: winner.path,
					Diagnostic: fmt.Sprintf("conflicting ids between %s and %s at the same priority",
						filepath.Base(winner.path), filepath.Base(f.path)),
				}
			}
			logging.Warn().Str("winner", winner.path).Str("discarded", f.path).
				Msg("conflicting sidecar ids, lower-priority file discarded")
			continue
		}
		kept = append(kept, f)
	}

	merged := mergeFiles(kept)
	if merged.Identifiers.empty() {
		return &Result{
			Status:     StatusInvalid,
			Source:     winner.path,
			Diagnostic: "no provider identifier found in any sidecar",
		}
	}
	return &Result{Status: StatusValid, Metadata: merged, Source: winner.path}
}

func parseOne(path, videoBase string) (*parsedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	meta := extract(data)
	if meta == nil {
		return nil, nil
	}
	return &parsedFile{
		path:     path,
		priority: filePriority(path, videoBase),
		modTime:  info.ModTime(),
		meta:     meta,
	}, nil
}

func filePriority(path, videoBase string) int {
	name := strings.ToLower(filepath.Base(path))
	if videoBase != "" && name == strings.ToLower(videoBase)+".nfo" {
		return priorityExact
	}
	if name == "movie.nfo" || name == "movie.txt" {
		return priorityGeneric
	}
	return priorityOther
}

// extract decides whether content is XML or URL text and pulls what it
// can. Returns nil when nothing useful was found.
func extract(data []byte) *Metadata {
	text := string(data)
	if reForbidden.MatchString(text) {
		logging.Warn().Msg("sidecar rejected: DTD declaration present")
		return nil
	}

	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "<") {
		return extractURLs(text)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		// Broken XML still often carries id tags worth salvaging.
		return extractFallback(text)
	}
	root := doc.SelectElement("movie")
	if root == nil {
		root = doc.Root()
	}
	if root == nil {
		return extractFallback(text)
	}
	meta := extractXML(root)
	// Some exporters append the provider URL after the document.
	if urls := extractURLs(text); urls != nil {
		fillIdentifiers(&meta.Identifiers, urls.Identifiers)
	}
	if meta.Identifiers.empty() && meta.Title == "" {
		return nil
	}
	return meta
}

func extractURLs(text string) *Metadata {
	var ids Identifiers
	for _, line := range strings.Split(text, "\n") {
		if m := reTmdbURL.FindStringSubmatch(line); m != nil && ids.TmdbID == 0 {
			ids.TmdbID, _ = strconv.ParseInt(m[1], 10, 64)
		}
		if m := reImdbURL.FindStringSubmatch(line); m != nil && ids.ImdbID == "" {
			ids.ImdbID = m[1]
		}
		if ids.TvdbID == 0 {
			if m := reTvdbID.FindStringSubmatch(line); m != nil {
				ids.TvdbID, _ = strconv.ParseInt(m[1], 10, 64)
			} else if m := reTvdbURL.FindStringSubmatch(line); m != nil {
				ids.TvdbID, _ = strconv.ParseInt(m[1], 10, 64)
			}
		}
	}
	if ids.empty() {
		return nil
	}
	return &Metadata{Identifiers: ids}
}

func extractFallback(text string) *Metadata {
	var ids Identifiers
	if m := reTmdbTag.FindStringSubmatch(text); m != nil {
		ids.TmdbID, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := reImdbTag.FindStringSubmatch(text); m != nil {
		ids.ImdbID = m[1]
	}
	for _, m := range reUniqueTag.FindAllStringSubmatch(text, -1) {
		switch strings.ToLower(m[1]) {
		case "tmdb":
			if ids.TmdbID == 0 {
				ids.TmdbID, _ = strconv.ParseInt(m[2], 10, 64)
			}
		case "imdb":
			if ids.ImdbID == "" {
				ids.ImdbID = m[2]
			}
		case "tvdb":
			if ids.TvdbID == 0 {
				ids.TvdbID, _ = strconv.ParseInt(m[2], 10, 64)
			}
		}
	}
	if ids.empty() {
		return extractURLs(text)
	}
	return &Metadata{Identifiers: ids}
}

func extractXML(root *etree.Element) *Metadata {
	meta := &Metadata{}
	childText := func(name string) string {
		if el := root.SelectElement(name); el != nil {
			return strings.TrimSpace(el.Text())
		}
		return ""
	}
	childInt := func(name string) int {
		n, _ := strconv.Atoi(childText(name))
		return n
	}
	childList := func(name string) []string {
		var out []string
		for _, el := range root.SelectElements(name) {
			if v := strings.TrimSpace(el.Text()); v != "" {
				out = append(out, v)
			}
		}
		return out
	}

	for _, el := range root.SelectElements("uniqueid") {
		value := strings.TrimSpace(el.Text())
		switch strings.ToLower(el.SelectAttrValue("type", "")) {
		case "tmdb":
			meta.TmdbID, _ = strconv.ParseInt(value, 10, 64)
		case "imdb":
			meta.ImdbID = value
		case "tvdb":
			meta.TvdbID, _ = strconv.ParseInt(value, 10, 64)
		}
	}
	if meta.TmdbID == 0 {
		meta.TmdbID, _ = strconv.ParseInt(childText("tmdbid"), 10, 64)
	}
	if meta.ImdbID == "" {
		if v := childText("imdbid"); strings.HasPrefix(v, "tt") {
			meta.ImdbID = v
		}
	}

	meta.Title = childText("title")
	meta.OriginalTitle = childText("originaltitle")
	meta.SortTitle = childText("sorttitle")
	meta.Year = childInt("year")
	meta.Plot = childText("plot")
	meta.Outline = childText("outline")
	meta.Tagline = childText("tagline")
	meta.Runtime = childInt("runtime")
	meta.MPAA = childText("mpaa")
	meta.Premiered = childText("premiered")

	meta.Genres = childList("genre")
	meta.Directors = childList("director")
	meta.Writers = childList("credits")
	meta.Studios = childList("studio")
	meta.Countries = childList("country")
	meta.Tags = childList("tag")

	for i, el := range root.SelectElements("actor") {
		actor := ActorRef{Order: i}
		if name := el.SelectElement("name"); name != nil {
			actor.Name = strings.TrimSpace(name.Text())
		}
		if role := el.SelectElement("role"); role != nil {
			actor.Role = strings.TrimSpace(role.Text())
		}
		if order := el.SelectElement("order"); order != nil {
			if n, err := strconv.Atoi(strings.TrimSpace(order.Text())); err == nil {
				actor.Order = n
			}
		}
		if thumb := el.SelectElement("thumb"); thumb != nil {
			actor.Thumb = strings.TrimSpace(thumb.Text())
		}
		if actor.Name != "" {
			meta.Actors = append(meta.Actors, actor)
		}
	}

	if ratings := root.SelectElement("ratings"); ratings != nil {
		for _, el := range ratings.SelectElements("rating") {
			r := models.Rating{
				Source:  el.SelectAttrValue("name", ""),
				Default: el.SelectAttrValue("default", "") == "true",
			}
			r.Max, _ = strconv.Atoi(el.SelectAttrValue("max", "10"))
			if v := el.SelectElement("value"); v != nil {
				r.Value, _ = strconv.ParseFloat(strings.TrimSpace(v.Text()), 64)
			}
			if v := el.SelectElement("votes"); v != nil {
				r.Votes, _ = strconv.Atoi(strings.TrimSpace(v.Text()))
			}
			if r.Source != "" {
				meta.Ratings = append(meta.Ratings, r)
			}
		}
	}

	if set := root.SelectElement("set"); set != nil {
		if name := set.SelectElement("name"); name != nil {
			meta.SetName = strings.TrimSpace(name.Text())
		}
		if overview := set.SelectElement("overview"); overview != nil {
			meta.SetOverview = strings.TrimSpace(overview.Text())
		}
	}
	return meta
}

// fillIdentifiers copies src ids into dst where dst is unset.
func fillIdentifiers(dst *Identifiers, src Identifiers) {
	if dst.TmdbID == 0 {
		dst.TmdbID = src.TmdbID
	}
	if dst.ImdbID == "" {
		dst.ImdbID = src.ImdbID
	}
	if dst.TvdbID == 0 {
		dst.TvdbID = src.TvdbID
	}
}

// mergeFiles folds non-conflicting files, highest priority first, into one
// metadata object per the merge rules: scalars from the winner, longest
// plot/outline, unioned arrays, actors keyed by name, ratings keyed by
// source keeping the highest vote count, set info preferring the entry
// with an overview.
func mergeFiles(files []parsedFile) *Metadata {
	merged := &Metadata{}
	*merged = *files[0].meta

	seenActor := make(map[string]struct{})
	for _, a := range merged.Actors {
		seenActor[strings.ToLower(a.Name)] = struct{}{}
	}
	ratingBySource := make(map[string]models.Rating)
	for _, r := range merged.Ratings {
		ratingBySource[r.Source] = r
	}

	for _, f := range files[1:] {
		m := f.meta
		fillIdentifiers(&merged.Identifiers, m.Identifiers)

		fillString(&merged.Title, m.Title)
		fillString(&merged.OriginalTitle, m.OriginalTitle)
		fillString(&merged.SortTitle, m.SortTitle)
		fillString(&merged.Tagline, m.Tagline)
		fillString(&merged.MPAA, m.MPAA)
		fillString(&merged.Premiered, m.Premiered)
		if merged.Year == 0 {
			merged.Year = m.Year
		}
		if merged.Runtime == 0 {
			merged.Runtime = m.Runtime
		}
		if len(m.Plot) > len(merged.Plot) {
			merged.Plot = m.Plot
		}
		if len(m.Outline) > len(merged.Outline) {
			merged.Outline = m.Outline
		}

		merged.Genres = unionStrings(merged.Genres, m.Genres)
		merged.Directors = unionStrings(merged.Directors, m.Directors)
		merged.Writers = unionStrings(merged.Writers, m.Writers)
		merged.Studios = unionStrings(merged.Studios, m.Studios)
		merged.Countries = unionStrings(merged.Countries, m.Countries)
		merged.Tags = unionStrings(merged.Tags, m.Tags)

		for _, a := range m.Actors {
			key := strings.ToLower(a.Name)
			if _, ok := seenActor[key]; ok {
				continue
			}
			seenActor[key] = struct{}{}
			merged.Actors = append(merged.Actors, a)
		}
		for _, r := range m.Ratings {
			if have, ok := ratingBySource[r.Source]; !ok || r.Votes > have.Votes {
				ratingBySource[r.Source] = r
			}
		}
		if m.SetName != "" && (merged.SetName == "" || (merged.SetOverview == "" && m.SetOverview != "")) {
			merged.SetName = m.SetName
			merged.SetOverview = m.SetOverview
		}
	}

	if len(ratingBySource) > 0 {
		merged.Ratings = merged.Ratings[:0]
		sources := make([]string, 0, len(ratingBySource))
		for s := range ratingBySource {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		for _, s := range sources {
			merged.Ratings = append(merged.Ratings, ratingBySource[s])
		}
	}

	sort.SliceStable(merged.Actors, func(i, j int) bool {
		return merged.Actors[i].Order < merged.Actors[j].Order
	})
	return merged
}

func fillString(dst *string, val string) {
	if *dst == "" {
		*dst = val
	}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[strings.ToLower(v)] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[strings.ToLower(v)]; ok {
			continue
		}
		seen[strings.ToLower(v)] = struct{}{}
		a = append(a, v)
	}
	return a
}
