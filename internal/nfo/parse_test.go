// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package nfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metarr/metarr/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

func writeSidecar(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const fullNFO = `<?xml version="1.0" encoding="UTF-8"?>
<movie>
  <uniqueid type="tmdb" default="true">550</uniqueid>
  <uniqueid type="imdb">tt0137523</uniqueid>
  <title>Fight Club</title>
  <year>1999</year>
  <plot>An insomniac office worker and a devil-may-care soap maker.</plot>
  <runtime>139</runtime>
  <mpaa>R</mpaa>
  <genre>Drama</genre>
  <genre>Thriller</genre>
  <director>David Fincher</director>
  <studio>Fox 2000 Pictures</studio>
  <actor>
    <name>Edward Norton</name>
    <role>The Narrator</role>
    <order>0</order>
  </actor>
  <actor>
    <name>Brad Pitt</name>
    <role>Tyler Durden</role>
    <order>1</order>
  </actor>
  <ratings>
    <rating name="themoviedb" max="10" default="true">
      <value>8.4</value>
      <votes>26000</votes>
    </rating>
  </ratings>
  <set>
    <name>Fight Club Collection</name>
  </set>
</movie>`

func TestParseFullXML(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "movie.nfo", fullNFO)

	res := Parse([]string{path}, "")
	if res.Status != StatusValid {
		t.Fatalf("status = %s (%s)", res.Status, res.Diagnostic)
	}
	m := res.Metadata
	if m.TmdbID != 550 || m.ImdbID != "tt0137523" {
		t.Errorf("ids = %+v", m.Identifiers)
	}
	if m.Title != "Fight Club" || m.Year != 1999 || m.Runtime != 139 {
		t.Errorf("scalars = %+v", m)
	}
	if len(m.Genres) != 2 || len(m.Actors) != 2 {
		t.Errorf("arrays: genres=%v actors=%v", m.Genres, m.Actors)
	}
	if m.Actors[0].Name != "Edward Norton" || m.Actors[1].Role != "Tyler Durden" {
		t.Errorf("actors = %+v", m.Actors)
	}
	if len(m.Ratings) != 1 || m.Ratings[0].Value != 8.4 || !m.Ratings[0].Default {
		t.Errorf("ratings = %+v", m.Ratings)
	}
	if m.SetName != "Fight Club Collection" {
		t.Errorf("set = %q", m.SetName)
	}
}

func TestParseURLText(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "other.nfo",
		"https://www.themoviedb.org/movie/550-fight-club\nhttps://www.imdb.com/title/tt0137523/\n")

	res := Parse([]string{path}, "")
	if res.Status != StatusValid {
		t.Fatalf("status = %s (%s)", res.Status, res.Diagnostic)
	}
	if res.Metadata.TmdbID != 550 || res.Metadata.ImdbID != "tt0137523" {
		t.Errorf("ids = %+v", res.Metadata.Identifiers)
	}
}

func TestParseRejectsDTD(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "movie.nfo",
		`<?xml version="1.0"?><!DOCTYPE movie [<!ENTITY x SYSTEM "file:///etc/passwd">]><movie><tmdbid>550</tmdbid></movie>`)

	res := Parse([]string{path}, "")
	if res.Status != StatusInvalid {
		t.Errorf("status = %s, want invalid for DTD content", res.Status)
	}
}

func TestParseMalformedXMLFallback(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "movie.nfo",
		`<movie><title>Broken & Unclosed<tmdbid>550</tmdbid><uniqueid type="imdb">tt0137523</uniqueid>`)

	res := Parse([]string{path}, "")
	if res.Status != StatusValid {
		t.Fatalf("status = %s (%s)", res.Status, res.Diagnostic)
	}
	if res.Metadata.TmdbID != 550 || res.Metadata.ImdbID != "tt0137523" {
		t.Errorf("ids = %+v", res.Metadata.Identifiers)
	}
}

func TestParsePriorityConflict(t *testing.T) {
	dir := t.TempDir()
	exact := writeSidecar(t, dir, "Fight Club (1999).nfo",
		`<movie><uniqueid type="tmdb">550</uniqueid><title>Fight Club</title></movie>`)
	generic := writeSidecar(t, dir, "movie.nfo",
		`<movie><uniqueid type="tmdb">999</uniqueid><title>Wrong Movie</title></movie>`)

	res := Parse([]string{generic, exact}, "Fight Club (1999)")
	if res.Status != StatusValid {
		t.Fatalf("status = %s (%s)", res.Status, res.Diagnostic)
	}
	if res.Metadata.TmdbID != 550 {
		t.Errorf("tmdb id = %d, want exact-match file to win", res.Metadata.TmdbID)
	}
	if res.Source != exact {
		t.Errorf("source = %s, want %s", res.Source, exact)
	}
}

func TestParseAmbiguousAtSamePriority(t *testing.T) {
	dir := t.TempDir()
	a := writeSidecar(t, dir, "a.nfo", `<movie><uniqueid type="tmdb">550</uniqueid></movie>`)
	b := writeSidecar(t, dir, "b.nfo", `<movie><uniqueid type="tmdb">999</uniqueid></movie>`)
	// Same mtime tier is fine; priority tier is what matters.
	now := time.Now()
	_ = os.Chtimes(a, now, now)
	_ = os.Chtimes(b, now, now)

	res := Parse([]string{a, b}, "")
	if res.Status != StatusAmbiguous {
		t.Errorf("status = %s, want ambiguous", res.Status)
	}
}

func TestParseMergeAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	primary := writeSidecar(t, dir, "movie.nfo",
		`<movie>
			<uniqueid type="tmdb">550</uniqueid>
			<title>Fight Club</title>
			<plot>Short plot.</plot>
			<genre>Drama</genre>
			<actor><name>Edward Norton</name><role>The Narrator</role><order>0</order></actor>
			<ratings><rating name="themoviedb" max="10"><value>8.0</value><votes>100</votes></rating></ratings>
		</movie>`)
	secondary := writeSidecar(t, dir, "extra.nfo",
		`<movie>
			<uniqueid type="imdb">tt0137523</uniqueid>
			<plot>A much longer plot that should win the longest-text merge rule for plots.</plot>
			<genre>drama</genre>
			<genre>Thriller</genre>
			<actor><name>edward norton</name><role>Narrator (dupe)</role><order>5</order></actor>
			<actor><name>Brad Pitt</name><role>Tyler Durden</role><order>1</order></actor>
			<ratings><rating name="themoviedb" max="10"><value>8.4</value><votes>26000</votes></rating></ratings>
		</movie>`)

	res := Parse([]string{primary, secondary}, "")
	if res.Status != StatusValid {
		t.Fatalf("status = %s (%s)", res.Status, res.Diagnostic)
	}
	m := res.Metadata
	if m.TmdbID != 550 || m.ImdbID != "tt0137523" {
		t.Errorf("ids not merged: %+v", m.Identifiers)
	}
	if len(m.Plot) < 40 {
		t.Errorf("plot = %q, want longest across files", m.Plot)
	}
	// Case-insensitive union: Drama + Thriller.
	if len(m.Genres) != 2 {
		t.Errorf("genres = %v", m.Genres)
	}
	// Actors keyed by name, winner's role retained, sorted by order.
	if len(m.Actors) != 2 {
		t.Fatalf("actors = %+v", m.Actors)
	}
	if m.Actors[0].Name != "Edward Norton" || m.Actors[0].Role != "The Narrator" {
		t.Errorf("actor[0] = %+v", m.Actors[0])
	}
	// Ratings keyed by source, highest vote count wins.
	if len(m.Ratings) != 1 || m.Ratings[0].Votes != 26000 {
		t.Errorf("ratings = %+v", m.Ratings)
	}
}

func TestParseNoIdentifiers(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "movie.nfo", `<movie><title>Unknown</title></movie>`)

	res := Parse([]string{path}, "")
	if res.Status != StatusInvalid {
		t.Errorf("status = %s, want invalid without ids", res.Status)
	}
}

func TestParseNoFiles(t *testing.T) {
	res := Parse(nil, "")
	if res.Status != StatusInvalid {
		t.Errorf("status = %s, want invalid", res.Status)
	}
}
