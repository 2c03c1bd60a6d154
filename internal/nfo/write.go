// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package nfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/beevik/etree"

	"github.com/metarr/metarr/internal/models"
)

// RenderMovie emits the deterministic movie.nfo document: uniqueid
// elements first with the primary provider marked default (TMDB over IMDB
// for movies), scalars in a fixed order, then arrays in database order.
func RenderMovie(movie *models.Movie, cast []models.CastMember, ratings []models.Rating) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	root := doc.CreateElement("movie")

	addUniqueID := func(idType, value string, def bool) {
		if value == "" || value == "0" {
			return
		}
		el := root.CreateElement("uniqueid")
		el.CreateAttr("type", idType)
		if def {
			el.CreateAttr("default", "true")
		}
		el.SetText(value)
	}
	addUniqueID("tmdb", strconv.FormatInt(movie.TmdbID, 10), movie.TmdbID != 0)
	addUniqueID("imdb", movie.ImdbID, movie.TmdbID == 0 && movie.ImdbID != "")
	addUniqueID("tvdb", strconv.FormatInt(movie.TvdbID, 10), false)

	addText := func(name, value string) {
		if value != "" {
			root.CreateElement(name).SetText(value)
		}
	}
	addInt := func(name string, value int) {
		if value > 0 {
			root.CreateElement(name).SetText(strconv.Itoa(value))
		}
	}

	addText("title", movie.Title)
	addText("originaltitle", movie.OriginalTitle)
	addText("sorttitle", movie.SortTitle)
	addInt("year", movie.Year)
	addText("plot", movie.Plot)
	addText("outline", movie.Outline)
	addText("tagline", movie.Tagline)
	addInt("runtime", movie.Runtime)
	addText("mpaa", movie.MPAA)
	addText("premiered", movie.Premiered)

	if len(ratings) > 0 {
		el := root.CreateElement("ratings")
		for _, r := range ratings {
			rating := el.CreateElement("rating")
			rating.CreateAttr("name", r.Source)
			rating.CreateAttr("max", strconv.Itoa(r.Max))
			if r.Default {
				rating.CreateAttr("default", "true")
			}
			rating.CreateElement("value").SetText(strconv.FormatFloat(r.Value, 'f', 1, 64))
			rating.CreateElement("votes").SetText(strconv.Itoa(r.Votes))
		}
	}

	for _, g := range movie.Genres {
		addText("genre", g)
	}
	for _, d := range movie.Directors {
		addText("director", d)
	}
	for _, w := range movie.Writers {
		addText("credits", w)
	}
	for _, s := range movie.Studios {
		addText("studio", s)
	}
	for _, c := range movie.Countries {
		addText("country", c)
	}
	for _, tag := range movie.Tags {
		addText("tag", tag)
	}

	if movie.SetName != "" {
		set := root.CreateElement("set")
		set.CreateElement("name").SetText(movie.SetName)
		if movie.SetOverview != "" {
			set.CreateElement("overview").SetText(movie.SetOverview)
		}
	}

	for _, member := range cast {
		if member.Actor == nil || member.Actor.Name == "" {
			continue
		}
		actor := root.CreateElement("actor")
		actor.CreateElement("name").SetText(member.Actor.Name)
		if member.Role != "" {
			actor.CreateElement("role").SetText(member.Role)
		}
		actor.CreateElement("order").SetText(strconv.Itoa(member.SortOrder))
		if member.Actor.ProfileURL != "" {
			actor.CreateElement("thumb").SetText(member.Actor.ProfileURL)
		}
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

// WriteMovie renders and atomically replaces the movie.nfo sidecar in the
// movie's directory, returning the written path.
func WriteMovie(movie *models.Movie, cast []models.CastMember, ratings []models.Rating) (string, error) {
	data, err := RenderMovie(movie, cast, ratings)
	if err != nil {
		return "", fmt.Errorf("render nfo: %w", err)
	}
	path := filepath.Join(movie.Path, "movie.nfo")
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("write nfo: %w", err)
	}
	return path, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".nfo-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
