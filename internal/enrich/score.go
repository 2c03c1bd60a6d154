// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package enrich

import (
	"math"

	"github.com/metarr/metarr/internal/models"
)

// idealPixels per asset type for the resolution sub-score.
func idealPixels(t models.AssetType) float64 {
	switch t {
	case models.AssetPoster:
		return 6e6 // 2000x3000
	case models.AssetBackdrop:
		return 2.07e6 // 1920x1080
	default:
		return 1e6
	}
}

// idealRatio per asset type; zero means "accept the observed ratio".
func idealRatio(t models.AssetType) float64 {
	switch t {
	case models.AssetPoster:
		return 2.0 / 3.0
	case models.AssetBackdrop:
		return 16.0 / 9.0
	case models.AssetLogo:
		return 4.0
	default:
		return 0
	}
}

// Score rates a candidate 0-100: resolution (30), aspect ratio (20),
// language (20), community votes (20) and provider rank (10).
func Score(c *models.Candidate, preferredLanguage string) int {
	var score float64

	if c.Width > 0 && c.Height > 0 {
		pixels := float64(c.Width) * float64(c.Height)
		score += math.Min(pixels/idealPixels(c.AssetType), 1.5) * 30

		if ideal := idealRatio(c.AssetType); ideal > 0 {
			ratio := float64(c.Width) / float64(c.Height)
			score += math.Max(0, 20-100*math.Abs(ratio-ideal))
		} else {
			score += 20
		}
	}

	switch c.Language {
	case preferredLanguage:
		score += 20
	case "":
		score += 18 // language-neutral art fits every library
	case "en":
		score += 15
	default:
		score += 5
	}

	if c.VoteAverage > 0 {
		score += (c.VoteAverage / 10) * math.Min(float64(c.VoteCount)/50, 1) * 20
	}

	switch c.Provider {
	case models.ProviderTMDB:
		score += 10
	case models.ProviderFanart:
		score += 9
	case models.ProviderTVDB:
		score += 8
	default:
		score += 5
	}

	return int(math.Round(math.Min(score, 100)))
}
