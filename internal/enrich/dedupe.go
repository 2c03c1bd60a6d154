// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package enrich

import (
	"sort"

	"github.com/metarr/metarr/internal/models"
)

// selectTopN picks the winning candidate ids for one asset type: sort by
// score descending (id ascending as tiebreak, keeping re-runs stable),
// then walk the list dropping perceptual duplicates of already-accepted
// candidates. Candidates without a perceptual hash cannot be compared and
// are accepted on score alone.
func selectTopN(cands []models.Candidate, n int, dedupThreshold float64) []int64 {
	if n <= 0 {
		return nil
	}

	sorted := make([]models.Candidate, 0, len(cands))
	for _, c := range cands {
		if !c.IsRejected {
			sorted = append(sorted, c)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})

	var (
		winners  []int64
		accepted []uint64
	)
	for _, c := range sorted {
		if c.PerceptualHash != 0 && isDuplicate(c.PerceptualHash, accepted, dedupThreshold) {
			continue
		}
		winners = append(winners, c.ID)
		if c.PerceptualHash != 0 {
			accepted = append(accepted, c.PerceptualHash)
		}
		if len(winners) == n {
			break
		}
	}
	return winners
}

func isDuplicate(hash uint64, accepted []uint64, threshold float64) bool {
	for _, h := range accepted {
		if Similarity(hash, h) >= threshold {
			return true
		}
	}
	return false
}

// sameIDSet reports whether two id slices contain the same members,
// ignoring order.
func sameIDSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int64]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}
