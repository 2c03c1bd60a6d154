// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
)

// maxAssetBytes caps one downloaded asset. Provider art tops out around a
// few megabytes; anything bigger is junk or abuse.
const maxAssetBytes = 32 << 20

// analyze is phase 3: download every unanalyzed candidate to a temp file,
// extract dimensions, hashes and pixel ratios, and persist the results.
// Downloads run with bounded concurrency; per-candidate failures are
// logged and skipped. Analysis is capped per asset type, the remainder is
// scored on provider metadata alone.
func (p *Pipeline) analyze(ctx context.Context, candidates []models.Candidate) int {
	log := logging.Ctx(ctx)

	perType := make(map[models.AssetType]int)
	for _, c := range candidates {
		if c.Analyzed {
			perType[c.AssetType]++
		}
	}

	var queued []*models.Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.Analyzed || c.IsRejected || c.AssetType == models.AssetTrailer {
			continue
		}
		if p.cfg.MaxCandidatesPerType > 0 && perType[c.AssetType] >= p.cfg.MaxCandidatesPerType {
			continue
		}
		perType[c.AssetType]++
		queued = append(queued, c)
	}

	var analyzed int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.DownloadWorkers))
	results := make(chan struct{}, len(queued))
	for _, c := range queued {
		g.Go(func() error {
			if err := p.analyzeOne(gctx, c); err != nil {
				log.Debug().Err(err).Int64("candidate_id", c.ID).
					Str("url", c.URL).Msg("candidate analysis skipped")
				return nil
			}
			results <- struct{}{}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for range results {
		analyzed++
	}
	return analyzed
}

func (p *Pipeline) analyzeOne(ctx context.Context, c *models.Candidate) error {
	tmp, err := p.downloadTemp(ctx, c.URL)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()

	data, err := os.ReadFile(tmp)
	if err != nil {
		return err
	}
	a, err := analyzeImage(data)
	if err != nil {
		return err
	}
	c.Width = a.Width
	c.Height = a.Height
	c.ContentHash = a.ContentHash
	c.PerceptualHash = a.PerceptualHash
	c.DifferenceHash = a.DifferenceHash
	c.Format = a.Format
	c.AlphaRatio = a.AlphaRatio
	c.ForegroundRatio = a.ForegroundRatio
	c.Analyzed = true
	return p.db.UpdateCandidateAnalysis(ctx, c)
}

// download fetches a URL fully into memory, size-capped.
func (p *Pipeline) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
}

// downloadTemp streams a URL to a process-private temp file and returns
// its path. The caller removes the file on every exit path.
func (p *Pipeline) downloadTemp(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	tempDir := filepath.Join(p.paths.CacheDir, "temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(tempDir, "metarr-analyze-*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxAssetBytes)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// writeFileAtomic writes data via a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".metarr-*")
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
