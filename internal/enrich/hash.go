// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package enrich

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	"github.com/corona10/goimagehash"
)

// Similarity is the Hamming similarity of two 64-bit perceptual hashes in
// [0,1]. 0.85 is roughly ten differing bits.
func Similarity(a, b uint64) float64 {
	return 1 - float64(bits.OnesCount64(a^b))/64
}

// analysis is everything phase 3 extracts from one downloaded image.
type analysis struct {
	Width           int
	Height          int
	Format          string
	ContentHash     string
	PerceptualHash  uint64
	DifferenceHash  uint64
	AlphaRatio      float64
	ForegroundRatio float64
}

// analyzeImage decodes raw image bytes and computes dimensions, the
// content hash and both 64-bit image hashes. The alpha and foreground
// ratios drive logo/clearart scoring downstream.
func analyzeImage(data []byte) (*analysis, error) {
	sum := sha256.Sum256(data)

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	phash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, fmt.Errorf("perception hash: %w", err)
	}
	dhash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return nil, fmt.Errorf("difference hash: %w", err)
	}

	bounds := img.Bounds()
	alpha, foreground := pixelRatios(img)

	return &analysis{
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
		Format:          format,
		ContentHash:     hex.EncodeToString(sum[:]),
		PerceptualHash:  phash.GetHash(),
		DifferenceHash:  dhash.GetHash(),
		AlphaRatio:      alpha,
		ForegroundRatio: foreground,
	}, nil
}

// pixelRatios samples the image on a coarse grid and returns the fraction
// of transparent pixels and the fraction of opaque non-background pixels.
func pixelRatios(img image.Image) (alpha, foreground float64) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return 0, 0
	}

	// Cap sampling at roughly 128x128 points; exact ratios are not worth
	// a full scan of a 4K poster.
	stepX := max(1, bounds.Dx()/128)
	stepY := max(1, bounds.Dy()/128)

	var total, transparent, visible int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, a := img.At(x, y).RGBA()
			total++
			if a < 0x8000 {
				transparent++
				continue
			}
			// Near-black and near-white opaque pixels count as background.
			lum := (299*r + 587*g + 114*b) / 1000
			if lum > 0x0a00 && lum < 0xf500 {
				visible++
			}
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(transparent) / float64(total), float64(visible) / float64(total)
}

// extensionFor maps a decoded image format to the cache file extension.
func extensionFor(format string) string {
	switch format {
	case "png":
		return ".png"
	case "gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
