// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package enrich

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// testPNG renders a horizontal gradient so the perceptual hash is
// non-degenerate. seed shifts the gradient to produce distinct images.
func testPNG(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*255/w + int(seed)) % 256)
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestAnalyzeImage(t *testing.T) {
	data := testPNG(t, 200, 300, 0)
	a, err := analyzeImage(data)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.Width != 200 || a.Height != 300 {
		t.Errorf("dimensions = %dx%d, want 200x300", a.Width, a.Height)
	}
	if a.Format != "png" {
		t.Errorf("format = %q, want png", a.Format)
	}
	if len(a.ContentHash) != 64 {
		t.Errorf("content hash length = %d, want 64 hex chars", len(a.ContentHash))
	}
	if a.AlphaRatio != 0 {
		t.Errorf("alpha ratio = %v, want 0 for opaque image", a.AlphaRatio)
	}
}

func TestAnalyzeImageDeterministic(t *testing.T) {
	data := testPNG(t, 100, 100, 7)
	a1, err := analyzeImage(data)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	a2, err := analyzeImage(data)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a1.ContentHash != a2.ContentHash || a1.PerceptualHash != a2.PerceptualHash {
		t.Error("same bytes must produce the same hashes")
	}
}

func TestAnalyzeImageRejectsGarbage(t *testing.T) {
	if _, err := analyzeImage([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func TestAnalyzeImageTransparency(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	// Left half transparent, right half mid-gray.
	for y := 0; y < 64; y++ {
		for x := 32; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	a, err := analyzeImage(buf.Bytes())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.AlphaRatio < 0.4 || a.AlphaRatio > 0.6 {
		t.Errorf("alpha ratio = %v, want ~0.5", a.AlphaRatio)
	}
	if a.ForegroundRatio < 0.4 || a.ForegroundRatio > 0.6 {
		t.Errorf("foreground ratio = %v, want ~0.5", a.ForegroundRatio)
	}
}

func TestExtensionFor(t *testing.T) {
	if got := extensionFor("png"); got != ".png" {
		t.Errorf("png ext = %q", got)
	}
	if got := extensionFor("jpeg"); got != ".jpg" {
		t.Errorf("jpeg ext = %q", got)
	}
	if got := extensionFor("webp"); got != ".jpg" {
		t.Errorf("unknown ext = %q, want .jpg fallback", got)
	}
}
