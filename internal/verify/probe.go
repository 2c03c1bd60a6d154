// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package verify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/models"
)

// Prober extracts stream metadata from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) ([]models.StreamDetail, error)
}

// FFProbe shells out to ffprobe with JSON output. The binary path comes
// from config so containerized deployments can point at a mounted build.
type FFProbe struct {
	Binary string
}

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Index         int    `json:"index"`
		CodecType     string `json:"codec_type"`
		CodecName     string `json:"codec_name"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		BitRate       string `json:"bit_rate"`
		Channels      int    `json:"channels"`
		ColorTransfer string `json:"color_transfer"`
		Disposition   struct {
			Default int `json:"default"`
			Forced  int `json:"forced"`
		} `json:"disposition"`
		Tags struct {
			Language string `json:"language"`
		} `json:"tags"`
	} `json:"streams"`
}

func (f *FFProbe) Probe(ctx context.Context, path string) ([]models.StreamDetail, error) {
	bin := f.Binary
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("ffprobe output: %w", err)
	}

	duration, _ := strconv.ParseFloat(parsed.Format.Duration, 64)
	// ffprobe reports comma-joined container aliases; the first is canonical.
	container := parsed.Format.FormatName
	if i := strings.IndexByte(container, ','); i > 0 {
		container = container[:i]
	}

	var streams []models.StreamDetail
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video", "audio", "subtitle":
		default:
			continue
		}
		bitRate, _ := strconv.ParseInt(s.BitRate, 10, 64)
		streams = append(streams, models.StreamDetail{
			StreamType:  s.CodecType,
			StreamIndex: s.Index,
			Codec:       s.CodecName,
			Language:    s.Tags.Language,
			Width:       s.Width,
			Height:      s.Height,
			BitRate:     bitRate,
			Channels:    s.Channels,
			Default:     s.Disposition.Default == 1,
			Forced:      s.Disposition.Forced == 1,
			HDRFormat:   hdrFormat(s.ColorTransfer),
			DurationSec: duration,
			Container:   container,
		})
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("ffprobe %s: no recognizable streams", path)
	}
	return streams, nil
}

func hdrFormat(colorTransfer string) string {
	switch colorTransfer {
	case "smpte2084":
		return "HDR10"
	case "arib-std-b67":
		return "HLG"
	}
	return ""
}
