// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package frame validates uploaded still frames and re-encodes them as bounded
// JPEG evidence.
package frame

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
)

// ErrNotImage is returned for uploads that do not decode as an image.
var ErrNotImage = errors.New("not a decodable image")

const (
	defaultQuality = 85
	// Decompression bombs are rejected before any pixels are allocated.
	maxSourcePixels = 64 << 20
)

// Options bounds the normalised output.
type Options struct {
	MaxDimension int // 0 keeps the original size
	JPEGQuality  int
}

// Normalizer turns a raw frame upload into evidence.
type Normalizer struct {
	opts  Options
	namer artifact.Namer
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaultQuality
	}
	return &Normalizer{opts: opts, namer: artifact.NewNamer()}
}

// Probe decodes only the header of path.
func Probe(path string) (image.Config, string, error) {
	f, err := openFile(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer func() { _ = f.Close() }()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, "", fmt.Errorf("%w: empty dimensions", ErrNotImage)
	}
	if cfg.Width*cfg.Height > maxSourcePixels {
		return image.Config{}, "", fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrNotImage, cfg.Width, cfg.Height)
	}
	return cfg, format, nil
}

// Run validates raw and writes the normalised JPEG as an evidence artifact.
func (n *Normalizer) Run(ctx context.Context, tracker *artifact.Tracker, raw artifact.Artifact) model.StageResult[artifact.Artifact] {
	logger := log.WithContext(ctx, log.WithComponent("frame"))
	if err := ctx.Err(); err != nil {
		return model.Failed[artifact.Artifact](model.KindCanceled, model.StageFrame, "request canceled", err)
	}

	cfg, format, err := Probe(raw.Path)
	if err != nil {
		return model.Failed[artifact.Artifact](model.KindInput, model.StageFrame, "uploaded frame is not a valid image", err)
	}
	img, err := imaging.Open(raw.Path, imaging.AutoOrientation(true))
	if err != nil {
		return model.Failed[artifact.Artifact](model.KindInput, model.StageFrame, "uploaded frame is not a valid image", fmt.Errorf("%w: %v", ErrNotImage, err))
	}

	b := img.Bounds()
	if limit := n.opts.MaxDimension; limit > 0 && (b.Dx() > limit || b.Dy() > limit) {
		img = imaging.Fit(img, limit, limit, imaging.Lanczos)
	}

	out := filepath.Join(tracker.Root(), n.namer.Name(artifact.StageEvidence, tracker.Owner(), ".jpg"))
	evidence, err := tracker.Track(out, artifact.StageEvidence)
	if err != nil {
		return model.Failed[artifact.Artifact](model.KindInternal, model.StageFrame, "register evidence", err)
	}
	if err := imaging.Save(img, out, imaging.JPEGQuality(n.opts.JPEGQuality)); err != nil {
		_ = tracker.Release(evidence)
		return model.Failed[artifact.Artifact](model.KindInternal, model.StageFrame, "encode evidence", err)
	}

	logger.Debug().
		Str(log.FieldEvent, "frame.normalised").
		Str("format", format).
		Int("src_width", cfg.Width).
		Int("src_height", cfg.Height).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("frame normalised")
	return model.Ok(evidence)
}
