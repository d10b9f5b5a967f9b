// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcode

import (
	"fmt"
	"strconv"
)

// evenDimensions keeps yuv420p encoders happy with odd-sized phone footage.
const evenDimensions = "scale=trunc(iw/2)*2:trunc(ih/2)*2"

// BuildArgs constructs the ffmpeg arguments that normalise in into the
// canonical container at out. No shell is involved.
func BuildArgs(in, out string, opts Options) ([]string, error) {
	if in == "" {
		return nil, fmt.Errorf("missing input path")
	}
	if out == "" {
		return nil, fmt.Errorf("missing output path")
	}
	opts = opts.withDefaults()

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-nostats",
		"-loglevel", "error", // stderr is captured for failure details
	}
	if opts.watchdogEnabled() {
		args = append(args, "-progress", "pipe:1")
	}
	args = append(args,
		"-y",
		"-i", in,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-vf", evenDimensions,
		"-c:v", opts.VideoCodec,
		"-preset", opts.Preset,
		"-crf", strconv.Itoa(opts.CRF),
		"-pix_fmt", opts.PixelFormat,
	)
	if opts.AudioCodec == "" || opts.AudioCodec == "none" {
		args = append(args, "-an")
	} else {
		args = append(args, "-c:a", opts.AudioCodec)
	}
	if opts.Container == ".mp4" || opts.Container == ".mov" {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, out)
	return args, nil
}

// BuildFrameArgs extracts one representative frame of in as a JPEG.
func BuildFrameArgs(in, out string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-nostats",
		"-loglevel", "error",
		"-y",
		"-i", in,
		"-vf", "thumbnail",
		"-frames:v", "1",
		"-q:v", "2",
		out,
	}
}
