// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildArgsDefaults(t *testing.T) {
	args, err := BuildArgs("/up/raw.mov", "/up/out.mp4", Options{})
	require.NoError(t, err)

	assert.Equal(t, "/up/raw.mov", argValue(args, "-i"))
	assert.Equal(t, "/up/out.mp4", args[len(args)-1])
	assert.Equal(t, "libx264", argValue(args, "-c:v"))
	assert.Equal(t, "veryfast", argValue(args, "-preset"))
	assert.Equal(t, "23", argValue(args, "-crf"))
	assert.Equal(t, "yuv420p", argValue(args, "-pix_fmt"))
	assert.Equal(t, "scale=trunc(iw/2)*2:trunc(ih/2)*2", argValue(args, "-vf"))
	assert.Equal(t, "+faststart", argValue(args, "-movflags"))
	assert.Contains(t, args, "-nostdin")
	assert.Contains(t, args, "-y")
	assert.Contains(t, args, "-an", "audio disabled when no codec is configured")
	assert.NotContains(t, args, "-progress")
}

func TestBuildArgsCustom(t *testing.T) {
	args, err := BuildArgs("in.avi", "out.mkv", Options{
		VideoCodec: "libx265",
		CRF:        28,
		AudioCodec: "aac",
		Container:  ".mkv",
		ExtraArgs:  []string{"-threads", "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "libx265", argValue(args, "-c:v"))
	assert.Equal(t, "28", argValue(args, "-crf"))
	assert.Equal(t, "aac", argValue(args, "-c:a"))
	assert.Equal(t, "2", argValue(args, "-threads"))
	assert.NotContains(t, args, "-movflags")
	assert.NotContains(t, args, "-an")
	assert.Equal(t, "out.mkv", args[len(args)-1])
}

func TestBuildArgsRequiresPaths(t *testing.T) {
	_, err := BuildArgs("", "out.mp4", Options{})
	assert.Error(t, err)
	_, err = BuildArgs("in.mp4", "", Options{})
	assert.Error(t, err)
}

func TestBuildFrameArgs(t *testing.T) {
	args := BuildFrameArgs("in.mp4", "frame.jpg")
	assert.Equal(t, "1", argValue(args, "-frames:v"))
	assert.Equal(t, "frame.jpg", args[len(args)-1])
}
