// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package artifact tracks the temporary files a pipeline run creates and
// guarantees each is removed exactly once when the run ends.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage identifies which pipeline step produced an artifact.
type Stage string

const (
	StageRaw        Stage = "raw"
	StageTranscoded Stage = "transcoded"
	StageEvidence   Stage = "evidence"
	StageAnnotated  Stage = "annotated"
)

// Artifact is a temporary file owned by exactly one run.
type Artifact struct {
	Path  string
	Stage Stage
	Owner string
}

func (a Artifact) String() string {
	return fmt.Sprintf("%s:%s", a.Stage, filepath.Base(a.Path))
}

// Namer produces collision-free file names for concurrent runs sharing one
// directory. Names combine a nanosecond timestamp with random entropy and a
// short owner prefix; nothing from the client's filename is used except a
// validated extension.
type Namer struct {
	now     func() time.Time
	entropy func() string
}

// NewNamer returns a Namer backed by the wall clock and crypto randomness.
func NewNamer() Namer {
	return Namer{
		now: time.Now,
		entropy: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		},
	}
}

// Name returns "<stage>_<unixnano>-<entropy>-<owner8><ext>".
func (n Namer) Name(stage Stage, owner, ext string) string {
	if n.now == nil || n.entropy == nil {
		n = NewNamer()
	}
	o := strings.ReplaceAll(owner, "-", "")
	if len(o) > 8 {
		o = o[:8]
	}
	if o == "" {
		o = "anon"
	}
	return fmt.Sprintf("%s_%d-%s-%s%s", stage, n.now().UnixNano(), n.entropy(), o, ext)
}

// SafeExt returns the lower-cased extension of original when it is in the
// allowlist, otherwise fallback.
func SafeExt(original string, allowed []string, fallback string) string {
	ext := strings.ToLower(filepath.Ext(original))
	for _, a := range allowed {
		if ext == a {
			return ext
		}
	}
	return fallback
}

var (
	// VideoExts lists accepted video container extensions.
	VideoExts = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v", ".mpeg", ".mpg", ".ts", ".3gp"}
	// ImageExts lists accepted still-frame extensions.
	ImageExts = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff", ".webp"}
)
