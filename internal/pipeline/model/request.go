// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// UnknownSource is used when the client does not name a camera.
const UnknownSource = "Unknown"

const maxSourceRunes = 64

// UploadRequest is created once the upload has fully arrived and is never
// mutated afterwards.
type UploadRequest struct {
	ID           string
	Mode         Mode
	RawPath      string
	OriginalName string
	Source       string
	CreatedAt    time.Time
}

// NormalizeSource canonicalises a client supplied source tag: NFC
// normalisation, control characters dropped, whitespace collapsed and length
// bounded. An empty result becomes UnknownSource. Tags end up in mail
// subjects, so they must never carry line breaks.
func NormalizeSource(tag string) string {
	tag = norm.NFC.String(tag)
	var b strings.Builder
	runes := 0
	space := false
	for _, r := range tag {
		if runes >= maxSourceRunes {
			break
		}
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsControl(r) || !unicode.IsPrint(r):
			continue
		}
		if space {
			b.WriteByte(' ')
			runes++
			space = false
		}
		b.WriteRune(r)
		runes++
	}
	if b.Len() == 0 {
		return UnknownSource
	}
	return b.String()
}
