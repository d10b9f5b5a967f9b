// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package subproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)

	_, _ = r.Write([]byte("line1\nline2\n"))
	assert.Equal(t, []string{"line1", "line2"}, r.LastN(5))

	_, _ = r.Write([]byte("line3\nline4\n"))
	assert.Equal(t, []string{"line2", "line3", "line4"}, r.LastN(5))
	assert.Equal(t, []string{"line3", "line4"}, r.LastN(2))
	assert.Equal(t, 4, r.Total())
}

func TestLineRingPartialWrites(t *testing.T) {
	r := NewLineRing(10)

	_, _ = r.Write([]byte("frame= 1 fps"))
	assert.Empty(t, r.Lines(), "unterminated line is held back")

	_, _ = r.Write([]byte("=25\r\nnext"))
	assert.Equal(t, []string{"frame= 1 fps=25"}, r.Lines())

	r.Flush()
	assert.Equal(t, []string{"frame= 1 fps=25", "next"}, r.Lines())
}

func TestLineRingSkipsBlankLines(t *testing.T) {
	r := NewLineRing(4)
	_, _ = r.Write([]byte("\n\n  \nreal\n\n"))
	assert.Equal(t, []string{"real"}, r.Lines())
}

func TestLineRingTruncatesLongLines(t *testing.T) {
	r := NewLineRing(2)
	_, _ = r.Write([]byte(strings.Repeat("x", maxLineBytes*2) + "\n"))
	lines := r.Lines()
	if assert.Len(t, lines, 1) {
		assert.Len(t, lines[0], maxLineBytes)
	}
}

func TestLineRingWatchSurvivesEviction(t *testing.T) {
	r := NewLineRing(2, "FIRE_DETECTED", "NO_FIRE")
	_, _ = r.Write([]byte("FIRE_DETECTED frame 12\n"))
	for i := 0; i < 10; i++ {
		_, _ = r.Write([]byte("progress\n"))
	}

	assert.NotContains(t, strings.Join(r.Lines(), "\n"), "FIRE_DETECTED")
	seen := r.Seen()
	assert.True(t, seen["FIRE_DETECTED"])
	assert.False(t, seen["NO_FIRE"])
}

func TestLineRingOnLine(t *testing.T) {
	r := NewLineRing(1)
	var got []string
	r.OnLine(func(line string) { got = append(got, line) })

	_, _ = r.Write([]byte("a\n\nb\r\nc"))
	assert.Equal(t, []string{"a", "b"}, got)
	r.Flush()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
