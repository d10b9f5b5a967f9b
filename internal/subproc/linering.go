// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package subproc

import (
	"bytes"
	"strings"
	"sync"
)

// maxLineBytes truncates pathological lines (progress bars without newlines).
const maxLineBytes = 4096

// LineRing is a thread-safe ring buffer keeping the last N lines written to it.
// Writes may split lines arbitrarily; an unterminated tail is held until the
// next newline or until Lines is called. Optional watch tokens are matched
// against every complete line, including lines already evicted from the ring.
type LineRing struct {
	mu      sync.Mutex
	lines   []string
	head    int
	count   int
	partial bytes.Buffer
	watch   []string
	seen    map[string]bool
	total   int
	onLine  func(string)
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int, watch ...string) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{
		lines: make([]string, capacity),
		watch: watch,
		seen:  make(map[string]bool, len(watch)),
	}
}

// Write implements io.Writer.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rest := p
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			r.appendPartial(rest)
			break
		}
		r.appendPartial(rest[:i])
		r.commit()
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (r *LineRing) appendPartial(b []byte) {
	if room := maxLineBytes - r.partial.Len(); room < len(b) {
		if room > 0 {
			r.partial.Write(b[:room])
		}
		return
	}
	r.partial.Write(b)
}

func (r *LineRing) commit() {
	line := strings.TrimRight(r.partial.String(), "\r")
	r.partial.Reset()
	if strings.TrimSpace(line) == "" {
		return
	}
	for _, tok := range r.watch {
		if !r.seen[tok] && strings.Contains(line, tok) {
			r.seen[tok] = true
		}
	}
	if r.onLine != nil {
		r.onLine(line)
	}
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
	r.total++
}

// OnLine registers fn to receive every complete non-empty line. fn runs with
// the ring locked and must not call back into it.
func (r *LineRing) OnLine(fn func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLine = fn
}

// Flush commits a pending unterminated line.
func (r *LineRing) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partial.Len() > 0 {
		r.commit()
	}
}

// Lines returns the retained lines in chronological order.
func (r *LineRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, r.count)
	start := (r.head - r.count + len(r.lines)) % len(r.lines)
	for i := 0; i < r.count; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}

// LastN returns the last n retained lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	lines := r.Lines()
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// Seen reports which watch tokens appeared on any complete line.
func (r *LineRing) Seen() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.seen))
	for k, v := range r.seen {
		out[k] = v
	}
	return out
}

// Total is the number of non-empty lines ever committed.
func (r *LineRing) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
