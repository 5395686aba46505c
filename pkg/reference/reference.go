// Package reference renders a reconciled character registry into the compact
// textual guide injected into every chapter's image prompt. Output is
// deterministic for a given input: the same registry must produce the same
// bytes on every chapter, otherwise the guide itself would introduce the
// drift it exists to prevent.
package reference

import (
	"strings"
	"unicode/utf8"

	"kidsklassiks/pkg/registry"
)

// DefaultMaxChars bounds the guide so it never crowds out the chapter
// excerpt in the downstream prompt.
const DefaultMaxChars = 600

const header = "CHARACTER CONSISTENCY GUIDE:"

// Format renders one bullet line per entry in registry order:
//
//	• Name: appearance; (trait1, trait2); [special]
//
// Empty segments are omitted; a character with nothing but a name still gets
// a bare-name line so the downstream model is told to keep that name stable.
// When the total would exceed maxChars, whole lines are dropped from the tail
// (the reader already ordered entries by priority); lines are never cut
// mid-word. Empty input yields an empty string.
func Format(entries []registry.Entry, maxChars int) string {
	if len(entries) == 0 {
		return ""
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var b strings.Builder
	b.WriteString(header)
	used := utf8.RuneCountInString(header)
	wrote := false

	for _, e := range entries {
		line := "\n• " + Line(e)
		n := utf8.RuneCountInString(line)
		if used+n > maxChars {
			break
		}
		b.WriteString(line)
		used += n
		wrote = true
	}

	if !wrote {
		// Not even one line fit; an orphaned header is worse than nothing.
		return ""
	}
	return b.String()
}

// Line renders a single entry without the bullet.
func Line(e registry.Entry) string {
	segments := make([]string, 0, 3)
	if e.Appearance != "" {
		segments = append(segments, e.Appearance)
	}
	if len(e.Traits) > 0 {
		segments = append(segments, "("+strings.Join(e.Traits, ", ")+")")
	}
	if e.Special != "" {
		segments = append(segments, "["+e.Special+"]")
	}
	if len(segments) == 0 {
		return e.Name
	}
	return e.Name + ": " + strings.Join(segments, "; ")
}
