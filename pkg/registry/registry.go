// Package registry reconciles a book's AI-analyzed character reference with
// the adaptation's user-declared preserve list into one ordered set of
// character entries. Entries are derived values: recomputed per generation
// call, never stored, so edits to either source show up immediately.
package registry

import (
	"strings"

	"kidsklassiks/pkg/schema"
)

// Entry is one reconciled character. Appearance may be empty when the user
// named a character the analysis never saw; the name alone still anchors
// consistency downstream.
type Entry struct {
	Name       string   `json:"name"`
	Appearance string   `json:"appearance,omitempty"`
	Traits     []string `json:"traits,omitempty"`
	Special    string   `json:"special,omitempty"`
}

const maxTraits = 3

// ParsePreserveList splits the free-text preserve list on commas, trims each
// token, drops empties, and deduplicates case-insensitively keeping the first
// occurrence in the given order.
func ParsePreserveList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key := strings.ToLower(tok)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Reconcile merges the analyzed reference with the preserve list.
//
// A non-empty preserve list wins: output follows its order, restricted to the
// names it lists. Names missing from the analysis still yield a bare entry so
// the user's intent is not silently dropped. Without a preserve list all
// analyzed characters are included, major importance first, document order as
// the tie-break. Neither source present means an empty result, not an error.
func Reconcile(analysis *schema.CharacterAnalysis, preserveList string) []Entry {
	names := ParsePreserveList(preserveList)

	if len(names) == 0 {
		if analysis == nil {
			return nil
		}
		ordered := rankByImportance(analysis)
		entries := make([]Entry, 0, len(ordered))
		for _, name := range ordered {
			entries = append(entries, toEntry(name, analysis.Characters[name]))
		}
		return entries
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		if analysis != nil {
			if canonical, detail, ok := lookupFold(analysis, name); ok {
				entries = append(entries, toEntry(canonical, detail))
				continue
			}
		}
		entries = append(entries, Entry{Name: name})
	}
	return entries
}

// rankByImportance returns analyzed names with "major" first, preserving the
// analysis document order within each band.
func rankByImportance(analysis *schema.CharacterAnalysis) []string {
	major := make([]string, 0, len(analysis.Order))
	var minor []string
	for _, name := range analysis.Order {
		detail, ok := analysis.Characters[name]
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(detail.Importance), "major") {
			major = append(major, name)
		} else {
			minor = append(minor, name)
		}
	}
	return append(major, minor...)
}

// lookupFold finds a character by case-insensitive name match, returning the
// canonical analyzed name.
func lookupFold(analysis *schema.CharacterAnalysis, name string) (string, schema.CharacterDetail, bool) {
	for _, canonical := range analysis.Order {
		if strings.EqualFold(canonical, name) {
			return canonical, analysis.Characters[canonical], true
		}
	}
	return "", schema.CharacterDetail{}, false
}

func toEntry(name string, d schema.CharacterDetail) Entry {
	e := Entry{
		Name:       name,
		Appearance: strings.TrimSpace(d.PhysicalAppearance.Description),
		Special:    strings.TrimSpace(d.SpecialAttributes.AbilitiesOrItems),
	}
	for _, t := range d.PersonalityTraits {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		e.Traits = append(e.Traits, t)
		if len(e.Traits) == maxTraits {
			break
		}
	}
	return e
}
