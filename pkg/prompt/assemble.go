// Package prompt assembles the instruction payload for the downstream
// text-completion call that writes each illustration's image prompt. Pure
// string construction: no I/O, no state.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"kidsklassiks/pkg/schema"
	"kidsklassiks/pkg/utils"
)

// Payload is the system/user message pair handed to an Inferencer.
type Payload struct {
	System string
	User   string
}

// Config bounds the assembled payload. The reference always keeps its full
// share; only the chapter excerpt shrinks when both would overflow.
type Config struct {
	// MaxUserChars caps the user message, in runes.
	MaxUserChars int
}

const DefaultMaxUserChars = 4000

func (c Config) maxUserChars() int {
	if c.MaxUserChars <= 0 {
		return DefaultMaxUserChars
	}
	return c.MaxUserChars
}

// AssembleChapter builds the payload for one chapter illustration.
//
// A non-empty formatted reference is embedded together with the verbatim
// directive; an empty one produces no guide section at all, so the model is
// never handed a vacuous instruction.
func AssembleChapter(chapter schema.Chapter, adaptation schema.Adaptation, formattedReference string, cfg Config) Payload {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a detailed image generation prompt for Chapter %d.\n\n", chapter.ChapterNumber)
	fmt.Fprintf(&b, "Target Age: %s\n", adaptation.TargetAgeGroup)
	fmt.Fprintf(&b, "Style: %s\n", adaptation.TransformationStyle)
	if adaptation.OverallThemeTone != "" {
		fmt.Fprintf(&b, "Theme/Tone: %s\n", adaptation.OverallThemeTone)
	}

	if formattedReference != "" {
		b.WriteString("\n")
		b.WriteString(formattedReference)
		b.WriteString("\n\n")
		b.WriteString(verbatimDirective)
		b.WriteString("\n")
	}

	scaffold := b.String() + "\n\nChapter Excerpt (trimmed):\n\n\n" + chapterGuidelines
	excerptBudget := cfg.maxUserChars() - utf8.RuneCountInString(scaffold)
	excerpt := ""
	if excerptBudget > 0 {
		excerpt = utils.TruncateWords(chapter.Text(), excerptBudget)
	}

	b.WriteString("\nChapter Excerpt (trimmed):\n")
	b.WriteString(excerpt)
	b.WriteString("\n\n")
	b.WriteString(chapterGuidelines)

	return Payload{System: chapterSystemPrompt, User: b.String()}
}

// AssembleCover builds the payload for the book cover illustration. The same
// consistency treatment applies when a formatted reference exists.
func AssembleCover(book schema.Book, adaptation schema.Adaptation, formattedReference string, cfg Config) Payload {
	var b strings.Builder
	b.WriteString("Create a detailed image prompt for a children's book cover.\n\n")
	fmt.Fprintf(&b, "Book: %q by %s\n", book.Title, book.Author)
	fmt.Fprintf(&b, "Target Age: %s\n", adaptation.TargetAgeGroup)
	fmt.Fprintf(&b, "Style: %s\n", adaptation.TransformationStyle)
	if adaptation.OverallThemeTone != "" {
		fmt.Fprintf(&b, "Theme/Tone: %s\n", adaptation.OverallThemeTone)
	}

	if formattedReference != "" {
		b.WriteString("\n")
		b.WriteString(formattedReference)
		b.WriteString("\n\n")
		b.WriteString(verbatimDirective)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(coverGuidelines)

	return Payload{System: coverSystemPrompt, User: b.String()}
}

// FallbackPrompt is the generic default used when the downstream call
// produces an unusable empty result.
func FallbackPrompt(chapter schema.Chapter, adaptation schema.Adaptation) string {
	return fmt.Sprintf(
		"A whimsical children's book illustration for chapter %d, bright colors, friendly tone, suitable for ages %s",
		chapter.ChapterNumber, adaptation.TargetAgeGroup)
}
