// Package analysis runs the AI character extraction pass over a book's full
// text and stores the resulting characters_reference payload. The rest of
// the pipeline only ever reads that payload; it tolerates this stage never
// having run.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"

	"kidsklassiks/pkg/inference"
	"kidsklassiks/pkg/schema"
	"kidsklassiks/pkg/store"
	"kidsklassiks/pkg/utils"
)

// maxSampleChars bounds how much book text goes into one analysis call.
// Large-context models see most of a typical classic at this size.
const maxSampleChars = 500_000

const systemPrompt = `You are a literary analyst preparing a children's book adaptation. You find every major and minor character in a classic text and record CONSISTENT PHYSICAL DESCRIPTIONS that will be reused for image generation across many chapters. Be specific about hair color and style, eye color, clothing colors and patterns, age, build, distinguishing features, and any items a character consistently carries.`

// Analyzer drives the extraction call and writes the payload back to the
// book record.
type Analyzer struct {
	Inferencer inference.Inferencer
	Store      store.Store
}

func New(inf inference.Inferencer, s store.Store) *Analyzer {
	return &Analyzer{Inferencer: inf, Store: s}
}

// document mirrors the structured-output shape: a list, because a strict
// JSON schema cannot express arbitrary name keys.
type document struct {
	Characters []struct {
		Name string `json:"name"`
		schema.CharacterDetail
	} `json:"characters"`
}

// Run analyzes text for the given book and stores the resulting payload.
// Returns the number of characters found.
func (a *Analyzer) Run(ctx context.Context, bookID string, text string) (int, error) {
	book, err := a.Store.GetBook(ctx, bookID)
	if err != nil {
		return 0, fmt.Errorf("load book: %w", err)
	}

	sample := text
	if len(sample) > maxSampleChars {
		sample = sample[:maxSampleChars]
	}

	user := buildUserPrompt(book, sample)
	params := &openai.ChatCompletionNewParams{
		MaxCompletionTokens: openai.Int(8192),
		Temperature:         openai.Float(0.2),
		ResponseFormat:      schema.AnalysisResponseFormat(),
	}

	out, err := a.Inferencer.Infer(ctx, params, systemPrompt, user)
	if err != nil {
		return 0, fmt.Errorf("character analysis inference: %w", err)
	}

	raw, count, err := toEnvelope(utils.CleanJSON(out))
	if err != nil {
		return 0, fmt.Errorf("parse analysis output: %w", err)
	}

	if err := a.Store.SetCharacterReference(ctx, bookID, raw); err != nil {
		return 0, fmt.Errorf("store character reference: %w", err)
	}

	log.Info("character analysis complete", "book", bookID, "characters", count)
	return count, nil
}

// toEnvelope converts the model's character list into the stored
// characters_reference envelope, keyed by name, preserving list order and
// dropping nameless or duplicate entries.
func toEnvelope(out string) ([]byte, int, error) {
	var doc document
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		return nil, 0, err
	}
	if len(doc.Characters) == 0 {
		return nil, 0, fmt.Errorf("no characters in analysis output")
	}

	// Build the JSON object by hand so the stored payload keeps the model's
	// ordering; the reader ranks ties by document order.
	var b strings.Builder
	b.WriteString(`{"characters_reference":{`)
	seen := make(map[string]struct{}, len(doc.Characters))
	count := 0
	for _, ch := range doc.Characters {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		nameJSON, err := json.Marshal(name)
		if err != nil {
			return nil, 0, err
		}
		detailJSON, err := json.Marshal(ch.CharacterDetail)
		if err != nil {
			return nil, 0, err
		}
		if count > 0 {
			b.WriteString(",")
		}
		b.Write(nameJSON)
		b.WriteString(":")
		b.Write(detailJSON)
		count++
	}
	b.WriteString("}}")

	if count == 0 {
		return nil, 0, fmt.Errorf("no usable characters in analysis output")
	}
	return []byte(b.String()), count, nil
}

func buildUserPrompt(book schema.Book, sample string) string {
	context := "this story"
	if book.Title != "" && book.Author != "" {
		context = fmt.Sprintf("%q by %s", book.Title, book.Author)
	}
	return fmt.Sprintf(`You are analyzing %s.

Find and analyze ALL major and minor characters that appear in the text: protagonists, antagonists, family, friends, helpers, minor but memorable characters, magical beings, and authority figures. For each, provide the most common name they are referred to by, their role, their importance (major/minor), a DETAILED physical description for image consistency, key personality traits, and special abilities or items if any.

Text to analyze:

%s`, context, sample)
}
