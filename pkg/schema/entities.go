package schema

// Book is an imported classic. The character analysis payload is produced
// once by the analysis stage and stored as raw JSON; it stays nil until
// analysis has run.
type Book struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Author             string `json:"author"`
	CharacterReference []byte `json:"character_reference,omitempty"`
}

// Adaptation is one child-friendly rendition of a Book.
type Adaptation struct {
	ID     string `json:"id"`
	BookID string `json:"book_id"`

	TargetAgeGroup      string `json:"target_age_group"`
	TransformationStyle string `json:"transformation_style"`
	OverallThemeTone    string `json:"overall_theme_tone,omitempty"`

	// KeyCharactersToPreserve is free text entered by a user: comma-separated
	// names, possibly empty, duplicated, or absent from the analyzed book.
	KeyCharactersToPreserve string `json:"key_characters_to_preserve,omitempty"`
}

// Chapter holds one chapter of an adaptation. TransformedText is filled by
// the (external) text transformation stage; ImagePrompt and ImageURL are
// written back by the generation pipeline.
type Chapter struct {
	ID            string `json:"id"`
	AdaptationID  string `json:"adaptation_id"`
	ChapterNumber int    `json:"chapter_number"`

	OriginalText    string `json:"original_text,omitempty"`
	TransformedText string `json:"transformed_text,omitempty"`
	ImagePrompt     string `json:"image_prompt,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
}

// Text returns the transformed text when present, else the original.
func (c Chapter) Text() string {
	if c.TransformedText != "" {
		return c.TransformedText
	}
	return c.OriginalText
}
