package schema

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// CharacterAnalysis is the AI-derived character payload stored on a Book:
// a mapping of character name to attributes, plus the document order of the
// names as they appeared in the JSON. Order matters because it is the stable
// tie-break when ranking characters of equal importance.
type CharacterAnalysis struct {
	Characters map[string]CharacterDetail
	Order      []string
}

// CharacterDetail mirrors the shape produced by the analysis prompt. Every
// level may be missing; absent fields degrade to empty values.
type CharacterDetail struct {
	Role               string             `json:"role" jsonschema_description:"Role in the story (protagonist, antagonist, companion, supporting, magical_being, family, authority_figure)"`
	Importance         string             `json:"importance" jsonschema:"enum=major,enum=minor" jsonschema_description:"Prominence of the character (major or minor)"`
	PhysicalAppearance PhysicalAppearance `json:"physical_appearance" jsonschema_description:"Detailed physical description used for image consistency"`
	PersonalityTraits  []string           `json:"personality_traits" jsonschema_description:"Key personality traits"`
	SpecialAttributes  SpecialAttributes  `json:"special_attributes" jsonschema_description:"Special abilities, magical items, or notable possessions"`
}

type PhysicalAppearance struct {
	Description string `json:"description" jsonschema_description:"Hair, eyes, clothing colors and patterns, age, build, distinguishing features"`
}

type SpecialAttributes struct {
	AbilitiesOrItems string `json:"abilities_or_items,omitempty" jsonschema_description:"Abilities or items the character consistently carries"`
}

// analysisEnvelope is the wire shape: {"characters_reference": {...}}.
type analysisEnvelope struct {
	CharactersReference map[string]CharacterDetail `json:"characters_reference"`
}

// ParseCharacterAnalysis decodes a stored character_reference payload.
// Malformed or empty input yields (nil, false) rather than an error: a bad
// analysis must never block image generation, it just means no consistency
// guidance is available.
func ParseCharacterAnalysis(raw []byte) (*CharacterAnalysis, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var env analysisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if len(env.CharactersReference) == 0 {
		return nil, false
	}

	order, ok := characterOrder(raw)
	if !ok {
		// The envelope decoded but the order scan did not; keep determinism
		// by sorting rather than iterating the map.
		order = slices.Sorted(maps.Keys(env.CharactersReference))
	}

	return &CharacterAnalysis{Characters: env.CharactersReference, Order: order}, true
}

// characterOrder extracts the key order of the characters_reference object by
// re-tokenizing the JSON, since encoding/json maps lose it.
func characterOrder(raw []byte) ([]string, bool) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, false
	}
	inner, ok := outer["characters_reference"]
	if !ok {
		return nil, false
	}

	dec := json.NewDecoder(strings.NewReader(string(inner)))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, false
	}

	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		name, ok := tok.(string)
		if !ok {
			return nil, false
		}
		order = append(order, name)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, false
		}
	}
	return order, true
}
