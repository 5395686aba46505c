package schema

import (
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
)

func generateSchema[T any]() any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

// analysisDocument is the reflectable form of the analysis envelope. The
// stored payload keys characters by name, which a strict schema cannot
// express, so the model responds with a list and the boundary re-keys it.
type analysisDocument struct {
	Characters []analyzedCharacter `json:"characters" jsonschema_description:"All major and minor characters found in the text"`
}

type analyzedCharacter struct {
	Name string `json:"name" jsonschema_description:"Most common name the character is referred to by"`
	CharacterDetail
}

var CharacterAnalysisSchema = generateSchema[analysisDocument]()

// AnalysisResponseFormat returns the structured-output format for the
// character analysis call.
func AnalysisResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	p := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "character_analysis",
		Description: openai.String("Characters extracted from a classic story with appearance details for image consistency"),
		Schema:      CharacterAnalysisSchema,
		Strict:      openai.Bool(true),
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: p},
	}
}
