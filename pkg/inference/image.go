package inference

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIImageBackend renders illustrations through the OpenAI Images API.
type OpenAIImageBackend struct {
	client *openai.Client
	model  string
	size   openai.ImageGenerateParamsSize
}

func NewOpenAIImageBackend(apiKey, model string) *OpenAIImageBackend {
	if model == "" {
		model = "gpt-image-1"
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIImageBackend{
		client: &client,
		model:  model,
		size:   openai.ImageGenerateParamsSize1024x1024,
	}
}

// Generate submits the finished image prompt and returns raw image bytes.
// Errors come back classified like chat failures; an empty response is an
// EmptyResult.
func (b *OpenAIImageBackend) Generate(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := b.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(b.model),
		Size:   b.size,
	})
	if err != nil {
		return nil, Classify(err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, &Error{Kind: KindEmptyResult, Err: errors.New("no image data returned")}
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Kind: KindEmptyResult, Err: errors.New("empty image payload")}
	}
	return data, nil
}
