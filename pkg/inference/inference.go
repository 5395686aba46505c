package inference

import (
	"context"

	"github.com/openai/openai-go/v3"
)

// Inferencer defines an interface for running model inference.
type Inferencer interface {
	Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error)
}

// ImageBackend renders an image from a finished image prompt.
type ImageBackend interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}
