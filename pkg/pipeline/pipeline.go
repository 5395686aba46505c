// Package pipeline runs the per-chapter generation unit of work: registry
// read, reference formatting, prompt assembly, and the downstream model
// invocation. Each chapter is independent; the only shared resource is the
// concurrent-read path into the store.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"golang.org/x/time/rate"

	"kidsklassiks/pkg/images"
	"kidsklassiks/pkg/inference"
	"kidsklassiks/pkg/prompt"
	"kidsklassiks/pkg/reference"
	"kidsklassiks/pkg/registry"
	"kidsklassiks/pkg/schema"
	"kidsklassiks/pkg/store"
	"kidsklassiks/pkg/utils"
)

// Config is passed explicitly so budgets and limits are testable without
// ambient state.
type Config struct {
	// MaxReferenceChars bounds the formatted consistency guide.
	MaxReferenceChars int
	// Prompt bounds the assembled user message.
	Prompt prompt.Config
	// CallTimeout applies per downstream invocation.
	CallTimeout time.Duration
	// ContextTokens caps prompt plus completion per invocation; the
	// completion budget shrinks when the prompt crowds it.
	ContextTokens int
	// Attempts caps retries of transient invocation failures.
	Attempts uint
	// MaxConcurrent caps in-flight invocations during a batch run.
	MaxConcurrent int
	// RenderImages also runs the image backend and stores the artifact.
	RenderImages bool
}

func (c Config) withDefaults() Config {
	if c.MaxReferenceChars <= 0 {
		c.MaxReferenceChars = reference.DefaultMaxChars
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 90 * time.Second
	}
	if c.ContextTokens <= 0 {
		c.ContextTokens = 16384
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	return c
}

// Pipeline wires the stages together. All fields but Images/Artifacts are
// required.
type Pipeline struct {
	Store      store.Store
	Reader     *registry.Reader
	Inferencer inference.Inferencer
	Images     inference.ImageBackend
	Artifacts  *images.Store
	Limiter    *rate.Limiter
	Config     Config
}

func New(s store.Store, inf inference.Inferencer, cfg Config) *Pipeline {
	return &Pipeline{
		Store:      s,
		Reader:     registry.NewReader(s),
		Inferencer: inf,
		Limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
		Config:     cfg.withDefaults(),
	}
}

// Result is one chapter's outcome.
type Result struct {
	ChapterNumber int    `json:"chapter_number"`
	Prompt        string `json:"prompt"`
	Reference     string `json:"reference,omitempty"`
	Fallback      bool   `json:"fallback,omitempty"`
	ImagePath     string `json:"image_path,omitempty"`
}

// GeneratePrompt runs one chapter through the full pipeline. The consistency
// guide is recomputed from current Book/Adaptation state on every call; a
// missing or malformed character reference quietly produces a prompt without
// the guide. Only downstream invocation failures surface as errors.
func (p *Pipeline) GeneratePrompt(ctx context.Context, adaptationID string, chapterNumber int) (Result, error) {
	adaptation, err := p.Store.GetAdaptation(ctx, adaptationID)
	if err != nil {
		return Result{}, err
	}
	chapter, err := p.Store.GetChapter(ctx, adaptationID, chapterNumber)
	if err != nil {
		return Result{}, err
	}

	entries := p.Reader.ForAdaptation(ctx, adaptationID)
	formatted := reference.Format(entries, p.Config.MaxReferenceChars)
	payload := prompt.AssembleChapter(chapter, adaptation, formatted, p.Config.Prompt)

	out, err := p.invoke(ctx, payload)
	result := Result{ChapterNumber: chapterNumber, Reference: formatted}
	switch {
	case err == nil:
		result.Prompt = out
		log.Debug("chapter prompt generated", "adaptation", adaptationID, "chapter", chapterNumber,
			"prompt", utils.LimitStr(out, 120))
	case inference.KindOf(err) == inference.KindEmptyResult:
		// Unusable output is a soft failure: fall back to a generic prompt
		// rather than propagating an empty string into image generation.
		log.Warn("empty prompt result, using generic fallback", "adaptation", adaptationID, "chapter", chapterNumber)
		result.Prompt = prompt.FallbackPrompt(chapter, adaptation)
		result.Fallback = true
	default:
		return Result{}, err
	}

	if chapter.ID != "" {
		if err := p.Store.SetChapterPrompt(ctx, chapter.ID, result.Prompt); err != nil {
			log.Warn("failed to store chapter prompt", "chapter", chapter.ID, "error", err)
		}
	}

	if p.Config.RenderImages && p.Images != nil {
		path, err := p.renderImage(ctx, adaptationID, chapter, result.Prompt)
		if err != nil {
			log.Warn("image rendering failed", "adaptation", adaptationID, "chapter", chapterNumber, "error", err)
		} else {
			result.ImagePath = path
		}
	}

	return result, nil
}

// GenerateCoverPrompt mirrors GeneratePrompt for the adaptation's cover.
func (p *Pipeline) GenerateCoverPrompt(ctx context.Context, adaptationID string) (Result, error) {
	adaptation, err := p.Store.GetAdaptation(ctx, adaptationID)
	if err != nil {
		return Result{}, err
	}
	book, err := p.Store.GetBook(ctx, adaptation.BookID)
	if err != nil {
		return Result{}, err
	}

	entries := p.Reader.ForAdaptation(ctx, adaptationID)
	formatted := reference.Format(entries, p.Config.MaxReferenceChars)
	payload := prompt.AssembleCover(book, adaptation, formatted, p.Config.Prompt)

	out, err := p.invoke(ctx, payload)
	if err != nil {
		return Result{}, err
	}
	return Result{Prompt: out, Reference: formatted}, nil
}

const (
	defaultCompletionTokens = 1024
	minCompletionTokens     = 256
)

// invoke performs the rate-limited, timeout-bounded downstream call,
// retrying transient classifications only.
func (p *Pipeline) invoke(ctx context.Context, payload prompt.Payload) (string, error) {
	tokens, err := utils.NumTokens(payload.System + payload.User)
	if err != nil {
		// Encoder unavailable; a chars/4 estimate is close enough to size
		// the completion.
		tokens = (len(payload.System) + len(payload.User)) / 4
	}
	maxTokens := int64(defaultCompletionTokens)
	if remaining := int64(p.Config.ContextTokens - tokens); remaining < maxTokens {
		maxTokens = max(remaining, minCompletionTokens)
	}
	log.Debug("assembled prompt payload", "tokens", tokens, "completion_budget", maxTokens)

	var out string
	err = retry.Do(
		func() error {
			if p.Limiter != nil {
				if err := p.Limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			callCtx, cancel := context.WithTimeout(ctx, p.Config.CallTimeout)
			defer cancel()

			params := &openai.ChatCompletionNewParams{
				MaxCompletionTokens: openai.Int(maxTokens),
				Temperature:         openai.Float(0.7),
			}
			res, err := p.Inferencer.Infer(callCtx, params, payload.System, payload.User)
			if err != nil {
				if inference.KindOf(err) == inference.KindTransient && ctx.Err() == nil {
					return err
				}
				return retry.Unrecoverable(err)
			}
			out = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(p.Config.Attempts),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", inference.Classify(err)
	}
	return out, nil
}

func (p *Pipeline) renderImage(ctx context.Context, adaptationID string, chapter schema.Chapter, imagePrompt string) (string, error) {
	if p.Artifacts == nil {
		return "", errors.New("no artifact store configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, p.Config.CallTimeout)
	defer cancel()

	data, err := p.Images.Generate(callCtx, imagePrompt)
	if err != nil {
		return "", err
	}
	path, err := p.Artifacts.Save(adaptationID, chapter.ChapterNumber, data)
	if err != nil {
		return "", err
	}
	if chapter.ID != "" {
		if err := p.Store.SetChapterImage(ctx, chapter.ID, path); err != nil {
			log.Warn("failed to store chapter image path", "chapter", chapter.ID, "error", err)
		}
	}
	return path, nil
}
