package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidsklassiks/pkg/inference"
	"kidsklassiks/pkg/prompt"
	"kidsklassiks/pkg/schema"
	"kidsklassiks/pkg/store"
)

// fakeInferencer scripts responses per call and records what it was asked.
type fakeInferencer struct {
	mu       sync.Mutex
	calls    int
	inFlight int
	peak     int
	systems  []string
	users    []string
	params   []*openai.ChatCompletionNewParams

	respond func(call int, system, user string) (string, error)
}

func (f *fakeInferencer) Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.systems = append(f.systems, system)
	f.users = append(f.users, user)
	f.params = append(f.params, params)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.respond(call, system, user)
}

func (f *fakeInferencer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seedStore(t *testing.T, chapters int) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	m.PutBook(schema.Book{
		ID:                 "book-1",
		Title:              "The Wonderful Wizard of Oz",
		Author:             "L. Frank Baum",
		CharacterReference: []byte(`{"characters_reference":{"Dorothy":{"importance":"major","physical_appearance":{"description":"girl in blue gingham"}}}}`),
	})
	m.PutAdaptation(schema.Adaptation{
		ID:                  "adapt-1",
		BookID:              "book-1",
		TargetAgeGroup:      "6-8",
		TransformationStyle: "watercolor storybook",
	})
	for i := 1; i <= chapters; i++ {
		m.PutChapter(schema.Chapter{
			ID:            fmt.Sprintf("ch-%d", i),
			AdaptationID:  "adapt-1",
			ChapterNumber: i,
			OriginalText:  fmt.Sprintf("chapter %d text", i),
		})
	}
	return m
}

func newTestPipeline(s store.Store, inf inference.Inferencer, cfg Config) *Pipeline {
	p := New(s, inf, cfg)
	p.Limiter = nil // tests exercise concurrency, not pacing
	return p
}

func TestGeneratePromptHappyPath(t *testing.T) {
	m := seedStore(t, 1)
	fake := &fakeInferencer{respond: func(int, string, string) (string, error) {
		return "Dorothy, a girl in blue gingham, stands on a yellow brick road.", nil
	}}
	p := newTestPipeline(m, fake, Config{})

	result, err := p.GeneratePrompt(context.Background(), "adapt-1", 1)
	require.NoError(t, err)
	assert.False(t, result.Fallback)
	assert.Contains(t, result.Prompt, "yellow brick road")
	assert.Contains(t, result.Reference, "CHARACTER CONSISTENCY GUIDE:")
	assert.Contains(t, fake.users[0], "girl in blue gingham", "guide must reach the model")

	stored, err := m.GetChapter(context.Background(), "adapt-1", 1)
	require.NoError(t, err)
	assert.Equal(t, result.Prompt, stored.ImagePrompt, "prompt must be written back")
}

func TestGeneratePromptEmptyResultFallsBack(t *testing.T) {
	m := seedStore(t, 1)
	fake := &fakeInferencer{respond: func(int, string, string) (string, error) {
		return inference.NonEmpty("   ")
	}}
	p := newTestPipeline(m, fake, Config{})

	result, err := p.GeneratePrompt(context.Background(), "adapt-1", 1)
	require.NoError(t, err)
	assert.True(t, result.Fallback)

	chapter, err := m.GetChapter(context.Background(), "adapt-1", 1)
	require.NoError(t, err)
	adaptation, err := m.GetAdaptation(context.Background(), "adapt-1")
	require.NoError(t, err)
	assert.Equal(t, prompt.FallbackPrompt(chapter, adaptation), result.Prompt)
	assert.Equal(t, 1, fake.callCount(), "empty result is not retried")
}

func TestGeneratePromptRetriesTransient(t *testing.T) {
	m := seedStore(t, 1)
	fake := &fakeInferencer{respond: func(call int, _, _ string) (string, error) {
		if call == 1 {
			return "", &inference.Error{Kind: inference.KindTransient, Err: errors.New("rate limited")}
		}
		return "a prompt", nil
	}}
	p := newTestPipeline(m, fake, Config{Attempts: 3})

	result, err := p.GeneratePrompt(context.Background(), "adapt-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "a prompt", result.Prompt)
	assert.Equal(t, 2, fake.callCount())
}

func TestGeneratePromptFatalFailsFast(t *testing.T) {
	m := seedStore(t, 1)
	fake := &fakeInferencer{respond: func(int, string, string) (string, error) {
		return "", &inference.Error{Kind: inference.KindFatal, Err: errors.New("invalid api key")}
	}}
	p := newTestPipeline(m, fake, Config{Attempts: 5})

	_, err := p.GeneratePrompt(context.Background(), "adapt-1", 1)
	require.Error(t, err)
	assert.Equal(t, inference.KindFatal, inference.KindOf(err))
	assert.Equal(t, 1, fake.callCount(), "fatal errors are not retried")
}

func TestInvokeSizesCompletionBudget(t *testing.T) {
	m := seedStore(t, 1)
	respond := func(int, string, string) (string, error) { return "a prompt", nil }

	roomy := &fakeInferencer{respond: respond}
	p := newTestPipeline(m, roomy, Config{})
	_, err := p.GeneratePrompt(context.Background(), "adapt-1", 1)
	require.NoError(t, err)
	require.Len(t, roomy.params, 1)
	assert.Equal(t, int64(1024), roomy.params[0].MaxCompletionTokens.Value,
		"a roomy context keeps the default completion budget")

	tight := &fakeInferencer{respond: respond}
	p = newTestPipeline(m, tight, Config{ContextTokens: 64})
	_, err = p.GeneratePrompt(context.Background(), "adapt-1", 1)
	require.NoError(t, err)
	require.Len(t, tight.params, 1)
	assert.Equal(t, int64(256), tight.params[0].MaxCompletionTokens.Value,
		"a prompt that crowds the context clamps the completion to the floor")
}

func TestGeneratePromptMissingChapter(t *testing.T) {
	m := seedStore(t, 1)
	fake := &fakeInferencer{respond: func(int, string, string) (string, error) { return "x", nil }}
	p := newTestPipeline(m, fake, Config{})

	_, err := p.GeneratePrompt(context.Background(), "adapt-1", 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, fake.callCount(), "no invocation for a missing chapter")
}

func TestGenerateCoverPrompt(t *testing.T) {
	m := seedStore(t, 1)
	fake := &fakeInferencer{respond: func(int, string, string) (string, error) {
		return "a bright cover with the title", nil
	}}
	p := newTestPipeline(m, fake, Config{})

	result, err := p.GenerateCoverPrompt(context.Background(), "adapt-1")
	require.NoError(t, err)
	assert.Contains(t, result.Prompt, "cover")
	assert.Contains(t, fake.users[0], "The Wonderful Wizard of Oz")
}

func TestGenerateAllBoundedConcurrency(t *testing.T) {
	const chapters = 12
	m := seedStore(t, chapters)
	fake := &fakeInferencer{respond: func(call int, _, user string) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "prompt for " + user[:20], nil
	}}
	p := newTestPipeline(m, fake, Config{MaxConcurrent: 3})

	status, err := p.GenerateAll(context.Background(), "adapt-1", nil)
	require.NoError(t, err)
	assert.Equal(t, chapters, status.Total)
	assert.Equal(t, chapters, status.Completed)
	assert.Zero(t, status.Failed)
	assert.NotEmpty(t, status.RunID)
	assert.LessOrEqual(t, fake.peak, 3, "in-flight invocations must respect the bound")

	for i, r := range status.Results {
		assert.Equal(t, i+1, r.ChapterNumber, "results sorted by chapter")
	}
}

func TestGenerateAllIsolatesFailures(t *testing.T) {
	m := seedStore(t, 4)
	fake := &fakeInferencer{respond: func(_ int, _, user string) (string, error) {
		if strings.Contains(user, "chapter 2 text") {
			return "", &inference.Error{Kind: inference.KindFatal, Err: errors.New("bad payload")}
		}
		return "fine", nil
	}}
	p := newTestPipeline(m, fake, Config{MaxConcurrent: 1})

	var mu sync.Mutex
	kinds := map[EventKind]int{}
	status, err := p.GenerateAll(context.Background(), "adapt-1", func(e Event) {
		mu.Lock()
		kinds[e.Kind]++
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 3, status.Completed)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, 3, kinds[EventCompleted])
	assert.Equal(t, 1, kinds[EventFailed])
	assert.Equal(t, 1, kinds[EventDone])
}

func TestGenerateAllStopsOnCancel(t *testing.T) {
	m := seedStore(t, 20)
	release := make(chan struct{})
	fake := &fakeInferencer{respond: func(int, string, string) (string, error) {
		<-release
		return "late", nil
	}}
	p := newTestPipeline(m, fake, Config{MaxConcurrent: 2, Attempts: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let the first pair start, then cancel and unblock them.
		time.Sleep(30 * time.Millisecond)
		cancel()
		close(release)
	}()

	status, err := p.GenerateAll(ctx, "adapt-1", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, fake.callCount(), 20, "cancellation must stop issuing new chapters")
	assert.Equal(t, 20, status.Total)
}
