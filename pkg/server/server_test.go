package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidsklassiks/pkg/analysis"
	"kidsklassiks/pkg/pipeline"
	"kidsklassiks/pkg/schema"
	"kidsklassiks/pkg/store"
)

type stubInferencer struct {
	out   string
	delay time.Duration
}

func (s *stubInferencer) Infer(context.Context, *openai.ChatCompletionNewParams, string, string) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.out, nil
}

func newTestServer(t *testing.T, inf *stubInferencer) (*Server, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	m.PutBook(schema.Book{
		ID:                 "book-1",
		Title:              "The Wonderful Wizard of Oz",
		Author:             "L. Frank Baum",
		CharacterReference: []byte(`{"characters_reference":{"Dorothy":{"importance":"major","physical_appearance":{"description":"girl in blue gingham"}}}}`),
	})
	m.PutAdaptation(schema.Adaptation{ID: "adapt-1", BookID: "book-1", TargetAgeGroup: "6-8", TransformationStyle: "watercolor"})
	m.PutChapter(schema.Chapter{ID: "ch-1", AdaptationID: "adapt-1", ChapterNumber: 1, OriginalText: "Dorothy lived in Kansas."})

	p := pipeline.New(m, inf, pipeline.Config{})
	p.Limiter = nil
	return NewServer(context.Background(), m, p, analysis.New(inf, m)), m
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	return rec
}

func TestGetRoot(t *testing.T) {
	srv, _ := newTestServer(t, &stubInferencer{out: "x"})
	rec := do(srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestGetReferencePreview(t *testing.T) {
	srv, _ := newTestServer(t, &stubInferencer{out: "x"})
	rec := do(srv, http.MethodGet, "/api/adaptations/adapt-1/reference", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Guide   string            `json:"guide"`
		Entries []json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Guide, "CHARACTER CONSISTENCY GUIDE:")
	assert.Contains(t, body.Guide, "girl in blue gingham")
	assert.Len(t, body.Entries, 1)
}

func TestGetReferencePreviewUnknownAdaptation(t *testing.T) {
	srv, _ := newTestServer(t, &stubInferencer{out: "x"})
	rec := do(srv, http.MethodGet, "/api/adaptations/nope/reference", "")
	require.Equal(t, http.StatusOK, rec.Code, "missing registry degrades, not errors")

	var body struct {
		Guide string `json:"guide"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Guide)
}

func TestPostChapterPromptWithDrift(t *testing.T) {
	inf := &stubInferencer{out: "Dorothy stands on a yellow brick road."}
	srv, m := newTestServer(t, inf)

	rec := do(srv, http.MethodPost, "/api/adaptations/adapt-1/chapters/1/prompt", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var first struct {
		Prompt string `json:"prompt"`
		Drift  []any  `json:"drift"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, inf.out, first.Prompt)
	assert.Empty(t, first.Drift, "no drift on first generation")

	stored, err := m.GetChapter(context.Background(), "adapt-1", 1)
	require.NoError(t, err)
	assert.Equal(t, inf.out, stored.ImagePrompt)

	inf.out = "Dorothy stands on a red brick road."
	rec = do(srv, http.MethodPost, "/api/adaptations/adapt-1/chapters/1/prompt", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var second struct {
		Drift []struct {
			Op   int    `json:"op"`
			Text string `json:"text"`
		} `json:"drift"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.NotEmpty(t, second.Drift, "regeneration with different output must report drift")
}

func TestPostChapterPromptBadNumber(t *testing.T) {
	srv, _ := newTestServer(t, &stubInferencer{out: "x"})
	rec := do(srv, http.MethodPost, "/api/adaptations/adapt-1/chapters/abc/prompt", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostChapterPromptMissingChapter(t *testing.T) {
	srv, _ := newTestServer(t, &stubInferencer{out: "x"})
	rec := do(srv, http.MethodPost, "/api/adaptations/adapt-1/chapters/9/prompt", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostAnalyze(t *testing.T) {
	inf := &stubInferencer{out: `{"characters":[{"name":"Dorothy","importance":"major"},{"name":"Toto","importance":"minor"}]}`}
	srv, m := newTestServer(t, inf)

	rec := do(srv, http.MethodPost, "/api/adaptations/adapt-1/analyze", `{"text":"Dorothy lived in Kansas with Toto."}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"characters":2`)

	book, err := m.GetBook(context.Background(), "book-1")
	require.NoError(t, err)
	_, ok := schema.ParseCharacterAnalysis(book.CharacterReference)
	assert.True(t, ok, "analyze must store a parseable reference")
}

func TestPostAnalyzeEmptyText(t *testing.T) {
	srv, _ := newTestServer(t, &stubInferencer{out: "x"})
	rec := do(srv, http.MethodPost, "/api/adaptations/adapt-1/analyze", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// sseEvents splits a raw SSE body into event-name -> data lines.
func sseEvents(t *testing.T, body string) map[string][]string {
	t.Helper()
	events := make(map[string][]string)
	var current string
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NotEmpty(t, current, "data line before any event line")
			events[current] = append(events[current], strings.TrimPrefix(line, "data: "))
		}
	}
	return events
}

func TestPostBatchStreamsProgress(t *testing.T) {
	const chapters = 16
	inf := &stubInferencer{out: "Dorothy walks the yellow brick road.", delay: 5 * time.Millisecond}
	srv, m := newTestServer(t, inf)
	srv.Pipeline.Config.MaxConcurrent = 8
	for i := 2; i <= chapters; i++ {
		m.PutChapter(schema.Chapter{
			ID:            fmt.Sprintf("ch-%d", i),
			AdaptationID:  "adapt-1",
			ChapterNumber: i,
			OriginalText:  fmt.Sprintf("chapter %d text", i),
		})
	}

	rec := do(srv, http.MethodPost, "/api/adaptations/adapt-1/prompts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	events := sseEvents(t, rec.Body.String())
	assert.Len(t, events["started"], chapters)
	assert.Len(t, events["completed"], chapters)
	assert.Empty(t, events["failed"])
	require.Len(t, events["summary"], 1)

	// Concurrent workers must not interleave event frames: every data line
	// is a complete JSON document.
	for name, datas := range events {
		if name == "close" {
			continue
		}
		for _, data := range datas {
			require.True(t, json.Valid([]byte(data)), "event %q carries corrupt data: %q", name, data)
		}
	}

	var summary pipeline.RunStatus
	require.NoError(t, json.Unmarshal([]byte(events["summary"][0]), &summary))
	assert.Equal(t, chapters, summary.Total)
	assert.Equal(t, chapters, summary.Completed)
	require.NotEmpty(t, summary.RunID)

	rec = do(srv, http.MethodGet, "/api/runs/"+summary.RunID, "")
	assert.Equal(t, http.StatusOK, rec.Code, "finished run must stay queryable")
}

func TestGetRunUnknown(t *testing.T) {
	srv, _ := newTestServer(t, &stubInferencer{out: "x"})
	rec := do(srv, http.MethodGet, "/api/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
