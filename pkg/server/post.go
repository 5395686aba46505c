package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"kidsklassiks/pkg/pipeline"
	"kidsklassiks/pkg/store"
	"kidsklassiks/pkg/utils"
)

type analyzeReq struct {
	Text string `json:"text"`
}

type chapterPromptResp struct {
	pipeline.Result
	Drift []utils.WordDelta `json:"drift,omitempty"`
}

// POST /api/adaptations/:id/analyze
//
// Runs character analysis over the submitted book text and stores the
// resulting reference on the adaptation's book.
func (s *Server) handlePostAnalyze(c echo.Context) error {
	var req analyzeReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, utils.ErrJSON("empty text"))
	}

	ctx := c.Request().Context()
	adaptation, err := s.Store.GetAdaptation(ctx, c.Param("id"))
	if err != nil {
		return storeError(c, err)
	}

	count, err := s.Analyzer.Run(ctx, adaptation.BookID, req.Text)
	if err != nil {
		log.Error("character analysis failed", "adaptation", adaptation.ID, "error", err)
		return c.JSON(http.StatusBadGateway, utils.ErrJSON(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"book_id":    adaptation.BookID,
		"characters": count,
	})
}

// POST /api/adaptations/:id/chapters/:number/prompt
//
// Generates one chapter's image prompt. When the chapter already had a stored
// prompt, the response includes a word-level drift against it.
func (s *Server) handlePostChapterPrompt(c echo.Context) error {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid chapter number")
	}
	ctx := c.Request().Context()
	id := c.Param("id")

	previous := ""
	if ch, err := s.Store.GetChapter(ctx, id, number); err == nil {
		previous = ch.ImagePrompt
	}

	result, err := s.Pipeline.GeneratePrompt(ctx, id, number)
	if err != nil {
		return storeError(c, err)
	}

	resp := chapterPromptResp{Result: result}
	if previous != "" && previous != result.Prompt {
		resp.Drift = utils.DiffWords(previous, result.Prompt)
	}
	return c.JSON(http.StatusOK, resp)
}

// POST /api/adaptations/:id/cover-prompt
func (s *Server) handlePostCoverPrompt(c echo.Context) error {
	result, err := s.Pipeline.GenerateCoverPrompt(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// POST /api/adaptations/:id/prompts
//
// Runs the whole adaptation as a batch and streams progress as SSE events.
// The final event carries the run summary, which also stays queryable for a
// while under /api/runs/:id.
func (s *Server) handlePostBatch(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	w := utils.NewSSEWriter(c)
	defer w.Close()

	// Batch workers emit concurrently; the response writer is not safe for
	// that, so event delivery is serialized here.
	var mu sync.Mutex
	status, err := s.Pipeline.GenerateAll(ctx, id, func(e pipeline.Event) {
		mu.Lock()
		defer mu.Unlock()
		if err := w.Event(string(e.Kind), e); err != nil {
			log.Warn("SSE write error", "error", err)
		}
	})
	if err != nil && status.RunID == "" {
		_ = w.Event("error", utils.ErrJSON(err.Error()))
		return nil
	}

	s.Runs.SetDefault(status.RunID, status)
	_ = w.Event("summary", status)
	return nil
}

func storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, utils.ErrJSON(err.Error()))
	case errors.Is(err, store.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, utils.ErrJSON(err.Error()))
	default:
		return c.JSON(http.StatusBadGateway, utils.ErrJSON(err.Error()))
	}
}
