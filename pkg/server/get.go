package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"kidsklassiks/pkg/pipeline"
	"kidsklassiks/pkg/reference"
	"kidsklassiks/pkg/utils"
)

func (s *Server) handleGetRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": "KidsKlassiks Prompt API",
		"status":  "ok",
	})
}

// GET /api/adaptations/:id/reference
//
// Previews the consistency guide exactly as the prompt assembler would see
// it: reconciled entries plus the formatted, budget-bounded block. An
// adaptation with no usable character reference returns empty entries and an
// empty guide rather than an error.
func (s *Server) handleGetReference(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	entries := s.Pipeline.Reader.ForAdaptation(ctx, id)
	formatted := reference.Format(entries, s.Pipeline.Config.MaxReferenceChars)

	return c.JSON(http.StatusOK, map[string]any{
		"adaptation_id": id,
		"entries":       entries,
		"guide":         formatted,
	})
}

// GET /api/runs/:id
func (s *Server) handleGetRun(c echo.Context) error {
	id := c.Param("id")
	v, ok := s.Runs.Get(id)
	if !ok {
		return c.JSON(http.StatusNotFound, utils.ErrJSON("unknown run"))
	}
	status, ok := v.(pipeline.RunStatus)
	if !ok {
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("corrupt run record"))
	}
	return c.JSON(http.StatusOK, status)
}
