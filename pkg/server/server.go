package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"kidsklassiks/pkg/analysis"
	"kidsklassiks/pkg/pipeline"
	"kidsklassiks/pkg/store"
	"kidsklassiks/pkg/utils"
)

type Server struct {
	Echo     *echo.Echo
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Analyzer *analysis.Analyzer
	Runs     *cache.Cache
	Ctx      context.Context
}

func NewServer(ctx context.Context, s store.Store, p *pipeline.Pipeline, a *analysis.Analyzer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.CORS())

	srv := &Server{
		Echo:     e,
		Store:    s,
		Pipeline: p,
		Analyzer: a,
		Runs:     cache.New(30*time.Minute, 10*time.Minute),
		Ctx:      ctx,
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.Echo.GET("/", s.handleGetRoot)

	api := s.Echo.Group("/api")
	api.POST("/adaptations/:id/analyze", s.handlePostAnalyze)   // book text -> stored character reference
	api.GET("/adaptations/:id/reference", s.handleGetReference) // formatted consistency guide preview
	api.POST("/adaptations/:id/chapters/:number/prompt", s.handlePostChapterPrompt)
	api.POST("/adaptations/:id/prompts", s.handlePostBatch) // SSE progress stream
	api.POST("/adaptations/:id/cover-prompt", s.handlePostCoverPrompt)
	api.GET("/runs/:id", s.handleGetRun)
}

func (s *Server) Start(addr string) error {
	utils.Logf("Server listening at %s", addr)
	return s.Echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	utils.Logf("Shutting down server...")

	// Keep finished run summaries around for inspection across restarts.
	runs := make(map[string]pipeline.RunStatus)
	for id, item := range s.Runs.Items() {
		if status, ok := item.Object.(pipeline.RunStatus); ok {
			runs[id] = status
		}
	}
	var saveErr error
	if len(runs) > 0 {
		saveErr = utils.Save("runs.json", runs)
	}

	if err := s.Echo.Shutdown(ctx); err != nil {
		return err
	}
	return saveErr
}
