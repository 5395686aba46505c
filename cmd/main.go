package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/gommon/log"

	"kidsklassiks/pkg/analysis"
	"kidsklassiks/pkg/images"
	"kidsklassiks/pkg/inference"
	"kidsklassiks/pkg/pipeline"
	"kidsklassiks/pkg/schema"
	"kidsklassiks/pkg/server"
	"kidsklassiks/pkg/store"
	"kidsklassiks/pkg/utils"
)

func main() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	openAI := inference.NewOpenAIInferencer(apiKey, model)
	if apiKey == "" {
		openAI.ChangeBaseURL("http://localhost:1234/v1")
		openAI.SetModel("")
	}
	var inf inference.Inferencer = openAI

	if geminiKey := os.Getenv("GEMINI_API_KEY"); geminiKey != "" {
		gemini, err := inference.NewGeminiInferencer(geminiKey, os.Getenv("GEMINI_MODEL"))
		if err != nil {
			log.Fatalf("Failed to init Gemini: %v", err)
		}
		inf = gemini
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "kidsklassiks.db"
	}
	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", dbPath, err)
	}
	defer db.Close()

	cfg := pipeline.Config{
		RenderImages: os.Getenv("RENDER_IMAGES") == "1",
	}
	if n, err := strconv.Atoi(os.Getenv("MAX_CONCURRENT")); err == nil && n > 0 {
		cfg.MaxConcurrent = n
	}

	p := pipeline.New(db, inf, cfg)
	if cfg.RenderImages {
		p.Images = inference.NewOpenAIImageBackend(apiKey, os.Getenv("IMAGE_MODEL"))
		p.Artifacts = images.NewStore(os.Getenv("IMAGES_DIR"))
	}

	if seedPath := os.Getenv("SEED_FILE"); seedPath != "" && utils.Exists(seedPath) {
		if err := seedDatabase(ctx, db, seedPath); err != nil {
			log.Fatalf("Failed to seed database from %s: %v", seedPath, err)
		}
	}

	srv := server.NewServer(ctx, db, p, analysis.New(inf, db))
	srv.Echo.Logger.SetLevel(log.INFO)

	addr := ":8080"
	if envAddr := os.Getenv("PORT"); envAddr != "" {
		addr = ":" + envAddr
	}

	finishedShutDown := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error(err)
		}
		done()
		close(finishedShutDown)
	}()

	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(err)
	}
	<-finishedShutDown
}

// seedFile imports books, adaptations, and chapters from a JSON file so a
// fresh database can be populated without the full application.
type seedFile struct {
	Books       []schema.Book       `json:"books"`
	Adaptations []schema.Adaptation `json:"adaptations"`
	Chapters    []schema.Chapter    `json:"chapters"`
}

func seedDatabase(ctx context.Context, db *store.SQLite, path string) error {
	seed, err := utils.Load[seedFile](path)
	if err != nil {
		return err
	}
	for _, b := range seed.Books {
		if err := db.PutBook(ctx, b); err != nil {
			return err
		}
	}
	for _, a := range seed.Adaptations {
		if err := db.PutAdaptation(ctx, a); err != nil {
			return err
		}
	}
	for _, c := range seed.Chapters {
		if err := db.PutChapter(ctx, c); err != nil {
			return err
		}
	}
	log.Infof("Seeded %d books, %d adaptations, %d chapters from %s",
		len(seed.Books), len(seed.Adaptations), len(seed.Chapters), path)
	return nil
}
