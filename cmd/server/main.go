package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/kukulabs/kuku-coach/internal/httpapi"
	"github.com/kukulabs/kuku-coach/internal/manager"
	"github.com/kukulabs/kuku-coach/internal/prompts"
	"github.com/kukulabs/kuku-coach/internal/providers"
	"github.com/kukulabs/kuku-coach/internal/speech"
	"github.com/kukulabs/kuku-coach/internal/store"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx := context.Background()

	dbPath := envOr("KUKU_DB_PATH", "kuku.db")
	audioDir := envOr("KUKU_AUDIO_DIR", "static/audio")
	promptsDir := envOr("KUKU_PROMPTS_DIR", "prompts")
	port := envOr("PORT", "8000")
	voice := os.Getenv("KUKU_TTS_VOICE")

	if err := os.MkdirAll(audioDir, 0755); err != nil {
		log.Fatalf("failed to create audio dir: %v", err)
	}

	st, err := store.New(ctx, dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	coachModel, coachName, err := providers.NewCoachModelFromEnv()
	if err != nil {
		log.Fatalf("failed to configure coaching model: %v", err)
	}
	summaryModel, summaryName, err := providers.NewSummaryModelFromEnv()
	if err != nil {
		log.Fatalf("failed to configure summary model: %v", err)
	}
	log.Printf("models: coach=%s summary=%s", coachName, summaryName)

	loader, err := prompts.NewLoader(promptsDir)
	if err != nil {
		log.Fatalf("failed to load prompts: %v", err)
	}
	defer loader.Close()
	if err := loader.Watch(); err != nil {
		log.Printf("prompt hot reload disabled: %v", err)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	transcriber := speech.NewOpenAITranscriber(apiKey, os.Getenv("OPENAI_BASE_URL"),
		os.Getenv("KUKU_ASR_MODEL"), os.Getenv("KUKU_ASR_FALLBACK_MODEL"))

	var speechifier speech.Speechifier
	if os.Getenv("KUKU_DISABLE_TTS") == "" {
		speechifier = speech.NewOpenAISpeechifier(apiKey, os.Getenv("OPENAI_BASE_URL"), os.Getenv("KUKU_TTS_MODEL"))
	}

	mgr := manager.New(manager.Config{
		Store:        st,
		CoachModel:   coachModel,
		SummaryModel: summaryModel,
		Templates:    loader.Current,
		Transcriber:  transcriber,
		Speechifier:  speechifier,
		AudioDir:     audioDir,
		Voice:        voice,
	})

	e := echo.New()
	e.HideBanner = true
	httpapi.New(mgr, audioDir).Register(e)

	log.Printf("kuku-coach listening on :%s", port)
	e.Logger.Fatal(e.Start(":" + port))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
