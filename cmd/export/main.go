// Command export renders stored sessions into offline formats:
// full-session JSONL, turn-by-turn JSONL, annotation sheets and DPO
// preference pairs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/kukulabs/kuku-coach/internal/export"
	"github.com/kukulabs/kuku-coach/internal/prompts"
	"github.com/kukulabs/kuku-coach/internal/store"
)

func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", envOr("KUKU_DB_PATH", "kuku.db"), "path to the session database")
	format := flag.String("format", "full", "output format: full | turns | annotation | dpo")
	sessionID := flag.String("session", "", "session id (required for turns, annotation and dpo)")
	annotationsPath := flag.String("annotations", "", "annotator verdicts JSON file (dpo only)")
	model := flag.String("model", "gpt-4o", "model name stamped into full exports")
	promptsDir := flag.String("prompts", envOr("KUKU_PROMPTS_DIR", "prompts"), "prompt templates directory")
	flag.Parse()

	if err := run(*dbPath, *format, *sessionID, *annotationsPath, *model, *promptsDir); err != nil {
		log.Fatalf("export failed: %v", err)
	}
}

func run(dbPath, format, sessionID, annotationsPath, model, promptsDir string) error {
	ctx := context.Background()

	st, err := store.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	loader, err := prompts.NewLoader(promptsDir)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	defer loader.Close()
	systemPrompt := loader.Current().System

	switch format {
	case "full":
		ids, err := st.ListSessionIDs(ctx)
		if err != nil {
			return err
		}
		sessions := make([]export.SessionExport, 0, len(ids))
		for _, id := range ids {
			sess, err := export.Collect(ctx, st, id, systemPrompt, model)
			if err != nil {
				return err
			}
			sessions = append(sessions, *sess)
		}
		return export.WriteFullJSONL(os.Stdout, sessions)

	case "turns":
		sess, err := collectOne(ctx, st, sessionID, systemPrompt, model)
		if err != nil {
			return err
		}
		return export.WriteTurnJSONL(os.Stdout, sess)

	case "annotation":
		sess, err := collectOne(ctx, st, sessionID, systemPrompt, model)
		if err != nil {
			return err
		}
		return export.WriteAnnotationTXT(os.Stdout, sess)

	case "dpo":
		sess, err := collectOne(ctx, st, sessionID, systemPrompt, model)
		if err != nil {
			return err
		}
		if annotationsPath == "" {
			return fmt.Errorf("dpo format requires -annotations")
		}
		raw, err := os.ReadFile(annotationsPath)
		if err != nil {
			return fmt.Errorf("failed to read annotations: %w", err)
		}
		var annotations []export.Annotation
		if err := json.Unmarshal(raw, &annotations); err != nil {
			return fmt.Errorf("failed to parse annotations: %w", err)
		}
		return export.WriteDPOJSONL(os.Stdout, sess, annotations)

	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func collectOne(ctx context.Context, st *store.Store, sessionID, systemPrompt, model string) (*export.SessionExport, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("-session is required for this format")
	}
	return export.Collect(ctx, st, sessionID, systemPrompt, model)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
