package coach

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kukulabs/kuku-coach/internal/chat"
	"github.com/kukulabs/kuku-coach/internal/prompts"
)

// progressionRecentWindow is how many recent messages feed the analysis.
const progressionRecentWindow = 10

// ProgressionAnalyser derives a T-GROW progress report from the buffer
// state. Reports are cached by a checksum of the inputs, so repeated
// calls within one turn cost a single model invocation.
type ProgressionAnalyser struct {
	model chat.Model

	cacheKey    string
	cacheReport string
}

// NewProgressionAnalyser creates an analyser backed by the summary model.
func NewProgressionAnalyser(model chat.Model) *ProgressionAnalyser {
	return &ProgressionAnalyser{model: model}
}

// Analyse returns the progression report for the given buffer state.
// tmpl is the progression prompt template.
func (p *ProgressionAnalyser) Analyse(ctx context.Context, tmpl string, summary string, recent []chat.Message) (string, error) {
	window := recent
	if len(window) > progressionRecentWindow {
		window = window[len(window)-progressionRecentWindow:]
	}

	rendered := prompts.Render(tmpl, map[string]string{
		"summary":         summary,
		"recent_messages": chat.RenderForSummary(window),
	})

	key := checksum(rendered)
	if key == p.cacheKey && p.cacheReport != "" {
		return p.cacheReport, nil
	}

	resp, err := p.model.Chat(ctx, []chat.Message{
		{Role: chat.RoleUser, Content: rendered},
	}, chat.Options{MaxOutputTokens: 512, Temperature: 0.2})
	if err != nil {
		return "", err
	}

	report := strings.TrimSpace(resp.Assistant.Content)
	p.cacheKey = key
	p.cacheReport = report
	return report, nil
}

func checksum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
