package coach

import (
	"context"
	"strings"
	"time"

	"github.com/kukulabs/kuku-coach/internal/chat"
	"github.com/kukulabs/kuku-coach/internal/prompts"
)

// summaryTimeout caps one summarisation call. On expiry the buffer goes
// degraded rather than blocking the user-facing turn.
const summaryTimeout = 15 * time.Second

// CondenseHistory folds an evicted message batch into the running
// summary using the summary model. Pure function of its inputs: the
// buffer passes data in and receives text back, keeping the model
// dependency out of the buffer itself.
func CondenseHistory(ctx context.Context, model chat.Model, tmpl string, summary string, batch []chat.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	prompt := prompts.Render(tmpl, map[string]string{
		"summary":   summary,
		"new_lines": chat.RenderForSummary(batch),
	})

	resp, err := model.Chat(ctx, []chat.Message{
		{Role: chat.RoleUser, Content: prompt},
	}, chat.Options{MaxOutputTokens: 512, Temperature: 0.1})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Assistant.Content)
	if !strings.HasPrefix(text, SummaryMarker) {
		text = SummaryMarker + " " + text
	}
	return text, nil
}
