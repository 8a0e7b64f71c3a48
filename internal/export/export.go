// Package export renders stored sessions into offline training and
// annotation formats: full-session JSONL, turn-by-turn JSONL, a plain
// text annotation sheet and DPO preference pairs.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kukulabs/kuku-coach/internal/coach"
	"github.com/kukulabs/kuku-coach/internal/store"
)

// separator divides sessions and turns in the annotation sheet.
var separator = strings.Repeat("-", 50)

// SessionExport bundles everything the writers need for one session.
type SessionExport struct {
	Record       store.SessionRecord
	Messages     []store.Message
	SystemPrompt string
	Model        string // model name stamped into the full-format output
}

// Collect loads one session and its pruned history from the store.
func Collect(ctx context.Context, st *store.Store, sessionID, systemPrompt, model string) (*SessionExport, error) {
	rec, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := st.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionExport{
		Record:       *rec,
		Messages:     store.PruneHistory(messages),
		SystemPrompt: systemPrompt,
		Model:        model,
	}, nil
}

type exportMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func roleOf(sender string) string {
	if sender == coach.SenderAI {
		return "assistant"
	}
	return "user"
}

type fullOutput struct {
	Model   string       `json:"model"`
	Choices []fullChoice `json:"choices"`
}

type fullChoice struct {
	Message exportMessage `json:"message"`
}

type fullRecord struct {
	Input  []exportMessage `json:"input"`
	Output fullOutput      `json:"output"`
}

// WriteFullJSONL writes one line per session: the dialog up to the last
// assistant message as input, that assistant message as the target.
// Sessions without an assistant message are skipped.
func WriteFullJSONL(w io.Writer, sessions []SessionExport) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for _, sess := range sessions {
		target := -1
		for i := len(sess.Messages) - 1; i >= 0; i-- {
			if sess.Messages[i].Sender == coach.SenderAI {
				target = i
				break
			}
		}
		if target < 0 {
			continue
		}

		input := []exportMessage{{Role: "system", Content: sess.SystemPrompt}}
		for _, msg := range sess.Messages[:target] {
			input = append(input, exportMessage{Role: roleOf(msg.Sender), Content: msg.Text})
		}

		rec := fullRecord{
			Input: input,
			Output: fullOutput{
				Model: sess.Model,
				Choices: []fullChoice{{
					Message: exportMessage{Role: "assistant", Content: sess.Messages[target].Text},
				}},
			},
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode session %s: %w", sess.Record.SessionID, err)
		}
	}
	return bw.Flush()
}

type turnRecord struct {
	Input  []exportMessage `json:"input"`
	Output string          `json:"output"`
}

// WriteTurnJSONL writes one line per user→assistant pair: the system
// prompt plus the history through the user message as input, the
// assistant text as output.
func WriteTurnJSONL(w io.Writer, sess *SessionExport) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for i := 1; i < len(sess.Messages); i++ {
		if sess.Messages[i].Sender != coach.SenderAI || sess.Messages[i-1].Sender != coach.SenderUser {
			continue
		}

		input := []exportMessage{{Role: "system", Content: sess.SystemPrompt}}
		for _, msg := range sess.Messages[:i] {
			input = append(input, exportMessage{Role: roleOf(msg.Sender), Content: msg.Text})
		}

		if err := enc.Encode(turnRecord{Input: input, Output: sess.Messages[i].Text}); err != nil {
			return fmt.Errorf("failed to encode turn %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// WriteAnnotationTXT writes the human annotation sheet: alternating
// User/Coach blocks with dash separators, plus the final summary when
// the session produced one.
func WriteAnnotationTXT(w io.Writer, sess *SessionExport) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "SESSION %s\n%s\n", sess.Record.SessionID, separator)
	for _, msg := range sess.Messages {
		label := "User"
		if msg.Sender == coach.SenderAI {
			label = "Coach"
		}
		fmt.Fprintf(bw, "%s: %s\n%s\n", label, msg.Text, separator)
	}
	if sess.Record.Summary != "" {
		fmt.Fprintf(bw, "FINAL SUMMARY AND ACTION PLAN\n%s\n%s\n", sess.Record.Summary, separator)
	}
	return bw.Flush()
}
