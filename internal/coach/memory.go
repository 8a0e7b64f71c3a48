// Package coach implements the conversation session engine: bounded
// conversational memory, T-GROW progression analysis, the wrap-up state
// machine and the per-session turn orchestrator.
package coach

import (
	"strings"

	"github.com/kukulabs/kuku-coach/internal/chat"
)

// SummaryMarker prefixes every running summary injected into the prompt.
const SummaryMarker = "Summary of earlier dialog:"

// DefaultMaxTokenLimit bounds the token estimate of recent messages.
const DefaultMaxTokenLimit = 1500

// degradedWindowExchanges is the sliding-window size (user→AI pairs)
// used once summarisation has failed.
const degradedWindowExchanges = 10

// Buffer keeps a length-bounded context for the next model call. When
// the bound is exceeded the oldest messages are evicted and handed back
// to the caller for summarisation; the buffer itself holds no model
// handle.
type Buffer struct {
	maxTokens int
	summary   string
	recent    []chat.Message
	rounds    int
	degraded  bool
}

// NewBuffer creates a buffer bounded to maxTokens (0 selects the default).
func NewBuffer(maxTokens int) *Buffer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokenLimit
	}
	return &Buffer{maxTokens: maxTokens}
}

// Append adds a message and returns the overflow batch evicted to stay
// under the token limit. The caller condenses the batch into the running
// summary via SetSummary, or marks the buffer degraded on failure. In
// degraded mode Append applies the sliding window and never overflows.
func (b *Buffer) Append(role chat.MessageRole, text string) []chat.Message {
	b.recent = append(b.recent, chat.Message{Role: role, Content: text})

	if b.degraded {
		b.applyWindow()
		return nil
	}

	var overflow []chat.Message
	for len(b.recent) > 1 && chat.CountMessageTokens(b.recent) > b.maxTokens {
		overflow = append(overflow, b.recent[0])
		b.recent = b.recent[1:]
	}
	return overflow
}

// Restore puts an overflow batch back at the front of the buffer. Used
// when summarisation fails so the evicted context is not lost before the
// sliding window takes over.
func (b *Buffer) Restore(batch []chat.Message) {
	if len(batch) == 0 {
		return
	}
	b.recent = append(append([]chat.Message{}, batch...), b.recent...)
}

// Summary returns the running summary (may be empty).
func (b *Buffer) Summary() string { return b.summary }

// SetSummary replaces the running summary with the condensed text.
func (b *Buffer) SetSummary(s string) { b.summary = s }

// MarkDegraded switches the buffer to sliding-window mode. Sticky for
// the remainder of the session; turns keep succeeding without summaries.
func (b *Buffer) MarkDegraded() {
	b.degraded = true
	b.applyWindow()
}

// Degraded reports whether summarisation has failed for this session.
func (b *Buffer) Degraded() bool { return b.degraded }

func (b *Buffer) applyWindow() {
	max := degradedWindowExchanges * 2
	if len(b.recent) > max {
		b.recent = append([]chat.Message{}, b.recent[len(b.recent)-max:]...)
	}
}

// History returns the recent messages verbatim. Callers prepend the
// system prompt and, when the running summary is non-empty, a synthetic
// system message carrying it.
func (b *Buffer) History() []chat.Message {
	out := make([]chat.Message, len(b.recent))
	copy(out, b.recent)
	return out
}

// TokenEstimate returns the current token estimate of recent messages.
func (b *Buffer) TokenEstimate() int { return chat.CountMessageTokens(b.recent) }

// RoundCount returns the number of completed user→AI exchanges.
func (b *Buffer) RoundCount() int { return b.rounds }

// IncrementRound records one completed exchange.
func (b *Buffer) IncrementRound() { b.rounds++ }

// DecrementRounds lowers the round counter by n, clamped at zero. Used
// by the wrap-up cooldown to delay the count-based trigger.
func (b *Buffer) DecrementRounds(n int) {
	b.rounds -= n
	if b.rounds < 0 {
		b.rounds = 0
	}
}

// Prune drops messages whose trimmed text is empty and collapses runs of
// same-role messages by concatenating their text with a blank line, so
// no two adjacent messages share a role.
func (b *Buffer) Prune() {
	b.recent = PruneMessages(b.recent)
}

// PruneMessages applies the pruning rules to any message sequence. It is
// shared with persistence reads so stored history obeys the same
// invariants as the in-memory buffer.
func PruneMessages(msgs []chat.Message) []chat.Message {
	pruned := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		if n := len(pruned); n > 0 && pruned[n-1].Role == m.Role {
			pruned[n-1].Content = pruned[n-1].Content + "\n\n" + text
			continue
		}
		pruned = append(pruned, chat.Message{Role: m.Role, Content: text})
	}
	return pruned
}
