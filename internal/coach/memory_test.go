package coach

import (
	"strings"
	"testing"

	"github.com/kukulabs/kuku-coach/internal/chat"
)

func TestBufferAppendUnderLimit(t *testing.T) {
	b := NewBuffer(0)

	if overflow := b.Append(chat.RoleUser, "short message"); overflow != nil {
		t.Errorf("expected no overflow, got %d messages", len(overflow))
	}
	if got := len(b.History()); got != 1 {
		t.Errorf("expected 1 message, got %d", got)
	}
}

func TestBufferOverflowEvictsOldestFirst(t *testing.T) {
	b := NewBuffer(60)

	long := strings.Repeat("words and more words ", 10)
	var overflow []chat.Message
	overflow = append(overflow, b.Append(chat.RoleUser, "first "+long)...)
	overflow = append(overflow, b.Append(chat.RoleAssistant, "second "+long)...)
	overflow = append(overflow, b.Append(chat.RoleUser, "third "+long)...)

	if len(overflow) == 0 {
		t.Fatal("expected overflow")
	}
	if !strings.HasPrefix(overflow[0].Content, "first") {
		t.Errorf("oldest message must evict first, got %q", overflow[0].Content)
	}
	if b.TokenEstimate() > 60 && len(b.History()) > 1 {
		t.Errorf("estimate %d exceeds limit with %d messages retained", b.TokenEstimate(), len(b.History()))
	}
}

func TestBufferNeverEvictsLastMessage(t *testing.T) {
	b := NewBuffer(10)

	huge := strings.Repeat("a very long utterance ", 50)
	if overflow := b.Append(chat.RoleUser, huge); overflow != nil {
		t.Errorf("sole message must stay, got overflow of %d", len(overflow))
	}
	if len(b.History()) != 1 {
		t.Errorf("expected the single message retained, got %d", len(b.History()))
	}
}

func TestBufferRestorePrepends(t *testing.T) {
	b := NewBuffer(0)
	b.Append(chat.RoleUser, "current")

	b.Restore([]chat.Message{
		{Role: chat.RoleUser, Content: "older"},
		{Role: chat.RoleAssistant, Content: "old reply"},
	})

	history := b.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].Content != "older" || history[2].Content != "current" {
		t.Errorf("restore order wrong: %v", history)
	}
}

func TestBufferDegradedSlidingWindow(t *testing.T) {
	b := NewBuffer(0)
	for i := 0; i < 30; i++ {
		b.Append(chat.RoleUser, "question")
		b.Append(chat.RoleAssistant, "answer")
	}

	b.MarkDegraded()
	if !b.Degraded() {
		t.Fatal("expected degraded mode")
	}
	if got := len(b.History()); got != 20 {
		t.Errorf("expected window of 20 messages, got %d", got)
	}

	// Degraded appends keep the window and never overflow.
	if overflow := b.Append(chat.RoleUser, strings.Repeat("long ", 500)); overflow != nil {
		t.Errorf("degraded append must not overflow, got %d", len(overflow))
	}
	if got := len(b.History()); got != 20 {
		t.Errorf("window must hold at 20 after append, got %d", got)
	}
}

func TestBufferRoundCounter(t *testing.T) {
	b := NewBuffer(0)
	for i := 0; i < 7; i++ {
		b.IncrementRound()
	}
	if b.RoundCount() != 7 {
		t.Fatalf("expected 7 rounds, got %d", b.RoundCount())
	}

	b.DecrementRounds(5)
	if b.RoundCount() != 2 {
		t.Errorf("expected 2 rounds, got %d", b.RoundCount())
	}

	b.DecrementRounds(5)
	if b.RoundCount() != 0 {
		t.Errorf("round counter must clamp at 0, got %d", b.RoundCount())
	}
}

func TestPruneMessages(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "  "},
		{Role: chat.RoleUser, Content: "hello"},
		{Role: chat.RoleUser, Content: "are you there?"},
		{Role: chat.RoleAssistant, Content: "yes, I am"},
		{Role: chat.RoleAssistant, Content: ""},
		{Role: chat.RoleUser, Content: "good"},
	}

	pruned := PruneMessages(msgs)
	if len(pruned) != 3 {
		t.Fatalf("expected 3 messages, got %d: %v", len(pruned), pruned)
	}
	if pruned[0].Content != "hello\n\nare you there?" {
		t.Errorf("same-role run not collapsed: %q", pruned[0].Content)
	}
	for i := 1; i < len(pruned); i++ {
		if pruned[i].Role == pruned[i-1].Role {
			t.Errorf("adjacent messages share role %q", pruned[i].Role)
		}
	}
}
