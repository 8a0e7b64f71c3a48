package chat

import (
	"context"
	"fmt"
	"strings"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is the provider-agnostic message we pass around.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Validate checks if the Message is valid.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	return nil
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Response is a normalized result of one model call.
type Response struct {
	Assistant    Message
	Usage        Usage
	FinishReason string // "stop" | "length" | "content_filter"
}

// Model abstracts a synchronous chat completion backend (OpenAI,
// Anthropic, etc.). Both the coaching model and the cheaper summary
// model satisfy this interface; which one a component holds is a
// wiring decision, not a type distinction.
type Model interface {
	Chat(ctx context.Context, messages []Message, opts Options) (Response, error)
}

// Options keeps knobs forwarded to the SDK.
type Options struct {
	Temperature     float32
	MaxOutputTokens int
}

// RenderForSummary flattens messages into a plain-text transcript for
// summarisation prompts.
func RenderForSummary(ms []Message) string {
	var b strings.Builder
	for _, m := range ms {
		b.WriteString("[" + string(m.Role) + "] ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}
