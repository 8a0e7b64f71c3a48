package providers

import (
	"context"
	"fmt"

	"github.com/kukulabs/kuku-coach/internal/chat"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicModel implements chat.Model by calling the Anthropic SDK directly.
type AnthropicModel struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicModel creates a new Anthropic-backed chat model.
func NewAnthropicModel(apiKey, modelName string) (*AnthropicModel, error) {
	client := anthropic.NewClient(apiKey)

	return &AnthropicModel{
		client: client,
		model:  modelName,
	}, nil
}

// Chat implements chat.Model by calling the Anthropic messages API.
func (c *AnthropicModel) Chat(ctx context.Context, messages []chat.Message, opts chat.Options) (chat.Response, error) {
	var systemParts []anthropic.MessageSystemPart
	var anthropicMsgs []anthropic.Message

	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			systemParts = append(systemParts, anthropic.MessageSystemPart{
				Type: "text",
				Text: msg.Content,
			})
		case chat.RoleUser:
			anthropicMsgs = append(anthropicMsgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		case chat.RoleAssistant:
			anthropicMsgs = append(anthropicMsgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		default:
			return chat.Response{}, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	maxTokens := 1024
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}

	temperature := float32(0.7)
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		Messages:    anthropicMsgs,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}

	if len(systemParts) > 0 {
		req.MultiSystem = systemParts
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return chat.Response{}, chat.NewModelError(err, chat.ClassifyModelError(err))
	}

	var textContent string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			textContent += *block.Text
		}
	}

	finishReason := "stop"
	if resp.StopReason == "max_tokens" {
		finishReason = "length"
	} else if resp.StopReason == "content_filtered" {
		finishReason = "content_filter"
	}

	return chat.Response{
		Assistant: chat.Message{
			Role:    chat.RoleAssistant,
			Content: textContent,
		},
		Usage: chat.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: finishReason,
	}, nil
}
