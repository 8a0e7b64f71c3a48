package providers

import (
	"context"
	"fmt"

	"github.com/kukulabs/kuku-coach/internal/chat"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIModel implements chat.Model by calling the OpenAI SDK directly.
// With a custom base URL it also serves OpenAI-compatible providers
// (DeepSeek, Groq, local servers).
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel creates a new OpenAI-backed chat model.
func NewOpenAIModel(apiKey, modelName, baseURL string) (*OpenAIModel, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	client := openai.NewClientWithConfig(config)

	return &OpenAIModel{
		client: client,
		model:  modelName,
	}, nil
}

// Chat implements chat.Model by calling the chat completions API.
func (c *OpenAIModel) Chat(ctx context.Context, messages []chat.Message, opts chat.Options) (chat.Response, error) {
	openaiMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		var role string
		switch msg.Role {
		case chat.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case chat.RoleUser:
			role = openai.ChatMessageRoleUser
		case chat.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			return chat.Response{}, fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		// The SDK may serialize an empty string as null, which the API
		// rejects for assistant messages. A single space is accepted and
		// semantically equivalent.
		content := msg.Content
		if content == "" && msg.Role == chat.RoleAssistant {
			content = " "
		}

		openaiMsgs = append(openaiMsgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: openaiMsgs,
	}

	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return chat.Response{}, chat.NewModelError(err, chat.ClassifyModelError(err))
	}

	if len(resp.Choices) == 0 {
		return chat.Response{}, fmt.Errorf("empty response from OpenAI")
	}

	choice := resp.Choices[0]

	finishReason := "stop"
	if choice.FinishReason == openai.FinishReasonLength {
		finishReason = "length"
	} else if choice.FinishReason == openai.FinishReasonContentFilter {
		finishReason = "content_filter"
	}

	return chat.Response{
		Assistant: chat.Message{
			Role:    chat.RoleAssistant,
			Content: choice.Message.Content,
		},
		Usage: chat.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		FinishReason: finishReason,
	}, nil
}
