package providers

import (
	"fmt"
	"os"

	"github.com/kukulabs/kuku-coach/internal/chat"
)

// NewCoachModelFromEnv creates the coaching chat.Model based on
// environment variables. LLM_PROVIDER selects the backend; each backend
// reads its own key/model/base-URL variables.
func NewCoachModelFromEnv() (chat.Model, string, error) {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY not set")
		}

		modelName := os.Getenv("OPENAI_MODEL")
		if modelName == "" {
			modelName = "gpt-4o"
		}

		baseURL := os.Getenv("OPENAI_BASE_URL") // For OpenAI-compatible APIs

		model, err := NewOpenAIModel(apiKey, modelName, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create OpenAI model: %w", err)
		}

		return chat.WithRetry(model, chat.DefaultRetryPolicy()), modelName, nil

	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}

		modelName := os.Getenv("ANTHROPIC_MODEL")
		if modelName == "" {
			modelName = "claude-3-5-sonnet-20241022"
		}

		model, err := NewAnthropicModel(apiKey, modelName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic model: %w", err)
		}

		return chat.WithRetry(model, chat.DefaultRetryPolicy()), modelName, nil

	case "deepseek":
		// DeepSeek (OpenAI-compatible)
		apiKey := os.Getenv("DEEPSEEK_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("DEEPSEEK_API_KEY not set")
		}

		modelName := os.Getenv("DEEPSEEK_MODEL")
		if modelName == "" {
			modelName = "deepseek-chat"
		}

		model, err := NewOpenAIModel(apiKey, modelName, "https://api.deepseek.com/v1")
		if err != nil {
			return nil, "", fmt.Errorf("failed to create DeepSeek model: %w", err)
		}

		return chat.WithRetry(model, chat.DefaultRetryPolicy()), modelName, nil

	case "groq":
		// Groq (OpenAI-compatible, fast inference)
		apiKey := os.Getenv("GROQ_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("GROQ_API_KEY not set")
		}

		modelName := os.Getenv("GROQ_MODEL")
		if modelName == "" {
			modelName = "llama-3.1-70b-versatile"
		}

		model, err := NewOpenAIModel(apiKey, modelName, "https://api.groq.com/openai/v1")
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Groq model: %w", err)
		}

		return chat.WithRetry(model, chat.DefaultRetryPolicy()), modelName, nil

	default:
		return nil, "", fmt.Errorf("unknown LLM_PROVIDER: %s (supported: openai, anthropic, deepseek, groq)", provider)
	}
}

// NewSummaryModelFromEnv creates the cheaper summarisation chat.Model.
// It is always OpenAI-compatible; SUMMARY_MODEL and SUMMARY_BASE_URL
// override the defaults, falling back to the main OpenAI credentials.
func NewSummaryModelFromEnv() (chat.Model, string, error) {
	apiKey := os.Getenv("SUMMARY_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, "", fmt.Errorf("SUMMARY_API_KEY or OPENAI_API_KEY not set")
	}

	modelName := os.Getenv("SUMMARY_MODEL")
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	baseURL := os.Getenv("SUMMARY_BASE_URL")

	model, err := NewOpenAIModel(apiKey, modelName, baseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create summary model: %w", err)
	}

	return chat.WithRetry(model, chat.DefaultRetryPolicy()), modelName, nil
}
