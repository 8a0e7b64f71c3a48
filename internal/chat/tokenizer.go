// Package chat provides the provider-agnostic model types shared by the
// coaching engine. This file contains token counting.

package chat

import (
	"strings"
)

// EstimateTokens provides a rough token count estimation.
// Uses a simple heuristic: ~4 characters per token for English text.
// The exact tokenizer does not matter for buffer bounding; what matters
// is that the estimate is stable and monotonic in the input length.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))

	// Whitespace-heavy text has fewer tokens per character.
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	estimated := (charCount / 4) + (whitespaceCount / 6)

	if estimated < 1 {
		return 1
	}

	return estimated
}

// CountMessageTokens counts estimated tokens for a slice of messages,
// including formatting overhead (role names, separators).
func CountMessageTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(string(msg.Role))
		total += EstimateTokens(msg.Content)
		// Overhead for message framing, approximately 4 tokens per message.
		total += 4
	}
	return total
}
