package engine

import (
	"encoding/json"
	"strings"
)

// EstimateTokens provides a rough token count: runes/4 plus whitespace/6.
// Good enough for budget projection, which only needs an upper-ish bound.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	charCount := len([]rune(text))
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")
	estimated := (charCount / 4) + (whitespaceCount / 6)
	if estimated < 1 {
		return 1
	}
	return estimated
}

// EstimateMessages estimates the prompt tokens of a message list,
// including about 4 tokens of framing per message.
func EstimateMessages(messages []ChatMessage) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(string(msg.Role)) + EstimateTokens(msg.Content) + 4
		for _, tc := range msg.ToolCalls {
			total += EstimateTokens(tc.Name)
			if b, err := json.Marshal(tc.Args); err == nil {
				total += EstimateTokens(string(b))
			}
		}
	}
	return total
}

// EstimateSchemas estimates the tokens spent on tool definitions.
func EstimateSchemas(schemas []ToolSchema) int {
	total := 0
	for _, s := range schemas {
		total += EstimateTokens(s.Name) + EstimateTokens(s.Description) + EstimateTokens(s.JSONSchema) + 10
	}
	return total
}
