package engine

import (
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "short word", text: "hello", want: 1},
		{name: "sentence", text: "hello world this is a test", want: 6},
		{name: "code snippet", text: "func main() { fmt.Println(\"hello\") }", want: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimateMessages(t *testing.T) {
	msgs := []ChatMessage{
		{Role: RoleUser, Content: "list the files"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "list_files", Args: map[string]any{"path": "."}}}},
	}
	got := EstimateMessages(msgs)
	if got < 8 {
		t.Errorf("EstimateMessages() = %d, want at least framing overhead of 8", got)
	}
	if EstimateMessages(msgs[:1]) >= got {
		t.Errorf("tool calls did not add to the estimate")
	}
}

func TestEstimateSchemas(t *testing.T) {
	if got := EstimateSchemas(nil); got != 0 {
		t.Errorf("EstimateSchemas(nil) = %d, want 0", got)
	}
	got := EstimateSchemas([]ToolSchema{{Name: "a", Description: "d", JSONSchema: `{"type":"object"}`}})
	if got <= 10 {
		t.Errorf("EstimateSchemas() = %d, want > 10", got)
	}
}
