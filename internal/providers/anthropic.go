package providers

import (
	"context"
	"encoding/json"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient implements engine.LLMClient on the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a client. baseURL may be empty.
func NewAnthropicClient(apiKey, baseURL string) *AnthropicClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(apiKey, opts...)}
}

// toAnthropic splits out the system prompt and converts the conversation.
// Tool results become user messages carrying tool_result blocks; results with
// no preceding tool_use are dropped since the API rejects them.
func toAnthropic(messages []engine.ChatMessage) ([]anthropic.MessageSystemPart, []anthropic.Message) {
	var (
		system  []anthropic.MessageSystemPart
		out     []anthropic.Message
		pending bool // last assistant message requested tools
	)
	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			system = append(system, anthropic.MessageSystemPart{Type: "text", Text: msg.Content})
		case engine.RoleUser:
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
			pending = false
		case engine.RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				content = append(content, anthropic.NewToolUseMessageContent(tc.ID, tc.Name, json.RawMessage(args)))
			}
			if len(content) == 0 {
				content = append(content, anthropic.NewTextMessageContent(" "))
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
			pending = len(msg.ToolCalls) > 0
		case engine.RoleTool:
			if !pending {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			block := anthropic.NewToolResultMessageContent(msg.Name, content, false)
			// Consecutive results for one assistant turn share a user message.
			if n := len(out); n > 0 && out[n-1].Role == anthropic.RoleUser && isToolResults(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{block}})
		}
	}
	return system, out
}

func isToolResults(m anthropic.Message) bool {
	for _, c := range m.Content {
		if c.Type != "tool_result" {
			return false
		}
	}
	return len(m.Content) > 0
}

// Chat implements engine.LLMClient.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	system, msgs := toAnthropic(messages)

	var tools []anthropic.ToolDefinition
	for _, ts := range toolSchemas {
		schema, err := decodeSchema(ts)
		if err != nil {
			return engine.LLMResponse{}, err
		}
		tools = append(tools, anthropic.ToolDefinition{Name: ts.Name, Description: ts.Description, InputSchema: schema})
	}

	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temperature := opts.Temperature
	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if len(system) > 0 {
		req.MultiSystem = system
	}
	if len(tools) > 0 {
		req.Tools = tools
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return engine.LLMResponse{}, wrapSDKError(err)
	}

	var (
		text  string
		calls []engine.ToolCall
	)
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text += *block.Text
			}
		case "tool_use":
			if block.MessageContentToolUse != nil && block.Name != "" {
				calls = append(calls, parseToolArgs(block.ID, block.Name, block.Input))
			}
		}
	}

	finish := "stop"
	switch {
	case len(calls) > 0:
		finish = "tool_calls"
	case resp.StopReason == "max_tokens":
		finish = "length"
	}

	return engine.LLMResponse{
		Assistant: engine.ChatMessage{Role: engine.RoleAssistant, Content: text, ToolCalls: calls},
		ToolCalls: calls,
		Usage: engine.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: finish,
	}, nil
}
