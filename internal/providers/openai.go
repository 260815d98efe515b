package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

// OpenAIClient implements engine.LLMClient on the Chat Completions API. It
// also serves every OpenAI-compatible endpoint through baseURL.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client. baseURL may be empty.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config)}
}

// toOpenAI converts the conversation. System messages are merged into one
// leading message; tool results with no preceding tool call are dropped.
func toOpenAI(messages []engine.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	var system string
	pending := false
	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case engine.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
			pending = false
		case engine.RoleAssistant:
			content := msg.Content
			if content == "" {
				// An empty string is serialized as null, which the API rejects.
				content = " "
			}
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			out = append(out, m)
			pending = len(msg.ToolCalls) > 0
		case engine.RoleTool:
			if !pending {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, ToolCallID: msg.Name, Content: content})
		}
	}
	if system != "" {
		out = append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: system}}, out...)
	}
	return out
}

// Chat implements engine.LLMClient.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(messages),
	}
	for _, ts := range toolSchemas {
		schema, err := decodeSchema(ts)
		if err != nil {
			return engine.LLMResponse{}, err
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  schema,
			},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		req.Temperature = &t
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return engine.LLMResponse{}, wrapSDKError(err)
	}
	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, fmt.Errorf("empty response from %s", model)
	}
	choice := resp.Choices[0]

	var calls []engine.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, parseToolArgs(tc.ID, tc.Function.Name, []byte(tc.Function.Arguments)))
	}

	finish := "stop"
	switch {
	case len(calls) > 0:
		finish = "tool_calls"
	case choice.FinishReason == openai.FinishReasonLength:
		finish = "length"
	case choice.FinishReason == openai.FinishReasonContentFilter:
		finish = "content_filter"
	}

	return engine.LLMResponse{
		Assistant: engine.ChatMessage{Role: engine.RoleAssistant, Content: choice.Message.Content, ToolCalls: calls},
		ToolCalls: calls,
		Usage: engine.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		FinishReason: finish,
	}, nil
}
