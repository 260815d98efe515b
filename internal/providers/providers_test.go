package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/forge/internal/config"
	"github.com/ChamsBouzaiene/forge/internal/engine"
)

func TestExtractErrorMetadata(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{"nil", nil, 0, ""},
		{"status code", errors.New("error, status code: 429, status: 429 Too Many Requests"), 429, ""},
		{"http prefix", errors.New("HTTP 503 service unavailable"), 503, ""},
		{"bare status", errors.New("upstream returned 502 bad gateway"), 502, ""},
		{"retry after", errors.New("status code: 429, retry-after: 12."), 429, "12"},
		{"not a status", errors.New("status 999 unknown"), 0, ""},
		{"no status", errors.New("connection reset by peer"), 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, retryAfter := extractErrorMetadata(tt.err)
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if retryAfter != tt.retryAfter {
				t.Errorf("retryAfter = %q, want %q", retryAfter, tt.retryAfter)
			}
		})
	}
}

func TestWrapSDKError(t *testing.T) {
	err := wrapSDKError(errors.New("error, status code: 401, message: invalid key"))
	var engineErr *engine.EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected *engine.EngineError, got %T", err)
	}
	if !engineErr.IsAuth || engineErr.Class != engine.RetryClassNonRetryable {
		t.Errorf("unexpected classification: %+v", engineErr)
	}

	err = wrapSDKError(errors.New("status code: 429 rate limited"))
	if engine.ClassifyLLMError(err) != engine.RetryClassRetryable {
		t.Errorf("429 should be retryable")
	}
}

func TestParseToolArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantLen int
	}{
		{"object", `{"path":"a.go","start":3}`, false, 2},
		{"empty", ``, false, 0},
		{"whitespace", "  \n", false, 0},
		{"truncated", `{"path":"a.go"`, true, 0},
		{"not an object", `["a.go"]`, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := parseToolArgs("call_1", "read_file", []byte(tt.raw))
			if call.ID != "call_1" || call.Name != "read_file" {
				t.Errorf("identity lost: %+v", call)
			}
			if (call.Error != "") != tt.wantErr {
				t.Errorf("Error = %q, wantErr %v", call.Error, tt.wantErr)
			}
			if call.Args == nil || len(call.Args) != tt.wantLen {
				t.Errorf("Args = %v, want %d entries", call.Args, tt.wantLen)
			}
		})
	}
}

func conversation() []engine.ChatMessage {
	return []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: "you are a coding agent"},
		{Role: engine.RoleSystem, Content: "lessons: run tests"},
		{Role: engine.RoleUser, Content: "fix the bug"},
		{Role: engine.RoleAssistant, ToolCalls: []engine.ToolCall{
			{ID: "t1", Name: "read_file", Args: map[string]any{"path": "a.go"}},
			{ID: "t2", Name: "read_file", Args: map[string]any{"path": "b.go"}},
		}},
		{Role: engine.RoleTool, Name: "t1", Content: "package a"},
		{Role: engine.RoleTool, Name: "t2", Content: ""},
		{Role: engine.RoleAssistant, Content: "done"},
		{Role: engine.RoleTool, Name: "orphan", Content: "dropped"},
	}
}

func TestToAnthropic(t *testing.T) {
	system, msgs := toAnthropic(conversation())
	if len(system) != 2 {
		t.Fatalf("expected 2 system parts, got %d", len(system))
	}
	// user, assistant(tool_use x2), user(tool_result x2), assistant
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if n := len(msgs[1].Content); n != 2 {
		t.Errorf("assistant turn should carry 2 tool_use blocks, got %d", n)
	}
	if !isToolResults(msgs[2]) || len(msgs[2].Content) != 2 {
		t.Errorf("tool results should share one user message: %+v", msgs[2])
	}
}

func TestToOpenAI(t *testing.T) {
	msgs := toOpenAI(conversation())
	// system, user, assistant, tool, tool, assistant
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "you are a coding agent\n\nlessons: run tests" {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[2].Content != " " || len(msgs[2].ToolCalls) != 2 {
		t.Errorf("assistant tool turn = %+v", msgs[2])
	}
	if msgs[2].ToolCalls[0].Function.Arguments != `{"path":"a.go"}` {
		t.Errorf("arguments = %s", msgs[2].ToolCalls[0].Function.Arguments)
	}
	if msgs[4].ToolCallID != "t2" || msgs[4].Content != "{}" {
		t.Errorf("empty tool result = %+v", msgs[4])
	}
	for _, m := range msgs {
		if m.ToolCallID == "orphan" {
			t.Errorf("orphan tool result should be dropped")
		}
	}
}

func TestOpenAIChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"c1","object":"chat.completion","model":"m",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"",
				"tool_calls":[
					{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.go\"}"}},
					{"id":"call_2","type":"function","function":{"name":"grep","arguments":"{\"pattern\":"}}
				]}}],
			"usage":{"prompt_tokens":120,"completion_tokens":30,"total_tokens":150}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", srv.URL+"/v1")
	schemas := []engine.ToolSchema{{Name: "read_file", Description: "reads", JSONSchema: `{"type":"object"}`}}
	resp, err := client.Chat(context.Background(), "m", []engine.ChatMessage{{Role: engine.RoleUser, Content: "hi"}}, schemas, engine.ChatOptions{MaxOutputTokens: 512})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ToolCalls[0].Args["path"] != "a.go" || resp.ToolCalls[0].Error != "" {
		t.Errorf("first call = %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[1].Error == "" {
		t.Errorf("malformed arguments should be reported on the call")
	}
	if resp.Usage.Total != 150 || resp.Usage.Prompt != 120 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if got["tool_choice"] != "auto" || got["max_tokens"] != float64(512) {
		t.Errorf("request = %v", got)
	}
}

func TestOpenAIChatRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("k", srv.URL).Chat(context.Background(), "m", []engine.ChatMessage{{Role: engine.RoleUser, Content: "hi"}}, nil, engine.ChatOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if engine.ClassifyLLMError(err) != engine.RetryClassRetryable {
		t.Errorf("rate limit should be retryable: %v", err)
	}
}

func TestNewClientFromSettings(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr string
	}{
		{"anthropic", config.LLMConfig{Provider: "anthropic", APIKey: "k"}, ""},
		{"anthropic without key", config.LLMConfig{Provider: "anthropic"}, "ANTHROPIC_API_KEY"},
		{"openai", config.LLMConfig{Provider: "openai", APIKey: "k"}, ""},
		{"groq without key", config.LLMConfig{Provider: "groq"}, "GROQ_API_KEY"},
		{"ollama without key", config.LLMConfig{Provider: "ollama"}, ""},
		{"lmstudio custom url", config.LLMConfig{Provider: "lmstudio", BaseURL: "http://box:1234/v1"}, ""},
		{"unknown", config.LLMConfig{Provider: "cohere", APIKey: "k"}, "unknown llm provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClientFromSettings(tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || client == nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
