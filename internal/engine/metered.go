package engine

import (
	"context"
	"sync"

	"github.com/ChamsBouzaiene/forge/internal/budget"
)

// MeteredClient gates every reasoning call on the task's ledger. The
// projected cost is the estimated prompt plus the full output allowance, so
// a call that passes the pre-check cannot cross the cap unless the provider
// exceeds its own output limit.
type MeteredClient struct {
	Inner  LLMClient
	Ledger *budget.Ledger
	// DefaultMaxOutput is used for projection when a call sets no output cap.
	DefaultMaxOutput int

	mu    sync.Mutex
	calls int
	usage Usage
}

// NewMeteredClient wraps inner with ledger enforcement.
func NewMeteredClient(inner LLMClient, ledger *budget.Ledger) *MeteredClient {
	return &MeteredClient{Inner: inner, Ledger: ledger, DefaultMaxOutput: 4096}
}

func (m *MeteredClient) Chat(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (LLMResponse, error) {
	inTokens := EstimateMessages(messages) + EstimateSchemas(toolSchemas)
	outTokens := opts.MaxOutputTokens
	if outTokens <= 0 {
		outTokens = m.DefaultMaxOutput
	}
	if err := m.Ledger.Precheck(model, inTokens, outTokens); err != nil {
		return LLMResponse{}, err
	}

	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	resp, err := m.Inner.Chat(ctx, model, messages, toolSchemas, opts)
	if err != nil {
		return resp, err
	}

	// Providers that do not report usage are charged the estimate.
	usage := resp.Usage
	if usage.Prompt == 0 && usage.Completion == 0 {
		usage.Prompt = inTokens
		usage.Completion = EstimateTokens(resp.Assistant.Content)
		for _, tc := range resp.ToolCalls {
			usage.Completion += EstimateMessages([]ChatMessage{{ToolCalls: []ToolCall{tc}}})
		}
		usage.Total = usage.Prompt + usage.Completion
	}
	m.Ledger.Charge(model, usage.Prompt, usage.Completion)

	m.mu.Lock()
	m.usage = m.usage.Add(usage)
	m.mu.Unlock()
	return resp, nil
}

// Calls returns the number of reasoning calls that passed the pre-check.
func (m *MeteredClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Usage returns the accumulated token usage.
func (m *MeteredClient) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}
