// Package providers adapts oracle SDKs to engine.LLMClient.
package providers

import (
	"fmt"

	"github.com/ChamsBouzaiene/forge/internal/config"
	"github.com/ChamsBouzaiene/forge/internal/engine"
)

// Default endpoints of the OpenAI-compatible providers.
var compatibleBaseURLs = map[string]string{
	"openai":   "",
	"deepseek": "https://api.deepseek.com/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"gemini":   "https://generativelanguage.googleapis.com/v1beta/openai",
	"ollama":   "http://localhost:11434/v1",
	"lmstudio": "http://localhost:1234/v1",
}

// local providers accept any key.
var localProviders = map[string]string{
	"ollama":   "ollama",
	"lmstudio": "lm-studio",
}

// NewClientFromSettings creates the client for cfg.Provider.
func NewClientFromSettings(cfg config.LLMConfig) (engine.LLMClient, error) {
	if cfg.Provider == "anthropic" {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %s not set", config.APIKeyEnv("anthropic"))
		}
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL), nil
	}

	baseURL, ok := compatibleBaseURLs[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (supported: anthropic, openai, deepseek, groq, gemini, ollama, lmstudio)", cfg.Provider)
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	key := cfg.APIKey
	if key == "" {
		key = localProviders[cfg.Provider]
	}
	if key == "" {
		return nil, fmt.Errorf("%s: %s not set", cfg.Provider, config.APIKeyEnv(cfg.Provider))
	}
	return NewOpenAIClient(key, baseURL), nil
}
