// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/forge/internal/budget"
	"github.com/ChamsBouzaiene/forge/internal/sandbox"
)

// Settings is the complete configuration.
type Settings struct {
	DataDir      string             `yaml:"data_dir"` // relative paths resolve against the repository
	LLM          LLMConfig          `yaml:"llm"`
	Router       RouterConfig       `yaml:"router"`
	Planner      PlannerConfig      `yaml:"planner"`
	Tools        ToolsConfig        `yaml:"tools"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Cache        CacheConfig        `yaml:"cache"`
	Verification VerificationConfig `yaml:"verification"`
	Cost         CostConfig         `yaml:"cost"`
	Memory       MemoryConfig       `yaml:"memory"`
	Trace        TraceConfig        `yaml:"trace"`
}

// LLMConfig contains oracle provider settings.
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // anthropic, openai, ollama, deepseek, groq, gemini, lmstudio
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key,omitempty"`
	BaseURL           string        `yaml:"base_url,omitempty"` // custom OpenAI-compatible endpoint
	MaxToolIterations int           `yaml:"max_tool_iterations"`
	MaxToolFailures   int           `yaml:"max_tool_failures"`
	OracleTimeout     time.Duration `yaml:"oracle_timeout"`
	MaxOutputTokens   int           `yaml:"max_output_tokens"`
	Temperature       float32       `yaml:"temperature"`
}

// RouterConfig contains complexity routing thresholds.
type RouterConfig struct {
	ComplexityThreshold float64       `yaml:"complexity_threshold"`
	BorderlineBand      float64       `yaml:"borderline_band"`
	OracleTimeout       time.Duration `yaml:"oracle_timeout"`
}

type PlannerConfig struct {
	MaxPlanSteps        int `yaml:"max_plan_steps"`
	ReplanAfterFailures int `yaml:"replan_after_failures"`
	DecomposeAttempts   int `yaml:"decompose_attempts"`
	DigestCharsPerStep  int `yaml:"digest_chars_per_step"`
	DigestMaxChars      int `yaml:"digest_max_chars"`
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	ShellTimeout    time.Duration `yaml:"shell_timeout"`
	AllowedCommands []string      `yaml:"allowed_commands"`
	IgnorePatterns  []string      `yaml:"ignore_patterns"`
	MaxOutputLines  int           `yaml:"max_output_lines"`
}

type SandboxConfig struct {
	Mode    string  `yaml:"mode"` // auto, docker or host
	Image   string  `yaml:"image,omitempty"`
	CPU     float64 `yaml:"cpu"`
	Memory  string  `yaml:"memory"`
	Network bool    `yaml:"network"`
}

type CacheConfig struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxEntries          int     `yaml:"max_entries"`
	Embedder            string  `yaml:"embedder"` // hash or openai
	EmbeddingModel      string  `yaml:"embedding_model,omitempty"`
	EmbeddingDim        int     `yaml:"embedding_dim"`
}

// VerificationConfig toggles the stages run after each completed loop.
type VerificationConfig struct {
	SyntaxCheck   bool          `yaml:"syntax_check"`
	RunLint       bool          `yaml:"run_lint"`
	RunTests      bool          `yaml:"run_tests"`
	RubricEnabled bool          `yaml:"rubric_enabled"`
	MaxAttempts   int           `yaml:"max_attempts"`
	LintCommand   string        `yaml:"lint_command,omitempty"` // overrides the per-project default
	TestCommand   string        `yaml:"test_command,omitempty"`
	StageTimeout  time.Duration `yaml:"stage_timeout"`
}

type CostConfig struct {
	BudgetPerTask float64        `yaml:"budget_per_task"` // USD; 0 disables the cap
	WarnRatio     float64        `yaml:"warn_ratio"`
	Pricing       budget.Pricing `yaml:"pricing,omitempty"` // merged over the built-in table
}

type MemoryConfig struct {
	Enabled                bool `yaml:"enabled"`
	ConsolidationThreshold int  `yaml:"consolidation_threshold"`
	RecallLimit            int  `yaml:"recall_limit"`
	MaxWorkingItems        int  `yaml:"max_working_items"` // 0 disables working memory
}

// TraceConfig controls trace files and OpenTelemetry export. Otel exports
// spans over OTLP/HTTP to OtelEndpoint, a collector URL such as
// http://localhost:4318; an empty endpoint defers to OTEL_EXPORTER_OTLP_*.
type TraceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	LogDir       string `yaml:"log_dir"` // relative to data_dir
	Otel         bool   `yaml:"otel"`
	OtelEndpoint string `yaml:"otel_endpoint"`
}

// Default returns the stock configuration.
func Default() *Settings {
	return &Settings{
		DataDir: ".forge",
		LLM: LLMConfig{
			Provider:          "anthropic",
			Model:             "claude-sonnet-4-20250514",
			MaxToolIterations: 25,
			MaxToolFailures:   3,
			OracleTimeout:     120 * time.Second,
			MaxOutputTokens:   4096,
		},
		Router: RouterConfig{
			ComplexityThreshold: 0.6,
			BorderlineBand:      0.1,
			OracleTimeout:       10 * time.Second,
		},
		Planner: PlannerConfig{
			MaxPlanSteps:        10,
			ReplanAfterFailures: 2,
			DecomposeAttempts:   3,
			DigestCharsPerStep:  400,
			DigestMaxChars:      2000,
		},
		Tools: ToolsConfig{
			ShellTimeout:   30 * time.Second,
			MaxOutputLines: 40,
		},
		Sandbox: SandboxConfig{
			Mode:   string(sandbox.ModeAuto),
			CPU:    2,
			Memory: "1g",
		},
		Cache: CacheConfig{
			Enabled:             true,
			SimilarityThreshold: 0.85,
			MaxEntries:          1000,
			Embedder:            "hash",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDim:        256,
		},
		Verification: VerificationConfig{
			SyntaxCheck:   true,
			RunLint:       true,
			RunTests:      true,
			RubricEnabled: false,
			MaxAttempts:   3,
			StageTimeout:  5 * time.Minute,
		},
		Cost: CostConfig{
			BudgetPerTask: 1.0,
			WarnRatio:     0.8,
		},
		Memory: MemoryConfig{
			Enabled:                true,
			ConsolidationThreshold: 5,
			RecallLimit:            3,
			MaxWorkingItems:        20,
		},
		Trace: TraceConfig{
			Enabled: true,
			LogDir:  "traces",
		},
	}
}

// Load reads the defaults, then the YAML file at path (skipped when path is
// empty), then environment overrides. The result is validated.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := s.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("FORGE_PROVIDER", &s.LLM.Provider)
	str("FORGE_MODEL", &s.LLM.Model)
	str("FORGE_SANDBOX_MODE", &s.Sandbox.Mode)
	str("FORGE_DATA_DIR", &s.DataDir)

	if v, ok := lookup("FORGE_BUDGET"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FORGE_BUDGET %q: %w", v, err)
		}
		s.Cost.BudgetPerTask = f
	}
	if v, ok := lookup("FORGE_CMD_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FORGE_CMD_TIMEOUT %q: %w", v, err)
		}
		s.Tools.ShellTimeout = d
	}
	if s.LLM.APIKey == "" {
		if env := APIKeyEnv(s.LLM.Provider); env != "" {
			str(env, &s.LLM.APIKey)
		}
	}
	return nil
}

// APIKeyEnv returns the environment variable holding a provider's key.
func APIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "deepseek":
		return "DEEPSEEK_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// Validate rejects out-of-range values.
func (s *Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(s.LLM.Model != "", "llm.model is required")
	check(s.LLM.MaxToolIterations > 0, "llm.max_tool_iterations must be positive, got %d", s.LLM.MaxToolIterations)
	check(s.LLM.MaxToolFailures > 0, "llm.max_tool_failures must be positive, got %d", s.LLM.MaxToolFailures)
	check(s.LLM.Temperature >= 0 && s.LLM.Temperature <= 2, "llm.temperature must be in [0, 2], got %g", s.LLM.Temperature)
	check(inUnit(s.Router.ComplexityThreshold), "router.complexity_threshold must be in [0, 1], got %g", s.Router.ComplexityThreshold)
	check(s.Router.BorderlineBand >= 0 && s.Router.BorderlineBand < 0.5, "router.borderline_band must be in [0, 0.5), got %g", s.Router.BorderlineBand)
	check(s.Planner.MaxPlanSteps > 0, "planner.max_plan_steps must be positive, got %d", s.Planner.MaxPlanSteps)
	check(s.Planner.ReplanAfterFailures > 0, "planner.replan_after_failures must be positive, got %d", s.Planner.ReplanAfterFailures)
	check(s.Planner.DecomposeAttempts > 0, "planner.decompose_attempts must be positive, got %d", s.Planner.DecomposeAttempts)
	check(s.Tools.ShellTimeout > 0, "tools.shell_timeout must be positive, got %s", s.Tools.ShellTimeout)
	check(inUnit(s.Cache.SimilarityThreshold) && s.Cache.SimilarityThreshold > 0, "cache.similarity_threshold must be in (0, 1], got %g", s.Cache.SimilarityThreshold)
	check(s.Cache.MaxEntries > 0, "cache.max_entries must be positive, got %d", s.Cache.MaxEntries)
	check(s.Cache.Embedder == "hash" || s.Cache.Embedder == "openai", "cache.embedder must be hash or openai, got %q", s.Cache.Embedder)
	check(s.Cache.EmbeddingDim > 0, "cache.embedding_dim must be positive, got %d", s.Cache.EmbeddingDim)
	check(s.Verification.MaxAttempts > 0, "verification.max_attempts must be positive, got %d", s.Verification.MaxAttempts)
	check(s.Cost.BudgetPerTask >= 0, "cost.budget_per_task must not be negative, got %g", s.Cost.BudgetPerTask)
	check(inUnit(s.Cost.WarnRatio), "cost.warn_ratio must be in [0, 1], got %g", s.Cost.WarnRatio)
	check(s.Memory.ConsolidationThreshold > 0, "memory.consolidation_threshold must be positive, got %d", s.Memory.ConsolidationThreshold)
	check(s.Memory.MaxWorkingItems >= 0, "memory.max_working_items must not be negative, got %d", s.Memory.MaxWorkingItems)
	if _, err := sandbox.ParseMode(s.Sandbox.Mode); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func inUnit(f float64) bool { return f >= 0 && f <= 1 }

// DataPath resolves name under the data directory of repo.
func (s *Settings) DataPath(repo string, name ...string) string {
	dir := s.DataDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repo, dir)
	}
	return filepath.Join(append([]string{dir}, name...)...)
}

// SandboxSettings converts the sandbox section.
func (s *Settings) SandboxSettings() sandbox.Config {
	mode, _ := sandbox.ParseMode(s.Sandbox.Mode)
	return sandbox.Config{
		Mode:        mode,
		DockerImage: s.Sandbox.Image,
		CPU:         s.Sandbox.CPU,
		Memory:      s.Sandbox.Memory,
		CmdTimeout:  s.Tools.ShellTimeout,
		Network:     s.Sandbox.Network,
	}
}

// PricingTable returns the built-in prices overlaid with the configured ones.
func (s *Settings) PricingTable() budget.Pricing {
	p := budget.DefaultPricing()
	for model, price := range s.Cost.Pricing {
		p[model] = price
	}
	return p
}

// Redacted returns a copy safe to print.
func (s *Settings) Redacted() *Settings {
	c := *s
	if c.LLM.APIKey != "" {
		c.LLM.APIKey = redact(c.LLM.APIKey)
	}
	return &c
}

func redact(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", 4) + key[len(key)-4:]
}

// YAML renders the settings.
func (s *Settings) YAML() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
