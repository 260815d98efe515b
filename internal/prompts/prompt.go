package prompts

// PromptVersion represents a version identifier for prompts.
type PromptVersion string

const (
	PromptV1 PromptVersion = "1.0.0"
)

// Prompt IDs registered by this package.
const (
	IDExecutor = "executor"
	IDRouter   = "router"
	IDPlanner  = "planner"
	IDReplan   = "replan"
	IDRubric   = "rubric"
	IDStep     = "step"
)

// Prompt represents a versioned prompt with metadata.
type Prompt struct {
	ID          string        // Unique identifier (e.g., "executor", "planner")
	Version     PromptVersion // Version of this prompt
	Content     string        // The prompt text, with {{var}} placeholders
	Description string
	Tags        []string
	Deprecated  bool
}
