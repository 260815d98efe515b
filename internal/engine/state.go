package engine

import "sync"

// LoopStatus is the state of one execution loop.
type LoopStatus string

const (
	StatusIdle              LoopStatus = "idle"
	StatusAwaitingReasoning LoopStatus = "awaiting_reasoning"
	StatusExecutingTools    LoopStatus = "executing_tools"
	StatusCompleted         LoopStatus = "completed"
	StatusFailed            LoopStatus = "failed"
	StatusAborted           LoopStatus = "aborted"
)

// Terminal reports whether no further transition is allowed.
func (s LoopStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// ChainStep is one successful tool call, in the form stored by the cache.
type ChainStep struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type State struct {
	TaskID        string
	History       []ChatMessage // Conversation history
	Iteration     int           // Reasoning calls made so far
	Status        LoopStatus
	Model         string
	MaxIterations int
	Totals        Usage // Accumulated token usage across all calls

	Answer    string      // Final assistant content once Completed
	Chain     []ChainStep // Successful tool calls in order
	Results   []ToolResult
	LastError error

	FailureCounts map[string]int // Consecutive execution failures per tool

	// Workspace serializes mutating and process-spawning work for one task.
	// Verification stages share it.
	Workspace *sync.Mutex
}

// NewState creates an Idle state seeded with the system prompt and the task.
func NewState(taskID, system, task string) *State {
	st := &State{
		TaskID:        taskID,
		Status:        StatusIdle,
		FailureCounts: make(map[string]int),
		Workspace:     &sync.Mutex{},
	}
	if system != "" {
		st.Append(ChatMessage{Role: RoleSystem, Content: system})
	}
	st.Append(ChatMessage{Role: RoleUser, Content: task})
	return st
}

func (s *State) Append(msg ChatMessage) { s.History = append(s.History, msg) }

// ChangedPaths returns the "path" argument of every successful mutating call, deduplicated.
func (s *State) ChangedPaths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.Results {
		if !r.Success || r.SideEffect != Mutating {
			continue
		}
		p, _ := r.Args["path"].(string)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
