package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/forge/internal/engine"
	"github.com/ChamsBouzaiene/forge/internal/memory"
)

// workingHook keeps the latest result of every tool in working memory.
type workingHook struct {
	engine.NopHook
	mem *memory.Working
}

func (h workingHook) OnToolResult(_ context.Context, _ *engine.State, res engine.ToolResult) {
	out := res.Output
	if !res.Success {
		out = "ERROR: " + res.Error
	}
	h.mem.Set("last_"+res.Name, out)
}

// system is the system prompt of a new loop: the task's prompt plus the
// working memory as it stands now.
func (a *Agent) system(r *run) string {
	if a.Working == nil {
		return r.system
	}
	if wm := a.Working.Context(); wm != "" {
		return r.system + "\n\n" + wm
	}
	return r.system
}

// note records the outcome of a finished task for the next one.
func (a *Agent) note(r *run) {
	if a.Working == nil {
		return
	}
	task := r.task
	a.Working.Set("last_task", fmt.Sprintf("%s (%s)", task.Description, task.Status))
	if len(task.Changed) > 0 {
		a.Working.Set("files_modified", strings.Join(task.Changed, ", "))
	}
}
