// Package reasoning holds the think tool, a scratchpad the model can use to
// state its approach before acting.
package reasoning

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

// NewThinkTool creates the think tool. Notes go to logger; a nil logger
// discards them.
func NewThinkTool(logger *log.Logger) engine.Tool {
	return engine.Tool{
		Name: "think",
		Description: "Record your reasoning before acting: the approach, the files involved, and why. " +
			"Has no effect on the repository.",
		SchemaJSON: `{"type":"object","properties":{
			"reasoning":{"type":"string","minLength":1,"description":"What you understand, what you will do, and why"}
		},"required":["reasoning"],"additionalProperties":false}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			r, _ := args["reasoning"].(string)
			if strings.TrimSpace(r) == "" {
				return "", fmt.Errorf("reasoning cannot be empty")
			}
			if logger != nil {
				logger.Printf("think: %s", r)
			}
			return `{"status":"noted"}`, nil
		},
		SideEffect: engine.ReadOnly,
		Retryable:  true,
		Category:   "meta",
		Footprint:  func(map[string]any) []string { return nil },
	}
}
