package engine

import (
	"fmt"
	"strings"
)

const (
	defaultKeepToolCycles = 12
	defaultMaxObservation = 20000
)

// toolCycle is an assistant message with tool calls plus its results, or a
// single message outside any tool exchange.
type toolCycle struct {
	msgs []ChatMessage
	step int
}

// compactHistory returns the messages sent to the oracle. The system prompt
// and the task message are always kept. The last keep tool cycles are sent
// verbatim and older ones collapse into a one-line-per-call summary folded
// into the task message. Oversized observations keep their head and tail.
// keep < 0 disables summarizing; maxObs <= 0 disables truncation.
func compactHistory(history []ChatMessage, keep, maxObs int) []ChatMessage {
	head, rest := splitHead(history)
	cycles := groupCycles(rest)

	out := append([]ChatMessage(nil), head...)
	if keep >= 0 && len(cycles) > keep && len(head) > 0 {
		old, recent := cycles[:len(cycles)-keep], cycles[len(cycles)-keep:]
		task := &out[len(out)-1]
		task.Content += fmt.Sprintf("\n\n[HISTORY SUMMARY]\nEarlier tool calls (%d cycles):\n%s\n[/HISTORY SUMMARY]",
			len(old), summarizeCycles(old))
		// Two user turns in a row are rejected by some providers.
		if len(recent) > 0 && len(recent[0].msgs) == 1 && recent[0].msgs[0].Role == RoleUser {
			task.Content += "\n\n" + recent[0].msgs[0].Content
			recent = recent[1:]
		}
		cycles = recent
	}
	for _, c := range cycles {
		for _, m := range c.msgs {
			if m.Role == RoleTool {
				m.Content = clipObservation(m.Content, maxObs)
			}
			out = append(out, m)
		}
	}
	return out
}

// splitHead separates the leading system message and the first user message.
func splitHead(history []ChatMessage) (head, rest []ChatMessage) {
	i := 0
	if i < len(history) && history[i].Role == RoleSystem {
		i++
	}
	if i < len(history) && history[i].Role == RoleUser {
		i++
	}
	return history[:i], history[i:]
}

func groupCycles(msgs []ChatMessage) []toolCycle {
	var (
		cycles  []toolCycle
		current []ChatMessage
		step    int
		inTools bool
	)
	flush := func() {
		if len(current) > 0 {
			cycles = append(cycles, toolCycle{msgs: current, step: step})
			current = nil
		}
	}
	for _, m := range msgs {
		switch {
		case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
			flush()
			step++
			inTools = true
			current = []ChatMessage{m}
		case inTools && m.Role == RoleTool:
			current = append(current, m)
		default:
			flush()
			inTools = false
			current = []ChatMessage{m}
		}
	}
	flush()
	return cycles
}

func summarizeCycles(cycles []toolCycle) string {
	var lines []string
	for _, c := range cycles {
		results := make(map[string]string)
		for _, m := range c.msgs {
			if m.Role == RoleTool {
				results[m.Name] = m.Content
			}
		}
		for _, m := range c.msgs {
			for _, tc := range m.ToolCalls {
				lines = append(lines, fmt.Sprintf("- step %d: %s", c.step, summarizeCall(tc, results[tc.ID])))
			}
		}
	}
	return strings.Join(lines, "\n")
}

// summarizeCall renders one call as "name(subject) -> outcome".
func summarizeCall(tc ToolCall, observation string) string {
	subject := ""
	for _, key := range []string{"path", "cmd", "pattern"} {
		if v, ok := tc.Args[key].(string); ok && v != "" {
			subject = Truncate(v, 60)
			break
		}
	}
	outcome := fmt.Sprintf("ok, %d bytes", len(observation))
	if strings.HasPrefix(observation, "ERROR: ") {
		first, _, _ := strings.Cut(strings.TrimPrefix(observation, "ERROR: "), "\n")
		outcome = "failed: " + Truncate(first, 80)
	}
	return fmt.Sprintf("%s(%s) -> %s", tc.Name, subject, outcome)
}

func clipObservation(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	half := max / 2
	return s[:half] + fmt.Sprintf("\n... [%d bytes omitted] ...\n", len(s)-2*half) + s[len(s)-half:]
}
