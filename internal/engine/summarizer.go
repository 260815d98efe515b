package engine

import (
	"strings"
)

// Truncate shortens s to at most n runes, marking the cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// Summarize renders a compact, deterministic digest of a finished loop: the
// tools that succeeded and the answer, cut to max runes.
func Summarize(st *State, max int) string {
	var b strings.Builder
	if len(st.Chain) > 0 {
		b.WriteString("tools: ")
		for i, c := range st.Chain {
			if i > 0 {
				b.WriteString(" -> ")
			}
			b.WriteString(c.Tool)
		}
		b.WriteString("\n")
	}
	answer := strings.TrimSpace(st.Answer)
	if answer == "" && st.LastError != nil {
		answer = "error: " + st.LastError.Error()
	}
	b.WriteString(answer)
	return Truncate(b.String(), max)
}

// RenderTranscript flattens history as "[role] content" blocks.
func RenderTranscript(ms []ChatMessage) string {
	var b strings.Builder
	for _, m := range ms {
		b.WriteString("[" + string(m.Role) + "] ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}
