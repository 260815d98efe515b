package prompts

import "strings"

// Compose renders the latest id prompt and appends each non-empty fragment
// as its own paragraph.
func Compose(id string, vars map[string]string, fragments ...string) string {
	parts := []string{MustRender(id, vars)}
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Render replaces {{key}} placeholders. Unknown placeholders are left as is.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
