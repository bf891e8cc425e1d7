package dialogue

import (
	"regexp"

	"ai-talker/internal/domain"
)

var placeholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Placeholders lists the distinct field names a template refers to, in order
// of first appearance.
func Placeholders(template string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholderRE.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Substitute replaces every {name} with values[name]. Names without a value
// become the empty string. Anything that is not a well-formed placeholder,
// such as "{ }" or a lone brace, is kept as literal text.
func Substitute(template string, values map[string]string) string {
	return placeholderRE.ReplaceAllStringFunc(template, func(m string) string {
		return values[m[1:len(m)-1]]
	})
}

// Render builds the model request for a step: the filled-in template as the
// single leading system message, followed by the window turns in order.
func Render(step domain.Step, values map[string]string, window []domain.Turn) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(window)+1)
	msgs = append(msgs, domain.ChatMessage{Role: domain.ChatRoleSystem, Content: Substitute(step.Template, values)})
	for _, t := range window {
		msgs = append(msgs, domain.ChatMessage{Role: t.Role.ChatRole(), Content: t.Content})
	}
	return msgs
}
