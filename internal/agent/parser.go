package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"hkbot/internal/domain"
)

// toolCallsInText recovers tool calls a model wrote into its reply text
// instead of the structured tool_calls field, e.g.
//
//	{"name":"get_person","arguments":{"type":"Plumber"}}
//
// optionally fenced in ```json or surrounded by prose. Returns nil when the
// text holds no call.
func toolCallsInText(content string, step int) []domain.ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if body, ok := unfence(content); ok {
		content = body
	}

	if calls := decodeToolCalls(content, step); len(calls) > 0 {
		return calls
	}
	if start, end := jsonSpan(content); start >= 0 {
		return decodeToolCalls(content[start:end], step)
	}
	return nil
}

func unfence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return s, false
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 || !strings.HasPrefix(lines[len(lines)-1], "```") {
		return s, false
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n")), true
}

// jsonSpan returns the bounds of the first balanced JSON object or array in
// s, or -1, -1.
func jsonSpan(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}
	open, close := s[start], byte('}')
	if open == '[' {
		close = ']'
	}

	depth, inStr := 0, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch c {
			case '\\':
				i++
			case '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case open:
			depth++
		case close:
			if depth--; depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

type textToolCall struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Parameters map[string]any `json:"parameters"`
}

func decodeToolCalls(raw string, step int) []domain.ToolCall {
	var list []textToolCall
	var one textToolCall
	switch {
	case unmarshalLenient(raw, &one) && one.Name != "":
		list = []textToolCall{one}
	case unmarshalLenient(raw, &list):
	default:
		return nil
	}

	var calls []domain.ToolCall
	for i, c := range list {
		if c.Name == "" {
			continue
		}
		args := c.Arguments
		if args == nil {
			args = c.Parameters
		}
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, domain.ToolCall{
			ID:        fmt.Sprintf("text_%d_%d", step, i),
			Name:      canonicalToolName(c.Name),
			Arguments: args,
		})
	}
	return calls
}

// unmarshalLenient retries once with invalid escape sequences removed.
func unmarshalLenient(raw string, v any) bool {
	if json.Unmarshal([]byte(raw), v) == nil {
		return true
	}
	return json.Unmarshal([]byte(dropBadEscapes(raw)), v) == nil
}

// canonicalToolName maps spellings like "get-person" or "GetPerson" onto
// the registered snake_case name.
func canonicalToolName(name string) string {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(name))
	for _, t := range allTools {
		if strings.ReplaceAll(t, "_", "") == key {
			return t
		}
	}
	return name
}

// stripRolePrefix removes a leaked "assistant:" style prefix from a reply.
func stripRolePrefix(s string) string {
	for _, p := range []string{"assistant:", "assistant\n"} {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			return strings.TrimSpace(s[len(p):])
		}
	}
	return s
}

// dropBadEscapes removes backslashes that do not start a valid JSON escape.
func dropBadEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && (i == 0 || s[i-1] != '\\') {
			inStr = !inStr
		}
		if inStr && c == '\\' && i+1 < len(s) {
			if !strings.ContainsRune(`"\/bfnrtu`, rune(s[i+1])) {
				continue
			}
			b.WriteByte(c)
			i++
			b.WriteByte(s[i])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
