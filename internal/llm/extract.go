package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// ExtractJSON recovers the first JSON object embedded in a model completion.
// The cascade trusts well-formed output first and degrades to best-effort
// recovery: strip a surrounding code fence, try a direct parse, then scan
// for the first balanced brace span with line comments removed. Malformed
// output yields an empty map, never an error; callers must tolerate zero
// extracted fields.
func ExtractJSON(raw string) map[string]any {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj
	}

	span := firstBraceSpan(text)
	if span != "" {
		cleaned := stripLineComments(span)
		obj = nil
		if err := json.Unmarshal([]byte(cleaned), &obj); err == nil && obj != nil {
			return obj
		}
	}

	return map[string]any{}
}

// firstBraceSpan returns the first balanced {...} span, tracking string
// literals so braces inside them don't affect the depth count.
func firstBraceSpan(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// stripLineComments removes // comments that some models emit inside JSON.
// Comments inside string literals are left alone.
func stripLineComments(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		inString := false
		escaped := false
		cut := len(line)
		for i := 0; i < len(line); i++ {
			ch := line[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			if ch == '"' {
				inString = true
				continue
			}
			if ch == '/' && i+1 < len(line) && line[i+1] == '/' {
				cut = i
				break
			}
		}
		b.WriteString(line[:cut])
		b.WriteByte('\n')
	}
	return b.String()
}
