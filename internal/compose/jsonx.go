package compose

import (
	"encoding/json"
	"regexp"
	"strings"
)

var codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

var trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)

// ExtractJSONObject returns the first balanced JSON object in s, found
// with a brace-depth scan that respects string literals. Code fences are
// stripped first.
func ExtractJSONObject(s string) (string, bool) {
	if m := codeFenceRegex.FindStringSubmatch(s); m != nil {
		s = m[1]
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// LenientUnmarshal parses strict JSON first, then retries with trailing
// commas removed. Models frequently emit them.
func LenientUnmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err == nil {
		return nil
	}
	relaxed := trailingCommaRegex.ReplaceAll(data, []byte("$1"))
	return json.Unmarshal(relaxed, v)
}

// ParseAnswerJSON extracts and parses the first JSON object from a model
// answer. The second return is false when no parseable object exists and
// the answer should pass through as prose.
func ParseAnswerJSON(answer string) (map[string]interface{}, bool) {
	raw, ok := ExtractJSONObject(answer)
	if !ok {
		return nil, false
	}
	var parsed map[string]interface{}
	if err := LenientUnmarshal([]byte(raw), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}
