package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseObject decodes a JSON object from model output, tolerating code
// fences and prose around it.
func ParseObject(output string) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &obj); err == nil {
		return obj, nil
	}

	extracted := ExtractJSON(output)
	if extracted == "" {
		return nil, fmt.Errorf("no JSON object found in output")
	}
	if err := json.Unmarshal([]byte(extracted), &obj); err != nil {
		return nil, fmt.Errorf("decoding extracted JSON: %w", err)
	}
	return obj, nil
}

// ExtractJSON returns the first balanced JSON object in output, or "".
func ExtractJSON(output string) string {
	start := strings.Index(output, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(output); i++ {
		c := output[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return output[start : i+1]
			}
		}
	}
	return ""
}
