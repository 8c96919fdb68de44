// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")

	urlRegex = regexp.MustCompile(`https?://[^\s"'<>\x60\)\]]+`)
)

// ParseJSONResponse parses a model reply into T. It tolerates replies wrapped in
// markdown fences or surrounded by conversational text. Failures wrap
// schemas.ErrMalformedReasoningResponse.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, fmt.Errorf("%w: empty response", schemas.ErrMalformedReasoningResponse)
	}
	jsonStringToParse := extractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(jsonStringToParse), &result); err != nil {
		return nil, fmt.Errorf("%w: %v. Extracted JSON (truncated): %s",
			schemas.ErrMalformedReasoningResponse, err, Truncate(jsonStringToParse, 500))
	}
	return &result, nil
}

func extractJSON(response string) string {
	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	// 1. Markdown wrapping.
	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1]
		}
		return response
	}

	// 2. Structure embedded in conversational text.
	if (isObject || isArray) && !strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "[") {
		if isObject {
			fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}")
			if fb != -1 && lb > fb {
				return response[fb : lb+1]
			}
		}
		if isArray {
			fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]")
			if fb != -1 && lb > fb {
				return response[fb : lb+1]
			}
		}
	}
	return response
}

// LastURL returns the URL on the last line of the response that contains one.
// Models asked to "end with the chosen URL" usually do so on the final line.
func LastURL(response string) (string, bool) {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		matches := urlRegex.FindAllString(lines[i], -1)
		if len(matches) > 0 {
			return strings.TrimRight(matches[len(matches)-1], ".,;:!?"), true
		}
	}
	return "", false
}

// Truncate shortens s to at most maxLen bytes without splitting a rune.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
