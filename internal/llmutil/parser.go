// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")

	// codeBlockRegex extracts content wrapped in markdown, supporting any language tag.
	codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*[ \\t]*\\n?(.*?)\\s*\x60\x60\x60")

	// objectArrayRegex finds the first array of objects embedded in prose.
	objectArrayRegex = regexp.MustCompile(`(?s)\[\s*\{.*?\}\s*\]`)

	// bracketListRegex finds the first bracketed span.
	bracketListRegex = regexp.MustCompile(`\[([^\]]+)\]`)
)

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It handles common LLM formatting issues, such as wrapping the JSON in markdown code blocks.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	jsonStringToParse := response

	// Heuristically determine if the content is likely an object or array.
	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	// 1. Handle markdown wrapping (most common case).
	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			jsonStringToParse = matches[1]
		}
	} else if (isObject || isArray) && (!strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "[")) {
		// 2. Attempt to find the structure within conversational text.
		first, last := -1, -1
		if isObject {
			fb := strings.Index(response, "{")
			lb := strings.LastIndex(response, "}")
			if fb != -1 && lb > fb {
				first, last = fb, lb+1
			}
		}
		if first == -1 && isArray {
			fb := strings.Index(response, "[")
			lb := strings.LastIndex(response, "]")
			if fb != -1 && lb > fb {
				first, last = fb, lb+1
			}
		}
		if first != -1 {
			jsonStringToParse = response[first:last]
		}
	}

	// 3. Unmarshal
	var result T
	if err := json.Unmarshal([]byte(jsonStringToParse), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(jsonStringToParse, 500))
	}
	return &result, nil
}

// ExtractObjectArray returns the first `[ { ... } ]` span in text.
func ExtractObjectArray(text string) (string, bool) {
	m := objectArrayRegex.FindString(text)
	return m, m != ""
}

// ParseLenient decodes literal-ish structured text that is not strict JSON:
// single-quoted strings, unquoted keys, trailing commas and capitalised
// booleans. The text is parsed as a YAML flow collection, of which JSON is a
// subset.
func ParseLenient[T any](text string) (*T, error) {
	var result T
	if err := yaml.Unmarshal([]byte(normalizeLiterals(text)), &result); err != nil {
		return nil, fmt.Errorf("failed to parse literal response: %w. Input (truncated): %s", err, truncateString(text, 500))
	}
	return &result, nil
}

// normalizeLiterals maps None to null outside of quoted strings. True and
// False already resolve as booleans in YAML.
func normalizeLiterals(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == '\\' && quote == '"' && i+1 < len(text) {
				b.WriteByte(c)
				i++
				b.WriteByte(text[i])
				continue
			}
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case strings.HasPrefix(text[i:], "None") && isBoundary(text, i-1) && isBoundary(text, i+4):
			b.WriteString("null")
			i += 3
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isBoundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9')
}

// ExtractBracketList splits the first bracketed span on commas, trimming
// whitespace and then surrounding quote characters from each token. Empty
// tokens are dropped. Text without brackets yields nil.
func ExtractBracketList(text string) []string {
	m := bracketListRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(m[1], ",") {
		tok = strings.Trim(strings.TrimSpace(tok), "\"'`")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// NonEmptyLines returns the trimmed, non-empty lines of text.
func NonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// CleanCodeOutput removes markdown fences (```js, ```javascript, bare ```) from generated code.
func CleanCodeOutput(content string) string {
	content = strings.TrimSpace(content)
	if strings.Contains(content, "```") {
		if matches := codeBlockRegex.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
		return strings.TrimSpace(strings.ReplaceAll(content, "```", ""))
	}
	return content
}

// Truncate shortens s to at most maxLen bytes, appending an ellipsis when cut.
func Truncate(s string, maxLen int) string {
	return truncateString(s, maxLen)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	// Simple truncation; does not account for rune boundaries but sufficient for prompts and logs.
	return s[:maxLen] + "..."
}
