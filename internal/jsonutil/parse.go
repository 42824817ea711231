// Package jsonutil extracts and parses the single JSON object an oracle reply
// is expected to embed. Replies may wrap the object in markdown code fences or
// surround it with prose.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrNoObject is returned when the text contains no brace-delimited region.
var ErrNoObject = errors.New("no JSON object found")

// StripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
// Returns the content between the fences, or the original text if no fences are found.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}

	// An unclosed fence keeps everything after the opener.
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}

	return strings.Join(lines[1:endIdx], "\n")
}

// ExtractObject returns the substring spanning the first '{' through the last
// '}' in text. Nothing between them is inspected, so braces inside string
// literals are carried along untouched and stray braces in trailing prose
// widen the span.
func ExtractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", ErrNoObject
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("%w: no closing brace after offset %d", ErrNoObject, start)
	}
	return text[start : end+1], nil
}

// ParseJSON strips markdown fences from raw oracle text, extracts the embedded
// object and unmarshals it into T.
func ParseJSON[T any](raw string) (T, error) {
	var zero T

	objText, err := ExtractObject(StripMarkdownFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var result T
	if err := json.Unmarshal([]byte(objText), &result); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(objText, 200))
	}
	return result, nil
}

// Preview truncates s to at most n bytes for log and error messages, backing
// off so a multi-byte rune is never split.
func Preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
