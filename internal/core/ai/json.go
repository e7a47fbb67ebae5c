package ai

import (
	"fmt"
	"strings"
)

// ExtractJSONObject finds the outermost {...} block in a completion, even
// when the model wrapped it in prose or markdown fences.
func ExtractJSONObject(content string) (string, error) {
	return extractBetween(content, '{', '}')
}

// ExtractJSONArray finds the outermost [...] block in a completion.
func ExtractJSONArray(content string) (string, error) {
	return extractBetween(content, '[', ']')
}

func extractBetween(content string, open, close byte) (string, error) {
	content = strings.TrimSpace(content)

	start := strings.IndexByte(content, open)
	end := strings.LastIndexByte(content, close)

	if start == -1 || end == -1 || start >= end {
		return "", fmt.Errorf("no valid JSON found in response: %s", content)
	}

	return content[start : end+1], nil
}
