// Package reasoning splits raw model output into visible content and the
// optional delimited rationale some models emit ahead of their answer.
package reasoning

import "strings"

const (
	startDelimiter = "<think>"
	endDelimiter   = "</think>"
)

// Extract returns the visible content and the reasoning section of rawText.
// Only the first delimiter pair is honored, and the end delimiter must
// appear after the start delimiter; malformed input is returned unchanged
// as content with empty reasoning. When enabled is false the text always
// passes through untouched.
func Extract(rawText string, enabled bool) (content, reasoningText string) {
	if !enabled {
		return rawText, ""
	}
	start := strings.Index(rawText, startDelimiter)
	if start < 0 {
		return rawText, ""
	}
	end := strings.Index(rawText, endDelimiter)
	if end < start {
		return rawText, ""
	}
	reasoningText = strings.TrimSpace(rawText[start+len(startDelimiter) : end])
	content = strings.TrimSpace(rawText[end+len(endDelimiter):])
	return content, reasoningText
}
