// Package agent implements the four LLM-prompted reasoning roles (Planner,
// Reasoner, Evaluator, Summarizer) and the Orchestrator that drives the
// ReAct loop across them.
package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractJSON pulls a JSON object out of model output that may be a fenced
// code block, bare JSON, or JSON with trailing line comments. It is the one
// parsing pipeline shared by Planner, Evaluator, and Summarizer: try a
// fenced block first, else the raw trimmed text; on decode failure strip
// `//`-style line comments and retry once; return ok=false only after both
// attempts fail.
func extractJSON(content string, out any) bool {
	candidate := content
	if m := fencedJSON.FindStringSubmatch(content); len(m) == 2 {
		candidate = m[1]
	}
	candidate = strings.TrimSpace(candidate)

	if json.Unmarshal([]byte(candidate), out) == nil {
		return true
	}

	stripped := stripLineComments(candidate)
	return json.Unmarshal([]byte(stripped), out) == nil
}

var lineCommentPattern = regexp.MustCompile(`(?m)//[^\n]*$`)

func stripLineComments(s string) string {
	return lineCommentPattern.ReplaceAllString(s, "")
}

// containsAny reports whether text contains any of the given keywords,
// case-insensitively.
func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
