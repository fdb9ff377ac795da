package engine

import (
	"regexp"
	"strings"
)

var (
	fenceRegex    = regexp.MustCompile("(?s)```repl\n(.*?)\n```")
	finalRegex    = regexp.MustCompile(`(?s)FINAL\((.*?)\)`)
	finalVarRegex = regexp.MustCompile(`(?s)FINAL_VAR\((.*?)\)`)
)

// CodeBlocks returns the fenced snippets in a model response, in the
// order they appeared.
func CodeBlocks(text string) []string {
	matches := fenceRegex.FindAllStringSubmatch(text, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, m[1])
	}
	return blocks
}

// StripFences removes fenced code regions so terminal markers inside
// code never count as answers.
func StripFences(text string) string {
	return fenceRegex.ReplaceAllString(text, "")
}

// TerminalKind classifies how a response ended the loop.
type TerminalKind int

const (
	TerminalNone TerminalKind = iota
	// TerminalInline carries the answer text directly.
	TerminalInline
	// TerminalVariable names an environment variable holding the answer.
	TerminalVariable
)

// FindTerminal scans fence-stripped text for a terminal-answer marker.
// Matching is textual, not syntactic: a marker quoted inside prose is
// indistinguishable from a real one, and a payload containing ")" is
// cut at the first closing parenthesis.
func FindTerminal(text string) (TerminalKind, string) {
	stripped := StripFences(text)

	if m := finalVarRegex.FindStringSubmatch(stripped); len(m) > 1 {
		return TerminalVariable, strings.TrimSpace(m[1])
	}
	if m := finalRegex.FindStringSubmatch(stripped); len(m) > 1 {
		return TerminalInline, strings.TrimSpace(m[1])
	}
	return TerminalNone, ""
}
