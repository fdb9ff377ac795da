package engine

import (
	"strings"

	"github.com/rekurlabs/rekur/internal/protocol"
)

// charsPerToken is the fixed estimate used when no model-specific
// tokenizer is available.
const charsPerToken = 4

// defaultContextLimit is deliberately small so an unknown model
// compacts early rather than overrunning its real window.
const defaultContextLimit = 8192

// contextLimits maps known model families to their context window in
// tokens. Lookup is by longest matching prefix.
var contextLimits = map[string]int{
	"gpt-4o":           128_000,
	"gpt-4o-mini":      128_000,
	"gpt-4.1":          1_047_576,
	"gpt-4-turbo":      128_000,
	"o3":               200_000,
	"o4-mini":          200_000,
	"gemini-2.5-pro":   1_048_576,
	"gemini-2.5-flash": 1_048_576,
	"gemini-2.0-flash": 1_048_576,
	"gemini-1.5-pro":   2_097_152,
}

// ContextLimit reports the context window for a model name, falling
// back to a conservative default for unknown models.
func ContextLimit(model string) int {
	if limit, ok := contextLimits[model]; ok {
		return limit
	}
	best := 0
	limit := defaultContextLimit
	for prefix, tokens := range contextLimits {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			best = len(prefix)
			limit = tokens
		}
	}
	return limit
}

// EstimateTokens approximates the token size of a transcript.
func EstimateTokens(messages []protocol.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Role) + len(m.Content)
	}
	return chars / charsPerToken
}
