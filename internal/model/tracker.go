package model

import (
	"sync"

	"github.com/rekurlabs/rekur/internal/protocol"
)

// UsageTracker accumulates per-model token usage. Adapters embed one and
// record after every vendor call.
type UsageTracker struct {
	mu    sync.Mutex
	model string
	usage protocol.UsageSummary
	last  protocol.ModelUsageSummary
}

func NewUsageTracker(model string) *UsageTracker {
	return &UsageTracker{
		model: model,
		usage: protocol.UsageSummary{},
	}
}

func (t *UsageTracker) Record(inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.usage.Add(t.model, inputTokens, outputTokens)
	t.last = protocol.ModelUsageSummary{Calls: 1, InputTokens: inputTokens, OutputTokens: outputTokens}
}

func (t *UsageTracker) UsageSummary() protocol.UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := protocol.UsageSummary{}
	out.Merge(t.usage)
	return out
}

func (t *UsageTracker) LastUsage() protocol.ModelUsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
