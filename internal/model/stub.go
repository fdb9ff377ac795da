package model

import (
	"context"
	"sync"

	"github.com/rekurlabs/rekur/internal/protocol"
)

// StubClient is an offline BackendClient for tests and dry runs. It replies
// with scripted responses in order, then echoes the prompt when the script
// runs out. Token counts are estimated at four characters per token.
type StubClient struct {
	mu        sync.Mutex
	name      string
	responses []string
	next      int
	usage     protocol.UsageSummary
	last      protocol.ModelUsageSummary
	calls     []*protocol.Prompt
}

func NewStubClient(name string, responses ...string) *StubClient {
	return &StubClient{
		name:      name,
		responses: responses,
		usage:     protocol.UsageSummary{},
	}
}

func (c *StubClient) Complete(ctx context.Context, prompt *protocol.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, prompt)

	text := "echo: " + prompt.Text
	if c.next < len(c.responses) {
		text = c.responses[c.next]
		c.next++
	}

	in := int64(prompt.Size() / 4)
	out := int64(len(text) / 4)
	c.usage.Add(c.name, in, out)
	c.last = protocol.ModelUsageSummary{Calls: 1, InputTokens: in, OutputTokens: out}

	return text, nil
}

func (c *StubClient) CompleteStream(ctx context.Context, prompt *protocol.Prompt) (<-chan StreamChunk, error) {
	return WholeStream(ctx, c, prompt)
}

func (c *StubClient) ModelName() string {
	return c.name
}

func (c *StubClient) UsageSummary() protocol.UsageSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := protocol.UsageSummary{}
	out.Merge(c.usage)
	return out
}

func (c *StubClient) LastUsage() protocol.ModelUsageSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Calls returns every prompt this stub has served, in order.
func (c *StubClient) Calls() []*protocol.Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Prompt(nil), c.calls...)
}
