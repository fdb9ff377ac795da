package model

import (
	"context"

	"github.com/rekurlabs/rekur/internal/concurrency"
	"github.com/rekurlabs/rekur/internal/protocol"
)

// BackendClient is the contract every backend adapter satisfies. The broker
// depends only on this interface, never on a specific vendor.
type BackendClient interface {
	// Complete sends one prompt and returns the whole response text.
	Complete(ctx context.Context, prompt *protocol.Prompt) (string, error)

	// CompleteStream delivers the response incrementally. Adapters without
	// native streaming fall back to WholeStream.
	CompleteStream(ctx context.Context, prompt *protocol.Prompt) (<-chan StreamChunk, error)

	// ModelName is the registered name requests are routed by.
	ModelName() string

	// UsageSummary returns cumulative usage across all calls on this client.
	UsageSummary() protocol.UsageSummary

	// LastUsage returns the usage of the most recent call only.
	LastUsage() protocol.ModelUsageSummary
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Text string
	Err  error
}

// AsyncResult carries the outcome of a CompleteAsync call.
type AsyncResult struct {
	Text string
	Err  error
}

// CompleteAsync runs Complete on its own goroutine and delivers the result
// on the returned channel.
func CompleteAsync(ctx context.Context, client BackendClient, prompt *protocol.Prompt) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	concurrency.SafeGo(func() {
		text, err := client.Complete(ctx, prompt)
		out <- AsyncResult{Text: text, Err: err}
		close(out)
	}, nil)
	return out
}

// WholeStream adapts a blocking Complete into a one-chunk stream, for
// backends with no native streaming support.
func WholeStream(ctx context.Context, client BackendClient, prompt *protocol.Prompt) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 1)
	concurrency.SafeGo(func() {
		text, err := client.Complete(ctx, prompt)
		if err != nil {
			out <- StreamChunk{Err: err}
		} else {
			out <- StreamChunk{Text: text}
		}
		close(out)
	}, nil)
	return out, nil
}
