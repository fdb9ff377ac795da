package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/rekurlabs/rekur/internal/concurrency"
	rekurErrors "github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/model"
	"github.com/rekurlabs/rekur/internal/protocol"
)

// Client adapts an OpenAI-compatible endpoint to the BackendClient contract.
type Client struct {
	client *openai.Client
	model  string
	usage  *model.UsageTracker
}

func New(apiKey, baseURL, modelName string) *Client {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
		usage:  model.NewUsageTracker(modelName),
	}
}

func (c *Client) ModelName() string {
	return c.model
}

func (c *Client) Complete(ctx context.Context, prompt *protocol.Prompt) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toMessages(prompt),
	})
	if err != nil {
		return "", rekurErrors.MapError(fmt.Errorf("openai request failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", rekurErrors.Internal("openai returned no choices")
	}

	c.usage.Record(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) CompleteStream(ctx context.Context, prompt *protocol.Prompt) (<-chan model.StreamChunk, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toMessages(prompt),
	})
	if err != nil {
		return nil, rekurErrors.MapError(fmt.Errorf("openai stream failed: %w", err))
	}

	out := make(chan model.StreamChunk)
	concurrency.SafeGo(func() {
		defer close(out)
		defer stream.Close()

		var outputChars int64
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				out <- model.StreamChunk{Err: rekurErrors.MapError(err)}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			outputChars += int64(len(delta))
			out <- model.StreamChunk{Text: delta}
		}

		// Streamed responses carry no usage block; estimate at 4 chars/token.
		c.usage.Record(int64(prompt.Size()/4), outputChars/4)
	}, nil)

	return out, nil
}

func (c *Client) UsageSummary() protocol.UsageSummary {
	return c.usage.UsageSummary()
}

func (c *Client) LastUsage() protocol.ModelUsageSummary {
	return c.usage.LastUsage()
}

func toMessages(prompt *protocol.Prompt) []openai.ChatCompletionMessage {
	if prompt.IsChat() {
		messages := make([]openai.ChatCompletionMessage, 0, len(prompt.Messages))
		for _, m := range prompt.Messages {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    m.Role,
				Content: m.Content,
			})
		}
		return messages
	}
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt.Text}}
}
