package gemini

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	rekurErrors "github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/model"
	"github.com/rekurlabs/rekur/internal/protocol"
)

// Client adapts the Gemini API to the BackendClient contract.
type Client struct {
	client *genai.Client
	model  string
	usage  *model.UsageTracker
}

func New(apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &Client{
		client: client,
		model:  modelName,
		usage:  model.NewUsageTracker(modelName),
	}, nil
}

func (c *Client) ModelName() string {
	return c.model
}

func (c *Client) Complete(ctx context.Context, prompt *protocol.Prompt) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, toContents(prompt), nil)
	if err != nil {
		return "", rekurErrors.MapError(fmt.Errorf("gemini request failed: %w", err))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", rekurErrors.Internal("gemini returned no candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}

	var in, out int64
	if resp.UsageMetadata != nil {
		in = int64(resp.UsageMetadata.PromptTokenCount)
		out = int64(resp.UsageMetadata.CandidatesTokenCount)
	} else {
		in = int64(prompt.Size() / 4)
		out = int64(len(text) / 4)
	}
	c.usage.Record(in, out)

	return text, nil
}

// CompleteStream has no native wiring here; the whole result arrives as one chunk.
func (c *Client) CompleteStream(ctx context.Context, prompt *protocol.Prompt) (<-chan model.StreamChunk, error) {
	return model.WholeStream(ctx, c, prompt)
}

func (c *Client) UsageSummary() protocol.UsageSummary {
	return c.usage.UsageSummary()
}

func (c *Client) LastUsage() protocol.ModelUsageSummary {
	return c.usage.LastUsage()
}

func toContents(prompt *protocol.Prompt) []*genai.Content {
	if prompt.IsChat() {
		contents := make([]*genai.Content, 0, len(prompt.Messages))
		for _, m := range prompt.Messages {
			role := "user"
			if m.Role == "assistant" {
				role = "model"
			}
			contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
		}
		return contents
	}
	return []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt.Text}}}}
}
