package anthropic

import (
	"context"
	"fmt"
	"os"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	rekurErrors "github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/model"
	"github.com/rekurlabs/rekur/internal/protocol"
)

const maxTokens = 4096

// Client adapts the Anthropic Messages API to the BackendClient contract.
type Client struct {
	client anthropic.Client
	model  string
	usage  *model.UsageTracker
}

func New(apiKey, modelName string) *Client {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  modelName,
		usage:  model.NewUsageTracker(modelName),
	}
}

func (c *Client) ModelName() string {
	return c.model
}

func (c *Client) Complete(ctx context.Context, prompt *protocol.Prompt) (string, error) {
	messages, system := toMessages(prompt)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", rekurErrors.MapError(fmt.Errorf("anthropic request failed: %w", err))
	}

	text := ""
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += b.Text
		}
	}

	c.usage.Record(msg.Usage.InputTokens, msg.Usage.OutputTokens)
	return text, nil
}

func (c *Client) CompleteStream(ctx context.Context, prompt *protocol.Prompt) (<-chan model.StreamChunk, error) {
	return model.WholeStream(ctx, c, prompt)
}

func (c *Client) UsageSummary() protocol.UsageSummary {
	return c.usage.UsageSummary()
}

func (c *Client) LastUsage() protocol.ModelUsageSummary {
	return c.usage.LastUsage()
}

// toMessages converts a prompt to Messages API shape. System turns are
// pulled out because Anthropic takes them as a separate parameter.
func toMessages(prompt *protocol.Prompt) ([]anthropic.MessageParam, string) {
	if !prompt.IsChat() {
		return []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.Text)),
		}, ""
	}

	var messages []anthropic.MessageParam
	system := ""
	for _, m := range prompt.Messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return messages, system
}
