package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/rekurlabs/rekur/internal/errors"
)

// Message is one role-tagged entry of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is either a plain string or an ordered list of messages.
// It marshals to whichever form it holds.
type Prompt struct {
	Text     string
	Messages []Message
}

func NewPrompt(text string) *Prompt {
	return &Prompt{Text: text}
}

func NewChatPrompt(messages []Message) *Prompt {
	return &Prompt{Messages: messages}
}

// IsChat reports whether the prompt carries role-tagged messages.
func (p *Prompt) IsChat() bool {
	return len(p.Messages) > 0
}

// Size returns the total character length of the prompt content.
func (p *Prompt) Size() int {
	if p == nil {
		return 0
	}
	if p.IsChat() {
		total := 0
		for _, m := range p.Messages {
			total += len(m.Content)
		}
		return total
	}
	return len(p.Text)
}

func (p Prompt) MarshalJSON() ([]byte, error) {
	if len(p.Messages) > 0 {
		return json.Marshal(p.Messages)
	}
	return json.Marshal(p.Text)
}

func (p *Prompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		p.Text = text
		p.Messages = nil
		return nil
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("prompt must be a string or a message list: %w", err)
	}
	p.Text = ""
	p.Messages = messages
	return nil
}

// ModelPreferences carries free-form routing hints, tried in order:
// exact name, ordered candidate list, case-insensitive substring family match.
type ModelPreferences struct {
	Name       string   `json:"name,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Family     string   `json:"family,omitempty"`
}

// CompletionRequest is the broker's wire request record. Exactly one of
// Prompt and Prompts must be set.
type CompletionRequest struct {
	Prompt      *Prompt           `json:"prompt,omitempty"`
	Prompts     []Prompt          `json:"prompts"`
	Model       string            `json:"model,omitempty"`
	Preferences *ModelPreferences `json:"modelPreferences,omitempty"`
	Depth       int               `json:"depth"`
}

func (r *CompletionRequest) Validate() error {
	if r.Prompt != nil && r.Prompts != nil {
		return errors.InvalidInput("request sets both prompt and prompts")
	}
	if r.Prompt == nil && r.Prompts == nil {
		return errors.InvalidInput("request sets neither prompt nor prompts")
	}
	if r.Depth < 0 {
		return errors.InvalidInput("depth must be non-negative")
	}
	return nil
}

// Batched reports whether the request fans out over multiple prompts.
func (r *CompletionRequest) Batched() bool {
	return r.Prompts != nil
}

// ModelUsageSummary accumulates usage for one model.
type ModelUsageSummary struct {
	Calls        int   `json:"calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// UsageSummary maps model names to their accumulated usage.
// Summaries are additive and merge cleanly across clients.
type UsageSummary map[string]ModelUsageSummary

// Add records one call's token counts for a model.
func (u UsageSummary) Add(model string, inputTokens, outputTokens int64) {
	entry := u[model]
	entry.Calls++
	entry.InputTokens += inputTokens
	entry.OutputTokens += outputTokens
	u[model] = entry
}

// Merge folds another summary into this one.
func (u UsageSummary) Merge(other UsageSummary) {
	for model, usage := range other {
		entry := u[model]
		entry.Calls += usage.Calls
		entry.InputTokens += usage.InputTokens
		entry.OutputTokens += usage.OutputTokens
		u[model] = entry
	}
}

// TotalTokens returns the summed input+output tokens across all models.
func (u UsageSummary) TotalTokens() int64 {
	var total int64
	for _, usage := range u {
		total += usage.InputTokens + usage.OutputTokens
	}
	return total
}

// ChatCompletion is one completed backend call.
type ChatCompletion struct {
	Model          string       `json:"model"`
	Prompt         *Prompt      `json:"prompt,omitempty"`
	Response       string       `json:"response"`
	Usage          UsageSummary `json:"usage_summary,omitempty"`
	ElapsedSeconds float64      `json:"execution_time"`
}

// CompletionResponse is the broker's wire response record. On success
// exactly one of Completion and Completions is set.
type CompletionResponse struct {
	Success     bool             `json:"success"`
	Completion  *ChatCompletion  `json:"chatCompletion,omitempty"`
	Completions []ChatCompletion `json:"chatCompletions"`
	Error       string           `json:"error,omitempty"`
}

func (r *CompletionResponse) Validate() error {
	if !r.Success {
		return nil
	}
	if r.Completion != nil && r.Completions != nil {
		return errors.InvalidInput("response sets both chatCompletion and chatCompletions")
	}
	if r.Completion == nil && r.Completions == nil {
		return errors.InvalidInput("response sets neither chatCompletion nor chatCompletions")
	}
	return nil
}

// ErrorResponse builds a failure record from an error.
func ErrorResponse(err error) *CompletionResponse {
	return &CompletionResponse{Success: false, Error: err.Error()}
}
