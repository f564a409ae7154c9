// Package llm is a classifier capability backed by any langchaingo chat model.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/example/o2c-lite/internal/classifier"
	"github.com/example/o2c-lite/internal/domain"
)

// Capability asks a chat model for a JSON extraction.
type Capability struct {
	model     llms.Model
	name      string
	maxTokens int
}

// New wraps model. name is used in logs and metrics.
func New(model llms.Model, name string) *Capability {
	return &Capability{model: model, name: name, maxTokens: 512}
}

// NewOpenAI builds a capability for an OpenAI-compatible endpoint. baseURL
// may be empty for the public API.
func NewOpenAI(apiKey, model, baseURL string) (*Capability, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return New(m, "openai/"+model), nil
}

func (c *Capability) Name() string { return c.name }

func (c *Capability) Classify(ctx context.Context, text string, cc classifier.ClassifyContext) (*classifier.Extraction, error) {
	resp, err := c.model.GenerateContent(ctx, Messages(text, cc),
		llms.WithJSONMode(),
		llms.WithTemperature(0),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}
	return classifier.ParseExtraction(resp.Choices[0].Content)
}

// Messages builds the chat transcript: system prompt, prior turns, then text.
func Messages(text string, cc classifier.ClassifyContext) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(cc.History)+2)
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeSystem,
		Parts: []llms.ContentPart{llms.TextPart(classifier.SystemPrompt(cc.Catalog))},
	})
	for _, turn := range cc.History {
		role := llms.ChatMessageTypeHuman
		if turn.Role == domain.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(turn.Text)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(text)},
	})
	return messages
}
