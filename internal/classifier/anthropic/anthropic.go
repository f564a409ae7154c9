// Package anthropic is a classifier capability backed by the Anthropic
// Messages API, directly or through AWS Bedrock.
package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/example/o2c-lite/internal/classifier"
	"github.com/example/o2c-lite/internal/domain"
)

// Config selects the model and how to reach it.
type Config struct {
	Model string
	// APIKey defaults to ANTHROPIC_API_KEY.
	APIKey string

	UseBedrock bool
	AWSRegion  string
	AWSProfile string

	MaxTokens int64

	// Options are appended to the client options; tests use them to point
	// the client at a fake server.
	Options []option.RequestOption
}

// Capability classifies with a Claude model.
type Capability struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// New creates the capability.
func New(cfg Config) (*Capability, error) {
	var opts []option.RequestOption
	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, cfg.Options...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeHaiku4_5_20251001
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	return &Capability{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// bedrockModel maps a public model name to its cross-region inference profile.
func bedrockModel(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(model), "us.anthropic.") {
		return model
	}
	return anthropic.Model("us.anthropic." + string(model) + "-v1:0")
}

func (c *Capability) Name() string { return "anthropic/" + string(c.model) }

func (c *Capability) Classify(ctx context.Context, text string, cc classifier.ClassifyContext) (*classifier.Extraction, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: classifier.SystemPrompt(cc.Catalog)},
		},
		Messages: Messages(text, cc.History),
	})
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}

	var reply strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			reply.WriteString(tb.Text)
		}
	}
	return classifier.ParseExtraction(reply.String())
}

// Messages maps history and text onto alternating user/assistant messages.
// Consecutive turns of the same speaker are joined, since the API requires
// strict alternation starting with the user.
func Messages(text string, history []domain.Turn) []anthropic.MessageParam {
	type turn struct {
		assistant bool
		text      string
	}
	var merged []turn
	add := func(assistant bool, s string) {
		if n := len(merged); n > 0 && merged[n-1].assistant == assistant {
			merged[n-1].text += "\n" + s
			return
		}
		merged = append(merged, turn{assistant, s})
	}
	for _, t := range history {
		if len(merged) == 0 && t.Role == domain.RoleAssistant {
			continue
		}
		add(t.Role == domain.RoleAssistant, t.Text)
	}
	add(false, text)

	out := make([]anthropic.MessageParam, len(merged))
	for i, t := range merged {
		if t.assistant {
			out[i] = anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.text))
		} else {
			out[i] = anthropic.NewUserMessage(anthropic.NewTextBlock(t.text))
		}
	}
	return out
}
