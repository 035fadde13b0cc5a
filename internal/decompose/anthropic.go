package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kranthiB/kubepilot/internal/metrics"
	"github.com/kranthiB/kubepilot/pkg/models"
)

// Claude 3.x pricing per million tokens, used for spend estimation.
const (
	inputCostPerMTok  = 3.0
	outputCostPerMTok = 15.0
)

// AnthropicProvider proposes task candidates by asking the Anthropic API to
// decompose the goal.
type AnthropicProvider struct {
	client  anthropic.Client
	model   anthropic.Model
	metrics *metrics.Registry
}

// AnthropicConfig configures the provider. APIKey is required; Model defaults
// to Claude Sonnet.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// NewAnthropicProvider builds a provider from config.
func NewAnthropicProvider(cfg AnthropicConfig, m *metrics.Registry) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not set")
	}
	model := anthropic.ModelClaudeSonnet4_20250514
	if cfg.Model != "" {
		model = anthropic.Model(cfg.Model)
	}
	return &AnthropicProvider{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		metrics: m,
	}, nil
}

// Propose asks the model for a task breakdown and parses the JSON reply.
func (p *AnthropicProvider) Propose(ctx context.Context, goal models.Goal) ([]Candidate, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(goal))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	p.metrics.RecordLLMTokens(string(p.model), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	cost := float64(resp.Usage.InputTokens)/1_000_000*inputCostPerMTok +
		float64(resp.Usage.OutputTokens)/1_000_000*outputCostPerMTok
	p.metrics.RecordLLMCost(string(p.model), cost)

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	return parseCandidates(text.String())
}

// parseCandidates extracts the JSON array from the model reply. Models
// sometimes wrap the array in markdown fences or prose, so the parse is
// anchored on the outermost brackets.
func parseCandidates(reply string) ([]Candidate, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in provider reply")
	}
	var candidates []Candidate
	if err := json.Unmarshal([]byte(reply[start:end+1]), &candidates); err != nil {
		return nil, fmt.Errorf("parse provider reply: %w", err)
	}
	return candidates, nil
}
