package llm

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client sdk.Client
	model  string
}

// NewAnthropicProvider builds a provider. endpoint overrides the API base
// URL when non-empty; model falls back to a sensible default.
func NewAnthropicProvider(apiKey, endpoint, model string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{client: sdk.NewClient(opts...), model: model}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
		Temperature: sdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
