package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider calls the OpenAI Chat Completions API. It also serves any
// OpenAI-compatible endpoint via the endpoint override.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider builds a provider. endpoint overrides the API base URL
// when non-empty.
func NewOpenAIProvider(apiKey, endpoint, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    messages,
		MaxTokens:   openai.Int(req.MaxTokens),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
