package chat

import (
	"context"
	"fmt"

	"github.com/chongs12/asset-knowledge-base/internal/llm"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

const DefaultChatModel = "gpt-4-turbo"

type OpenAICompleter struct {
	client openai.Client
	model  string
}

func NewOpenAICompleter(client openai.Client, model string) *OpenAICompleter {
	if model == "" {
		model = DefaultChatModel
	}
	return &OpenAICompleter{client: client, model: model}
}

func (c *OpenAICompleter) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) ([]string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if llm.IsRateLimit(err) {
			return nil, fmt.Errorf("%w: %w: %w", ErrGenerationFailed, llm.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	out := make([]string, 0, len(completion.Choices))
	for _, choice := range completion.Choices {
		out = append(out, choice.Message.Content)
	}
	return out, nil
}
