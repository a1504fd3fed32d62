package chat

import (
	"context"
	"fmt"

	arkmodel "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ArkCompleter 使用火山引擎 Ark ChatModel 生成回答
type ArkCompleter struct {
	chat model.BaseChatModel
}

func NewArkChatModel(ctx context.Context, apiKey, modelName, baseURL, region string, temperature float32) (*arkmodel.ChatModel, error) {
	cfg := &arkmodel.ChatModelConfig{
		APIKey:      apiKey,
		Model:       modelName,
		BaseURL:     baseURL,
		Region:      region,
		Temperature: &temperature,
	}
	cm, err := arkmodel.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return cm, nil
}

func NewArkCompleter(chat model.BaseChatModel) *ArkCompleter {
	return &ArkCompleter{chat: chat}
}

func (a *ArkCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) ([]string, error) {
	msgs := []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: userPrompt},
	}
	var opts []model.Option
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}
	resp, err := a.chat.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	// Ark 只返回一条消息，内容为空视为没有候选
	if resp == nil || resp.Content == "" {
		return []string{}, nil
	}
	return []string{resp.Content}, nil
}
