package chat

import (
	"context"
	"errors"
)

// ErrGenerationFailed 生成后端调用失败
var ErrGenerationFailed = errors.New("generation failed")

// Completer 文本生成后端。返回零个候选不是错误
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) ([]string, error)
}
