package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/chongs12/asset-knowledge-base/internal/llm"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		if seen != nil {
			m := map[string]any{}
			_ = sonic.Unmarshal(raw, &m)
			*seen = m
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICompleter(t *testing.T) {
	var req map[string]any
	srv := chatServer(t, http.StatusOK, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4-turbo","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  The ThinkPad X1 is assigned.  "}}]}`, &req)
	client := llm.NewOpenAIClient(llm.OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/"})

	out, err := NewOpenAICompleter(client, "").Complete(context.Background(), "sys", "user prompt", 150)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "  The ThinkPad X1 is assigned.  ", out[0])

	assert.Equal(t, DefaultChatModel, req["model"])
	assert.EqualValues(t, 150, req["max_tokens"])
	msgs, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user prompt", msgs[1].(map[string]any)["content"])
}

func TestOpenAICompleterNoChoices(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`, nil)
	client := llm.NewOpenAIClient(llm.OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/"})

	out, err := NewOpenAICompleter(client, "m").Complete(context.Background(), "s", "u", 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOpenAICompleterError(t *testing.T) {
	srv := chatServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, nil)
	client := llm.NewOpenAIClient(llm.OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/"})

	_, err := NewOpenAICompleter(client, "m").Complete(context.Background(), "s", "u", 10)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.NotErrorIs(t, err, llm.ErrRateLimited)
}

type fakeChatModel struct {
	resp      *schema.Message
	err       error
	gotMsgs   []*schema.Message
	maxTokens *int
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.gotMsgs = input
	f.maxTokens = model.GetCommonOptions(nil, opts...).MaxTokens
	return f.resp, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestArkCompleter(t *testing.T) {
	fake := &fakeChatModel{resp: &schema.Message{Role: schema.Assistant, Content: "answer"}}
	out, err := NewArkCompleter(fake).Complete(context.Background(), "sys", "usr", 150)
	require.NoError(t, err)
	assert.Equal(t, []string{"answer"}, out)
	require.Len(t, fake.gotMsgs, 2)
	assert.Equal(t, schema.System, fake.gotMsgs[0].Role)
	assert.Equal(t, "usr", fake.gotMsgs[1].Content)
	require.NotNil(t, fake.maxTokens)
	assert.Equal(t, 150, *fake.maxTokens)
}

func TestArkCompleterEmptyAndError(t *testing.T) {
	out, err := NewArkCompleter(&fakeChatModel{resp: &schema.Message{}}).Complete(context.Background(), "s", "u", 0)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = NewArkCompleter(&fakeChatModel{err: errors.New("timeout")}).Complete(context.Background(), "s", "u", 0)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}
