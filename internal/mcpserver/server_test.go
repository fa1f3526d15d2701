package mcpserver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/phonechat-go/internal/clock"
	"github.com/comigor/phonechat-go/internal/config"
	"github.com/comigor/phonechat-go/internal/engine"
	"github.com/comigor/phonechat-go/internal/history"
	"github.com/comigor/phonechat-go/internal/kv"
	"github.com/comigor/phonechat-go/internal/llm"
	"github.com/comigor/phonechat-go/internal/state"
)

type mockLLM struct {
	mu      sync.Mutex
	content string
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: m.content}}},
	}, nil
}

func newTools(t *testing.T, client llm.Client) *Tools {
	t.Helper()
	e := engine.New(client, config.Config{LLM: config.LLMConfig{Model: "gpt"}}, kv.NewMemory(),
		engine.WithClock(clock.NewFake(time.UnixMilli(1))),
		engine.WithDelay(func() time.Duration { return 0 }),
	)
	t.Cleanup(e.Close)
	return &Tools{chat: e}
}

func call(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestTools_SendAndReply(t *testing.T) {
	ctx := context.Background()
	tools := newTools(t, &mockLLM{content: "hey\nhow are you"})

	res, err := tools.SendMessage(ctx, call(map[string]any{"conversation_id": "c1", "text": "hi"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = tools.ReplyNow(ctx, call(map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	var out struct {
		State   state.Snapshot    `json:"state"`
		Replies []history.Message `json:"replies"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	require.Equal(t, state.PhaseIdle, out.State.Phase)
	require.Len(t, out.Replies, 2)

	res, err = tools.ListMessages(ctx, call(map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	var msgs []history.Message
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &msgs))
	require.Len(t, msgs, 3)

	res, err = tools.Regenerate(ctx, call(map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = tools.ListMemories(ctx, call(map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	require.JSONEq(t, `[]`, text(t, res))
}

func TestTools_Errors(t *testing.T) {
	ctx := context.Background()
	tools := newTools(t, nil)

	res, err := tools.SendMessage(ctx, call(map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	require.True(t, res.IsError)

	_, err = tools.SendMessage(ctx, call(map[string]any{"conversation_id": "c1", "text": "hi"}))
	require.NoError(t, err)
	res, err = tools.ReplyNow(ctx, call(map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, text(t, res), "not configured")

	res, err = tools.ConversationState(ctx, call(map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	require.Contains(t, text(t, res), `"phase": "Idle"`)
}

func TestNew_RegistersTools(t *testing.T) {
	s := New(newTools(t, nil).chat, "test")
	require.NotNil(t, s)
}
