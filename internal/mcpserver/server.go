// Package mcpserver exposes the engine as MCP tools so an agent can drive a
// conversation.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/phonechat-go/internal/history"
	"github.com/comigor/phonechat-go/internal/llm"
	"github.com/comigor/phonechat-go/internal/logger"
	"github.com/comigor/phonechat-go/internal/memory"
	"github.com/comigor/phonechat-go/internal/state"
)

// Chat is the engine surface the tools use.
type Chat interface {
	SendUserMessage(ctx context.Context, conversationID, text string) (history.Message, error)
	ResolveNow(ctx context.Context, conversationID string) error
	Regenerate(ctx context.Context, conversationID string) error
	Messages(ctx context.Context, conversationID string) []history.Message
	State(conversationID string) state.Snapshot
	Snapshots(ctx context.Context, conversationID string) []memory.Snapshot
}

const conversationArg = "conversation_id"

// Tools binds tool handlers to an engine.
type Tools struct {
	chat Chat
}

// New builds the MCP server with every tool registered.
func New(chat Chat, version string) *server.MCPServer {
	s := server.NewMCPServer("phonechat", version, server.WithToolCapabilities(false))
	t := &Tools{chat: chat}
	conv := mcp.WithString(conversationArg, mcp.Required(), mcp.Description("Conversation id"))

	s.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a user message. The character answers after the debounce window unless reply_now is called."),
		conv,
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
	), t.SendMessage)
	s.AddTool(mcp.NewTool("reply_now",
		mcp.WithDescription("Make the character answer the pending messages immediately."),
		conv,
	), t.ReplyNow)
	s.AddTool(mcp.NewTool("regenerate",
		mcp.WithDescription("Replace the character's last reply with a new one."),
		conv,
	), t.Regenerate)
	s.AddTool(mcp.NewTool("list_messages",
		mcp.WithDescription("List the visible messages of a conversation, oldest first."),
		conv,
	), t.ListMessages)
	s.AddTool(mcp.NewTool("conversation_state",
		mcp.WithDescription("Show whether the character is idle, typing, busy or not replying."),
		conv,
	), t.ConversationState)
	s.AddTool(mcp.NewTool("list_memories",
		mcp.WithDescription("List the memory snapshots of a conversation."),
		conv,
	), t.ListMemories)
	return s
}

// Serve runs the server over stdin/stdout until the input closes.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// toolError reports engine failures as tool errors so the calling model sees them.
func toolError(tool string, err error) (*mcp.CallToolResult, error) {
	logger.L.Warn("mcp tool failed", "tool", tool, "error", err)
	msg := err.Error()
	if errors.Is(err, llm.ErrNoAPIConfig) {
		msg = "the completion API is not configured: " + msg
	}
	return mcp.NewToolResultError(msg), nil
}

func (t *Tools) SendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString(conversationArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := t.chat.SendUserMessage(ctx, id, text)
	if err != nil {
		return toolError("send_message", err)
	}
	return jsonResult(msg)
}

func (t *Tools) ReplyNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString(conversationArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.chat.ResolveNow(ctx, id); err != nil {
		return toolError("reply_now", err)
	}
	return t.replyResult(ctx, id)
}

func (t *Tools) Regenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString(conversationArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.chat.Regenerate(ctx, id); err != nil {
		return toolError("regenerate", err)
	}
	return t.replyResult(ctx, id)
}

// replyResult returns the new state and the character's latest run.
func (t *Tools) replyResult(ctx context.Context, id string) (*mcp.CallToolResult, error) {
	msgs := t.chat.Messages(ctx, id)
	start := len(msgs)
	for start > 0 && msgs[start-1].Sender == history.SenderCharacter {
		start--
	}
	return jsonResult(struct {
		State   state.Snapshot    `json:"state"`
		Replies []history.Message `json:"replies"`
	}{t.chat.State(id), msgs[start:]})
}

func (t *Tools) ListMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString(conversationArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgs := t.chat.Messages(ctx, id)
	if len(msgs) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("conversation %s has no messages", id)), nil
	}
	return jsonResult(msgs)
}

func (t *Tools) ConversationState(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString(conversationArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t.chat.State(id))
}

func (t *Tools) ListMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString(conversationArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snaps := t.chat.Snapshots(ctx, id)
	if snaps == nil {
		snaps = []memory.Snapshot{}
	}
	return jsonResult(snaps)
}
