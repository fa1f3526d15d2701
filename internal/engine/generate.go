package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/phonechat-go/internal/events"
	"github.com/comigor/phonechat-go/internal/history"
	"github.com/comigor/phonechat-go/internal/llm"
	"github.com/comigor/phonechat-go/internal/logger"
	"github.com/comigor/phonechat-go/internal/pending"
	"github.com/comigor/phonechat-go/internal/protocol"
	"github.com/comigor/phonechat-go/internal/state"
)

// resolve runs one turn: Generating, one model call, then Busy, NoReply or
// playback. The caller's cancellation is ignored; only the generation timeout
// bounds the model call.
func (e *Engine) resolve(ctx context.Context, conversationID string, regenerate bool) error {
	ctrl := e.states.Get(conversationID)
	if !ctrl.Begin() {
		return ErrGenerationInFlight
	}
	e.debounce.Cancel(conversationID)
	ctx = context.WithoutCancel(ctx)

	if regenerate {
		e.supersedeReply(ctx, conversationID)
	}
	msgs := e.history.Visible(ctx, conversationID)
	turn, ok := pending.Detect(msgs)
	if !ok {
		if err := ctrl.Fail(); err != nil {
			logger.L.Error("state revert failed", "conversation", conversationID, "error", err)
		}
		return ErrNothingPending
	}
	e.markAttempted(conversationID, turn.ID())

	err := e.generate(ctx, conversationID, ctrl, msgs, turn)
	// messages that arrived while generating
	e.Trigger(conversationID)
	return err
}

func (e *Engine) generate(ctx context.Context, conversationID string, ctrl *state.Controller, msgs []history.Message, turn pending.Turn) error {
	log := logger.L.With("conversation", conversationID, "turn", turn.ID())

	req, err := e.buildRequest(ctx, conversationID, msgs, turn)
	if err == nil {
		callCtx, cancel := context.WithTimeout(ctx, e.generationTimeout)
		var raw string
		raw, err = llm.Complete(callCtx, e.llmClient, e.llmCfg, req)
		cancel()
		if err == nil {
			return e.apply(ctx, conversationID, ctrl, msgs, turn, raw)
		}
	}
	log.Error("generation failed", "error", err)
	if ferr := ctrl.Fail(); ferr != nil {
		log.Error("state revert failed", "error", ferr)
	}
	return fmt.Errorf("generate reply: %w", err)
}

func (e *Engine) apply(ctx context.Context, conversationID string, ctrl *state.Controller, msgs []history.Message, turn pending.Turn, raw string) error {
	log := logger.L.With("conversation", conversationID, "turn", turn.ID())

	switch out := protocol.Parse(raw).(type) {
	case protocol.Busy:
		until := e.clock.Now().Add(time.Duration(out.Minutes) * time.Minute)
		log.Info("character is busy", "minutes", out.Minutes, "note", out.Note)
		return ctrl.Busy(until, out.Note)

	case protocol.NoReply:
		log.Info("character chose not to reply", "reason", out.Reason)
		return ctrl.NoReply(out.Reason)

	case protocol.Normal:
		if out.Ambiguous {
			log.Warn("ambiguous reply directives treated as text", "raw", raw)
		}
		// read while Generating, before ClearHistory can run
		generation := e.memory.Generation(conversationID)
		drafts := e.bubbles.Process(out.Segments, msgs)
		played, err := e.player.Play(ctx, conversationID, turn.ID(), drafts)
		if err != nil {
			log.Error("playback failed", "played", len(played), "error", err)
			if ferr := ctrl.Fail(); ferr != nil {
				log.Error("state revert failed", "error", ferr)
			}
			return fmt.Errorf("play reply: %w", err)
		}
		turns, err := ctrl.Replied()
		if err != nil {
			return err
		}
		log.Info("reply played", "bubbles", len(played), "turn_counter", turns)

		e.spawn(func() {
			e.summarizer.AfterTurn(ctx, conversationID, turns, generation)
		})
		return nil

	default:
		return fmt.Errorf("unexpected outcome %T", out)
	}
}

// supersedeReply hides the character messages produced for the most recent
// answered turn. Nothing is hidden while a user turn is still pending.
func (e *Engine) supersedeReply(ctx context.Context, conversationID string) {
	msgs := e.history.Visible(ctx, conversationID)
	if _, ok := pending.Detect(msgs); ok {
		return
	}
	var turnID string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == history.SenderCharacter {
			turnID = msgs[i].TurnID
			break
		}
	}
	if turnID == "" {
		return
	}
	var ids []string
	answered := false
	for _, m := range msgs {
		switch {
		case m.Sender == history.SenderUser && m.ID == turnID:
			answered = true
		case m.Sender == history.SenderCharacter && m.TurnID == turnID:
			ids = append(ids, m.ID)
		}
	}
	if !answered {
		return
	}
	n := e.history.Supersede(ctx, conversationID, ids...)
	logger.L.Info("reply superseded for regeneration", "conversation", conversationID, "turn", turnID, "messages", n)
	e.hub.Publish(events.Event{Type: events.MessagesUpdated, ConversationID: conversationID, At: e.clock.Now()})
}

// buildRequest assembles persona, memories and grammar as the system message,
// the recent history as alternating turns and the pending texts as the final
// user message.
func (e *Engine) buildRequest(ctx context.Context, conversationID string, msgs []history.Message, turn pending.Turn) ([]openai.ChatCompletionMessage, error) {
	prompt, err := e.persona.Prompt(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("persona: %w", err)
	}

	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(prompt))
	if snaps := e.memory.Recent(ctx, conversationID, memoryContextSnapshots); len(snaps) > 0 {
		sys.WriteString("\n\nWhat you remember from earlier chats:\n")
		for _, s := range snaps {
			fmt.Fprintf(&sys, "- %s: %s\n", s.Title, s.SummaryText)
		}
	}
	sys.WriteString("\n\n")
	sys.WriteString(protocol.Instructions)
	if lister, ok := e.catalog.(interface{ Keys() []string }); ok {
		if keys := lister.Keys(); len(keys) > 0 {
			sys.WriteString("\nSticker keys: ")
			sys.WriteString(strings.Join(keys, ", "))
		}
	}

	inTurn := make(map[string]bool, len(turn.MessageIDs))
	for _, id := range turn.MessageIDs {
		inTurn[id] = true
	}
	var past []history.Message
	for _, m := range msgs {
		if inTurn[m.ID] || m.Sender == history.SenderSystem {
			continue
		}
		past = append(past, m)
	}
	if len(past) > e.contextMessages {
		past = past[len(past)-e.contextMessages:]
	}

	out := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: sys.String()}}
	for _, m := range past {
		role := openai.ChatMessageRoleUser
		if m.Sender == history.SenderCharacter {
			role = openai.ChatMessageRoleAssistant
		}
		content := renderForModel(m)
		if last := len(out) - 1; last > 0 && out[last].Role == role {
			out[last].Content += "\n" + content
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: content})
	}
	userBlock := strings.Join(turn.Texts, "\n")
	if last := len(out) - 1; last > 0 && out[last].Role == openai.ChatMessageRoleUser {
		out[last].Content += "\n" + userBlock
	} else {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userBlock})
	}
	return out, nil
}

// renderForModel writes a stored message back in the reply grammar so the
// model sees its own stickers and voice notes.
func renderForModel(m history.Message) string {
	switch m.Kind {
	case history.KindEmoji:
		return "[EMOJI:" + m.EmojiKey + "]"
	case history.KindVoice:
		if m.VoiceNote != "" {
			return "[VOICE] (" + m.VoiceNote + ") " + m.Text
		}
		return "[VOICE] " + m.Text
	default:
		return m.Text
	}
}
