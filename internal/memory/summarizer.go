package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/phonechat-go/internal/clock"
	"github.com/comigor/phonechat-go/internal/config"
	"github.com/comigor/phonechat-go/internal/emoji"
	"github.com/comigor/phonechat-go/internal/events"
	"github.com/comigor/phonechat-go/internal/history"
	"github.com/comigor/phonechat-go/internal/llm"
	"github.com/comigor/phonechat-go/internal/logger"
)

const (
	DefaultTailMessages = 20
	maxTitleRunes       = 24
)

const summaryPrompt = `Summarize the chat below for your own long-term memory.
First line: a short title (a few words).
Following lines: what happened, what was promised, how the mood changed. Stay under 300 characters.`

// ShouldSummarize reports whether completing the given turn produces a snapshot.
func ShouldSummarize(turn int, s Settings) bool {
	s = s.Normalize()
	return s.Enabled && turn > 0 && turn%s.Interval == 0
}

// Truncate cuts s to at most n runes, ending with "…" when cut.
func Truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}

// Summariser turns a stretch of messages into a title and summary.
type Summariser interface {
	Summarise(ctx context.Context, conversationID string, msgs []history.Message) (title, summary string, err error)
}

// Transcript renders messages as one "speaker: text" line each.
func Transcript(msgs []history.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		var who string
		switch m.Sender {
		case history.SenderUser:
			who = "User"
		case history.SenderCharacter:
			who = "Character"
		default:
			continue
		}
		text := m.Text
		switch m.Kind {
		case history.KindVoice:
			text = "(voice) " + text
		case history.KindEmoji:
			text = "(sticker: " + text + ")"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// LLMSummariser asks the completion service for the summary.
type LLMSummariser struct {
	Client llm.Client
	Config config.LLMConfig
}

func (s *LLMSummariser) Summarise(ctx context.Context, _ string, msgs []history.Message) (string, string, error) {
	transcript := Transcript(msgs)
	if transcript == "" {
		return "", "", errors.New("memory: nothing to summarise")
	}
	out, err := llm.Complete(ctx, s.Client, s.Config, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
		{Role: openai.ChatMessageRoleUser, Content: transcript},
	})
	if err != nil {
		return "", "", err
	}
	title, body, _ := strings.Cut(strings.TrimSpace(out), "\n")
	title = strings.Trim(strings.TrimSpace(title), "#*\"")
	body = strings.TrimSpace(body)
	if body == "" {
		body, title = title, ""
	}
	if body == "" {
		return "", "", errors.New("memory: empty summary")
	}
	return title, body, nil
}

// TranscriptSummariser is the offline fallback: the title is the first user
// line and the summary is the transcript itself, newest lines kept.
type TranscriptSummariser struct{}

func (TranscriptSummariser) Summarise(_ context.Context, _ string, msgs []history.Message) (string, string, error) {
	var title string
	for _, m := range msgs {
		if m.Sender == history.SenderUser && strings.TrimSpace(m.Text) != "" {
			title = emoji.Strip(m.Text)
			break
		}
	}
	lines := strings.Split(Transcript(msgs), "\n")
	// keep the newest lines that fit
	var kept []string
	size := 0
	for i := len(lines) - 1; i >= 0; i-- {
		n := len([]rune(lines[i])) + 1
		if size+n > MaxSummaryRunes && len(kept) > 0 {
			break
		}
		kept = append([]string{lines[i]}, kept...)
		size += n
	}
	return title, strings.Join(kept, "\n"), nil
}

// Reader is the part of the message log the summarizer reads.
type Reader interface {
	Visible(ctx context.Context, conversationID string) []history.Message
}

// Summarizer creates snapshots on the configured turn cadence.
type Summarizer struct {
	Store    *Store
	History  Reader
	Primary  Summariser
	Fallback Summariser
	Clock    clock.Clock
	Events   *events.Hub
	// TailMessages is how many visible messages are summarised.
	TailMessages int
}

// AfterTurn is called once per completed Normal turn with the new turn
// counter and the store generation read before the turn completed. It returns
// the snapshot when one was created; a conversation cleared in the meantime
// gets none.
func (s *Summarizer) AfterTurn(ctx context.Context, conversationID string, turn int, generation uint64) (Snapshot, bool) {
	if !ShouldSummarize(turn, s.Store.Settings(ctx)) {
		return Snapshot{}, false
	}
	tail := s.TailMessages
	if tail <= 0 {
		tail = DefaultTailMessages
	}
	msgs := s.History.Visible(ctx, conversationID)
	if len(msgs) > tail {
		msgs = msgs[len(msgs)-tail:]
	}
	if len(msgs) == 0 {
		return Snapshot{}, false
	}

	title, text, err := s.summarise(ctx, conversationID, msgs)
	if err != nil {
		logger.L.Warn("memory: summary failed", "conversation", conversationID, "turn", turn, "error", err)
		return Snapshot{}, false
	}
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("Turn %d", turn)
	}
	now := s.Clock.Now()
	snap := Snapshot{
		ID:             history.NewID(),
		ConversationID: conversationID,
		Title:          Truncate(title, maxTitleRunes),
		SummaryText:    Truncate(text, MaxSummaryRunes),
		CreatedAt:      clock.Millis(now),
		Turn:           turn,
	}
	if !s.Store.AddIfCurrent(ctx, snap, generation) {
		logger.L.Info("memory snapshot dropped; conversation was cleared", "conversation", conversationID, "turn", turn)
		return Snapshot{}, false
	}
	logger.L.Info("memory snapshot created", "conversation", conversationID, "turn", turn, "id", snap.ID)
	s.Events.Publish(events.Event{Type: events.SnapshotCreated, ConversationID: conversationID, At: now, Payload: snap})
	return snap, true
}

func (s *Summarizer) summarise(ctx context.Context, conversationID string, msgs []history.Message) (string, string, error) {
	if s.Primary != nil {
		title, text, err := s.Primary.Summarise(ctx, conversationID, msgs)
		if err == nil {
			return title, text, nil
		}
		if s.Fallback == nil {
			return "", "", err
		}
		logger.L.Warn("memory: summariser failed, using fallback", "conversation", conversationID, "error", err)
	}
	if s.Fallback == nil {
		return "", "", errors.New("memory: no summariser configured")
	}
	return s.Fallback.Summarise(ctx, conversationID, msgs)
}
