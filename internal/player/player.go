// Package player replays a finished reply as separate bubbles with a typing
// pause between them.
package player

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/comigor/phonechat-go/internal/bubble"
	"github.com/comigor/phonechat-go/internal/clock"
	"github.com/comigor/phonechat-go/internal/events"
	"github.com/comigor/phonechat-go/internal/history"
	"github.com/comigor/phonechat-go/internal/logger"
)

const (
	DefaultDelayMin = 600 * time.Millisecond
	DefaultDelayMax = 2 * time.Second
)

// Appender is the slice of the message log the player writes to.
type Appender interface {
	Append(ctx context.Context, msg history.Message) (history.Message, error)
}

// Player appends drafts one by one.
type Player struct {
	Log    Appender
	Clock  clock.Clock
	Events *events.Hub
	// Delay picks the pause before each bubble after the first.
	Delay func() time.Duration
}

// RandomDelay returns a Delay drawing uniformly from [min, max].
func RandomDelay(min, max time.Duration) func() time.Duration {
	if max < min {
		max = min
	}
	return func() time.Duration {
		if max == min {
			return min
		}
		return min + time.Duration(rand.Int64N(int64(max-min)+1))
	}
}

// Play appends drafts in order and returns the stored messages. Each append is
// published before the next pause starts. Pass a context detached from any
// request so that leaving the conversation does not stop playback.
func (p *Player) Play(ctx context.Context, conversationID, turnID string, drafts []bubble.Draft) ([]history.Message, error) {
	out := make([]history.Message, 0, len(drafts))
	for i, d := range drafts {
		if i > 0 && p.Delay != nil {
			if err := p.Clock.Sleep(ctx, p.Delay()); err != nil {
				return out, err
			}
		}
		msg, err := p.Log.Append(ctx, history.Message{
			ConversationID:       conversationID,
			Sender:               history.SenderCharacter,
			Kind:                 d.Kind,
			Text:                 d.Text,
			CreatedAt:            clock.Millis(p.Clock.Now()),
			VoiceDurationSeconds: d.VoiceDurationSeconds,
			VoiceNote:            d.VoiceNote,
			EmojiKey:             d.EmojiKey,
			TurnID:               turnID,
		})
		if err != nil {
			logger.L.Error("player: append failed", "conversation", conversationID, "kind", d.Kind, "error", err)
			return out, err
		}
		out = append(out, msg)
		p.Events.Publish(events.Event{
			Type:           events.MessagesUpdated,
			ConversationID: conversationID,
			At:             p.Clock.Now(),
			Payload:        msg,
		})
	}
	return out, nil
}
