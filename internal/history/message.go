package history

import "github.com/google/uuid"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderCharacter Sender = "character"
	SenderSystem    Sender = "system"
)

// Kind is the rendering class of a message.
type Kind string

const (
	KindText   Kind = "text"
	KindVoice  Kind = "voice"
	KindEmoji  Kind = "emoji"
	KindSystem Kind = "system"
)

// Message is one conversational unit. Messages are never modified after they
// are appended; see Store.Supersede.
type Message struct {
	ID                   string `json:"id"`
	ConversationID       string `json:"conversation_id"`
	Sender               Sender `json:"sender"`
	Kind                 Kind   `json:"kind"`
	Text                 string `json:"text"`
	CreatedAt            int64  `json:"created_at"` // epoch millis
	VoiceDurationSeconds int    `json:"voice_duration_seconds,omitempty"`
	VoiceNote            string `json:"voice_note,omitempty"`
	EmojiKey             string `json:"emoji_key,omitempty"`
	TurnID               string `json:"turn_id,omitempty"`
}

// NewID returns a time-ordered unique id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (m Message) validate() error {
	switch m.Sender {
	case SenderUser, SenderCharacter, SenderSystem:
	default:
		return ErrInvalidMessage
	}
	switch m.Kind {
	case KindText, KindSystem:
	case KindVoice:
		if m.VoiceDurationSeconds < 1 {
			return ErrInvalidMessage
		}
	case KindEmoji:
		if m.EmojiKey == "" {
			return ErrInvalidMessage
		}
	default:
		return ErrInvalidMessage
	}
	if m.ConversationID == "" {
		return ErrInvalidMessage
	}
	return nil
}
