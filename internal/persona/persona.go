// Package persona supplies the opaque character/world context placed at the
// top of every generation request.
package persona

import (
	"context"
	"strings"

	"github.com/comigor/phonechat-go/internal/config"
)

// Provider returns the persona prompt for a conversation.
type Provider interface {
	Prompt(ctx context.Context, conversationID string) (string, error)
}

// Static serves prompts from configuration. Conversation ids are matched
// case-insensitively because viper lower-cases map keys.
type Static struct {
	Default       string
	Conversations map[string]string
}

func NewStatic(cfg config.PersonaConfig) *Static {
	convs := make(map[string]string, len(cfg.Conversations))
	for k, v := range cfg.Conversations {
		convs[strings.ToLower(k)] = v
	}
	return &Static{Default: cfg.DefaultPrompt, Conversations: convs}
}

func (s *Static) Prompt(_ context.Context, conversationID string) (string, error) {
	if p, ok := s.Conversations[strings.ToLower(conversationID)]; ok && strings.TrimSpace(p) != "" {
		return p, nil
	}
	return s.Default, nil
}
