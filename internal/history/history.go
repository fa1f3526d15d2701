// Package history is the append-only per-conversation message log.
//
// Every conversation is loaded lazily from the kv store on first use and
// written through on every change. Messages are stored in pages of PageSize so
// an append rewrites only the last page. Write failures are logged and swallowed:
// the in-memory copy stays authoritative for the running process.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/comigor/phonechat-go/internal/kv"
	"github.com/comigor/phonechat-go/internal/logger"
)

var ErrInvalidMessage = errors.New("history: invalid message")

// PageSize is the number of messages per stored page.
const PageSize = 100

// MessagesKey is the prefix of a conversation's message pages.
func MessagesKey(conversationID string) string { return "conv:" + conversationID + ":messages" }

// PageKey is the kv key of page n (0-based) of a conversation's messages.
func PageKey(conversationID string, n int) string {
	return MessagesKey(conversationID) + ":" + strconv.Itoa(n)
}

func SupersededKey(conversationID string) string { return "conv:" + conversationID + ":superseded" }

func pageCount(messages int) int { return (messages + PageSize - 1) / PageSize }

type convLog struct {
	messages   []Message
	superseded map[string]bool
}

// Store owns the logs of all conversations.
type Store struct {
	kv kv.Store

	mu   sync.Mutex
	logs map[string]*convLog
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store, logs: make(map[string]*convLog)}
}

// load returns the conversation log, reading it from kv on first access.
// Callers hold s.mu.
func (s *Store) load(ctx context.Context, conversationID string) *convLog {
	if l, ok := s.logs[conversationID]; ok {
		return l
	}
	l := &convLog{superseded: make(map[string]bool)}
	for page := 0; ; page++ {
		raw, ok, err := s.kv.Get(ctx, PageKey(conversationID, page))
		if err != nil {
			logger.L.Warn("history load failed; keeping what was read", "conversation", conversationID, "page", page, "error", err)
			break
		}
		if !ok {
			break
		}
		var chunk []Message
		if err := json.Unmarshal(raw, &chunk); err != nil {
			logger.L.Warn("history decode failed; keeping what was read", "conversation", conversationID, "page", page, "error", err)
			break
		}
		l.messages = append(l.messages, chunk...)
		if len(chunk) < PageSize {
			break
		}
	}
	if raw, ok, err := s.kv.Get(ctx, SupersededKey(conversationID)); err == nil && ok {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err == nil {
			for _, id := range ids {
				l.superseded[id] = true
			}
		}
	}
	s.logs[conversationID] = l
	return l
}

func (s *Store) persist(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.L.Error("history encode failed", "key", key, "error", err)
		return
	}
	if err := s.kv.Put(ctx, key, raw); err != nil {
		logger.L.Error("history write failed; keeping in-memory copy", "key", key, "error", err)
	}
}

// Append stores msg at the end of its conversation log. ID and CreatedAt are
// filled in when empty. The stored message is returned.
func (s *Store) Append(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.load(ctx, msg.ConversationID)
	l.messages = append(l.messages, msg)
	page := (len(l.messages) - 1) / PageSize
	s.persist(ctx, PageKey(msg.ConversationID, page), l.messages[page*PageSize:])
	return msg, nil
}

// Visible returns the log without superseded messages, oldest first.
func (s *Store) Visible(ctx context.Context, conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.load(ctx, conversationID)
	out := make([]Message, 0, len(l.messages))
	for _, m := range l.messages {
		if !l.superseded[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// All returns every appended message, superseded ones included.
func (s *Store) All(ctx context.Context, conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.load(ctx, conversationID)
	return append([]Message(nil), l.messages...)
}

// Supersede hides the given messages from Visible without touching the records
// themselves. Unknown or already superseded ids are ignored. It returns how
// many messages were newly superseded.
func (s *Store) Supersede(ctx context.Context, conversationID string, ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.load(ctx, conversationID)
	known := make(map[string]bool, len(l.messages))
	for _, m := range l.messages {
		known[m.ID] = true
	}
	n := 0
	for _, id := range ids {
		if known[id] && !l.superseded[id] {
			l.superseded[id] = true
			n++
		}
	}
	if n > 0 {
		list := make([]string, 0, len(l.superseded))
		for _, m := range l.messages {
			if l.superseded[m.ID] {
				list = append(list, m.ID)
			}
		}
		s.persist(ctx, SupersededKey(conversationID), list)
	}
	return n
}

// Clear drops the whole conversation log, in memory and in the store.
func (s *Store) Clear(ctx context.Context, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := []string{SupersededKey(conversationID)}
	for page := range pageCount(len(s.load(ctx, conversationID).messages)) {
		keys = append(keys, PageKey(conversationID, page))
	}
	s.logs[conversationID] = &convLog{superseded: make(map[string]bool)}
	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil {
			logger.L.Error("history delete failed", "key", key, "error", err)
		}
	}
}
