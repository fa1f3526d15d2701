// Package events is the in-process notification hub other views subscribe to
// instead of polling the message log.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	MessagesUpdated Type = "messages_updated"
	StateChanged    Type = "state_changed"
	SnapshotCreated Type = "snapshot_created"
)

// Event is one notification. Payload is event specific (the appended message,
// the state snapshot, the memory snapshot).
type Event struct {
	Type           Type      `json:"type"`
	ConversationID string    `json:"conversation_id"`
	At             time.Time `json:"at"`
	Payload        any       `json:"payload,omitempty"`
}

const subscriberBuffer = 64

type subscriber struct {
	conversationID string // empty: all conversations
	ch             chan Event
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than stall the publisher.
type Hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe returns a channel of events for one conversation, or for all when
// conversationID is empty, and a cancel func that closes the channel.
func (h *Hub) Subscribe(conversationID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = subscriber{conversationID: conversationID, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e without blocking.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.conversationID != "" && s.conversationID != e.ConversationID {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}
