package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHub_FiltersByConversation(t *testing.T) {
	h := NewHub()
	c1, cancel1 := h.Subscribe("c1")
	all, cancelAll := h.Subscribe("")
	defer cancelAll()

	h.Publish(Event{Type: MessagesUpdated, ConversationID: "c1"})
	h.Publish(Event{Type: StateChanged, ConversationID: "c2"})

	require.Equal(t, MessagesUpdated, (<-c1).Type)
	require.Len(t, c1, 0)
	require.Len(t, all, 2)

	cancel1()
	cancel1()
	_, open := <-c1
	require.False(t, open)
	h.Publish(Event{Type: MessagesUpdated, ConversationID: "c1"})
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("c1")
	defer cancel()
	for i := 0; i < subscriberBuffer*2; i++ {
		h.Publish(Event{Type: MessagesUpdated, ConversationID: "c1"})
	}
}

func TestHub_NilIsSafe(t *testing.T) {
	var h *Hub
	h.Publish(Event{Type: MessagesUpdated})
}
