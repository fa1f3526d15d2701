package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/comigor/phonechat-go/internal/events"
	"github.com/comigor/phonechat-go/internal/logger"
	"github.com/comigor/phonechat-go/internal/state"
)

const (
	writeWait = 10 * time.Second
	// BusyTick is sent on every tick while the character is busy.
	BusyTick events.Type = "busy_tick"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamEvents pushes the conversation's events as JSON frames. While the
// character is busy a busy_tick frame with the current state is sent every
// Tick. Incoming frames are ignored.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L.Warn("websocket upgrade failed", "conversation", id, "error", err)
		return
	}
	defer conn.Close()

	sub, cancel := h.chat.Events().Subscribe(id)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	tick := h.Tick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	send := func(e events.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(e); err != nil {
			logger.L.Debug("websocket write failed", "conversation", id, "error", err)
			return false
		}
		return true
	}

	// initial state so clients render without a separate request
	if !send(events.Event{Type: events.StateChanged, ConversationID: id, At: h.chat.Now(), Payload: h.stateView(id)}) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub:
			if !ok || !send(e) {
				return
			}
		case <-ticker.C:
			if h.chat.State(id).Phase != state.PhaseBusyWait {
				continue
			}
			if !send(events.Event{Type: BusyTick, ConversationID: id, At: h.chat.Now(), Payload: h.stateView(id)}) {
				return
			}
		}
	}
}
