// Package api exposes the engine over HTTP and streams its events over a
// websocket.
package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/comigor/phonechat-go/internal/events"
	"github.com/comigor/phonechat-go/internal/history"
	"github.com/comigor/phonechat-go/internal/logger"
	"github.com/comigor/phonechat-go/internal/memory"
	"github.com/comigor/phonechat-go/internal/state"
)

// Chat is the engine surface the handlers use.
type Chat interface {
	SendUserMessage(ctx context.Context, conversationID, text string) (history.Message, error)
	ResolveNow(ctx context.Context, conversationID string) error
	Regenerate(ctx context.Context, conversationID string) error
	ClearHistory(ctx context.Context, conversationID string) error
	DismissNoReply(conversationID string) error
	Messages(ctx context.Context, conversationID string) []history.Message
	State(conversationID string) state.Snapshot
	Snapshots(ctx context.Context, conversationID string) []memory.Snapshot
	SummarySettings(ctx context.Context) memory.Settings
	SetSummarySettings(ctx context.Context, s memory.Settings) memory.Settings
	Events() *events.Hub
	Now() time.Time
}

// Handler serves the HTTP API.
type Handler struct {
	chat Chat
	// Tick is the busy countdown interval on the event stream.
	Tick time.Duration
}

func New(chat Chat) *Handler {
	return &Handler{chat: chat, Tick: time.Second}
}

// Router builds the chi router with every route mounted under /api.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Route("/conversations/{conversationID}", func(c chi.Router) {
			c.Get("/messages", h.listMessages)
			c.Post("/messages", h.sendMessage)
			c.Delete("/messages", h.clearHistory)
			c.Post("/reply", h.replyNow)
			c.Post("/regenerate", h.regenerate)
			c.Get("/state", h.getState)
			c.Post("/dismiss", h.dismiss)
			c.Get("/memories", h.listMemories)
			c.Get("/events", h.streamEvents)
		})
		api.Get("/settings/summary", h.getSummarySettings)
		api.Put("/settings/summary", h.putSummarySettings)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.L.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// StateView is the state as shown to clients.
type StateView struct {
	state.Snapshot
	Typing               bool  `json:"typing"`
	BusyRemainingSeconds int64 `json:"busy_remaining_seconds,omitempty"`
}

func (h *Handler) stateView(conversationID string) StateView {
	s := h.chat.State(conversationID)
	return StateView{
		Snapshot:             s,
		Typing:               s.Typing(),
		BusyRemainingSeconds: int64(math.Ceil(s.BusyRemaining(h.chat.Now()).Seconds())),
	}
}

type sendRequest struct {
	Text string `json:"text"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid json body")
		return
	}
	msg, err := h.chat.SendUserMessage(r.Context(), chi.URLParam(r, "conversationID"), req.Text)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs := h.chat.Messages(r.Context(), chi.URLParam(r, "conversationID"))
	if msgs == nil {
		msgs = []history.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.ClearHistory(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replyNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := h.chat.ResolveNow(r.Context(), id); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.stateView(id))
}

func (h *Handler) regenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := h.chat.Regenerate(r.Context(), id); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.stateView(id))
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.stateView(chi.URLParam(r, "conversationID")))
}

func (h *Handler) dismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := h.chat.DismissNoReply(id); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.stateView(id))
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	snaps := h.chat.Snapshots(r.Context(), chi.URLParam(r, "conversationID"))
	if snaps == nil {
		snaps = []memory.Snapshot{}
	}
	respondJSON(w, http.StatusOK, snaps)
}

func (h *Handler) getSummarySettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.chat.SummarySettings(r.Context()))
}

func (h *Handler) putSummarySettings(w http.ResponseWriter, r *http.Request) {
	var s memory.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid json body")
		return
	}
	respondJSON(w, http.StatusOK, h.chat.SetSummarySettings(r.Context(), s))
}
