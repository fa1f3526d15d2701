// Package engine runs the reply orchestration for every conversation: it
// aggregates user messages into turns, makes one completion call per turn and
// plays the parsed result back into the message log.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/comigor/phonechat-go/internal/bubble"
	"github.com/comigor/phonechat-go/internal/clock"
	"github.com/comigor/phonechat-go/internal/config"
	"github.com/comigor/phonechat-go/internal/emoji"
	"github.com/comigor/phonechat-go/internal/events"
	"github.com/comigor/phonechat-go/internal/history"
	"github.com/comigor/phonechat-go/internal/kv"
	"github.com/comigor/phonechat-go/internal/llm"
	"github.com/comigor/phonechat-go/internal/logger"
	"github.com/comigor/phonechat-go/internal/memory"
	"github.com/comigor/phonechat-go/internal/pending"
	"github.com/comigor/phonechat-go/internal/persona"
	"github.com/comigor/phonechat-go/internal/player"
	"github.com/comigor/phonechat-go/internal/state"
)

const (
	defaultContextMessages   = 20
	defaultGenerationTimeout = 90 * time.Second
	memoryContextSnapshots   = 3
)

// Engine is safe for concurrent use. Conversations are independent; within one
// conversation the Generating phase serialises model calls.
type Engine struct {
	llmClient llm.Client
	llmCfg    config.LLMConfig

	window            time.Duration
	contextMessages   int
	generationTimeout time.Duration

	clock      clock.Clock
	hub        *events.Hub
	history    *history.Store
	states     *state.Registry
	memory     *memory.Store
	summarizer *memory.Summarizer
	persona    persona.Provider
	catalog    emoji.Catalog
	bubbles    *bubble.Processor
	player     *player.Player
	debounce   *pending.Debouncer

	bg sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	attempted map[string]string // conversation -> id of the last turn sent to the model
}

// Option customises an Engine.
type Option func(*options)

type options struct {
	clock   clock.Clock
	rand    func() float64
	delay   func() time.Duration
	persona persona.Provider
	catalog emoji.Catalog
	hub     *events.Hub
}

// WithClock replaces the wall clock, typically with clock.Fake in tests.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithRand sets the emoji throttle randomness.
func WithRand(f func() float64) Option { return func(o *options) { o.rand = f } }

// WithDelay sets the pause between played bubbles.
func WithDelay(f func() time.Duration) Option { return func(o *options) { o.delay = f } }

// WithPersona replaces the configured persona provider.
func WithPersona(p persona.Provider) Option { return func(o *options) { o.persona = p } }

// WithCatalog replaces the configured emoji catalog.
func WithCatalog(c emoji.Catalog) Option { return func(o *options) { o.catalog = c } }

// WithHub publishes events on an existing hub.
func WithHub(h *events.Hub) Option { return func(o *options) { o.hub = h } }

// New creates an engine over store. llmClient may be nil when no API is
// configured; every resolve then fails with llm.ErrNoAPIConfig.
func New(llmClient llm.Client, cfg config.Config, store kv.Store, opts ...Option) *Engine {
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hub == nil {
		o.hub = events.NewHub()
	}
	if o.persona == nil {
		o.persona = persona.NewStatic(cfg.Persona)
	}
	if o.catalog == nil {
		o.catalog = emoji.NewMapCatalog(cfg.Emoji.Catalog)
	}
	if o.delay == nil {
		o.delay = player.RandomDelay(cfg.Chat.TypingDelayMin, cfg.Chat.TypingDelayMax)
	}

	e := &Engine{
		llmClient:         llmClient,
		llmCfg:            cfg.LLM,
		window:            cfg.Chat.DebounceWindow,
		contextMessages:   cfg.Chat.ContextMessages,
		generationTimeout: cfg.LLM.Timeout,
		clock:             o.clock,
		hub:               o.hub,
		persona:           o.persona,
		catalog:           o.catalog,
		attempted:         make(map[string]string),
	}
	if e.window <= 0 {
		e.window = pending.DefaultWindow
	}
	if e.contextMessages <= 0 {
		e.contextMessages = defaultContextMessages
	}
	if e.generationTimeout <= 0 {
		e.generationTimeout = defaultGenerationTimeout
	}

	e.history = history.NewStore(store)
	e.states = state.NewRegistry(store, func(s state.Snapshot) {
		e.hub.Publish(events.Event{Type: events.StateChanged, ConversationID: s.ConversationID, At: e.clock.Now(), Payload: s})
	})
	e.memory = memory.NewStore(store, memory.Settings{
		Enabled:  cfg.Summary.Enabled,
		Interval: cfg.Summary.Interval,
	}, cfg.Summary.MaxSnapshots)

	var primary memory.Summariser
	if llmClient != nil {
		primary = &memory.LLMSummariser{Client: llmClient, Config: cfg.LLM}
	}
	e.summarizer = &memory.Summarizer{
		Store:        e.memory,
		History:      e.history,
		Primary:      primary,
		Fallback:     memory.TranscriptSummariser{},
		Clock:        e.clock,
		Events:       e.hub,
		TailMessages: cfg.Summary.TailMessages,
	}
	e.bubbles = &bubble.Processor{Catalog: e.catalog, Rand: o.rand, EmojiWindow: cfg.Chat.EmojiWindow}
	e.player = &player.Player{Log: e.history, Clock: e.clock, Events: e.hub, Delay: o.delay}
	e.debounce = pending.NewDebouncer(e.clock)
	return e
}

// Events returns the hub the engine publishes on.
func (e *Engine) Events() *events.Hub { return e.hub }

// SendUserMessage appends a user message and schedules the reply.
func (e *Engine) SendUserMessage(ctx context.Context, conversationID, text string) (history.Message, error) {
	if strings.TrimSpace(text) == "" {
		return history.Message{}, ErrEmptyMessage
	}
	now := e.clock.Now()
	msg, err := e.history.Append(ctx, history.Message{
		ConversationID: conversationID,
		Sender:         history.SenderUser,
		Kind:           history.KindText,
		Text:           text,
		CreatedAt:      clock.Millis(now),
	})
	if err != nil {
		return history.Message{}, err
	}
	e.hub.Publish(events.Event{Type: events.MessagesUpdated, ConversationID: conversationID, At: now, Payload: msg})
	e.Trigger(conversationID)
	return msg, nil
}

// Trigger evaluates the conversation: a pending turn younger than the window
// arms the debounce timer, an older one is resolved in the background. It is
// safe to call any number of times; at most one timer is ever armed.
func (e *Engine) Trigger(conversationID string) {
	if e.states.Get(conversationID).Snapshot().Phase == state.PhaseGenerating {
		// re-evaluated when the running turn finishes
		return
	}
	turn, ok := pending.Detect(e.history.Visible(context.Background(), conversationID))
	if !ok {
		e.debounce.Cancel(conversationID)
		return
	}
	if e.wasAttempted(conversationID, turn.ID()) {
		return
	}
	if wait := pending.Remaining(turn, e.clock.Now(), e.window); wait > 0 {
		if e.debounce.Arm(conversationID, wait, func() { e.Trigger(conversationID) }) {
			logger.L.Debug("reply scheduled", "conversation", conversationID, "in", wait, "pending", len(turn.Texts))
		}
		return
	}
	e.goResolve(conversationID)
}

// ResolveNow answers the pending turn immediately, skipping the debounce
// window. It blocks until the turn has been played.
func (e *Engine) ResolveNow(ctx context.Context, conversationID string) error {
	return e.resolve(ctx, conversationID, false)
}

// Regenerate hides the character's reply to the last user turn and answers
// that turn again. Without a reply yet it behaves like ResolveNow.
func (e *Engine) Regenerate(ctx context.Context, conversationID string) error {
	return e.resolve(ctx, conversationID, true)
}

// DismissNoReply hides the no-reply banner.
func (e *Engine) DismissNoReply(conversationID string) error {
	c := e.states.Get(conversationID)
	if c.Snapshot().Phase == state.PhaseGenerating {
		return ErrGenerationInFlight
	}
	return c.Dismiss()
}

// ClearHistory drops the conversation's messages, memory snapshots and turn
// counter. It is refused while a reply is generating.
func (e *Engine) ClearHistory(ctx context.Context, conversationID string) error {
	if err := e.states.Reset(conversationID); err != nil {
		if errors.Is(err, state.ErrGenerating) {
			return ErrGenerationInFlight
		}
		return err
	}
	e.debounce.Cancel(conversationID)
	e.history.Clear(ctx, conversationID)
	e.memory.Clear(ctx, conversationID)
	e.mu.Lock()
	delete(e.attempted, conversationID)
	e.mu.Unlock()
	logger.L.Info("history cleared", "conversation", conversationID)
	e.hub.Publish(events.Event{Type: events.MessagesUpdated, ConversationID: conversationID, At: e.clock.Now()})
	return nil
}

// Messages returns the visible log, oldest first.
func (e *Engine) Messages(ctx context.Context, conversationID string) []history.Message {
	return e.history.Visible(ctx, conversationID)
}

// State returns the conversation's current state.
func (e *Engine) State(conversationID string) state.Snapshot {
	return e.states.Get(conversationID).Snapshot()
}

// Snapshots returns the conversation's memory snapshots, oldest first.
func (e *Engine) Snapshots(ctx context.Context, conversationID string) []memory.Snapshot {
	return e.memory.List(ctx, conversationID)
}

func (e *Engine) SummarySettings(ctx context.Context) memory.Settings {
	return e.memory.Settings(ctx)
}

func (e *Engine) SetSummarySettings(ctx context.Context, s memory.Settings) memory.Settings {
	return e.memory.SetSettings(ctx, s)
}

// Now is the engine's clock reading, for countdown displays.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Wait blocks until background resolves and summaries have finished.
func (e *Engine) Wait() { e.bg.Wait() }

// Close stops armed timers and waits for background work. Timers that fire
// afterwards start nothing.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.debounce.Stop()
	e.bg.Wait()
}

// spawn runs fn in the background unless the engine is closed.
func (e *Engine) spawn(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn()
	}()
	return true
}

func (e *Engine) goResolve(conversationID string) {
	started := e.spawn(func() {
		err := e.resolve(context.Background(), conversationID, false)
		if err != nil && !errors.Is(err, ErrGenerationInFlight) && !errors.Is(err, ErrNothingPending) {
			logger.L.Warn("scheduled reply failed", "conversation", conversationID, "error", err)
		}
	})
	if !started {
		logger.L.Debug("engine closed; reply not started", "conversation", conversationID)
	}
}

func (e *Engine) wasAttempted(conversationID, turnID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempted[conversationID] == turnID
}

func (e *Engine) markAttempted(conversationID, turnID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempted[conversationID] = turnID
}
