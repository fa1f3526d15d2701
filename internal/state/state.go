// Package state is the per-conversation reply state machine.
//
//	Idle ──Generate──▶ Generating ──Replied──▶ Idle
//	                        │ ──Busy──────▶ BusyWait ──Generate──▶ Generating
//	                        │ ──NoReply───▶ NoReplyShown ──Generate/Dismiss──▶ …
//	                        └ ──Failed────▶ phase held before Generate
//
// Generating is the mutual exclusion for model calls: Begin refuses while a
// conversation is already generating.
package state

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/phonechat-go/internal/kv"
	"github.com/comigor/phonechat-go/internal/logger"
)

// Phase is a conversation state.
type Phase string

const (
	PhaseIdle         Phase = "Idle"
	PhaseGenerating   Phase = "Generating"
	PhaseBusyWait     Phase = "BusyWait"
	PhaseNoReplyShown Phase = "NoReplyShown"
)

// Trigger drives the state machine.
type Trigger string

const (
	TriggerGenerate Trigger = "Generate"
	TriggerReplied  Trigger = "Replied"
	TriggerBusy     Trigger = "Busy"
	TriggerNoReply  Trigger = "NoReply"
	TriggerFailed   Trigger = "Failed"
	TriggerDismiss  Trigger = "Dismiss"
	TriggerReset    Trigger = "Reset"
)

// TurnsKey is the kv key of the persisted turn counter.
func TurnsKey(conversationID string) string { return "conv:" + conversationID + ":turns" }

// Snapshot is a read-only copy of a conversation's state.
type Snapshot struct {
	ConversationID string `json:"conversation_id"`
	Phase          Phase  `json:"phase"`
	BusyUntil      int64  `json:"busy_until,omitempty"`
	BusyNote       string `json:"busy_note,omitempty"`
	NoReplyReason  string `json:"no_reply_reason,omitempty"`
	TurnCounter    int    `json:"turn_counter"`
}

// BusyRemaining is the countdown shown while BusyWait. It never goes negative
// and has no effect on scheduling.
func (s Snapshot) BusyRemaining(now time.Time) time.Duration {
	if s.Phase != PhaseBusyWait {
		return 0
	}
	d := time.UnixMilli(s.BusyUntil).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Typing reports whether the typing indicator should show.
func (s Snapshot) Typing() bool { return s.Phase == PhaseGenerating }

// Controller owns one conversation's state machine.
type Controller struct {
	id       string
	onChange func(Snapshot)
	persist  func(turns int)

	mu            sync.Mutex
	fsm           *stateless.StateMachine
	before        Phase
	busyUntil     int64
	busyNote      string
	noReplyReason string
	turns         int
}

func newController(id string, turns int, persist func(int), onChange func(Snapshot)) *Controller {
	c := &Controller{id: id, turns: turns, persist: persist, onChange: onChange}
	fsm := stateless.NewStateMachine(PhaseIdle)

	clearBanners := func(_ context.Context, _ ...any) error {
		c.busyUntil, c.busyNote, c.noReplyReason = 0, "", ""
		return nil
	}

	fsm.Configure(PhaseIdle).
		OnEntry(clearBanners).
		Permit(TriggerGenerate, PhaseGenerating).
		Ignore(TriggerReset).
		Ignore(TriggerDismiss)

	fsm.Configure(PhaseGenerating).
		Permit(TriggerReplied, PhaseIdle).
		Permit(TriggerBusy, PhaseBusyWait).
		Permit(TriggerNoReply, PhaseNoReplyShown).
		PermitDynamic(TriggerFailed, func(_ context.Context, _ ...any) (stateless.State, error) {
			return c.before, nil
		})

	fsm.Configure(PhaseBusyWait).
		OnEntryFrom(TriggerBusy, func(_ context.Context, args ...any) error {
			c.busyUntil = args[0].(int64)
			c.busyNote = args[1].(string)
			c.noReplyReason = ""
			return nil
		}).
		Permit(TriggerGenerate, PhaseGenerating).
		Permit(TriggerReset, PhaseIdle).
		Ignore(TriggerDismiss)

	fsm.Configure(PhaseNoReplyShown).
		OnEntryFrom(TriggerNoReply, func(_ context.Context, args ...any) error {
			c.noReplyReason = args[0].(string)
			return nil
		}).
		Permit(TriggerGenerate, PhaseGenerating).
		Permit(TriggerDismiss, PhaseIdle).
		Permit(TriggerReset, PhaseIdle)

	c.fsm = fsm
	return c
}

func (c *Controller) phase() Phase {
	return c.fsm.MustState().(Phase)
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{ConversationID: c.id, Phase: c.phase(), TurnCounter: c.turns}
	if s.Phase == PhaseBusyWait {
		s.BusyUntil, s.BusyNote = c.busyUntil, c.busyNote
	}
	if s.Phase == PhaseNoReplyShown {
		s.NoReplyReason = c.noReplyReason
	}
	return s
}

// fire runs a transition and reports the new snapshot to onChange.
func (c *Controller) fire(t Trigger, args ...any) error {
	return c.transition(t, nil, args...)
}

// transition fires t and, when it succeeds, runs locked while c.mu is still
// held so that counter updates land together with the phase change.
func (c *Controller) transition(t Trigger, locked func(), args ...any) error {
	c.mu.Lock()
	from := c.phase()
	err := c.fsm.Fire(t, args...)
	if err == nil && locked != nil {
		locked()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if snap.Phase != from && c.onChange != nil {
		c.onChange(snap)
	}
	return nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Begin enters Generating. It returns false when a generation is already in
// flight for this conversation.
func (c *Controller) Begin() bool {
	c.mu.Lock()
	from := c.phase()
	if from == PhaseGenerating {
		c.mu.Unlock()
		return false
	}
	c.before = from
	err := c.fsm.Fire(TriggerGenerate)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if err != nil {
		logger.L.Error("state: cannot begin generation", "conversation", c.id, "phase", from, "error", err)
		return false
	}
	if c.onChange != nil {
		c.onChange(snap)
	}
	return true
}

// Replied completes a Normal turn: back to Idle, busy/no-reply cleared, turn
// counter incremented and persisted. It returns the new counter value.
func (c *Controller) Replied() (int, error) {
	var turns int
	err := c.transition(TriggerReplied, func() {
		c.turns++
		turns = c.turns
		if c.persist != nil {
			c.persist(turns)
		}
	})
	if err != nil {
		return 0, err
	}
	return turns, nil
}

// reset zeroes the counter and returns to Idle, running wipe under the same
// lock. It refuses while Generating.
func (c *Controller) reset(wipe func()) error {
	c.mu.Lock()
	from := c.phase()
	if from == PhaseGenerating {
		c.mu.Unlock()
		return ErrGenerating
	}
	err := c.fsm.Fire(TriggerReset)
	if err == nil {
		c.turns = 0
		wipe()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if snap.Phase != from && c.onChange != nil {
		c.onChange(snap)
	}
	return nil
}

// Busy moves to BusyWait until the given instant.
func (c *Controller) Busy(until time.Time, note string) error {
	return c.fire(TriggerBusy, until.UnixMilli(), note)
}

// NoReply moves to NoReplyShown with the reason kept for display.
func (c *Controller) NoReply(reason string) error {
	return c.fire(TriggerNoReply, reason)
}

// Fail leaves Generating for the phase held before Begin.
func (c *Controller) Fail() error {
	return c.fire(TriggerFailed)
}

// Dismiss hides the no-reply banner.
func (c *Controller) Dismiss() error {
	return c.fire(TriggerDismiss)
}

// Registry creates controllers lazily, one per conversation.
type Registry struct {
	kv       kv.Store
	onChange func(Snapshot)

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry builds a registry. onChange, when set, is called after every
// phase change and must not block.
func NewRegistry(store kv.Store, onChange func(Snapshot)) *Registry {
	return &Registry{kv: store, onChange: onChange, controllers: make(map[string]*Controller)}
}

// Get returns the conversation's controller, creating it on first access with
// the persisted turn counter.
func (r *Registry) Get(conversationID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[conversationID]; ok {
		return c
	}
	c := newController(conversationID, r.loadTurns(conversationID), func(turns int) {
		r.saveTurns(conversationID, turns)
	}, r.onChange)
	r.controllers[conversationID] = c
	return c
}

// Reset returns the conversation to a fresh Idle state with a zero turn
// counter. It fails while a generation is in flight.
func (r *Registry) Reset(conversationID string) error {
	r.mu.Lock()
	c, ok := r.controllers[conversationID]
	r.mu.Unlock()
	if !ok {
		r.deleteTurns(conversationID)
		return nil
	}
	return c.reset(func() { r.deleteTurns(conversationID) })
}

func (r *Registry) deleteTurns(conversationID string) {
	if err := r.kv.Delete(context.Background(), TurnsKey(conversationID)); err != nil {
		logger.L.Error("state: turn counter delete failed", "conversation", conversationID, "error", err)
	}
}

func (r *Registry) loadTurns(conversationID string) int {
	raw, ok, err := r.kv.Get(context.Background(), TurnsKey(conversationID))
	if err != nil {
		logger.L.Warn("state: turn counter load failed", "conversation", conversationID, "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		logger.L.Warn("state: turn counter decode failed", "conversation", conversationID, "value", string(raw))
		return 0
	}
	return n
}

func (r *Registry) saveTurns(conversationID string, turns int) {
	if err := r.kv.Put(context.Background(), TurnsKey(conversationID), []byte(strconv.Itoa(turns))); err != nil {
		logger.L.Error("state: turn counter write failed", "conversation", conversationID, "error", err)
	}
}
