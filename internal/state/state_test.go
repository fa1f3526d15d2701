package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/phonechat-go/internal/kv"
)

func TestController_NormalTurn(t *testing.T) {
	var changes []Phase
	r := NewRegistry(kv.NewMemory(), func(s Snapshot) { changes = append(changes, s.Phase) })
	c := r.Get("c1")
	require.Same(t, c, r.Get("c1"))
	require.Equal(t, PhaseIdle, c.Snapshot().Phase)

	require.True(t, c.Begin())
	require.False(t, c.Begin(), "second generation must be refused")
	require.True(t, c.Snapshot().Typing())

	turns, err := c.Replied()
	require.NoError(t, err)
	require.Equal(t, 1, turns)
	require.Equal(t, []Phase{PhaseGenerating, PhaseIdle}, changes)
}

func TestController_BusyClearsOnNextReply(t *testing.T) {
	r := NewRegistry(kv.NewMemory(), nil)
	c := r.Get("c1")
	now := time.UnixMilli(1_000_000)

	require.True(t, c.Begin())
	require.NoError(t, c.Busy(now.Add(5*time.Minute), "meeting"))
	snap := c.Snapshot()
	require.Equal(t, PhaseBusyWait, snap.Phase)
	require.Equal(t, now.Add(5*time.Minute).UnixMilli(), snap.BusyUntil)
	require.Equal(t, 5*time.Minute, snap.BusyRemaining(now))
	require.Zero(t, snap.BusyRemaining(now.Add(time.Hour)))
	require.Zero(t, snap.TurnCounter, "busy turns are not counted")

	// a failed attempt during busy keeps the busy state
	require.True(t, c.Begin())
	require.NoError(t, c.Fail())
	require.Equal(t, PhaseBusyWait, c.Snapshot().Phase)
	require.Equal(t, "meeting", c.Snapshot().BusyNote)

	require.True(t, c.Begin())
	_, err := c.Replied()
	require.NoError(t, err)
	snap = c.Snapshot()
	require.Equal(t, PhaseIdle, snap.Phase)
	require.Zero(t, snap.BusyUntil)
}

func TestController_NoReplyAndDismiss(t *testing.T) {
	c := NewRegistry(kv.NewMemory(), nil).Get("c1")
	require.True(t, c.Begin())
	require.NoError(t, c.NoReply("tired"))
	require.Equal(t, Snapshot{ConversationID: "c1", Phase: PhaseNoReplyShown, NoReplyReason: "tired"}, c.Snapshot())

	require.NoError(t, c.Dismiss())
	require.Equal(t, PhaseIdle, c.Snapshot().Phase)
	require.Empty(t, c.Snapshot().NoReplyReason)
	require.NoError(t, c.Dismiss(), "dismiss while idle is a no-op")
}

func TestController_FailFromIdle(t *testing.T) {
	c := NewRegistry(kv.NewMemory(), nil).Get("c1")
	require.True(t, c.Begin())
	require.NoError(t, c.Fail())
	require.Equal(t, PhaseIdle, c.Snapshot().Phase)
	require.Error(t, c.Fail(), "fail outside generating is not a valid transition")
}

func TestRegistry_TurnCounterPersistsAndResets(t *testing.T) {
	store := kv.NewMemory()
	r := NewRegistry(store, nil)
	c := r.Get("c1")
	for i := 0; i < 3; i++ {
		require.True(t, c.Begin())
		_, err := c.Replied()
		require.NoError(t, err)
	}

	require.Equal(t, 3, NewRegistry(store, nil).Get("c1").Snapshot().TurnCounter)

	require.True(t, c.Begin())
	require.ErrorIs(t, r.Reset("c1"), ErrGenerating)
	require.NoError(t, c.Fail())

	require.NoError(t, r.Reset("c1"))
	require.Zero(t, c.Snapshot().TurnCounter)
	_, ok, _ := store.Get(context.Background(), TurnsKey("c1"))
	require.False(t, ok)
}

func TestController_RepliedPersistsWithTransition(t *testing.T) {
	store := kv.NewMemory()
	var seen []int
	r := NewRegistry(store, func(s Snapshot) {
		if s.Phase == PhaseIdle {
			// the counter is already persisted when Idle is reported
			seen = append(seen, NewRegistry(store, nil).Get("c1").Snapshot().TurnCounter)
		}
	})
	c := r.Get("c1")
	require.True(t, c.Begin())
	turns, err := c.Replied()
	require.NoError(t, err)
	require.Equal(t, 1, turns)
	require.Equal(t, []int{1}, seen)

	require.NoError(t, r.Reset("c1"))
	require.Zero(t, NewRegistry(store, nil).Get("c1").Snapshot().TurnCounter)
}
