package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/phonechat-go/internal/clock"
	"github.com/comigor/phonechat-go/internal/history"
)

func msg(id string, sender history.Sender, text string, at int64) history.Message {
	return history.Message{ID: id, Sender: sender, Kind: history.KindText, Text: text, CreatedAt: at}
}

func TestDetect(t *testing.T) {
	_, ok := Detect(nil)
	require.False(t, ok)

	log := []history.Message{
		msg("1", history.SenderUser, "hi", 1),
		msg("2", history.SenderUser, "there?", 2),
	}
	turn, ok := Detect(log)
	require.True(t, ok)
	require.Equal(t, []string{"hi", "there?"}, turn.Texts)
	require.Equal(t, "2", turn.ID())
	require.Equal(t, int64(2), turn.LastAt)

	log = append(log, msg("3", history.SenderCharacter, "yo", 3))
	_, ok = Detect(log)
	require.False(t, ok)

	log = append(log,
		msg("4", history.SenderUser, "how are you", 4),
		msg("5", history.SenderSystem, "Alice is typing", 5),
		msg("6", history.SenderUser, "??", 6),
	)
	turn, ok = Detect(log)
	require.True(t, ok)
	require.Equal(t, []string{"how are you", "??"}, turn.Texts)
	require.Equal(t, []string{"4", "6"}, turn.MessageIDs)

	// re-evaluating an unchanged log is stable
	again, _ := Detect(log)
	require.Equal(t, turn, again)
}

func TestDetect_MessagesSentDuringGeneration(t *testing.T) {
	reply := func(id, text, turnID string, at int64) history.Message {
		m := msg(id, history.SenderCharacter, text, at)
		m.TurnID = turnID
		return m
	}
	log := []history.Message{
		msg("1", history.SenderUser, "hi", 1),
		// typed while the reply to "1" was generating
		msg("2", history.SenderUser, "wait, one more thing", 2),
		reply("3", "hey", "1", 3),
		reply("4", "what's up", "1", 4),
	}
	turn, ok := Detect(log)
	require.True(t, ok)
	require.Equal(t, []string{"2"}, turn.MessageIDs)

	log = append(log, reply("5", "sure, go on", "2", 5))
	_, ok = Detect(log)
	require.False(t, ok)
}

func TestRemaining(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	turn := Turn{LastAt: now.Add(-10 * time.Second).UnixMilli()}
	require.Equal(t, DefaultWindow-10*time.Second, Remaining(turn, now, DefaultWindow))
	turn.LastAt = now.Add(-DefaultWindow).UnixMilli()
	require.Zero(t, Remaining(turn, now, DefaultWindow))
}

func TestDebouncer_ArmIsIdempotent(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	d := NewDebouncer(c)
	calls := 0

	require.True(t, d.Arm("c1", time.Minute, func() { calls++ }))
	require.False(t, d.Arm("c1", time.Second, func() { calls += 100 }))
	require.True(t, d.Armed("c1"))
	require.Equal(t, 1, c.Pending())

	c.Advance(time.Minute)
	require.Equal(t, 1, calls)
	require.False(t, d.Armed("c1"))

	// once fired, the key can be armed again
	require.True(t, d.Arm("c1", time.Second, func() { calls++ }))
	c.Advance(time.Second)
	require.Equal(t, 2, calls)
}

func TestDebouncer_KeysAreIndependentAndCancellable(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	d := NewDebouncer(c)
	var fired []string
	d.Arm("a", time.Second, func() { fired = append(fired, "a") })
	d.Arm("b", time.Second, func() { fired = append(fired, "b") })
	require.True(t, d.Cancel("a"))
	require.False(t, d.Cancel("a"))

	c.Advance(time.Second)
	require.Equal(t, []string{"b"}, fired)
}

func TestDebouncer_FnMayRearm(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	d := NewDebouncer(c)
	calls := 0
	var fn func()
	fn = func() {
		calls++
		if calls < 3 {
			require.True(t, d.Arm("c1", time.Second, fn))
		}
	}
	d.Arm("c1", time.Second, fn)
	c.Advance(time.Second)
	c.Advance(time.Second)
	c.Advance(time.Second)
	require.Equal(t, 3, calls)
	d.Stop()
	require.Zero(t, c.Pending())
}
