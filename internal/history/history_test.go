package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/phonechat-go/internal/kv"
)

type failingKV struct{ kv.Store }

func (failingKV) Put(context.Context, string, []byte) error { return errors.New("quota exceeded") }

func TestStore_AppendAndReload(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	s := NewStore(backing)

	first, err := s.Append(ctx, Message{ConversationID: "c1", Sender: SenderUser, Kind: KindText, Text: "hi", CreatedAt: 1})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	_, err = s.Append(ctx, Message{ConversationID: "c1", Sender: SenderCharacter, Kind: KindVoice, Text: "hey", VoiceDurationSeconds: 1, CreatedAt: 2})
	require.NoError(t, err)

	reloaded := NewStore(backing).Visible(ctx, "c1")
	require.Len(t, reloaded, 2)
	require.Equal(t, "hi", reloaded[0].Text)
	require.Equal(t, KindVoice, reloaded[1].Kind)
}

func TestStore_RejectsInvalidMessages(t *testing.T) {
	s := NewStore(kv.NewMemory())
	ctx := context.Background()
	_, err := s.Append(ctx, Message{ConversationID: "c1", Sender: "bot", Kind: KindText})
	require.ErrorIs(t, err, ErrInvalidMessage)
	_, err = s.Append(ctx, Message{ConversationID: "c1", Sender: SenderCharacter, Kind: KindEmoji})
	require.ErrorIs(t, err, ErrInvalidMessage)
	_, err = s.Append(ctx, Message{ConversationID: "c1", Sender: SenderCharacter, Kind: KindVoice, Text: "x"})
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestStore_SupersedeKeepsRecords(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	s := NewStore(backing)
	a, _ := s.Append(ctx, Message{ConversationID: "c1", Sender: SenderUser, Kind: KindText, Text: "a"})
	b, _ := s.Append(ctx, Message{ConversationID: "c1", Sender: SenderCharacter, Kind: KindText, Text: "b"})

	require.Equal(t, 1, s.Supersede(ctx, "c1", b.ID, "unknown"))
	require.Equal(t, 0, s.Supersede(ctx, "c1", b.ID))

	require.Equal(t, []Message{a}, s.Visible(ctx, "c1"))
	require.Len(t, s.All(ctx, "c1"), 2)

	// supersession survives a reload
	require.Equal(t, []Message{a}, NewStore(backing).Visible(ctx, "c1"))
}

func TestStore_WriteFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	s := NewStore(failingKV{kv.NewMemory()})
	_, err := s.Append(ctx, Message{ConversationID: "c1", Sender: SenderUser, Kind: KindText, Text: "still here"})
	require.NoError(t, err)
	require.Len(t, s.Visible(ctx, "c1"), 1)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	s := NewStore(backing)
	_, _ = s.Append(ctx, Message{ConversationID: "c1", Sender: SenderUser, Kind: KindText, Text: "a"})
	s.Clear(ctx, "c1")
	require.Empty(t, s.Visible(ctx, "c1"))
	_, ok, _ := backing.Get(ctx, PageKey("c1", 0))
	require.False(t, ok)
}

// recordingKV remembers the size of the largest message page written.
type recordingKV struct {
	kv.Store
	largest int
}

func (r *recordingKV) Put(ctx context.Context, key string, value []byte) error {
	var page []Message
	if json.Unmarshal(value, &page) == nil && len(page) > r.largest {
		r.largest = len(page)
	}
	return r.Store.Put(ctx, key, value)
}

func TestStore_AppendWritesOnlyLastPage(t *testing.T) {
	ctx := context.Background()
	backing := &recordingKV{Store: kv.NewMemory()}
	s := NewStore(backing)
	total := 2*PageSize + 50
	for i := range total {
		_, err := s.Append(ctx, Message{ConversationID: "c1", Sender: SenderUser, Kind: KindText, Text: fmt.Sprint(i)})
		require.NoError(t, err)
	}
	require.Equal(t, PageSize, backing.largest)

	reloaded := NewStore(backing).All(ctx, "c1")
	require.Len(t, reloaded, total)
	for i, m := range reloaded {
		require.Equal(t, fmt.Sprint(i), m.Text)
	}

	s.Clear(ctx, "c1")
	for page := range 3 {
		_, ok, _ := backing.Get(ctx, PageKey("c1", page))
		require.False(t, ok)
	}
	require.Empty(t, NewStore(backing).All(ctx, "c1"))
}
