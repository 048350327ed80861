package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-console/internal/kv"
	"agent-console/internal/types"
	"agent-console/internal/utils"
)

func seedMessages(t *testing.T, store kv.Store, id string, texts ...string) {
	t.Helper()
	msgs := make([]types.ChatMessage, 0, len(texts))
	for _, text := range texts {
		msgs = append(msgs, types.ChatMessage{ID: text, Sender: types.SenderUser, Text: text, Timestamp: "2025-03-01T10:00:00Z"})
	}
	data, err := json.Marshal(msgs)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), MessagesKey(id), data))
}

func TestStoreRestoresActiveSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := kv.NewMemory()
	require.NoError(t, mem.Set(ctx, KeyActiveSession, []byte(`"abc"`)))
	seedMessages(t, mem, "abc", "hello", "again")

	s, err := NewStore(ctx, mem, utils.NopLogger())
	require.NoError(t, err)
	st := s.Snapshot()
	assert.Equal(t, "abc", st.SessionID)
	assert.Nil(t, st.Session)
	require.Len(t, st.UserMessages, 2)
	assert.Equal(t, "hello", st.UserMessages[0].Text)
	assert.True(t, st.ShouldPoll())
}

func TestStoreMalformedCacheIsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := kv.NewMemory()
	require.NoError(t, mem.Set(ctx, KeyActiveSession, []byte(`"abc"`)))
	require.NoError(t, mem.Set(ctx, MessagesKey("abc"), []byte(`{not json`)))

	s, err := NewStore(ctx, mem, utils.NopLogger())
	require.NoError(t, err)
	st := s.Snapshot()
	assert.Equal(t, "abc", st.SessionID)
	assert.Empty(t, st.UserMessages)
}

func TestStoreSwitchLoadsOtherCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := kv.NewMemory()
	seedMessages(t, mem, "a", "from-a")
	seedMessages(t, mem, "b", "from-b-1", "from-b-2")

	s, err := NewStore(ctx, mem, utils.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.SetSessionID(ctx, "a"))
	first := s.Snapshot()
	require.Len(t, first.UserMessages, 1)

	require.NoError(t, s.SetSessionID(ctx, "b"))
	second := s.Snapshot()
	assert.Equal(t, "b", second.SessionID)
	assert.Len(t, second.UserMessages, 2)
	assert.Greater(t, second.Generation, first.Generation)

	raw, err := mem.Get(ctx, KeyActiveSession)
	require.NoError(t, err)
	assert.JSONEq(t, `"b"`, string(raw))

	_, err = mem.Get(ctx, MessagesKey("a"))
	assert.NoError(t, err)
}

func TestStoreSetSameIDIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := NewStore(ctx, kv.NewMemory(), utils.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.SetSessionID(ctx, "a"))
	gen := s.Snapshot().Generation
	require.NoError(t, s.SetSessionID(ctx, "a"))
	assert.Equal(t, gen, s.Snapshot().Generation)
}

func TestStoreClearKeepsCaches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := kv.NewMemory()
	seedMessages(t, mem, "a", "keep me")
	s, err := NewStore(ctx, mem, utils.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.SetSessionID(ctx, "a"))

	require.NoError(t, s.Clear(ctx))
	st := s.Snapshot()
	assert.Empty(t, st.SessionID)
	assert.Nil(t, st.Session)
	assert.Empty(t, st.UserMessages)
	assert.False(t, st.ShouldPoll())

	_, err = mem.Get(ctx, KeyActiveSession)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = mem.Get(ctx, MessagesKey("a"))
	assert.NoError(t, err)

	require.NoError(t, s.SetSessionID(ctx, "a"))
	assert.Len(t, s.Snapshot().UserMessages, 1)
}

func TestStoreSubscribeCoalesces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := NewStore(ctx, kv.NewMemory(), utils.NopLogger())
	require.NoError(t, err)
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.SetSessionID(ctx, "a"))
	require.NoError(t, s.SetSessionID(ctx, "b"))
	select {
	case <-ch:
	default:
		t.Fatal("expected notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}
}

func TestStoreRejectsStaleFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := NewStore(ctx, kv.NewMemory(), utils.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Activate(ctx, &types.Session{ID: "a", Status: types.SessionStatusRunning}))

	m := s.mark()
	require.True(t, s.applyMutation("a", &types.Session{ID: "a", Status: types.SessionStatusAwaitingApproval}))
	assert.False(t, s.applyFetched(m, &types.Session{ID: "a", Status: types.SessionStatusRunning}))
	assert.Equal(t, types.SessionStatusAwaitingApproval, s.Snapshot().Session.Status)

	m = s.mark()
	require.NoError(t, s.SetSessionID(ctx, "b"))
	assert.False(t, s.applyFetched(m, &types.Session{ID: "a"}))
	assert.False(t, s.applyMutation("a", &types.Session{ID: "a"}))
	assert.Equal(t, "b", s.Snapshot().SessionID)
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := NewStore(ctx, kv.NewMemory(), utils.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Activate(ctx, &types.Session{ID: "a", Status: types.SessionStatusRunning,
		Decisions: []types.Decision{{ID: "d1", Phase: types.PhaseThink}}}))

	st := s.Snapshot()
	st.Session.Status = types.SessionStatusFailed
	st.Session.Decisions[0].ID = "mutated"
	again := s.Snapshot()
	assert.Equal(t, types.SessionStatusRunning, again.Session.Status)
	assert.Equal(t, "d1", again.Session.Decisions[0].ID)
}
