package session

import (
	"context"
	"testing"
	"time"

	"servicemart/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testutil.NewRedis(t)
	st := NewStore(rdb, time.Hour)

	s := New()
	assert.False(t, s.Dirty())
	require.NoError(t, s.Set("user_id", int64(42)))
	require.NoError(t, st.Save(ctx, s))
	assert.False(t, s.Dirty())

	loaded, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	var id int64
	ok, err := loaded.Get("user_id", &id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 42, id)

	mr.FastForward(time.Hour + time.Second)
	expired, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, expired.ID)
	assert.False(t, expired.Has("user_id"))
}

func TestStore_RegenerateDropsOldID(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testutil.NewRedis(t)
	st := NewStore(rdb, time.Hour)

	s := New()
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, st.Save(ctx, s))
	oldID := s.ID

	s.Regenerate()
	require.NoError(t, st.Save(ctx, s))
	assert.NotEqual(t, oldID, s.ID)
	assert.False(t, mr.Exists("session:"+oldID))
	assert.True(t, mr.Exists("session:"+s.ID))

	require.NoError(t, st.Destroy(ctx, s))
	assert.False(t, mr.Exists("session:"+s.ID))
	assert.False(t, s.Has("k"))
}

func TestStore_CorruptSessionDiscarded(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testutil.NewRedis(t)
	st := NewStore(rdb, time.Hour)
	require.NoError(t, mr.Set("session:broken", "not json"))

	s, err := st.Load(ctx, "broken")
	require.NoError(t, err)
	assert.NotEqual(t, "broken", s.ID)
}
