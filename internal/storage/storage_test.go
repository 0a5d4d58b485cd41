package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

func TestMemoryKVQuota(t *testing.T) {
	kv := NewMemoryKVWithQuota(8)

	require.NoError(t, kv.Set("a", "1234"))
	require.NoError(t, kv.Set("a", "12345678"))
	assert.ErrorIs(t, kv.Set("b", "x"), ErrQuotaExceeded)

	value, ok, err := kv.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12345678", value)
}

func TestBoundedListKeepsNewest(t *testing.T) {
	list := NewBoundedList[int](NewMemoryKV(), "numbers", 3)

	require.NoError(t, list.Save([]int{1, 2, 3, 4, 5}))
	got, err := list.Load()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, got)
}

func TestBoundedListMissingKey(t *testing.T) {
	got, err := NewBoundedList[string](NewMemoryKV(), "missing", 3).Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBoundedListCorruptData(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Set("numbers", "{not-json"))

	_, err := NewBoundedList[int](kv, "numbers", 3).Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteKV(t *testing.T) {
	db := openTestDB(t)

	_, ok, err := db.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Set("k", "v1"))
	require.NoError(t, db.Set("k", "v2"))

	value, ok, err := db.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", value)
}

func TestSQLiteRoomHistoryIsTrimmed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		msg := chat.RoomMessage{
			ID:          fmt.Sprintf("m%d", i),
			RoomID:      "global",
			User:        chat.Participant{ID: "u1", Username: "alice"},
			Content:     fmt.Sprintf("hello %d", i),
			MessageType: chat.MessageTypeText,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, db.SaveMessage(ctx, msg, 3))
	}

	got, err := db.RecentMessages(ctx, "global", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m4", got[2].ID)
	assert.Equal(t, "alice", got[0].User.Username)

	other, err := db.RecentMessages(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}
