package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(id string, offset time.Duration) Message {
	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	return Message{ID: id, Content: id, CreatedAt: base.Add(offset)}
}

func ids(list []Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

func TestInsertMessageSortsByCreatedAt(t *testing.T) {
	var list []Message
	list, _ = InsertMessage(list, msgAt("b", 2*time.Second), 10)
	list, _ = InsertMessage(list, msgAt("a", time.Second), 10)
	list, _ = InsertMessage(list, msgAt("c", 3*time.Second), 10)

	assert.Equal(t, []string{"a", "b", "c"}, ids(list))
}

func TestInsertMessageDeduplicatesByID(t *testing.T) {
	list, added := InsertMessage(nil, msgAt("a", 0), 10)
	require.True(t, added)

	list, added = InsertMessage(list, msgAt("a", time.Minute), 10)
	assert.False(t, added)
	assert.Len(t, list, 1)
}

func TestInsertMessageDropsOldestBeyondLimit(t *testing.T) {
	var list []Message
	for i := 0; i < 5; i++ {
		list, _ = InsertMessage(list, msgAt(string(rune('a'+i)), time.Duration(i)*time.Second), 3)
	}

	assert.Equal(t, []string{"c", "d", "e"}, ids(list))
}

func TestMergeMessagesKeepsExistingEntries(t *testing.T) {
	list := []Message{msgAt("a", 0), msgAt("c", 2*time.Second)}
	merged := MergeMessages(list, []Message{msgAt("b", time.Second), msgAt("a", 5*time.Second)}, 10)

	assert.Equal(t, []string{"a", "b", "c"}, ids(merged))
}

func TestRoomMessageBoundary(t *testing.T) {
	original := Message{ID: "m1", AuthorID: "u1", AuthorName: "小明", Content: "喝水了", CreatedAt: time.Now().UTC()}

	wire := FromMessage("global", original)
	assert.Equal(t, "global", wire.RoomID)
	assert.Equal(t, "小明", wire.User.Username)
	assert.Equal(t, original, wire.ToMessage())
}

func TestServerEventPayloads(t *testing.T) {
	wire := FromMessage("global", msgAt("m1", 0))
	got, err := NewChatMessageEvent(wire).RoomMessage()
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	join := NewSystemEvent("global", SystemJoin, Participant{ID: "u1", Username: "alice"})
	assert.Equal(t, "alice 加入聊天室", join.Text())

	_, err = join.RoomMessage()
	assert.Error(t, err)
}

func TestDecodeEnvelopeRejectsUnknownTypes(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":"typing"}`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = DecodeEnvelope([]byte(`{"type":"message"}`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = DecodeEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	env, err := DecodeEnvelope([]byte(`{"type":"presence","presence":{"id":"u1","name":"a","status":"away","lastActive":"2025-01-01T00:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, StatusAway, env.Presence.Status)
}

func TestDecodeEnvelopeRejectsUnknownPresenceStatus(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":"presence","presence":{"id":"u-x","name":"x","status":"busy"}}`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = DecodeEnvelope([]byte(`{"type":"presence","presence":{"id":"u-x","name":"x"}}`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}
