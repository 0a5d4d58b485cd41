package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
	"github.com/a2639443196/my-vue-web/backend/internal/service/room"
)

func setupRouter() (*chi.Mux, *room.Service) {
	rooms := room.NewService(room.NewMemoryRepository(), nil)
	handler := New(rooms, nil)

	r := chi.NewRouter()
	r.Route("/api/chat", handler.RegisterRoutes)
	handler.RegisterSocketRoutes(r)
	return r, rooms
}

func postMessage(t *testing.T, r http.Handler, roomID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/rooms/"+roomID+"/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestListMessagesEmptyRoom(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/chat/rooms/global/messages", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `[]`, resp.Body.String())
}

func TestPostAndListMessages(t *testing.T) {
	r, _ := setupRouter()

	resp := postMessage(t, r, "global", `{"user":{"id":"u1","username":"Ann"},"content":"  喝水打卡  "}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	var created chat.RoomMessage
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.Equal(t, "喝水打卡", created.Content)
	assert.Equal(t, chat.MessageTypeText, created.MessageType)
	assert.Equal(t, "global", created.RoomID)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/rooms/global/messages?limit=10", nil)
	list := httptest.NewRecorder()
	r.ServeHTTP(list, req)
	require.Equal(t, http.StatusOK, list.Code)

	var msgs []chat.RoomMessage
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, created.ID, msgs[0].ID)
}

func TestPostMessageValidation(t *testing.T) {
	r, _ := setupRouter()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing user", `{"content":"hi"}`},
		{"blank content", `{"user":{"id":"u1","username":"Ann"},"content":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postMessage(t, r, "global", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
}

func TestListMessagesRejectsBadLimit(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/chat/rooms/global/messages?limit=abc", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListRoomsIncludesDefault(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/chat/rooms", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Rooms []room.Info `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.Rooms)
	assert.Equal(t, room.DefaultRoomName, body.Rooms[0].Name)
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/global?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) chat.ServerEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev chat.ServerEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	r, _ := setupRouter()
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/global"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketChat(t *testing.T) {
	r, rooms := setupRouter()
	server := httptest.NewServer(r)
	defer server.Close()

	ann := dial(t, server, "userId=u1&username=Ann")
	joined := readEvent(t, ann)
	assert.Equal(t, chat.EventSystem, joined.Type)
	assert.Equal(t, chat.SystemJoin, joined.Event)
	assert.Equal(t, "Ann 加入聊天室", joined.Text())

	ben := dial(t, server, "userId=u2&username=Ben")
	assert.Equal(t, "Ben 加入聊天室", readEvent(t, ann).Text())
	assert.Equal(t, "Ben 加入聊天室", readEvent(t, ben).Text())

	assert.Eventually(t, func() bool { return len(rooms.Online()) == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, ann.WriteJSON(chat.ClientCommand{Type: chat.EventChatMessage, Content: "一起喝水吧"}))
	for _, conn := range []*websocket.Conn{ann, ben} {
		ev := readEvent(t, conn)
		require.Equal(t, chat.EventChatMessage, ev.Type)
		msg, err := ev.RoomMessage()
		require.NoError(t, err)
		assert.Equal(t, "一起喝水吧", msg.Content)
		assert.Equal(t, "u1", msg.User.ID)
	}

	require.NoError(t, ann.WriteJSON(chat.ClientCommand{Type: chat.EventChatMessage, Content: " "}))
	errEvent := readEvent(t, ann)
	assert.Equal(t, chat.EventError, errEvent.Type)

	require.NoError(t, ann.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "Invalid JSON format", readEvent(t, ann).Text())

	require.NoError(t, ben.Close())
	left := readEvent(t, ann)
	assert.Equal(t, chat.SystemLeave, left.Event)
	assert.Equal(t, "Ben 离开聊天室", left.Text())
	assert.Eventually(t, func() bool { return len(rooms.Online()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketTyping(t *testing.T) {
	r, _ := setupRouter()
	server := httptest.NewServer(r)
	defer server.Close()

	ann := dial(t, server, "userId=u1&username=Ann")
	readEvent(t, ann)
	ben := dial(t, server, "userId=u2&username=Ben")
	readEvent(t, ann)
	readEvent(t, ben)

	require.NoError(t, ben.WriteJSON(chat.ClientCommand{Type: chat.EventTyping, RoomID: "global", IsTyping: true}))
	for _, conn := range []*websocket.Conn{ann, ben} {
		ev := readEvent(t, conn)
		require.Equal(t, chat.EventTyping, ev.Type)
		require.NotNil(t, ev.User)
		assert.Equal(t, "Ben", ev.User.Username)
		assert.True(t, ev.Typing())
		assert.Equal(t, "global", ev.RoomID)
	}

	require.NoError(t, ben.WriteJSON(chat.ClientCommand{Type: chat.EventTyping}))
	stopped := readEvent(t, ann)
	require.Equal(t, chat.EventTyping, stopped.Type)
	assert.False(t, stopped.Typing())
	readEvent(t, ben)

	require.NoError(t, ben.WriteJSON(chat.ClientCommand{Type: chat.EventTyping, RoomID: "yoga", IsTyping: true}))
	assert.Equal(t, "Not a member of this room", readEvent(t, ben).Text())
}

func TestRoomOnlineEndpoint(t *testing.T) {
	r, rooms := setupRouter()
	server := httptest.NewServer(r)
	defer server.Close()

	conn := dial(t, server, "userId=u1&username=Ann")
	readEvent(t, conn)
	yoga := rooms.Join("yoga", chat.Participant{ID: "u2", Username: "Ben"})
	defer rooms.Leave(yoga)

	resp, err := http.Get(server.URL + "/api/chat/rooms/global/online")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Users      []room.OnlineUser `json:"users"`
		TotalCount int               `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.TotalCount)
	assert.Equal(t, "Ann", body.Users[0].Username)
}

func TestOnlineEndpoint(t *testing.T) {
	r, _ := setupRouter()
	server := httptest.NewServer(r)
	defer server.Close()

	conn := dial(t, server, "userId=u1&username=Ann&avatar=%F0%9F%90%B1")
	readEvent(t, conn)

	resp, err := http.Get(server.URL + "/api/chat/online")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Users      []room.OnlineUser `json:"users"`
		TotalCount int               `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.TotalCount)
	assert.Equal(t, "Ann", body.Users[0].Username)
	assert.Equal(t, "🐱", body.Users[0].Avatar)
	assert.Equal(t, "online", body.Users[0].Status)
}

func TestEventStream(t *testing.T) {
	r, _ := setupRouter()
	server := httptest.NewServer(r)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/chat/rooms/global/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: ready", lines.Text())

	post, err := http.Post(server.URL+"/api/chat/rooms/global/messages", "application/json",
		bytes.NewBufferString(`{"user":{"id":"u1","username":"Ann"},"content":"hello"}`))
	require.NoError(t, err)
	post.Body.Close()

	var seen []string
	for lines.Scan() {
		line := lines.Text()
		seen = append(seen, line)
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "hello") {
			break
		}
	}
	assert.Contains(t, seen, "event: "+chat.EventChatMessage)
}
