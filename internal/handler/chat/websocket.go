package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
	"github.com/a2639443196/my-vue-web/backend/internal/service/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxMessage = 8 << 10
)

// handleWebSocket 聊天室WebSocket连接：
// 连接即加入房间，断开即离开，客户端发送 chat_message 命令发言，
// typing 命令广播输入状态。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	participant := chat.Participant{
		ID:       strings.TrimSpace(query.Get("userId")),
		Username: strings.TrimSpace(query.Get("username")),
		Avatar:   strings.TrimSpace(query.Get("avatar")),
	}
	if participant.ID == "" || participant.Username == "" {
		http.Error(w, "userId and username are required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := h.rooms.Join(chi.URLParam(r, "roomID"), participant)
	logger := h.logger.With(zap.String("room", sub.RoomID), zap.String("user", participant.ID))
	logger.Info("room socket connected")

	// 写循环独占写端，错误帧也经由它发送
	replies := make(chan chat.ServerEvent, 8)
	done := make(chan struct{})
	go h.writeLoop(conn, sub, replies, done)

	h.readLoop(r.Context(), conn, sub, participant, replies, logger)

	h.rooms.Leave(sub)
	close(replies)
	<-done
	conn.Close()
	logger.Info("room socket closed")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sub *room.Subscriber, participant chat.Participant, replies chan<- chat.ServerEvent, logger *zap.Logger) {
	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("room socket read failed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd chat.ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(replies, chat.NewErrorEvent("Invalid JSON format"))
			continue
		}

		switch cmd.Type {
		case chat.EventChatMessage:
			if !memberOf(sub, cmd.RoomID) {
				h.reply(replies, chat.NewErrorEvent("Not a member of this room"))
				continue
			}
			if _, err := h.rooms.Post(ctx, sub.RoomID, participant, cmd.Content, cmd.MessageType); err != nil {
				if errors.Is(err, room.ErrContentRequired) {
					h.reply(replies, chat.NewErrorEvent("Room ID and content are required"))
					continue
				}
				logger.Error("post message failed", zap.Error(err))
				h.reply(replies, chat.NewErrorEvent("failed to save message"))
			}
		case chat.EventTyping:
			if !memberOf(sub, cmd.RoomID) {
				h.reply(replies, chat.NewErrorEvent("Not a member of this room"))
				continue
			}
			h.rooms.Typing(sub.RoomID, participant, cmd.IsTyping)
		default:
			logger.Debug("ignoring command", zap.String("type", cmd.Type))
		}
	}
}

// memberOf reports whether a command addressed to roomID targets the room
// sub is connected to. An empty roomID means that room.
func memberOf(sub *room.Subscriber, roomID string) bool {
	return roomID == "" || room.NormalizeRoomID(roomID) == sub.RoomID
}

func (h *Handler) reply(replies chan<- chat.ServerEvent, ev chat.ServerEvent) {
	select {
	case replies <- ev:
	default:
		h.logger.Warn("dropping error reply for slow client")
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub *room.Subscriber, replies <-chan chat.ServerEvent, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	events := sub.Events()
	for {
		var ev chat.ServerEvent
		select {
		case e, ok := <-events:
			if !ok {
				// dropped or left: unblock the reader
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				conn.Close()
				drain(replies)
				return
			}
			ev = e
		case e, ok := <-replies:
			if !ok {
				return
			}
			ev = e
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				drain(replies)
				return
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			conn.Close()
			drain(replies)
			return
		}
	}
}

func drain(replies <-chan chat.ServerEvent) {
	for range replies {
	}
}
