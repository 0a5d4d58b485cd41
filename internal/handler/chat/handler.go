// Package chat serves the chat room over HTTP: REST history and online
// lists, an SSE event stream and the room WebSocket.
package chat

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
	"github.com/a2639443196/my-vue-web/backend/internal/service/room"
	"github.com/a2639443196/my-vue-web/backend/pkg/utils"
)

const sseKeepAlive = 25 * time.Second

// Handler 聊天室的HTTP处理器
type Handler struct {
	rooms    *room.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建聊天处理器
func New(rooms *room.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		rooms:  rooms,
		logger: logger.Named("chat-handler"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天相关的路由，挂载在 /api/chat 下
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/rooms", h.handleListRooms)
	r.Get("/rooms/{roomID}/messages", h.handleListMessages)
	r.Post("/rooms/{roomID}/messages", h.handlePostMessage)
	r.Get("/rooms/{roomID}/events", h.handleEvents)
	r.Get("/rooms/{roomID}/online", h.handleRoomOnline)
	r.Get("/online", h.handleOnline)
}

// RegisterSocketRoutes 注册聊天室WebSocket路由
func (h *Handler) RegisterSocketRoutes(r chi.Router) {
	r.Get("/ws/chat/{roomID}", h.handleWebSocket)
}

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"rooms": h.rooms.Rooms()})
}

// handleListMessages 返回最近的消息，按时间升序
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := h.rooms.History(r.Context(), chi.URLParam(r, "roomID"), limit)
	if err != nil {
		h.logger.Error("load history failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []chat.RoomMessage{}
	}
	utils.RespondJSON(w, http.StatusOK, msgs)
}

// handlePostMessage 通过REST发送消息，效果与WebSocket发送相同
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		User        chat.Participant `json:"user"`
		Content     string           `json:"content"`
		MessageType string           `json:"message_type"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.User.ID == "" || payload.User.Username == "" {
		utils.RespondError(w, http.StatusBadRequest, "user id and username are required")
		return
	}

	msg, err := h.rooms.Post(r.Context(), chi.URLParam(r, "roomID"), payload.User, payload.Content, payload.MessageType)
	if err != nil {
		if errors.Is(err, room.ErrContentRequired) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("post message failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleOnline(w http.ResponseWriter, r *http.Request) {
	respondOnline(w, h.rooms.Online())
}

// handleRoomOnline 只列出当前房间内的在线用户
func (h *Handler) handleRoomOnline(w http.ResponseWriter, r *http.Request) {
	respondOnline(w, h.rooms.OnlineIn(chi.URLParam(r, "roomID")))
}

func respondOnline(w http.ResponseWriter, users []room.OnlineUser) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"users":       users,
		"total_count": len(users),
	})
}

// handleEvents 以SSE推送聊天室事件，直到客户端断开
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := h.rooms.Watch(chi.URLParam(r, "roomID"))
	defer h.rooms.Leave(sub)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	utils.SendSSEEvent(w, flusher, "ready", map[string]string{"room_id": sub.RoomID})

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			utils.SendSSEComment(w, flusher, "keep-alive")
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			utils.SendSSEEvent(w, flusher, ev.Type, ev)
		}
	}
}
