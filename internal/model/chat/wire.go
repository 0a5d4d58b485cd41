package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire types of the server-backed room socket. The server speaks snake_case;
// conversion to and from the camelCase model happens only in this file.

const (
	EventChatMessage = "chat_message"
	EventSystem      = "system_event"
	EventError       = "error"
	EventTyping      = "typing"

	SystemJoin  = "join"
	SystemLeave = "leave"

	MessageTypeText = "text"
)

// Participant identifies a connected user on the server side.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// RoomMessage is a persisted room message as exchanged with the server.
type RoomMessage struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"room_id"`
	User        Participant `json:"user"`
	Content     string      `json:"content"`
	MessageType string      `json:"message_type"`
	IsSystem    bool        `json:"is_system,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ToMessage converts the wire form into the log entry the stores keep.
func (m RoomMessage) ToMessage() Message {
	return Message{
		ID:         m.ID,
		AuthorID:   m.User.ID,
		AuthorName: m.User.Username,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		IsSystem:   m.IsSystem,
	}
}

// FromMessage converts a log entry into its wire form for roomID.
func FromMessage(roomID string, msg Message) RoomMessage {
	return RoomMessage{
		ID:          msg.ID,
		RoomID:      roomID,
		User:        Participant{ID: msg.AuthorID, Username: msg.AuthorName},
		Content:     msg.Content,
		MessageType: MessageTypeText,
		IsSystem:    msg.IsSystem,
		CreatedAt:   msg.CreatedAt,
	}
}

// ServerEvent is one frame pushed by the room socket. Message carries a
// RoomMessage for chat_message frames and a plain string otherwise.
type ServerEvent struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Event   string          `json:"event,omitempty"`
	User    *Participant    `json:"user,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
	// IsTyping is set on typing frames only.
	IsTyping *bool `json:"is_typing,omitempty"`
}

// NewChatMessageEvent builds a chat_message frame.
func NewChatMessageEvent(msg RoomMessage) ServerEvent {
	raw, _ := json.Marshal(msg)
	return ServerEvent{Type: EventChatMessage, Message: raw, RoomID: msg.RoomID}
}

// NewSystemEvent builds a join/leave frame with a human readable text.
func NewSystemEvent(roomID, event string, user Participant) ServerEvent {
	verb := "加入"
	if event == SystemLeave {
		verb = "离开"
	}
	text, _ := json.Marshal(fmt.Sprintf("%s %s聊天室", user.Username, verb))
	return ServerEvent{Type: EventSystem, Message: text, Event: event, User: &user, RoomID: roomID}
}

// NewTypingEvent builds a typing indicator frame for user.
func NewTypingEvent(roomID string, user Participant, isTyping bool) ServerEvent {
	return ServerEvent{Type: EventTyping, User: &user, RoomID: roomID, IsTyping: &isTyping}
}

// NewErrorEvent builds an error frame.
func NewErrorEvent(message string) ServerEvent {
	text, _ := json.Marshal(message)
	return ServerEvent{Type: EventError, Message: text}
}

// RoomMessage decodes the payload of a chat_message frame.
func (e ServerEvent) RoomMessage() (RoomMessage, error) {
	var msg RoomMessage
	if e.Type != EventChatMessage {
		return msg, fmt.Errorf("event %q carries no room message", e.Type)
	}
	if err := json.Unmarshal(e.Message, &msg); err != nil {
		return msg, fmt.Errorf("decode room message: %w", err)
	}
	return msg, nil
}

// Text decodes the string payload of system_event and error frames.
func (e ServerEvent) Text() string {
	var text string
	if err := json.Unmarshal(e.Message, &text); err != nil {
		return ""
	}
	return text
}

// Typing reports whether a typing frame announces that the user started
// typing.
func (e ServerEvent) Typing() bool {
	return e.IsTyping != nil && *e.IsTyping
}

// ClientCommand is what a client sends on the room socket: chat_message
// with Content, or typing with IsTyping.
type ClientCommand struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	Content     string `json:"content,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	IsTyping    bool   `json:"is_typing,omitempty"`
}
