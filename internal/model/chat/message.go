package chat

import "time"

const (
	// SystemAuthorID attributes messages that no participant wrote.
	SystemAuthorID = "system"
	// SystemAuthorName 系统消息的展示名称。
	SystemAuthorName = "系统"
	// GuestAuthorID is used when nobody is signed in.
	GuestAuthorID = "guest"
	// GuestAuthorName 未登录用户的展示名称。
	GuestAuthorName = "游客"
)

// Message is one entry of a room's chat log. Messages are immutable once
// created; CreatedAt is the only ordering key.
type Message struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	IsSystem   bool      `json:"isSystem"`
}
