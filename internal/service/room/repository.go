package room

import (
	"context"
	"slices"
	"sync"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

// Repository 聊天室消息的持久化接口，storage.SQLite 也实现了它。
type Repository interface {
	SaveMessage(ctx context.Context, msg chat.RoomMessage, keep int) error
	RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.RoomMessage, error)
}

// MemoryRepository keeps room history in memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	rooms map[string][]chat.RoomMessage
}

// NewMemoryRepository 创建内存仓库
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rooms: make(map[string][]chat.RoomMessage)}
}

func (r *MemoryRepository) SaveMessage(_ context.Context, msg chat.RoomMessage, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.rooms[msg.RoomID]
	if slices.ContainsFunc(history, func(m chat.RoomMessage) bool { return m.ID == msg.ID }) {
		return nil
	}
	history = append(history, msg)
	if keep > 0 && len(history) > keep {
		history = slices.Clone(history[len(history)-keep:])
	}
	r.rooms[msg.RoomID] = history
	return nil
}

func (r *MemoryRepository) RecentMessages(_ context.Context, roomID string, limit int) ([]chat.RoomMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.rooms[roomID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return slices.Clone(history), nil
}
