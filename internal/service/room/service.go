// Package room is the server-backed chat room: participants connect over a
// socket, messages are persisted through a Repository and fanned out to
// everyone in the room.
package room

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

const (
	// DefaultRoomID 全站公共聊天室
	DefaultRoomID   = "global"
	DefaultRoomName = "Wellness Hub Lounge"

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	// DefaultKeep is how many messages a room retains in its repository.
	DefaultKeep = 500

	subscriberBuffer = 64
)

// ErrContentRequired 消息内容为空
var ErrContentRequired = errors.New("消息内容不能为空")

// Subscriber receives the events of one room. Events is closed when the
// subscriber leaves or is dropped for falling behind.
type Subscriber struct {
	ID          string
	RoomID      string
	Participant *chat.Participant

	events chan chat.ServerEvent
	closed bool
}

// Events returns the subscriber's event stream.
func (s *Subscriber) Events() <-chan chat.ServerEvent {
	return s.events
}

// OnlineUser is a participant with at least one open room socket.
type OnlineUser struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar,omitempty"`
	Status      string    `json:"status"`
	LastActive  time.Time `json:"last_active"`
	Connections int       `json:"connections"`
}

// Info summarizes a room for listings.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"member_count"`
}

type onlineEntry struct {
	participant chat.Participant
	conns       int
	lastActive  time.Time
}

// Service 聊天室服务
type Service struct {
	repo   Repository
	logger *zap.Logger
	keep   int
	now    func() time.Time

	mu     sync.RWMutex
	rooms  map[string]map[*Subscriber]struct{}
	online map[string]*onlineEntry
}

// NewService 创建聊天室服务
func NewService(repo Repository, logger *zap.Logger) *Service {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		logger: logger.Named("room"),
		keep:   DefaultKeep,
		now:    func() time.Time { return time.Now().UTC() },
		rooms:  make(map[string]map[*Subscriber]struct{}),
		online: make(map[string]*onlineEntry),
	}
}

// NormalizeRoomID maps an empty id to the default room.
func NormalizeRoomID(roomID string) string {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return DefaultRoomID
	}
	return roomID
}

// RoomName returns the display name of roomID.
func RoomName(roomID string) string {
	if NormalizeRoomID(roomID) == DefaultRoomID {
		return DefaultRoomName
	}
	return roomID
}

// Join subscribes participant to roomID, marks them online and announces the
// join to the room, the new subscriber included.
func (s *Service) Join(roomID string, participant chat.Participant) *Subscriber {
	roomID = NormalizeRoomID(roomID)
	p := participant
	sub := s.subscribe(roomID, &p)

	s.mu.Lock()
	entry, ok := s.online[p.ID]
	if !ok {
		entry = &onlineEntry{}
		s.online[p.ID] = entry
	}
	entry.participant = p
	entry.conns++
	entry.lastActive = s.now()
	s.mu.Unlock()

	s.logger.Info("participant joined", zap.String("room", roomID), zap.String("user", p.ID))
	s.broadcast(roomID, chat.NewSystemEvent(roomID, chat.SystemJoin, p))
	return sub
}

// Watch subscribes to roomID without taking part in presence.
func (s *Service) Watch(roomID string) *Subscriber {
	return s.subscribe(NormalizeRoomID(roomID), nil)
}

func (s *Service) subscribe(roomID string, participant *chat.Participant) *Subscriber {
	sub := &Subscriber{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		Participant: participant,
		events:      make(chan chat.ServerEvent, subscriberBuffer),
	}

	s.mu.Lock()
	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[*Subscriber]struct{})
		s.rooms[roomID] = members
	}
	members[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Leave unsubscribes sub. Participants are announced as leaving. Calling it
// again is a no-op.
func (s *Service) Leave(sub *Subscriber) {
	if !s.remove(sub) || sub.Participant == nil {
		return
	}
	s.logger.Info("participant left", zap.String("room", sub.RoomID), zap.String("user", sub.Participant.ID))
	s.broadcast(sub.RoomID, chat.NewSystemEvent(sub.RoomID, chat.SystemLeave, *sub.Participant))
}

func (s *Service) remove(sub *Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.closed {
		return false
	}
	sub.closed = true
	close(sub.events)

	if members, ok := s.rooms[sub.RoomID]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(s.rooms, sub.RoomID)
		}
	}
	if sub.Participant != nil {
		if entry, ok := s.online[sub.Participant.ID]; ok {
			entry.conns--
			if entry.conns <= 0 {
				delete(s.online, sub.Participant.ID)
			}
		}
	}
	return true
}

// Post persists a message from participant and fans it out to the room.
func (s *Service) Post(ctx context.Context, roomID string, participant chat.Participant, content, messageType string) (chat.RoomMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.RoomMessage{}, ErrContentRequired
	}
	if messageType == "" {
		messageType = chat.MessageTypeText
	}

	roomID = NormalizeRoomID(roomID)
	msg := chat.RoomMessage{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		User:        participant,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   s.now(),
	}
	if err := s.repo.SaveMessage(ctx, msg, s.keep); err != nil {
		return chat.RoomMessage{}, fmt.Errorf("save message: %w", err)
	}

	s.mu.Lock()
	if entry, ok := s.online[participant.ID]; ok {
		entry.lastActive = msg.CreatedAt
	}
	s.mu.Unlock()

	s.broadcast(roomID, chat.NewChatMessageEvent(msg))
	return msg, nil
}

// Typing tells roomID that participant started or stopped typing. Nothing
// is persisted.
func (s *Service) Typing(roomID string, participant chat.Participant, isTyping bool) {
	roomID = NormalizeRoomID(roomID)
	if isTyping {
		s.mu.Lock()
		if entry, ok := s.online[participant.ID]; ok {
			entry.lastActive = s.now()
		}
		s.mu.Unlock()
	}
	s.broadcast(roomID, chat.NewTypingEvent(roomID, participant, isTyping))
}

// History returns up to limit recent messages of roomID, oldest first.
func (s *Service) History(ctx context.Context, roomID string, limit int) ([]chat.RoomMessage, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	msgs, err := s.repo.RecentMessages(ctx, NormalizeRoomID(roomID), limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// Online lists connected participants across all rooms, most recently
// active first.
func (s *Service) Online() []OnlineUser {
	s.mu.RLock()
	users := make([]OnlineUser, 0, len(s.online))
	for _, entry := range s.online {
		users = append(users, entry.user(entry.conns))
	}
	s.mu.RUnlock()

	sortOnline(users)
	return users
}

// OnlineIn lists the participants connected to roomID. Connections counts
// only the sockets open on that room.
func (s *Service) OnlineIn(roomID string) []OnlineUser {
	roomID = NormalizeRoomID(roomID)

	s.mu.RLock()
	conns := make(map[string]int)
	for sub := range s.rooms[roomID] {
		if sub.Participant != nil {
			conns[sub.Participant.ID]++
		}
	}
	users := make([]OnlineUser, 0, len(conns))
	for id, n := range conns {
		if entry, ok := s.online[id]; ok {
			users = append(users, entry.user(n))
		}
	}
	s.mu.RUnlock()

	sortOnline(users)
	return users
}

func (e *onlineEntry) user(conns int) OnlineUser {
	return OnlineUser{
		ID:          e.participant.ID,
		Username:    e.participant.Username,
		Avatar:      e.participant.Avatar,
		Status:      string(chat.StatusOnline),
		LastActive:  e.lastActive,
		Connections: conns,
	}
}

func sortOnline(users []OnlineUser) {
	slices.SortFunc(users, func(a, b OnlineUser) int {
		return cmp.Or(b.LastActive.Compare(a.LastActive), cmp.Compare(a.Username, b.Username), cmp.Compare(a.ID, b.ID))
	})
}

// Rooms lists the default room and every room with subscribers.
func (s *Service) Rooms() []Info {
	s.mu.RLock()
	counts := map[string]int{DefaultRoomID: 0}
	for id, members := range s.rooms {
		n := 0
		for sub := range members {
			if sub.Participant != nil {
				n++
			}
		}
		counts[id] = n
	}
	s.mu.RUnlock()

	infos := make([]Info, 0, len(counts))
	for id, n := range counts {
		infos = append(infos, Info{ID: id, Name: RoomName(id), Members: n})
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if a.ID == DefaultRoomID || b.ID == DefaultRoomID {
			return cmp.Compare(boolRank(a.ID != DefaultRoomID), boolRank(b.ID != DefaultRoomID))
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Service) broadcast(roomID string, ev chat.ServerEvent) {
	var slow []*Subscriber

	s.mu.RLock()
	for sub := range s.rooms[roomID] {
		select {
		case sub.events <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range slow {
		s.logger.Warn("dropping slow subscriber", zap.String("room", roomID), zap.String("subscriber", sub.ID))
		s.Leave(sub)
	}
}
