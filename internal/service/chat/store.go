// Package chat implements the local-first chat store: one room's message
// log and presence set, shared between tabs through durable storage and a
// broadcast channel.
package chat

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/broadcast"
	chatmodel "github.com/a2639443196/my-vue-web/backend/internal/model/chat"
	"github.com/a2639443196/my-vue-web/backend/internal/session"
	"github.com/a2639443196/my-vue-web/backend/internal/storage"
	"github.com/a2639443196/my-vue-web/backend/internal/transport/wsclient"
)

// Store is the canonical view of one room for one tab. All entry points
// (API calls, heartbeat timer, broadcast delivery) are serialized by mu;
// broadcasts and listener callbacks run after mu is released.
type Store struct {
	opts     Options
	users    session.UserProvider
	medium   broadcast.Medium
	history  *storage.BoundedList[chatmodel.Message]
	fallback *PoolReplier
	clock    Clock
	logger   *zap.Logger

	mu           sync.Mutex
	rnd          *rand.Rand
	initialized  bool
	generation   uint64
	channel      broadcast.Channel
	heartbeat    Timer
	localStatus  chatmodel.PresenceStatus
	messages     []chatmodel.Message
	presence     map[string]chatmodel.Presence
	pending      map[*pendingReply]struct{}
	listeners    map[int]func()
	nextListener int
}

type pendingReply struct {
	timer  Timer
	fired  bool
	cancel context.CancelFunc
}

// NewStore builds a store over kv and medium. A nil users provider means
// every message is sent as a guest; a nil medium keeps the store single-tab.
func NewStore(users session.UserProvider, kv storage.KV, medium broadcast.Medium, opts Options) *Store {
	opts = opts.withDefaults()
	if users == nil {
		users = session.New()
	}
	if kv == nil {
		kv = storage.NewMemoryKV()
	}

	s := &Store{
		opts:        opts,
		users:       users,
		medium:      medium,
		history:     storage.NewBoundedList[chatmodel.Message](kv, opts.StorageKey, opts.HistoryLimit),
		fallback:    NewPoolReplier(nil, opts.Seed),
		clock:       opts.Clock,
		logger:      opts.Logger.Named("chat-store").With(zap.String("room", opts.Room)),
		rnd:         rand.New(rand.NewPCG(opts.Seed, opts.Seed>>1|1)),
		localStatus: chatmodel.StatusOnline,
		presence:    make(map[string]chatmodel.Presence),
		pending:     make(map[*pendingReply]struct{}),
		listeners:   make(map[int]func()),
	}
	s.messages = s.loadHistory()
	return s
}

func (s *Store) loadHistory() []chatmodel.Message {
	items, err := s.history.Load()
	if err != nil {
		s.logger.Warn("chat history unreadable, starting empty", zap.String("key", s.history.Key()), zap.Error(err))
		return nil
	}
	return chatmodel.MergeMessages(nil, items, s.opts.HistoryLimit)
}

// Initialize seeds the welcome message, joins the broadcast channel,
// announces presence and starts the heartbeat. Calls after the first are
// no-ops until Dispose.
func (s *Store) Initialize() {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	persisted := s.loadHistory()
	ch := s.openChannel(gen)

	s.mu.Lock()
	if s.generation != gen {
		// disposed while the channel was opening
		s.mu.Unlock()
		closeChannel(s.logger, ch)
		return
	}
	s.channel = ch
	s.localStatus = chatmodel.StatusOnline
	s.messages = chatmodel.MergeMessages(s.messages, persisted, s.opts.HistoryLimit)
	if len(s.messages) == 0 {
		s.insertLocked(s.systemMessageLocked(s.opts.WelcomeMessage))
	} else {
		s.persistLocked()
	}

	now := s.now()
	var outgoing []chatmodel.Envelope
	if p, ok := s.refreshLocalPresenceLocked(now); ok {
		outgoing = append(outgoing, chatmodel.PresenceEnvelope(p))
	}
	outgoing = append(outgoing, s.refreshCompanionsLocked(now)...)
	s.scheduleHeartbeatLocked(gen)
	s.mu.Unlock()

	s.logger.Debug("chat store initialized", zap.Bool("broadcast", ch != nil))
	s.post(ch, outgoing...)
	s.notify()
}

func (s *Store) openChannel(gen uint64) broadcast.Channel {
	if s.medium == nil {
		s.logger.Info("no broadcast medium, running in single-tab mode")
		return nil
	}

	ch, err := s.medium.Open(s.opts.Room)
	if err != nil {
		s.logger.Warn("broadcast channel unavailable, running in single-tab mode", zap.Error(err))
		return nil
	}
	ch.Subscribe(func(data []byte) {
		s.receive(gen, data)
	})
	return ch
}

// Dispose leaves the broadcast channel and stops the heartbeat and pending
// companion replies. Persisted history is kept. Safe to call at any time and
// more than once.
func (s *Store) Dispose() {
	s.mu.Lock()
	s.initialized = false
	s.generation++
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	for p := range s.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		if p.cancel != nil {
			p.cancel()
		}
	}
	clear(s.pending)
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	closeChannel(s.logger, ch)
}

// Unload announces the local user as away, then disposes the store.
func (s *Store) Unload() {
	s.AnnouncePresence(chatmodel.StatusAway)
	s.Dispose()
}

// Initialized reports whether the store is live.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// SendMessage appends a message from the current user (or the guest
// placeholder), shares it with other tabs and schedules a companion reply.
// Blank content is ignored.
func (s *Store) SendMessage(content string) {
	text := strings.TrimSpace(content)
	if text == "" {
		return
	}

	authorID, authorName := chatmodel.GuestAuthorID, chatmodel.GuestAuthorName
	if user := s.users.CurrentUser(); user != nil {
		authorID, authorName = user.ID, user.Username
	}

	s.mu.Lock()
	msg := chatmodel.Message{
		ID:         uuid.NewString(),
		AuthorID:   authorID,
		AuthorName: authorName,
		Content:    text,
		CreatedAt:  s.now(),
	}
	s.insertLocked(msg)
	s.scheduleReplyLocked(msg)
	ch := s.channel
	s.mu.Unlock()

	s.post(ch, chatmodel.MessageEnvelope(msg))
	s.notify()
}

// AddSystemMessage appends a message attributed to the system. It never
// triggers a companion reply.
func (s *Store) AddSystemMessage(content string) {
	text := strings.TrimSpace(content)
	if text == "" {
		return
	}

	s.mu.Lock()
	msg := s.systemMessageLocked(text)
	s.insertLocked(msg)
	ch := s.channel
	s.mu.Unlock()

	s.post(ch, chatmodel.MessageEnvelope(msg))
	s.notify()
}

// AnnouncePresence upserts and broadcasts the local user's presence. It does
// nothing for guests.
func (s *Store) AnnouncePresence(status chatmodel.PresenceStatus) {
	if !status.Valid() {
		s.logger.Warn("ignoring unknown presence status", zap.String("status", string(status)))
		return
	}

	s.mu.Lock()
	s.localStatus = status
	p, ok := s.refreshLocalPresenceLocked(s.now())
	ch := s.channel
	s.mu.Unlock()
	if !ok {
		return
	}

	s.post(ch, chatmodel.PresenceEnvelope(p))
	s.notify()
}

// HandleBroadcast applies a payload posted by another tab. Messages already
// present (by id) are ignored; presence entries are upserted.
func (s *Store) HandleBroadcast(data []byte) error {
	env, err := chatmodel.DecodeEnvelope(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	changed := s.applyLocked(env)
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return nil
}

func (s *Store) receive(gen uint64, data []byte) {
	env, err := chatmodel.DecodeEnvelope(data)
	if err != nil {
		s.logger.Warn("dropping malformed broadcast", zap.Error(err))
		return
	}

	s.mu.Lock()
	if !s.initialized || s.generation != gen {
		s.mu.Unlock()
		return
	}
	changed := s.applyLocked(env)
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Store) applyLocked(env chatmodel.Envelope) bool {
	switch env.Type {
	case chatmodel.EnvelopeMessage:
		return s.insertLocked(*env.Message)
	case chatmodel.EnvelopePresence:
		s.presence[env.Presence.ID] = *env.Presence
		return true
	}
	return false
}

// Messages returns the log, oldest first.
func (s *Store) Messages() []chatmodel.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// OnlineUsers returns the live presence entries ordered by name.
func (s *Store) OnlineUsers() []chatmodel.Presence {
	s.mu.Lock()
	users := make([]chatmodel.Presence, 0, len(s.presence))
	for _, p := range s.presence {
		users = append(users, p)
	}
	s.mu.Unlock()

	slices.SortFunc(users, func(a, b chatmodel.Presence) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return users
}

// Subscribe registers fn to run after every state change. The returned
// function removes it.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Store) systemMessageLocked(content string) chatmodel.Message {
	return chatmodel.Message{
		ID:         uuid.NewString(),
		AuthorID:   chatmodel.SystemAuthorID,
		AuthorName: chatmodel.SystemAuthorName,
		Content:    content,
		CreatedAt:  s.now(),
		IsSystem:   true,
	}
}

func (s *Store) insertLocked(msg chatmodel.Message) bool {
	list, added := chatmodel.InsertMessage(s.messages, msg, s.opts.HistoryLimit)
	if !added {
		return false
	}
	s.messages = list
	s.persistLocked()
	return true
}

func (s *Store) persistLocked() {
	if err := s.history.Save(s.messages); err != nil {
		s.logger.Warn("chat history not persisted, keeping it in memory", zap.Error(err))
	}
}

func (s *Store) refreshLocalPresenceLocked(now time.Time) (chatmodel.Presence, bool) {
	user := s.users.CurrentUser()
	if user == nil {
		return chatmodel.Presence{}, false
	}
	p := chatmodel.Presence{
		ID:         user.ID,
		Name:       user.Username,
		Avatar:     user.Avatar,
		Status:     s.localStatus,
		LastActive: now,
	}
	s.presence[p.ID] = p
	return p, true
}

func (s *Store) refreshCompanionsLocked(now time.Time) []chatmodel.Envelope {
	envs := make([]chatmodel.Envelope, 0, len(s.opts.Companions))
	for _, companion := range s.opts.Companions {
		p := companion.Presence(now)
		s.presence[p.ID] = p
		envs = append(envs, chatmodel.PresenceEnvelope(p))
	}
	return envs
}

func (s *Store) pruneLocked(now time.Time) {
	for id, p := range s.presence {
		if p.Expired(now, s.opts.PresenceTimeout) {
			delete(s.presence, id)
		}
	}
}

func (s *Store) scheduleHeartbeatLocked(gen uint64) {
	s.heartbeat = s.clock.AfterFunc(s.opts.HeartbeatInterval, func() {
		s.tick(gen)
	})
}

func (s *Store) tick(gen uint64) {
	s.mu.Lock()
	if !s.initialized || s.generation != gen {
		s.mu.Unlock()
		return
	}
	now := s.now()
	s.pruneLocked(now)

	var outgoing []chatmodel.Envelope
	if p, ok := s.refreshLocalPresenceLocked(now); ok {
		outgoing = append(outgoing, chatmodel.PresenceEnvelope(p))
	}
	outgoing = append(outgoing, s.refreshCompanionsLocked(now)...)
	s.scheduleHeartbeatLocked(gen)
	ch := s.channel
	s.mu.Unlock()

	s.post(ch, outgoing...)
	s.notify()
}

func (s *Store) scheduleReplyLocked(trigger chatmodel.Message) {
	if trigger.IsSystem || len(s.opts.Companions) == 0 {
		return
	}

	companion := s.opts.Companions[s.rnd.IntN(len(s.opts.Companions))]
	delay := s.opts.ReplyDelayMin
	if spread := s.opts.ReplyDelayMax - s.opts.ReplyDelayMin; spread > 0 {
		delay += time.Duration(s.rnd.Int64N(int64(spread) + 1))
	}

	p := &pendingReply{}
	s.pending[p] = struct{}{}
	p.timer = s.clock.AfterFunc(delay, func() {
		s.deliverReply(p, companion, trigger)
	})
}

func (s *Store) deliverReply(p *pendingReply, companion chatmodel.Companion, trigger chatmodel.Message) {
	s.mu.Lock()
	if _, ok := s.pending[p]; !ok || p.fired {
		s.mu.Unlock()
		return
	}
	p.fired = true
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ReplyTimeout)
	p.cancel = cancel
	s.mu.Unlock()

	content, err := s.opts.Replier.Reply(ctx, companion, trigger)
	cancel()
	content = strings.TrimSpace(content)
	if err != nil || content == "" {
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("companion reply failed, using canned reply", zap.String("companion", companion.ID), zap.Error(err))
		}
		content, _ = s.fallback.Reply(ctx, companion, trigger)
	}

	s.mu.Lock()
	if _, ok := s.pending[p]; !ok {
		// disposed while the reply was being produced
		s.mu.Unlock()
		return
	}
	delete(s.pending, p)
	msg := chatmodel.Message{
		ID:         uuid.NewString(),
		AuthorID:   companion.ID,
		AuthorName: companion.Name,
		Content:    content,
		CreatedAt:  s.now(),
		IsSystem:   true,
	}
	s.insertLocked(msg)
	ch := s.channel
	s.mu.Unlock()

	s.post(ch, chatmodel.MessageEnvelope(msg))
	s.notify()
}

func (s *Store) post(ch broadcast.Channel, envs ...chatmodel.Envelope) {
	if ch == nil {
		return
	}
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			s.logger.Warn("failed to encode broadcast", zap.Error(err))
			continue
		}
		if err := ch.Post(data); err != nil {
			if errors.Is(err, wsclient.ErrNotConnected) || errors.Is(err, broadcast.ErrClosed) || errors.Is(err, wsclient.ErrClosed) {
				s.logger.Debug("broadcast skipped", zap.Error(err))
				continue
			}
			s.logger.Warn("broadcast failed, other tabs may be stale", zap.Error(err))
		}
	}
}

func closeChannel(logger *zap.Logger, ch broadcast.Channel) {
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		logger.Warn("failed to close broadcast channel", zap.Error(err))
	}
}
