package chat

import (
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	chatmodel "github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

const (
	DefaultRoom              = "wellness-chat"
	DefaultStorageKey        = "wellness-chat-messages"
	DefaultHistoryLimit      = 100
	MaxHistoryLimit          = 200
	DefaultPresenceTimeout   = 15 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultReplyDelayMin     = 1500 * time.Millisecond
	DefaultReplyDelayMax     = 3500 * time.Millisecond
	DefaultReplyTimeout      = 8 * time.Second
	DefaultWelcomeMessage    = "欢迎来到健康聊天室！在这里分享你的喝水打卡、心情和运动日常吧～"
)

// Options tunes a Store. Zero values fall back to the defaults above.
type Options struct {
	Room              string
	StorageKey        string
	HistoryLimit      int
	PresenceTimeout   time.Duration
	HeartbeatInterval time.Duration
	ReplyDelayMin     time.Duration
	ReplyDelayMax     time.Duration
	ReplyTimeout      time.Duration
	WelcomeMessage    string
	// Companions defaults to DefaultCompanions; set DisableCompanions to run
	// without any.
	Companions        []chatmodel.Companion
	DisableCompanions bool
	Replier           Replier
	Clock             Clock
	Logger            *zap.Logger
	// Seed makes companion choice and reply delays reproducible. Zero picks
	// a random seed.
	Seed uint64
}

func (o Options) withDefaults() Options {
	if o.Room == "" {
		o.Room = DefaultRoom
	}
	if o.StorageKey == "" {
		o.StorageKey = DefaultStorageKey
	}
	switch {
	case o.HistoryLimit <= 0:
		o.HistoryLimit = DefaultHistoryLimit
	case o.HistoryLimit > MaxHistoryLimit:
		o.HistoryLimit = MaxHistoryLimit
	}
	if o.PresenceTimeout <= 0 {
		o.PresenceTimeout = DefaultPresenceTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ReplyDelayMin <= 0 {
		o.ReplyDelayMin = DefaultReplyDelayMin
	}
	if o.ReplyDelayMax <= 0 {
		o.ReplyDelayMax = DefaultReplyDelayMax
	}
	if o.ReplyDelayMax < o.ReplyDelayMin {
		o.ReplyDelayMax = o.ReplyDelayMin
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = DefaultReplyTimeout
	}
	if o.WelcomeMessage == "" {
		o.WelcomeMessage = DefaultWelcomeMessage
	}
	if o.DisableCompanions {
		o.Companions = nil
	} else if len(o.Companions) == 0 {
		o.Companions = DefaultCompanions()
	}
	if o.Seed == 0 {
		o.Seed = rand.Uint64()
	}
	if o.Replier == nil {
		o.Replier = NewPoolReplier(nil, o.Seed)
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
