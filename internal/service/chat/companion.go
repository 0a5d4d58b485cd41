package chat

import (
	"context"
	"math/rand/v2"
	"sync"

	chatmodel "github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

// Replier produces the content of a companion's reply to trigger.
type Replier interface {
	Reply(ctx context.Context, companion chatmodel.Companion, trigger chatmodel.Message) (string, error)
}

// DefaultCompanions 默认的陪伴者，心跳时会一起广播在线状态。
func DefaultCompanions() []chatmodel.Companion {
	return []chatmodel.Companion{
		{
			ID:      "companion-aqua",
			Name:    "小水滴",
			Avatar:  "💧",
			Persona: "活泼的补水提醒官，关心用户今天喝了多少水。",
		},
		{
			ID:      "companion-sunny",
			Name:    "暖暖",
			Avatar:  "🌞",
			Persona: "温柔的情绪陪伴者，擅长倾听和鼓励。",
		},
	}
}

// DefaultReplyPool is the fixed pool companion replies are drawn from.
var DefaultReplyPool = []string{
	"记得多喝水哦，身体会感谢你的～",
	"今天的你也很棒！要不要起来活动一下？",
	"收到！我在这里陪着你 😊",
	"深呼吸，放松一下肩膀吧。",
	"保持好心情，一起加油！",
	"坐久了记得伸个懒腰～",
	"听起来不错！继续保持这个节奏。",
}

// PoolReplier picks a random entry of Pool.
type PoolReplier struct {
	Pool []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPoolReplier builds a replier over pool, falling back to DefaultReplyPool.
func NewPoolReplier(pool []string, seed uint64) *PoolReplier {
	if len(pool) == 0 {
		pool = DefaultReplyPool
	}
	return &PoolReplier{Pool: pool, rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *PoolReplier) Reply(_ context.Context, _ chatmodel.Companion, _ chatmodel.Message) (string, error) {
	return p.pick(), nil
}

func (p *PoolReplier) pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Pool[p.rnd.IntN(len(p.Pool))]
}
