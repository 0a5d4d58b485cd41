package broadcast

import (
	"sync"

	"go.uber.org/zap"
)

const hubQueueSize = 256

// Hub is an in-process Medium. Each open channel owns a delivery goroutine
// so a slow handler never blocks the poster.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*hubChannel]struct{}
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]map[*hubChannel]struct{}),
		logger:   logger.Named("hub"),
	}
}

// Open subscribes a new channel to name. Payloads that arrive before the
// first Subscribe are queued and handed over once a handler is set.
func (h *Hub) Open(name string) (Channel, error) {
	ch := &hubChannel{
		hub:   h,
		name:  name,
		queue: make(chan []byte, hubQueueSize),
	}

	h.mu.Lock()
	members, ok := h.channels[name]
	if !ok {
		members = make(map[*hubChannel]struct{})
		h.channels[name] = members
	}
	members[ch] = struct{}{}
	h.mu.Unlock()

	return ch, nil
}

// Subscribers returns the number of open channels on name.
func (h *Hub) Subscribers(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[name])
}

func (h *Hub) deliver(from *hubChannel, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.channels[from.name]
	if !ok {
		return ErrClosed
	}
	if _, open := members[from]; !open {
		return ErrClosed
	}

	for member := range members {
		if member == from {
			continue
		}
		payload := append([]byte(nil), data...)
		select {
		case member.queue <- payload:
		default:
			h.logger.Warn("dropping broadcast for slow subscriber", zap.String("channel", from.name))
		}
	}
	return nil
}

func (h *Hub) remove(ch *hubChannel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.channels[ch.name]
	if !ok {
		return false
	}
	if _, open := members[ch]; !open {
		return false
	}
	delete(members, ch)
	if len(members) == 0 {
		delete(h.channels, ch.name)
	}
	// queue 仅在持有写锁时关闭，deliver 不会再写入
	close(ch.queue)
	return true
}

type hubChannel struct {
	hub   *Hub
	name  string
	queue chan []byte

	mu      sync.RWMutex
	handler func([]byte)
	started sync.Once
}

func (c *hubChannel) Post(data []byte) error {
	return c.hub.deliver(c, data)
}

func (c *hubChannel) Subscribe(handler func([]byte)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	c.started.Do(func() { go c.pump() })
}

func (c *hubChannel) Close() error {
	c.hub.remove(c)
	return nil
}

func (c *hubChannel) pump() {
	for data := range c.queue {
		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()
		if handler != nil {
			handler(data)
		}
	}
}
