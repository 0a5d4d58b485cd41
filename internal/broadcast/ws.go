package broadcast

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/transport/wsclient"
)

// DefaultRelayReconnectDelay 跨进程广播连接断开后的重连间隔。
const DefaultRelayReconnectDelay = 3 * time.Second

// WSMedium opens channels through a Relay reachable at BaseURL
// (e.g. "ws://localhost:8080").
type WSMedium struct {
	BaseURL        string
	Header         http.Header
	ReconnectDelay time.Duration
	Logger         *zap.Logger
}

// Open dials the relay for name. A failed first dial is not an error: the
// channel keeps reconnecting in the background and Post reports
// wsclient.ErrNotConnected until it succeeds.
func (m *WSMedium) Open(name string) (Channel, error) {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := m.ReconnectDelay
	if delay <= 0 {
		delay = DefaultRelayReconnectDelay
	}

	ch := &wsChannel{}
	ch.client = wsclient.New(wsclient.Options{
		URL:            strings.TrimRight(m.BaseURL, "/") + "/ws/broadcast/" + url.PathEscape(name),
		Header:         m.Header,
		ReconnectDelay: delay,
		OnMessage:      ch.dispatch,
		Logger:         logger.Named("relay-client"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.client.Connect(ctx); err != nil {
		logger.Warn("broadcast relay unavailable, retrying in background", zap.String("channel", name), zap.Error(err))
	}
	return ch, nil
}

type wsChannel struct {
	client *wsclient.Client

	mu      sync.RWMutex
	handler func([]byte)
}

func (c *wsChannel) Post(data []byte) error {
	return c.client.SendText(data)
}

func (c *wsChannel) Subscribe(handler func([]byte)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *wsChannel) Close() error {
	return c.client.Close()
}

func (c *wsChannel) dispatch(data []byte) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(data)
	}
}
