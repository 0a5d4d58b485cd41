// Package wsclient is a reconnecting WebSocket client. The connection is a
// small state machine (disconnected, connecting, connected) with at most one
// pending reconnect at any time.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("websocket client closed")
)

// State of the connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	defaultReconnectDelay   = 2 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second
)

// Options configures a Client. Callbacks run on the client's goroutines and
// must not call Close.
type Options struct {
	URL              string
	Header           http.Header
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	OnMessage        func(data []byte)
	OnStateChange    func(state State)
	Logger           *zap.Logger
}

// Client keeps one WebSocket connection open, redialing after a fixed delay
// whenever it drops.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	writeMu sync.Mutex

	mu               sync.Mutex
	state            State
	conn             *websocket.Conn
	reconnectPending bool
	reconnectTimer   *time.Timer
	closed           bool
}

// New builds a disconnected client; call Connect to dial.
func New(opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger:  logger.With(zap.String("url", opts.URL)),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials once. On failure a reconnect is scheduled and the dial error
// returned; the client keeps trying in the background until Close.
func (c *Client) Connect(ctx context.Context) error {
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(StateConnecting)

	var header http.Header
	if c.opts.Header != nil {
		header = c.opts.Header.Clone()
	}
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, header)

	c.mu.Lock()
	if err != nil {
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.notify(StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("websocket connected")
	c.notify(StateConnected)
	go c.readLoop(conn)
	return nil
}

// scheduleReconnectLocked arms the single reconnect timer unless one is
// already pending or the client is closed.
func (c *Client) scheduleReconnectLocked() {
	if c.closed || c.reconnectPending {
		return
	}
	c.reconnectPending = true
	c.wg.Add(1)
	c.reconnectTimer = time.AfterFunc(c.opts.ReconnectDelay, func() {
		defer c.wg.Done()

		c.mu.Lock()
		c.reconnectPending = false
		c.reconnectTimer = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		if err := c.dial(c.baseCtx); err != nil {
			c.logger.Debug("reconnect failed", zap.Error(err))
		}
	})
	c.logger.Debug("reconnect scheduled", zap.Duration("delay", c.opts.ReconnectDelay))
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			c.handleDrop(conn)
			return
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(data)
		}
	}
}

func (c *Client) handleDrop(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.notify(StateDisconnected)
}

// Send writes v as a JSON text frame.
func (c *Client) Send(v any) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// SendText writes data as a text frame.
func (c *Client) SendText(data []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write text: %w", err)
	}
	return nil
}

func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.state != StateConnected || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Close tears the connection down and cancels any pending reconnect. It is
// safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil && c.reconnectTimer.Stop() {
		c.wg.Done()
	}
	c.reconnectTimer = nil
	c.reconnectPending = false
	conn := c.conn
	c.conn = nil
	previous := c.state
	c.state = StateDisconnected
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.wg.Wait()

	if previous != StateDisconnected {
		c.notify(StateDisconnected)
	}
	return nil
}

func (c *Client) notify(state State) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(state)
	}
}
