package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	relayPongWait   = 60 * time.Second
	relayPingPeriod = 54 * time.Second
	relayWriteWait  = 10 * time.Second
	relaySendBuffer = 256
)

// Relay fans WebSocket frames out between connections that joined the same
// channel name, which lets tabs in different processes share a channel.
type Relay struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu       sync.RWMutex
	channels map[string]map[*relayPeer]struct{}
}

type relayPeer struct {
	channel string
	conn    *websocket.Conn
	send    chan []byte
}

// NewRelay creates a relay with no connections.
func NewRelay(logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:   logger.Named("relay"),
		channels: make(map[string]map[*relayPeer]struct{}),
	}
}

// RegisterRoutes mounts the relay endpoint.
func (rl *Relay) RegisterRoutes(r chi.Router) {
	r.Get("/ws/broadcast/{channel}", rl.ServeHTTP)
}

// Peers returns the number of connections on channel.
func (rl *Relay) Peers(channel string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.channels[channel])
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if channel == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	peer := &relayPeer{
		channel: channel,
		conn:    conn,
		send:    make(chan []byte, relaySendBuffer),
	}
	rl.register(peer)
	rl.logger.Debug("peer joined", zap.String("channel", channel), zap.Int("peers", rl.Peers(channel)))

	ctx, cancel := context.WithCancel(context.Background())
	go rl.writePump(ctx, peer)
	rl.readPump(peer)
	cancel()
}

func (rl *Relay) register(peer *relayPeer) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	peers, ok := rl.channels[peer.channel]
	if !ok {
		peers = make(map[*relayPeer]struct{})
		rl.channels[peer.channel] = peers
	}
	peers[peer] = struct{}{}
}

func (rl *Relay) unregister(peer *relayPeer) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	peers, ok := rl.channels[peer.channel]
	if !ok {
		return
	}
	if _, ok := peers[peer]; !ok {
		return
	}
	delete(peers, peer)
	close(peer.send)
	if len(peers) == 0 {
		delete(rl.channels, peer.channel)
	}
}

func (rl *Relay) fanOut(from *relayPeer, data []byte) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	for peer := range rl.channels[from.channel] {
		if peer == from {
			continue
		}
		select {
		case peer.send <- data:
		default:
			rl.logger.Warn("dropping frame for slow peer", zap.String("channel", from.channel))
		}
	}
}

func (rl *Relay) readPump(peer *relayPeer) {
	defer func() {
		rl.unregister(peer)
		peer.conn.Close()
	}()

	peer.conn.SetReadDeadline(time.Now().Add(relayPongWait))
	peer.conn.SetPongHandler(func(string) error {
		peer.conn.SetReadDeadline(time.Now().Add(relayPongWait))
		return nil
	})

	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				rl.logger.Warn("read failed", zap.String("channel", peer.channel), zap.Error(err))
			}
			return
		}
		peer.conn.SetReadDeadline(time.Now().Add(relayPongWait))
		rl.fanOut(peer, data)
	}
}

func (rl *Relay) writePump(ctx context.Context, peer *relayPeer) {
	ticker := time.NewTicker(relayPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-peer.send:
			if !ok {
				return
			}
			peer.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
			if err := peer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			peer.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
			if err := peer.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
