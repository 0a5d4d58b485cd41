package room

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
	"github.com/a2639443196/my-vue-web/backend/internal/session"
	"github.com/a2639443196/my-vue-web/backend/internal/transport/wsclient"
)

const (
	// DefaultReconnectDelay 聊天室连接断开后的重连间隔。
	DefaultReconnectDelay = 2 * time.Second
	// TypingTimeout 输入提示在没有新的 typing 帧时保留的时间。
	TypingTimeout = 3 * time.Second
)

// ErrNotConnected is returned by SendMessage while the room socket is down.
var ErrNotConnected = errors.New("聊天室尚未连接")

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL of the server, e.g. "http://localhost:8080". ws/wss URLs are
	// accepted too.
	BaseURL        string
	RoomID         string
	User           session.User
	Token          string
	HistoryLimit   int
	ReconnectDelay time.Duration
	HTTPClient     *http.Client
	OnChange       func()
	Logger         *zap.Logger
}

// Client is the server-backed chat store: it keeps a room socket open and
// mirrors the room's messages and online participants.
type Client struct {
	opts   ClientOptions
	ws     *wsclient.Client
	http   *http.Client
	base   *url.URL
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	messages []chat.Message
	online   map[string]chat.Participant
	typing   map[string]typingEntry
	lastErr  string
}

type typingEntry struct {
	username string
	until    time.Time
}

// NewClient builds a disconnected client; call Connect to open the socket.
func NewClient(opts ClientOptions) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch base.Scheme {
	case "ws":
		base.Scheme = "http"
	case "wss":
		base.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported base url scheme %q", base.Scheme)
	}

	opts.RoomID = NormalizeRoomID(opts.RoomID)
	switch {
	case opts.HistoryLimit <= 0:
		opts.HistoryLimit = DefaultHistoryLimit
	case opts.HistoryLimit > MaxHistoryLimit:
		opts.HistoryLimit = MaxHistoryLimit
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		opts:   opts,
		http:   opts.HTTPClient,
		base:   base,
		logger: logger.Named("room-client").With(zap.String("room", opts.RoomID)),
		now:    time.Now,
		online: make(map[string]chat.Participant),
		typing: make(map[string]typingEntry),
	}

	var header http.Header
	if opts.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + opts.Token}}
	}
	c.ws = wsclient.New(wsclient.Options{
		URL:            c.socketURL(),
		Header:         header,
		ReconnectDelay: opts.ReconnectDelay,
		OnMessage:      c.handleFrame,
		OnStateChange:  c.handleState,
		Logger:         c.logger,
	})
	return c, nil
}

func (c *Client) socketURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws/chat/" + url.PathEscape(c.opts.RoomID)
	q := url.Values{}
	q.Set("userId", c.opts.User.ID)
	q.Set("username", c.opts.User.Username)
	if c.opts.User.Avatar != "" {
		q.Set("avatar", c.opts.User.Avatar)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect dials the room socket. A failed dial keeps retrying in the
// background until Close.
func (c *Client) Connect(ctx context.Context) error {
	return c.ws.Connect(ctx)
}

// Connected reports whether the room socket is open.
func (c *Client) Connected() bool {
	return c.ws.State() == wsclient.StateConnected
}

// Close disconnects and stops reconnecting.
func (c *Client) Close() error {
	return c.ws.Close()
}

// SendMessage posts content to the room. Blank content is ignored.
func (c *Client) SendMessage(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	return c.send(chat.ClientCommand{
		Type:        chat.EventChatMessage,
		RoomID:      c.opts.RoomID,
		Content:     content,
		MessageType: chat.MessageTypeText,
	})
}

// SendTyping tells the room whether the user is typing.
func (c *Client) SendTyping(isTyping bool) error {
	return c.send(chat.ClientCommand{
		Type:     chat.EventTyping,
		RoomID:   c.opts.RoomID,
		IsTyping: isTyping,
	})
}

func (c *Client) send(cmd chat.ClientCommand) error {
	err := c.ws.Send(cmd)
	if errors.Is(err, wsclient.ErrNotConnected) || errors.Is(err, wsclient.ErrClosed) {
		return ErrNotConnected
	}
	return err
}

// Sync loads the room history and the room's online list over HTTP.
func (c *Client) Sync(ctx context.Context) error {
	var history []chat.RoomMessage
	path := "/api/chat/rooms/" + url.PathEscape(c.opts.RoomID) + "/messages"
	if err := c.getJSON(ctx, path, url.Values{"limit": {fmt.Sprint(c.opts.HistoryLimit)}}, &history); err != nil {
		return err
	}

	var online struct {
		Users []OnlineUser `json:"users"`
	}
	onlinePath := "/api/chat/rooms/" + url.PathEscape(c.opts.RoomID) + "/online"
	if err := c.getJSON(ctx, onlinePath, nil, &online); err != nil {
		return err
	}

	incoming := make([]chat.Message, 0, len(history))
	for _, m := range history {
		incoming = append(incoming, m.ToMessage())
	}

	c.mu.Lock()
	c.messages = chat.MergeMessages(c.messages, incoming, c.opts.HistoryLimit)
	for _, u := range online.Users {
		c.online[u.ID] = chat.Participant{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
	}
	c.mu.Unlock()

	c.changed()
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Messages returns the log, oldest first.
func (c *Client) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// OnlineUsers returns the known participants ordered by name.
func (c *Client) OnlineUsers() []chat.Participant {
	c.mu.Lock()
	users := make([]chat.Participant, 0, len(c.online))
	for _, p := range c.online {
		users = append(users, p)
	}
	c.mu.Unlock()

	slices.SortFunc(users, func(a, b chat.Participant) int {
		return cmp.Or(cmp.Compare(a.Username, b.Username), cmp.Compare(a.ID, b.ID))
	})
	return users
}

// TypingUsers returns the names of other participants currently typing,
// sorted. An indicator lapses TypingTimeout after its last typing frame.
func (c *Client) TypingUsers() []string {
	now := c.now()

	c.mu.Lock()
	names := make([]string, 0, len(c.typing))
	for id, entry := range c.typing {
		if !now.Before(entry.until) {
			delete(c.typing, id)
			continue
		}
		names = append(names, entry.username)
	}
	c.mu.Unlock()

	slices.Sort(names)
	return names
}

// LastError returns the text of the most recent error frame.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) handleFrame(data []byte) {
	var ev chat.ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch ev.Type {
	case chat.EventChatMessage:
		msg, err := ev.RoomMessage()
		if err != nil {
			c.logger.Warn("dropping malformed chat message", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.messages, _ = chat.InsertMessage(c.messages, msg.ToMessage(), c.opts.HistoryLimit)
		// a message ends the author's typing indicator
		delete(c.typing, msg.User.ID)
		c.mu.Unlock()

	case chat.EventSystem:
		c.mu.Lock()
		if ev.User != nil {
			if ev.Event == chat.SystemLeave {
				delete(c.online, ev.User.ID)
				delete(c.typing, ev.User.ID)
			} else {
				c.online[ev.User.ID] = *ev.User
			}
		}
		if text := ev.Text(); text != "" {
			c.messages, _ = chat.InsertMessage(c.messages, chat.Message{
				ID:         uuid.NewString(),
				AuthorID:   chat.SystemAuthorID,
				AuthorName: chat.SystemAuthorName,
				Content:    text,
				CreatedAt:  time.Now().UTC(),
				IsSystem:   true,
			}, c.opts.HistoryLimit)
		}
		c.mu.Unlock()

	case chat.EventTyping:
		if ev.User == nil || ev.User.ID == c.opts.User.ID {
			return
		}
		c.mu.Lock()
		if ev.Typing() {
			c.typing[ev.User.ID] = typingEntry{username: ev.User.Username, until: c.now().Add(TypingTimeout)}
		} else {
			delete(c.typing, ev.User.ID)
		}
		c.mu.Unlock()

	case chat.EventError:
		text := ev.Text()
		c.logger.Warn("room reported an error", zap.String("message", text))
		c.mu.Lock()
		c.lastErr = text
		c.mu.Unlock()

	default:
		c.logger.Debug("ignoring frame", zap.String("type", ev.Type))
		return
	}
	c.changed()
}

func (c *Client) handleState(state wsclient.State) {
	c.logger.Debug("room socket state", zap.Stringer("state", state))
	c.changed()
}

func (c *Client) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}
