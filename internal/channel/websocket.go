package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ilvlbot/internal/domain"
	"ilvlbot/internal/metrics"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 4096
)

type WSConfig struct {
	Host           string
	Port           int
	Path           string   // endpoint path (default: /ws)
	AllowedOrigins []string // empty = same-origin and non-browser clients only
	Logger         *slog.Logger
}

// WebSocketChannel serves a JSON chat protocol. Every connection joins the
// room named by its chat_id query parameter (a fresh id when absent), and a
// reply reaches every connection in that room.
type WebSocketChannel struct {
	addr     string
	path     string
	bus      domain.MessageBus
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*wsClient]struct{}
}

type wsClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex // serialises writes; gorilla allows one writer at a time
}

// WSMessage is one protocol frame.
type WSMessage struct {
	Type    string `json:"type"` // "message" | "status" | "error"
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

func NewWebSocketChannel(cfg WSConfig) *WebSocketChannel {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 3979
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebSocketChannel{
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		path:   cfg.Path,
		logger: cfg.Logger,
		rooms:  make(map[string]map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// originChecker accepts requests without an Origin header, same-host origins
// and the explicitly allowed ones. "*" allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Start serves the endpoint until ctx is cancelled.
func (ws *WebSocketChannel) Start(ctx context.Context, bus domain.MessageBus) error {
	ws.attach(bus)

	srv := &http.Server{Addr: ws.addr, Handler: ws.Handler(), ReadHeaderTimeout: 10 * time.Second}
	ws.logger.Info("websocket server starting", "addr", ws.addr, "path", ws.path)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		ws.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("websocket server: %w", err)
	}
}

func (ws *WebSocketChannel) attach(b domain.MessageBus) {
	ws.bus = b
	b.OnOutbound(ws.Name(), func(msg domain.OutboundMessage) {
		if msg.Content != "" {
			ws.broadcast(msg.ChatID, WSMessage{Type: "message", Content: msg.Content, ChatID: msg.ChatID})
		}
	})
}

// Handler serves the upgrade endpoint.
func (ws *WebSocketChannel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ws.path, ws.serve)
	return mux
}

// Stop drops every connection; the listener stops with Start's context.
func (ws *WebSocketChannel) Stop() error {
	ws.closeAll()
	return nil
}

func (ws *WebSocketChannel) Send(_ context.Context, chatID string, content string) error {
	ws.broadcast(chatID, WSMessage{Type: "message", Content: content, ChatID: chatID})
	return nil
}

func (ws *WebSocketChannel) join(c *wsClient) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	room, ok := ws.rooms[c.chatID]
	if !ok {
		room = make(map[*wsClient]struct{})
		ws.rooms[c.chatID] = room
	}
	room[c] = struct{}{}
	metrics.WSConnections.Inc()
}

func (ws *WebSocketChannel) leave(c *wsClient) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	room, ok := ws.rooms[c.chatID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(ws.rooms, c.chatID)
	}
	metrics.WSConnections.Dec()
}

func (ws *WebSocketChannel) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = uuid.NewString()
	}
	c := &wsClient{conn: conn, chatID: chatID}
	ws.join(c)
	ws.logger.Debug("websocket client joined", "chat_id", chatID, "remote", r.RemoteAddr)

	done := make(chan struct{})
	defer func() {
		close(done)
		ws.leave(c)
		conn.Close()
	}()
	go c.keepalive(done)

	_ = c.send(WSMessage{Type: "status", Content: "connected", ChatID: chatID})
	ws.readLoop(c)
}

func (ws *WebSocketChannel) readLoop(c *wsClient) {
	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Warn("websocket read error", "chat_id", c.chatID, "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.send(WSMessage{Type: "error", Content: "invalid JSON", ChatID: c.chatID})
			continue
		}
		if msg.Type != "message" || msg.Content == "" {
			continue
		}

		sender := msg.UserID
		if sender == "" {
			sender = c.chatID
		}
		ws.bus.Publish(domain.InboundMessage{
			ID:        uuid.NewString(),
			Channel:   ws.Name(),
			ChatID:    c.chatID,
			SenderID:  sender,
			Content:   msg.Content,
			Timestamp: time.Now(),
		})
	}
}

// keepalive pings the peer until done is closed; a missed pong lets the
// read deadline close the connection.
func (c *wsClient) keepalive(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (ws *WebSocketChannel) broadcast(chatID string, msg WSMessage) {
	ws.mu.RLock()
	targets := make([]*wsClient, 0, len(ws.rooms[chatID]))
	for c := range ws.rooms[chatID] {
		targets = append(targets, c)
	}
	ws.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			ws.logger.Debug("websocket write failed", "chat_id", chatID, "err", err)
		}
	}
}

func (c *wsClient) send(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// closeAll closes every connection. Each serve goroutine then fails its read
// and leaves its room.
func (ws *WebSocketChannel) closeAll() {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for _, room := range ws.rooms {
		for c := range room {
			c.conn.Close()
		}
	}
}
