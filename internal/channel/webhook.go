package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"ilvlbot/internal/bus"
	"ilvlbot/internal/domain"
)

const (
	webhookMaxBody             = 1 << 20
	defaultWebhookReplyTimeout = 20 * time.Second
	signatureHeader            = "X-Signature-256"
)

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Host           string
	Port           int
	Secret         string        // HMAC secret for X-Signature-256; empty disables verification
	ReplyTimeout   time.Duration // how long a request waits for its turn's reply
	MetricsPath    string        // empty disables the metrics route
	MetricsHandler http.Handler
	Events         *bus.EventBus // optional
	Logger         *slog.Logger
}

// Webhook answers chat turns over HTTP. Each POST waits for the reply to its
// own message and returns it in the response body.
type Webhook struct {
	host         string
	port         int
	secret       string
	replyTimeout time.Duration
	metricsPath  string
	metrics      http.Handler
	events       *bus.EventBus
	bus          domain.MessageBus
	logger       *slog.Logger
	server       *http.Server

	mu      sync.Mutex
	pending map[string]chan domain.OutboundMessage
}

// WebhookPayload is the expected JSON body for POST /api/messages.
type WebhookPayload struct {
	ChatID  string `json:"chat_id"` // conversation id; a new one is assigned when empty
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// WebhookResponse is returned for a processed message.
type WebhookResponse struct {
	Reply  string `json:"reply"`
	ChatID string `json:"chat_id"`
}

// NewWebhook creates a new webhook channel handler.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Port == 0 {
		cfg.Port = 3978
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultWebhookReplyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		host:         cfg.Host,
		port:         cfg.Port,
		secret:       cfg.Secret,
		replyTimeout: cfg.ReplyTimeout,
		metricsPath:  cfg.MetricsPath,
		metrics:      cfg.MetricsHandler,
		events:       cfg.Events,
		logger:       cfg.Logger,
		pending:      make(map[string]chan domain.OutboundMessage),
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Start serves HTTP until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.attach(bus)

	w.server = &http.Server{
		Addr:              net.JoinHostPort(w.host, strconv.Itoa(w.port)),
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      w.replyTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// attach wires the channel to the bus; replies are routed back to the
// request that is waiting on them.
func (w *Webhook) attach(b domain.MessageBus) {
	w.bus = b
	b.OnOutbound("webhook", w.deliver)
}

func (w *Webhook) deliver(msg domain.OutboundMessage) {
	w.mu.Lock()
	ch, ok := w.pending[msg.ReplyTo]
	if ok {
		delete(w.pending, msg.ReplyTo)
	}
	w.mu.Unlock()

	if !ok {
		w.logger.Debug("webhook reply without waiting request", "chat_id", msg.ChatID, "reply_to", msg.ReplyTo)
		return
	}
	ch <- msg
}

func (w *Webhook) Stop() error { return nil }

// Send has no open request to answer; webhook replies only flow back through POST responses.
func (w *Webhook) Send(_ context.Context, chatID string, _ string) error {
	return fmt.Errorf("webhook: cannot push to chat %s", chatID)
}

// Handler returns the HTTP routes served by the channel.
func (w *Webhook) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(w.logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if w.metricsPath != "" && w.metrics != nil {
		router.GET(w.metricsPath, gin.WrapH(w.metrics))
	}
	router.POST("/api/messages", w.handleMessage)
	return router
}

func (w *Webhook) handleMessage(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookMaxBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}

	if w.secret != "" {
		sig := c.GetHeader(signatureHeader)
		if sig == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing signature"})
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	if payload.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if payload.ChatID == "" {
		payload.ChatID = uuid.NewString()
	}
	if payload.UserID == "" {
		payload.UserID = payload.ChatID
	}

	if w.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not ready"})
		return
	}

	id := uuid.NewString()
	ch := make(chan domain.OutboundMessage, 1)
	w.mu.Lock()
	w.pending[id] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	}()

	w.logger.Info("webhook received", "chat_id", payload.ChatID, "user_id", payload.UserID, "content_len", len(payload.Content))
	if w.events != nil {
		w.events.Emit(bus.Event{Type: bus.EventWebhookReceived, Source: "webhook", Payload: map[string]any{"chat_id": payload.ChatID}})
	}

	w.bus.Publish(domain.InboundMessage{
		ID:        id,
		Channel:   "webhook",
		ChatID:    payload.ChatID,
		SenderID:  payload.UserID,
		Content:   payload.Content,
		Timestamp: time.Now(),
	})

	timer := time.NewTimer(w.replyTimeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		c.JSON(http.StatusOK, WebhookResponse{Reply: reply.Content, ChatID: payload.ChatID})
	case <-timer.C:
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for reply", "chat_id": payload.ChatID})
	case <-c.Request.Context().Done():
	}
}

// requestLogger logs one line per request; successful health and metrics
// probes are logged at debug.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
		}
		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Debug("http_request", fields...)
		}
	}
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
