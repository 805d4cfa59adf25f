package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ilvlbot/internal/armory"
	"ilvlbot/internal/bot"
	"ilvlbot/internal/bus"
	"ilvlbot/internal/channel"
	"ilvlbot/internal/config"
	"ilvlbot/internal/dialog"
	"ilvlbot/internal/domain"
	"ilvlbot/internal/itemlevel"
	"ilvlbot/internal/memory"
	"ilvlbot/internal/metrics"
	"ilvlbot/internal/recognizer"
	"ilvlbot/internal/valkeystore"
)

const (
	purgeInterval     = 5 * time.Minute
	historyTimeout    = 5 * time.Second
	valkeyPingTimeout = 3 * time.Second
)

// app holds everything one bot process needs, minus the chat channels.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	events  *bus.EventBus
	bus     *bus.InMemoryBus
	runtime *dialog.Runtime
	ilvl    *itemlevel.Dialog
	loop    *bot.Loop
	history *memory.SQLiteStore // nil unless dialog.store is "sqlite"
	closers []func() error
}

type appOptions struct {
	Lookup domain.CharacterLookup // replaces the Battle.net client when set
}

func newApp(cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		events: bus.NewEventBus(logger),
		bus:    bus.New(bus.Config{Logger: logger}),
	}
	if err := a.wire(opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(opts appOptions) error {
	rec, err := buildRecognizer(a.cfg.Recognizer, a.logger)
	if err != nil {
		return err
	}

	store, err := a.buildStore()
	if err != nil {
		return err
	}

	lookup := opts.Lookup
	if lookup == nil {
		if lookup, err = buildArmory(a.cfg, a.logger); err != nil {
			return err
		}
	}

	a.runtime = dialog.NewRuntime(dialog.RuntimeConfig{
		Recognizer: rec,
		Store:      store,
		Events:     a.events,
		Logger:     a.logger.With("component", "dialog"),
		MinScore:   a.cfg.Recognizer.MinScore,
	})
	if a.cfg.Dialog.FallbackMessage != "" {
		a.runtime.OnDefault(a.cfg.Dialog.FallbackMessage)
	}

	a.ilvl, err = itemlevel.New(itemlevel.Config{
		Lookup: lookup,
		Region: a.cfg.BattleNet.Region,
		Events: a.events,
		Logger: a.logger.With("component", "itemlevel"),
	})
	if err != nil {
		return err
	}
	a.ilvl.Register(a.runtime)

	var limiter *bot.SenderLimiter
	if a.cfg.General.RateLimitPerMinute > 0 {
		limiter = bot.NewSenderLimiter(0, float64(a.cfg.General.RateLimitPerMinute))
	}

	a.loop, err = bot.New(bot.Config{
		Runtime:     a.runtime,
		Bus:         a.bus,
		Events:      a.events,
		Limiter:     limiter,
		Logger:      a.logger.With("component", "bot"),
		Concurrency: a.cfg.General.MaxConcurrentMessages,
	})
	if err != nil {
		return err
	}

	if a.history != nil {
		a.recordLookups()
	}
	return nil
}

// Close releases the bus and every store connection, newest first.
func (a *app) Close() {
	a.bus.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

func buildRecognizer(cfg config.RecognizerConfig, logger *slog.Logger) (domain.Recognizer, error) {
	switch cfg.Mode {
	case "", "pattern":
		return buildPatternRecognizer(cfg, logger)
	case "luis":
		return buildLUIS(cfg.LUIS, logger)
	case "chain":
		luis, err := buildLUIS(cfg.LUIS, logger)
		if err != nil {
			return nil, err
		}
		pattern, err := buildPatternRecognizer(cfg, logger)
		if err != nil {
			return nil, err
		}
		return recognizer.NewChain(logger, luis, pattern), nil
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", cfg.Mode)
	}
}

func buildPatternRecognizer(cfg config.RecognizerConfig, logger *slog.Logger) (*recognizer.PatternRecognizer, error) {
	p, err := recognizer.NewBuiltinRecognizer(logger)
	if err != nil {
		return nil, err
	}
	if cfg.IntentsDir == "" {
		return p, nil
	}
	n, err := p.RegisterDir(cfg.IntentsDir)
	if err != nil {
		return nil, fmt.Errorf("load intents from %s: %w", cfg.IntentsDir, err)
	}
	if n > 0 {
		logger.Info("custom intents loaded", "dir", cfg.IntentsDir, "count", n)
	}
	return p, nil
}

func buildLUIS(cfg config.LUISConfig, logger *slog.Logger) (*recognizer.LUIS, error) {
	return recognizer.NewLUIS(recognizer.LUISConfig{
		Endpoint: cfg.Endpoint,
		AppID:    cfg.AppID,
		Key:      cfg.Key,
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:   logger,
	})
}

func (a *app) buildStore() (dialog.Store, error) {
	ttl := time.Duration(a.cfg.Dialog.TTLMinutes) * time.Minute

	switch a.cfg.Dialog.Store {
	case "", "memory":
		return dialog.NewMemoryStore(ttl), nil

	case "sqlite":
		s, err := memory.NewSQLiteStore(a.cfg.Dialog.SQLitePath, ttl, a.logger)
		if err != nil {
			return nil, err
		}
		a.history = s
		a.closers = append(a.closers, s.Close)
		return s, nil

	case "valkey":
		vc := a.cfg.Dialog.Valkey
		client, err := valkeystore.NewClient(valkeyClientConfig(vc))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })

		ctx, cancel := context.WithTimeout(context.Background(), valkeyPingTimeout)
		defer cancel()
		if err := valkeystore.Ping(ctx, client); err != nil {
			return nil, err
		}
		return valkeystore.NewStore(client, a.logger, valkeystore.Config{Prefix: vc.Prefix, TTL: ttl}), nil

	default:
		return nil, fmt.Errorf("unknown dialog store %q", a.cfg.Dialog.Store)
	}
}

func valkeyClientConfig(vc config.ValkeyConfig) valkeystore.ClientConfig {
	return valkeystore.ClientConfig{
		Addr:              vc.Addr,
		Username:          vc.Username,
		Password:          vc.Password,
		DB:                vc.DB,
		DialTimeout:       valkeyPingTimeout,
		UseTLS:            vc.UseTLS,
		DisableCache:      vc.DisableCache,
		ForceSingleClient: !vc.Cluster,
	}
}

func buildArmory(cfg *config.Config, logger *slog.Logger) (*armory.Client, error) {
	if err := config.CheckBattleNet(cfg); err != nil {
		return nil, err
	}
	bn := cfg.BattleNet
	return armory.New(armory.Config{
		ClientID:          bn.ClientID,
		ClientSecret:      bn.ClientSecret,
		Region:            bn.Region,
		Locale:            bn.Locale,
		APIBaseURL:        bn.APIBaseURL,
		TokenURL:          bn.TokenURL,
		Timeout:           time.Duration(bn.TimeoutSeconds) * time.Second,
		RequestsPerSecond: bn.RequestsPerSecond,
		Burst:             bn.Burst,
		Logger:            logger.With("component", "armory"),
	})
}

// recordLookups writes every finished lookup into the SQLite history table.
func (a *app) recordLookups() {
	record := func(ev bus.Event) {
		r := memory.LookupRecord{
			Region:    stringField(ev.Payload, "region"),
			Realm:     stringField(ev.Payload, "realm"),
			Name:      stringField(ev.Payload, "name"),
			Equipped:  intField(ev.Payload, "equipped"),
			Average:   intField(ev.Payload, "average"),
			Err:       stringField(ev.Payload, "error"),
			CreatedAt: ev.Timestamp,
		}
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := a.history.RecordLookup(ctx, r); err != nil {
			a.logger.Warn("lookup history write failed", "err", err)
		}
	}
	a.events.On(bus.EventLookupSucceeded, record)
	a.events.On(bus.EventLookupFailed, record)
}

// purgeExpired drops abandoned SQLite dialogs until ctx is cancelled.
func (a *app) purgeExpired(ctx context.Context, every time.Duration) error {
	if a.history == nil {
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.history.PurgeExpired(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				a.logger.Warn("purge expired dialogs failed", "err", err)
				continue
			}
			if n > 0 {
				a.logger.Debug("purged expired dialogs", "count", n)
			}
		}
	}
}

// buildChannels returns the enabled network channels. The CLI is handled by
// the chat command and never runs inside the gateway.
func buildChannels(cfg *config.Config, events *bus.EventBus, logger *slog.Logger) []domain.Channel {
	var channels []domain.Channel
	ch := cfg.Channels

	if ch.Telegram.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     ch.Telegram.Token,
			AllowFrom: ch.Telegram.AllowFrom,
			Logger:    logger.With("channel", "telegram"),
		}))
	}
	if ch.Discord.Enabled {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   ch.Discord.Token,
			GuildID: ch.Discord.GuildID,
			Logger:  logger.With("channel", "discord"),
		}))
	}
	if ch.Slack.Enabled {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken: ch.Slack.BotToken,
			AppToken: ch.Slack.AppToken,
			Logger:   logger.With("channel", "slack"),
		}))
	}
	if ch.Webhook.Enabled {
		wc := channel.WebhookConfig{
			Host:         ch.Webhook.Host,
			Port:         ch.Webhook.Port,
			Secret:       ch.Webhook.Secret,
			ReplyTimeout: time.Duration(ch.Webhook.ReplyTimeoutSeconds) * time.Second,
			Events:       events,
			Logger:       logger.With("channel", "webhook"),
		}
		if cfg.Metrics.Enabled {
			wc.MetricsPath = cfg.Metrics.Endpoint
			wc.MetricsHandler = metrics.Collector.Handler()
		}
		channels = append(channels, channel.NewWebhook(wc))
	} else if cfg.Metrics.Enabled {
		logger.Warn("metrics are served by the webhook server, which is disabled")
	}
	if ch.WebSocket.Enabled {
		channels = append(channels, channel.NewWebSocketChannel(channel.WSConfig{
			Host:           ch.WebSocket.Host,
			Port:           ch.WebSocket.Port,
			Path:           ch.WebSocket.Path,
			AllowedOrigins: ch.WebSocket.AllowedOrigins,
			Logger:         logger.With("channel", "websocket"),
		}))
	}
	return channels
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
