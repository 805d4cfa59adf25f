package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:               "~/.ilvlbot",
			LogLevel:              "info",
			LogMaxSizeMB:          20,
			LogMaxBackups:         5,
			LogMaxAgeDays:         14,
			MaxConcurrentMessages: 8,
			RateLimitPerMinute:    20,
		},
		BattleNet: BattleNetConfig{
			ClientID:          "${BATTLENET_CLIENT_ID}",
			ClientSecret:      "${BATTLENET_CLIENT_SECRET}",
			Region:            "eu",
			Locale:            "en_GB",
			TimeoutSeconds:    15,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Recognizer: RecognizerConfig{
			Mode:       "pattern",
			IntentsDir: "~/.ilvlbot/intents",
			MinScore:   0.3,
			LUIS: LUISConfig{
				AppID:          "${LUIS_APP_ID:-}",
				Key:            "${LUIS_KEY:-}",
				TimeoutSeconds: 5,
			},
		},
		Dialog: DialogConfig{
			Store:           "memory",
			TTLMinutes:      30,
			SQLitePath:      "~/.ilvlbot/ilvlbot.db",
			FallbackMessage: "I could not understand your request.",
			Valkey: ValkeyConfig{
				Addr:   "localhost:6379",
				Prefix: "ilvlbot:dialog",
			},
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{Enabled: true},
			Telegram: TelegramConfig{
				Token: "${TELEGRAM_BOT_TOKEN:-}",
			},
			Discord: DiscordConfig{
				Token: "${DISCORD_BOT_TOKEN:-}",
			},
			Slack: SlackConfig{
				BotToken: "${SLACK_BOT_TOKEN:-}",
				AppToken: "${SLACK_APP_TOKEN:-}",
			},
			Webhook: WebhookConfig{
				Host:                "127.0.0.1",
				Port:                3978,
				Secret:              "${WEBHOOK_SECRET:-}",
				ReplyTimeoutSeconds: 20,
			},
			WebSocket: WebSocketConfig{
				Host: "127.0.0.1",
				Port: 3979,
				Path: "/ws",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
