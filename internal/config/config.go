package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Config is the root configuration for ilvlbot.
type Config struct {
	General    GeneralConfig    `json:"general"`
	BattleNet  BattleNetConfig  `json:"battlenet"`
	Recognizer RecognizerConfig `json:"recognizer"`
	Dialog     DialogConfig     `json:"dialog"`
	Channels   ChannelsConfig   `json:"channels"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	DataDir               string `json:"dataDir"`
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional rotating log file
	LogMaxSizeMB          int    `json:"logMaxSizeMB,omitempty"`
	LogMaxBackups         int    `json:"logMaxBackups,omitempty"`
	LogMaxAgeDays         int    `json:"logMaxAgeDays,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	RateLimitPerMinute    int    `json:"rateLimitPerMinute"` // per sender; 0 disables
}

// BattleNetConfig holds the API client credential and endpoints.
type BattleNetConfig struct {
	ClientID          string  `json:"clientId"`
	ClientSecret      string  `json:"clientSecret"`
	Region            string  `json:"region"`
	Locale            string  `json:"locale"`
	APIBaseURL        string  `json:"apiBaseUrl,omitempty"`
	TokenURL          string  `json:"tokenUrl,omitempty"`
	TimeoutSeconds    int     `json:"timeoutSeconds"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

type RecognizerConfig struct {
	Mode       string     `json:"mode"` // "pattern" | "luis" | "chain"
	IntentsDir string     `json:"intentsDir,omitempty"`
	MinScore   float64    `json:"minScore"`
	LUIS       LUISConfig `json:"luis"`
}

type LUISConfig struct {
	Endpoint       string `json:"endpoint,omitempty"`
	AppID          string `json:"appId"`
	Key            string `json:"key"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type DialogConfig struct {
	Store           string       `json:"store"` // "memory" | "sqlite" | "valkey"
	TTLMinutes      int          `json:"ttlMinutes"`
	SQLitePath      string       `json:"sqlitePath"`
	Valkey          ValkeyConfig `json:"valkey"`
	FallbackMessage string       `json:"fallbackMessage"`
}

type ValkeyConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	UseTLS   bool   `json:"useTls"`
	Prefix   string `json:"prefix,omitempty"`
	// Cluster enables cluster slot discovery; off talks to Addr directly.
	Cluster bool `json:"cluster,omitempty"`
	// DisableCache turns off client side caching for servers without CLIENT TRACKING.
	DisableCache bool `json:"disableCache,omitempty"`
}

type ChannelsConfig struct {
	CLI       CLIConfig       `json:"cli"`
	Telegram  TelegramConfig  `json:"telegram"`
	Discord   DiscordConfig   `json:"discord"`
	Slack     SlackConfig     `json:"slack"`
	Webhook   WebhookConfig   `json:"webhook"`
	WebSocket WebSocketConfig `json:"websocket"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: register /ilvl in one guild only
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

// WebhookConfig configures the HTTP endpoint that answers chat turns synchronously.
type WebhookConfig struct {
	Enabled             bool   `json:"enabled"`
	Host                string `json:"host"`
	Port                int    `json:"port"`
	Secret              string `json:"secret,omitempty"` // HMAC-SHA256 key for X-Signature-256
	ReplyTimeoutSeconds int    `json:"replyTimeoutSeconds"`
}

type WebSocketConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Path           string   `json:"path"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// MetricsConfig exposes Prometheus metrics on the webhook server.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that also accepts numbers inside the array
// (["123", 456] both become strings) and a single comma-separated string.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*f = nil
		for _, item := range strings.Split(one, ",") {
			if item = strings.TrimSpace(item); item != "" {
				*f = append(*f, item)
			}
		}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.ilvlbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ilvlbot"
	}
	return filepath.Join(home, ".ilvlbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Defaults with
// environment placeholders resolved otherwise.
func LoadOrDefault(path string) (*Config, bool, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg, err := resolveDefaults()
		return cfg, false, err
	}
	cfg, err := Load(path)
	return cfg, true, err
}

func resolveDefaults() (*Config, error) {
	data, err := json.Marshal(Defaults())
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("resolve default config: %w", err)
	}
	cfg.expandPaths()
	return cfg, Validate(cfg)
}

func (c *Config) expandPaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Dialog.SQLitePath = ExpandPath(c.Dialog.SQLitePath)
	c.Recognizer.IntentsDir = ExpandPath(c.Recognizer.IntentsDir)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset ${VAR}
// without default is kept verbatim.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		loc := envVarPattern.FindStringSubmatchIndex(match)
		if loc == nil {
			return match
		}
		name := match[loc[2]:loc[3]]
		hasDefault := loc[4] >= 0

		val, exists := os.LookupEnv(name)
		if !exists || val == "" {
			if hasDefault {
				return match[loc[4]:loc[5]]
			}
			return match
		}
		return val
	})
}

// Unresolved reports whether s still contains a ${VAR} placeholder.
func Unresolved(s string) bool {
	return envVarPattern.MatchString(s)
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. All problems are reported at once.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.RateLimitPerMinute < 0 {
		errs = append(errs, "general.rateLimitPerMinute must be >= 0")
	}

	switch strings.ToLower(cfg.BattleNet.Region) {
	case "eu", "us", "kr", "tw":
	default:
		errs = append(errs, "battlenet.region must be one of: eu, us, kr, tw")
	}
	if cfg.BattleNet.TimeoutSeconds < 1 {
		errs = append(errs, "battlenet.timeoutSeconds must be >= 1")
	}
	if cfg.BattleNet.RequestsPerSecond <= 0 {
		errs = append(errs, "battlenet.requestsPerSecond must be > 0")
	}

	switch cfg.Recognizer.Mode {
	case "pattern", "chain":
	case "luis":
		if cfg.Recognizer.LUIS.AppID == "" || cfg.Recognizer.LUIS.Key == "" {
			errs = append(errs, "recognizer.luis.appId and recognizer.luis.key are required in luis mode")
		}
	default:
		errs = append(errs, "recognizer.mode must be one of: pattern, luis, chain")
	}
	if cfg.Recognizer.MinScore < 0 || cfg.Recognizer.MinScore > 1 {
		errs = append(errs, "recognizer.minScore must be between 0 and 1")
	}

	switch cfg.Dialog.Store {
	case "memory":
	case "sqlite":
		if cfg.Dialog.SQLitePath == "" {
			errs = append(errs, "dialog.sqlitePath is required for the sqlite store")
		}
	case "valkey":
		if cfg.Dialog.Valkey.Addr == "" {
			errs = append(errs, "dialog.valkey.addr is required for the valkey store")
		}
	default:
		errs = append(errs, "dialog.store must be one of: memory, sqlite, valkey")
	}
	if cfg.Dialog.TTLMinutes < 1 {
		errs = append(errs, "dialog.ttlMinutes must be >= 1")
	}

	ch := cfg.Channels
	if ch.Telegram.Enabled && ch.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if ch.Discord.Enabled && ch.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if ch.Slack.Enabled && (ch.Slack.BotToken == "" || ch.Slack.AppToken == "") {
		errs = append(errs, "channels.slack.botToken and channels.slack.appToken are required when slack is enabled")
	}
	if ch.Webhook.Port < 0 || ch.Webhook.Port > 65535 {
		errs = append(errs, "channels.webhook.port must be between 0 and 65535")
	}
	if ch.WebSocket.Port < 0 || ch.WebSocket.Port > 65535 {
		errs = append(errs, "channels.websocket.port must be between 0 and 65535")
	}
	if ch.Webhook.Enabled && ch.WebSocket.Enabled && ch.Webhook.Port == ch.WebSocket.Port && ch.Webhook.Port != 0 {
		errs = append(errs, "channels.webhook.port and channels.websocket.port must differ")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CheckBattleNet reports whether the Battle.net credential is usable.
func CheckBattleNet(cfg *Config) error {
	id, secret := cfg.BattleNet.ClientID, cfg.BattleNet.ClientSecret
	if id == "" || secret == "" || Unresolved(id) || Unresolved(secret) {
		return fmt.Errorf("battlenet.clientId and battlenet.clientSecret must be set (env BATTLENET_CLIENT_ID / BATTLENET_CLIENT_SECRET)")
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
