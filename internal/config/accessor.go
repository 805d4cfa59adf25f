package config

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// tree is the config as its JSON object form, keyed by the json tag names
// that `config get/set` paths use.
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// section walks every key but the last and returns the enclosing object.
func section(t tree, path string) (tree, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("empty path")
	}
	keys := strings.Split(path, ".")
	cur := t
	for i, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(tree)
		if !ok {
			return nil, "", fmt.Errorf("no config section %q", strings.Join(keys[:i+1], "."))
		}
		cur = next
	}
	return cur, keys[len(keys)-1], nil
}

// GetByPath returns the value at a dot path such as "battlenet.region".
// Numbers come back as float64.
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	sec, key, err := section(t, path)
	if err != nil {
		return nil, err
	}
	v, ok := sec[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", path)
	}
	return v, nil
}

// SetByPath assigns value at a dot path. String values are converted to the
// type of the current value, so "50" sets a number and "a,b" sets a list.
// Unknown sections are rejected; a missing leaf (an omitted optional field)
// is allowed and its type is guessed from the string.
func SetByPath(cfg *Config, path string, value any) error {
	t, err := toTree(cfg)
	if err != nil {
		return err
	}
	sec, key, err := section(t, path)
	if err != nil {
		return err
	}

	if s, ok := value.(string); ok {
		cur, exists := sec[key]
		if !exists {
			value = guessType(s)
		} else if value, err = coerce(s, cur); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	sec[key] = value

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func coerce(s string, current any) (any, error) {
	switch current.(type) {
	case bool:
		return strconv.ParseBool(s)
	case float64:
		return strconv.ParseFloat(s, 64)
	case []any:
		if s == "" {
			return []any{}, nil
		}
		var out []any
		for _, item := range strings.Split(s, ",") {
			out = append(out, strings.TrimSpace(item))
		}
		return out, nil
	case tree:
		return nil, fmt.Errorf("is a section, not a value")
	default:
		return s, nil
	}
}

func guessType(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// secrets lists the fields Sanitize masks.
func secrets(c *Config) []*string {
	return []*string{
		&c.BattleNet.ClientSecret,
		&c.Recognizer.LUIS.Key,
		&c.Dialog.Valkey.Password,
		&c.Channels.Telegram.Token,
		&c.Channels.Discord.Token,
		&c.Channels.Slack.BotToken,
		&c.Channels.Slack.AppToken,
		&c.Channels.Webhook.Secret,
	}
}

// Sanitize returns a deep copy with credentials masked. Unresolved
// ${VAR} placeholders are left readable.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}
	for _, p := range secrets(&out) {
		if *p != "" && !Unresolved(*p) {
			*p = maskString(*p)
		}
	}
	return &out
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into leaf paths and their values.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, t tree)
	walk = func(prefix string, t tree) {
		for k, v := range t {
			if prefix != "" {
				k = prefix + "." + k
			}
			if sub, ok := v.(tree); ok {
				walk(k, sub)
				continue
			}
			out[k] = v
		}
	}
	walk("", t)
	return out
}
