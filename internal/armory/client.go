// Package armory fetches character equipment data from the Battle.net
// World of Warcraft profile API.
package armory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"ilvlbot/internal/domain"
	"ilvlbot/internal/httpclient"
)

const (
	DefaultTokenURL   = "https://oauth.battle.net/token"
	DefaultAPIBaseURL = "https://%s.api.blizzard.com"
	DefaultRegion     = "eu"
	DefaultLocale     = "en_GB"

	defaultRequestsPerSecond = 10
	maxErrorBody             = 512
)

type Config struct {
	ClientID     string
	ClientSecret string
	Region       string
	Locale       string
	// APIBaseURL may contain one %s, replaced by the region.
	APIBaseURL        string
	TokenURL          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client // base transport for token and API calls
	Logger            *slog.Logger
}

// Client implements domain.CharacterLookup against the Battle.net profile API.
// Identical concurrent lookups share one request.
type Client struct {
	http    *http.Client
	baseURL string
	region  string
	locale  string
	timeout time.Duration
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("armory: client id and secret are required")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := cfg.HTTPClient
	if base == nil {
		base = httpclient.New(cfg.Timeout)
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	authed := cc.Client(ctx)
	authed.Timeout = base.Timeout

	timeout := authed.Timeout
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}

	baseURL := cfg.APIBaseURL
	if strings.Contains(baseURL, "%s") {
		baseURL = fmt.Sprintf(baseURL, strings.ToLower(cfg.Region))
	}

	return &Client{
		http:    authed,
		baseURL: strings.TrimRight(baseURL, "/"),
		region:  strings.ToLower(cfg.Region),
		locale:  cfg.Locale,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  cfg.Logger,
	}, nil
}

type profileResponse struct {
	Name  string `json:"name"`
	Realm struct {
		Name json.RawMessage `json:"name"`
		Slug string          `json:"slug"`
	} `json:"realm"`
	AverageItemLevel  int `json:"average_item_level"`
	EquippedItemLevel int `json:"equipped_item_level"`
}

// ItemLevel fetches the character's average and equipped item level. The
// request is made in the client's configured region; ref.Region must match it
// when set.
func (c *Client) ItemLevel(ctx context.Context, ref domain.CharacterRef) (*domain.ItemLevel, error) {
	if ref.Region != "" && !strings.EqualFold(ref.Region, c.region) {
		return nil, fmt.Errorf("armory: region %q not served by this client (%s)", ref.Region, c.region)
	}
	slug := RealmSlug(ref.Realm)
	name := strings.ToLower(strings.TrimSpace(ref.Name))
	if slug == "" || name == "" {
		return nil, fmt.Errorf("armory: realm and name are required: %w", ErrNotFound)
	}

	// The shared fetch outlives any single caller: it is bounded by the
	// client timeout, and each caller stops waiting when its own ctx ends.
	key := c.region + "/" + slug + "/" + name
	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(fetchCtx, slug, name)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("armory: lookup %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("lookup shared with concurrent caller", "key", key)
		}
		il := *res.Val.(*domain.ItemLevel)
		return &il, nil
	}
}

func (c *Client) fetch(ctx context.Context, slug, name string) (*domain.ItemLevel, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	q := url.Values{}
	q.Set("namespace", "profile-"+c.region)
	q.Set("locale", c.locale)
	reqURL := fmt.Sprintf("%s/profile/wow/character/%s/%s?%s",
		c.baseURL, url.PathEscape(slug), url.PathEscape(name), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil &&
			(rerr.Response.StatusCode == http.StatusUnauthorized || rerr.Response.StatusCode == http.StatusBadRequest) {
			return nil, fmt.Errorf("fetch token: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("profile response",
		"realm", slug,
		"name", name,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s@%s: %w", name, slug, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	realm := slug
	if s := realmName(profile.Realm.Name); s != "" {
		realm = s
	}
	return &domain.ItemLevel{
		Name:     profile.Name,
		Realm:    realm,
		Equipped: profile.EquippedItemLevel,
		Average:  profile.AverageItemLevel,
	}, nil
}

// realmName accepts both the single-locale string form and the all-locales
// object form of the realm name.
func realmName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var localized map[string]string
	if err := json.Unmarshal(raw, &localized); err == nil {
		if v, ok := localized["en_GB"]; ok {
			return v
		}
		if v, ok := localized["en_US"]; ok {
			return v
		}
	}
	return ""
}
