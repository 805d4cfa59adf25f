package recognizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"ilvlbot/internal/domain"
	"ilvlbot/internal/httpclient"
)

// DefaultLUISEndpoint is the v2 prediction endpoint; %s is the application ID.
const DefaultLUISEndpoint = "https://westeurope.api.cognitive.microsoft.com/luis/v2.0/apps/%s"

type LUISConfig struct {
	Endpoint   string
	AppID      string
	Key        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// LUIS queries a hosted Language Understanding application.
type LUIS struct {
	endpoint string
	key      string
	client   *http.Client
	logger   *slog.Logger
}

func NewLUIS(cfg LUISConfig) (*LUIS, error) {
	if cfg.AppID == "" || cfg.Key == "" {
		return nil, fmt.Errorf("luis: app id and key are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultLUISEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpclient.New(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	endpoint := cfg.Endpoint
	if strings.Contains(endpoint, "%s") {
		endpoint = fmt.Sprintf(endpoint, url.PathEscape(cfg.AppID))
	}
	return &LUIS{
		endpoint: endpoint,
		key:      cfg.Key,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}, nil
}

func (l *LUIS) Name() string { return "luis" }

type luisResponse struct {
	Query            string          `json:"query"`
	TopScoringIntent *domain.Intent  `json:"topScoringIntent"`
	Intents          []domain.Intent `json:"intents"`
	Entities         []domain.Entity `json:"entities"`
}

func (l *LUIS) Recognize(ctx context.Context, utterance string) (domain.Recognition, error) {
	q := url.Values{}
	q.Set("subscription-key", l.key)
	q.Set("verbose", "true")
	q.Set("q", utterance)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return domain.Recognition{}, fmt.Errorf("build luis request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return domain.Recognition{}, fmt.Errorf("luis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Recognition{}, fmt.Errorf("luis: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out luisResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Recognition{}, fmt.Errorf("decode luis response: %w", err)
	}

	rec := domain.Recognition{Query: utterance, Intents: out.Intents, Entities: out.Entities}
	if len(rec.Intents) == 0 && out.TopScoringIntent != nil {
		rec.Intents = []domain.Intent{*out.TopScoringIntent}
	}
	l.logger.Debug("luis recognized", "intent", rec.TopIntent().Name, "score", rec.TopIntent().Score, "entities", len(rec.Entities))
	return rec, nil
}
