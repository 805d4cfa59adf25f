package armory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilvlbot/internal/domain"
)

type fakeBattleNet struct {
	*httptest.Server
	tokenCalls   atomic.Int32
	profileCalls atomic.Int32
	tokenStatus  int
	gate         chan struct{}
	lastQuery    atomic.Value
}

func newFakeBattleNet(t *testing.T) *fakeBattleNet {
	t.Helper()
	f := &fakeBattleNet{tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client" || secret != "secret" || f.tokenStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid_client"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/profile/wow/character/", func(w http.ResponseWriter, r *http.Request) {
		f.profileCalls.Add(1)
		f.lastQuery.Store(r.URL.RawQuery)
		if f.gate != nil {
			<-f.gate
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/profile/wow/character/antonidas/hoazl":
			_, _ = io.WriteString(w, `{"name":"Hoazl","realm":{"name":"Antonidas","slug":"antonidas"},"average_item_level":840,"equipped_item_level":835}`)
		case "/profile/wow/character/kelthuzad/hoazl":
			_, _ = io.WriteString(w, `{"name":"Hoazl","realm":{"name":{"en_US":"Kel'Thuzad"},"slug":"kelthuzad"},"average_item_level":500,"equipped_item_level":499}`)
		case "/profile/wow/character/antonidas/broken":
			_, _ = io.WriteString(w, `{"name":`)
		case "/profile/wow/character/antonidas/maintenance":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "down for maintenance")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeBattleNet, secret string) *Client {
	t.Helper()
	c, err := New(Config{
		ClientID:          "client",
		ClientSecret:      secret,
		APIBaseURL:        f.URL,
		TokenURL:          f.URL + "/token",
		RequestsPerSecond: 1000,
		Burst:             10,
		Timeout:           5 * time.Second,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{ClientID: "id"})
	assert.Error(t, err)
}

func TestClient_ItemLevel(t *testing.T) {
	f := newFakeBattleNet(t)
	c := newTestClient(t, f, "secret")

	il, err := c.ItemLevel(context.Background(), domain.CharacterRef{Region: "eu", Realm: "Antonidas", Name: "Hoazl"})
	require.NoError(t, err)
	assert.Equal(t, &domain.ItemLevel{Name: "Hoazl", Realm: "Antonidas", Equipped: 835, Average: 840}, il)
	assert.Equal(t, "locale=en_GB&namespace=profile-eu", f.lastQuery.Load())

	_, err = c.ItemLevel(context.Background(), domain.CharacterRef{Realm: "antonidas", Name: "hoazl"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenCalls.Load(), "token should be reused")
}

func TestClient_LocalizedRealmName(t *testing.T) {
	f := newFakeBattleNet(t)
	c := newTestClient(t, f, "secret")

	il, err := c.ItemLevel(context.Background(), domain.CharacterRef{Realm: "Kel'Thuzad", Name: "hoazl"})
	require.NoError(t, err)
	assert.Equal(t, "Kel'Thuzad", il.Realm)
	assert.Equal(t, 499, il.Equipped)
}

func TestClient_Errors(t *testing.T) {
	f := newFakeBattleNet(t)
	c := newTestClient(t, f, "secret")
	ctx := context.Background()

	_, err := c.ItemLevel(ctx, domain.CharacterRef{Realm: "antonidas", Name: "nobody"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.ItemLevel(ctx, domain.CharacterRef{Realm: "antonidas", Name: "maintenance"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "down for maintenance", se.Body)

	_, err = c.ItemLevel(ctx, domain.CharacterRef{Realm: "antonidas", Name: "broken"})
	assert.ErrorContains(t, err, "decode profile")

	_, err = c.ItemLevel(ctx, domain.CharacterRef{Realm: "", Name: "hoazl"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.ItemLevel(ctx, domain.CharacterRef{Region: "us", Realm: "antonidas", Name: "hoazl"})
	assert.Error(t, err)
}

func TestClient_BadCredentials(t *testing.T) {
	f := newFakeBattleNet(t)
	c := newTestClient(t, f, "wrong")

	_, err := c.ItemLevel(context.Background(), domain.CharacterRef{Realm: "antonidas", Name: "hoazl"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), f.profileCalls.Load())
}

func TestClient_NetworkError(t *testing.T) {
	f := newFakeBattleNet(t)
	c := newTestClient(t, f, "secret")
	f.Close()

	_, err := c.ItemLevel(context.Background(), domain.CharacterRef{Realm: "antonidas", Name: "hoazl"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestClient_ConcurrentLookupsShareRequest(t *testing.T) {
	f := newFakeBattleNet(t)
	c := newTestClient(t, f, "secret")

	// Warm the token so only profile calls are counted below.
	_, err := c.ItemLevel(context.Background(), domain.CharacterRef{Realm: "antonidas", Name: "hoazl"})
	require.NoError(t, err)
	f.profileCalls.Store(0)
	f.gate = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*domain.ItemLevel, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			il, err := c.ItemLevel(context.Background(), domain.CharacterRef{Realm: "Antonidas", Name: "HOAZL"})
			if err == nil {
				results[i] = il
			}
		}(i)
	}
	require.Eventually(t, func() bool { return f.profileCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.profileCalls.Load())
	for _, il := range results {
		require.NotNil(t, il)
		assert.Equal(t, 835, il.Equipped)
	}
	results[0].Equipped = 1
	assert.Equal(t, 835, results[1].Equipped, "callers must not share the result value")
}

func TestClient_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	f := newFakeBattleNet(t)
	c := newTestClient(t, f, "secret")
	f.gate = make(chan struct{})
	ref := domain.CharacterRef{Realm: "antonidas", Name: "hoazl"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.ItemLevel(firstCtx, ref)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.profileCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan *domain.ItemLevel, 1)
	go func() {
		il, err := c.ItemLevel(context.Background(), ref)
		if err != nil {
			il = nil
		}
		second <- il
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(f.gate)
	select {
	case il := <-second:
		require.NotNil(t, il, "second caller failed with the first caller's cancellation")
		assert.Equal(t, 835, il.Equipped)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, int32(1), f.profileCalls.Load())
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	f := newFakeBattleNet(t)
	c, err := New(Config{
		ClientID:          "client",
		ClientSecret:      "secret",
		APIBaseURL:        f.URL,
		TokenURL:          f.URL + "/token",
		RequestsPerSecond: 0.001,
		Burst:             1,
	})
	require.NoError(t, err)

	_, err = c.ItemLevel(context.Background(), domain.CharacterRef{Realm: "antonidas", Name: "hoazl"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.ItemLevel(ctx, domain.CharacterRef{Realm: "antonidas", Name: "other"})
	assert.ErrorContains(t, err, "rate limiter")
}
