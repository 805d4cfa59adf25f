package recognizer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilvlbot/internal/domain"
)

const luisBody = `{
  "query": "ilvl hoazl antonidas",
  "topScoringIntent": {"intent": "FindItemLevel", "score": 0.97},
  "intents": [
    {"intent": "FindItemLevel", "score": 0.97},
    {"intent": "None", "score": 0.02}
  ],
  "entities": [
    {"entity": "hoazl", "type": "CharacterName", "startIndex": 5, "endIndex": 9, "score": 0.91},
    {"entity": "antonidas", "type": "RealmName", "startIndex": 11, "endIndex": 19, "score": 0.88}
  ]
}`

func TestLUIS_Recognize(t *testing.T) {
	var gotPath, gotKey, gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("subscription-key")
		gotQ = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, luisBody)
	}))
	defer srv.Close()

	l, err := NewLUIS(LUISConfig{Endpoint: srv.URL + "/apps/%s", AppID: "app-1", Key: "k3y", Logger: testLogger()})
	require.NoError(t, err)

	rec, err := l.Recognize(context.Background(), "ilvl hoazl antonidas")
	require.NoError(t, err)

	assert.Equal(t, "/apps/app-1", gotPath)
	assert.Equal(t, "k3y", gotKey)
	assert.Equal(t, "ilvl hoazl antonidas", gotQ)
	assert.Equal(t, domain.Intent{Name: "FindItemLevel", Score: 0.97}, rec.TopIntent())

	name, ok := rec.FindEntity(domain.EntityCharacterName)
	require.True(t, ok)
	assert.Equal(t, domain.Entity{Type: "CharacterName", Value: "hoazl", Score: 0.91, Start: 5, End: 9}, name)
	realm, ok := rec.FindEntity(domain.EntityRealmName)
	require.True(t, ok)
	assert.Equal(t, "antonidas", realm.Value)
}

func TestLUIS_TopScoringIntentOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"query":"x","topScoringIntent":{"intent":"FindItemLevel","score":0.6},"entities":[]}`)
	}))
	defer srv.Close()

	l, err := NewLUIS(LUISConfig{Endpoint: srv.URL, AppID: "a", Key: "k"})
	require.NoError(t, err)

	rec, err := l.Recognize(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "FindItemLevel", rec.TopIntent().Name)
}

func TestLUIS_Errors(t *testing.T) {
	_, err := NewLUIS(LUISConfig{AppID: "a"})
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "garbage" {
			_, _ = io.WriteString(w, "{")
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"statusCode":401,"message":"invalid subscription key"}`)
	}))
	defer srv.Close()

	l, err := NewLUIS(LUISConfig{Endpoint: srv.URL, AppID: "a", Key: "bad"})
	require.NoError(t, err)

	_, err = l.Recognize(context.Background(), "hello")
	assert.ErrorContains(t, err, "status 401")

	_, err = l.Recognize(context.Background(), "garbage")
	assert.ErrorContains(t, err, "decode luis response")
}
