package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webential/deskrouter/engine"
	"github.com/webential/deskrouter/engine/corpus"
	"github.com/webential/deskrouter/engine/delivery"
	"github.com/webential/deskrouter/engine/embedding"
	"github.com/webential/deskrouter/engine/matcher"
	"github.com/webential/deskrouter/internal/profile"
)

// basisProvider gives each known text a fixed vector.
type basisProvider struct {
	vectors map[string][]float32
}

func (p *basisProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (p *basisProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, _ := p.Embed(ctx, text)
		out[i] = v
	}
	return out, nil
}

func (p *basisProvider) Dimensions() int { return 3 }

type fixedLoader struct {
	profiles []*corpus.DepartmentProfile
}

func (l *fixedLoader) LoadProfiles(_ context.Context) ([]*corpus.DepartmentProfile, error) {
	return l.profiles, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	corp, err := corpus.New(context.Background(), &fixedLoader{profiles: []*corpus.DepartmentProfile{
		{ID: "sales", Name: "Sales", Description: "pricing", RoutingEmail: "sales@example.com"},
	}})
	require.NoError(t, err)

	cache := embedding.NewCachingProvider(&basisProvider{vectors: map[string][]float32{
		"pricing":  {0, 1, 0},
		"how much": {0, 1, 0},
		"no idea":  {0, 0, 1},
	}}, embedding.CacheConfig{})

	eng := engine.New(
		corp,
		matcher.New(cache, nil),
		nil,
		delivery.NewClient(delivery.NoopDispatcher{}, delivery.Config{Attempts: 1, Backoff: time.Millisecond}),
		nil, nil, nil,
		engine.Config{},
	)
	cache.SetMetrics(eng.Metrics())

	return NewServer(&profile.Profile{Mode: "dev", Port: 0, Version: "test"}, eng, cache)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/chat", `{"message": "how much"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res engine.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.Reply)
}

func TestChatEndpointRejectsBadBody(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/chat", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepartmentsEndpointHidesRoutingEmails(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/departments", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"Sales"`)
	assert.NotContains(t, body, "sales@example.com")
}

func TestHistoryEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/chat", `{"message": "how much"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res engine.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = doJSON(t, s, http.MethodGet, "/api/history?session_id="+res.SessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "how much")

	rec = doJSON(t, s, http.MethodGet, "/api/history?session_id=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/chat", `{"message": "how much"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res engine.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = doJSON(t, s, http.MethodPost, "/api/reset", `{"session_id": "`+res.SessionID+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/reset", `{"session_id": "missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/reset", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"corpus_version":1`)
	assert.Contains(t, rec.Body.String(), `"embedding_cache"`)

	rec = doJSON(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deskrouter_engine")
}

func TestMetricsCountEmbeddingCacheTraffic(t *testing.T) {
	s := newTestServer(t)

	// First turn misses the cache; the repeat hits it.
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/chat", `{"message": "how much"}`).Code)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/chat", `{"message": "how much"}`).Code)

	body := doJSON(t, s, http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, body, `deskrouter_engine_cache_misses_total{cache_type="embedding"}`)
	assert.Contains(t, body, `deskrouter_engine_cache_hits_total{cache_type="embedding"}`)
	assert.Contains(t, body, "deskrouter_engine_embed_latency_seconds")
}
