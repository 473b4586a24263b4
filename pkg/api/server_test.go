package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mplp-conform/pkg/api"
	"github.com/Mindburn-Labs/mplp-conform/pkg/conform"
	"github.com/Mindburn-Labs/mplp-conform/pkg/ruleset"
	"github.com/Mindburn-Labs/mplp-conform/pkg/store"
	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

func packFiles(t *testing.T, name string) map[string]string {
	t.Helper()
	dir := filepath.Join("..", "conform", "testdata", "packs", name)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		files[e.Name()] = string(b)
	}
	return files
}

func newServer(t *testing.T, limiter *api.RateLimiter) (*api.Server, store.VerdictStore) {
	t.Helper()
	cat, err := ruleset.Builtin()
	require.NoError(t, err)
	s := store.NewMemoryStore()
	return api.NewServer(conform.NewEngine(cat), s, limiter), s
}

func post(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewReader(b))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, nil)
	w := get(srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(api.RequestIDHeader))
}

func TestEvaluateCachesVerdict(t *testing.T) {
	srv, _ := newServer(t, nil)
	h := srv.Handler()
	req := api.EvaluateRequest{Ruleset: "1.0.0", Files: packFiles(t, "gf01-positive")}

	w := post(t, h, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "miss", w.Header().Get(api.CacheHeader))
	var first verdict.Verdict
	require.NoError(t, json.NewDecoder(w.Body).Decode(&first))
	assert.True(t, first.Conformant())
	assert.NoError(t, verdict.Verify(&first))

	w = post(t, h, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hit", w.Header().Get(api.CacheHeader))
	var second verdict.Verdict
	require.NoError(t, json.NewDecoder(w.Body).Decode(&second))
	assert.Equal(t, first.VerdictHash, second.VerdictHash)

	w = get(h, "/v1/verdicts/1.0.0/"+first.PackDigest)
	require.Equal(t, http.StatusOK, w.Code)
	var stored verdict.Verdict
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stored))
	assert.Equal(t, first.VerdictID, stored.VerdictID)
}

func TestEvaluateScenarioOverrideBypassesCache(t *testing.T) {
	srv, s := newServer(t, nil)
	req := api.EvaluateRequest{Ruleset: "1.0.0", Scenarios: []string{"flow-01"}, Files: packFiles(t, "gf01-positive")}

	w := post(t, srv.Handler(), req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "miss", w.Header().Get(api.CacheHeader))

	var v verdict.Verdict
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	_, err := s.Get(context.Background(), store.KeyOf(&v))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvaluateSealsUnmanifestedFiles(t *testing.T) {
	srv, _ := newServer(t, nil)
	files := packFiles(t, "gf01-positive")
	delete(files, "manifest.json")

	w := post(t, srv.Handler(), api.EvaluateRequest{PackID: "inline", Files: files})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v verdict.Verdict
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	assert.Equal(t, "inline", v.PackID)
	assert.True(t, v.SchemaConformant)
}

func TestEvaluatePackIDReplacesClientManifest(t *testing.T) {
	srv, _ := newServer(t, nil)
	files := packFiles(t, "gf01-positive")
	require.Contains(t, files, "manifest.json")

	w := post(t, srv.Handler(), api.EvaluateRequest{PackID: "inline", Files: files})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v verdict.Verdict
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	assert.Equal(t, "inline", v.PackID)
	assert.True(t, v.SchemaConformant)
}

func TestEvaluateErrors(t *testing.T) {
	srv, _ := newServer(t, nil)
	h := srv.Handler()

	tampered := packFiles(t, "gf01-positive")
	tampered["plan.json"] += " "

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"integrity", api.EvaluateRequest{Ruleset: "1.0.0", Files: tampered}, http.StatusUnprocessableEntity},
		{"terminal artifact", api.EvaluateRequest{Ruleset: "1.0.0", Files: packFiles(t, "immutable")}, http.StatusUnprocessableEntity},
		{"unknown ruleset", api.EvaluateRequest{Ruleset: "9.9.9", Files: packFiles(t, "gf01-positive")}, http.StatusNotFound},
		{"unknown scenario", api.EvaluateRequest{Ruleset: "1.0.0", Scenarios: []string{"flow-99"}, Files: packFiles(t, "gf01-positive")}, http.StatusBadRequest},
		{"no files", api.EvaluateRequest{Ruleset: "1.0.0"}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, h, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			p := decodeProblem(t, w)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "/v1/evaluate", p.Instance)
			assert.Equal(t, w.Header().Get(api.RequestIDHeader), p.TraceID)
		})
	}
}

func TestRulesetsAndScenarios(t *testing.T) {
	srv, _ := newServer(t, nil)
	h := srv.Handler()

	w := get(h, "/v1/rulesets")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rulesets []api.RulesetInfo `json:"rulesets"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.NotEmpty(t, list.Rulesets)
	assert.Equal(t, "1.0.0", list.Rulesets[0].Version)
	assert.Contains(t, list.Rulesets[0].Scenarios, "flow-01")

	w = get(h, "/v1/rulesets/1.0.0/scenarios")
	require.Equal(t, http.StatusOK, w.Code)
	var scenarios struct {
		Version   string             `json:"version"`
		Scenarios []api.ScenarioInfo `json:"scenarios"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&scenarios))
	assert.Equal(t, "1.0.0", scenarios.Version)
	require.NotEmpty(t, scenarios.Scenarios)
	assert.Equal(t, "flow-01", scenarios.Scenarios[0].ID)
	assert.NotEmpty(t, scenarios.Scenarios[0].Steps)

	w = get(h, "/v1/rulesets/9.9.9/scenarios")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerdictNotFound(t *testing.T) {
	srv, _ := newServer(t, nil)
	w := get(srv.Handler(), "/v1/verdicts/1.0.0/deadbeef")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeProblem(t, w).Detail, "1.0.0/deadbeef")
}

func TestRequestIDIsReused(t *testing.T) {
	srv, _ := newServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(api.RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(api.RequestIDHeader))
}

func TestRateLimit(t *testing.T) {
	srv, _ := newServer(t, api.NewRateLimiter(0.001, 1))
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, get(h, "/health").Code)
	w := get(h, "/health")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newServer(t, nil)
	w := get(srv.Handler(), "/v2/nothing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "/v2/nothing", decodeProblem(t, w).Instance)
}
