package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/mplp-conform/pkg/conform"
	"github.com/Mindburn-Labs/mplp-conform/pkg/flow"
	"github.com/Mindburn-Labs/mplp-conform/pkg/pack"
	"github.com/Mindburn-Labs/mplp-conform/pkg/ruleset"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
	"github.com/Mindburn-Labs/mplp-conform/pkg/store"
	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

// MaxPackBytes bounds the evaluate request body.
const MaxPackBytes = 32 << 20

// CacheHeader reports whether a verdict came from the store.
const CacheHeader = "X-Verdict-Cache"

// EvaluateRequest is the body of POST /v1/evaluate. Files maps pack-relative
// paths to document text and must include manifest.json unless PackID is set,
// in which case the server seals the files itself.
type EvaluateRequest struct {
	Ruleset   string            `json:"ruleset"`
	Scenarios []string          `json:"scenarios,omitempty"`
	PackID    string            `json:"pack_id,omitempty"`
	Files     map[string]string `json:"files"`
}

// RulesetInfo describes one registered ruleset.
type RulesetInfo struct {
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Digest      string   `json:"digest"`
	Scenarios   []string `json:"scenarios"`
}

// ScenarioInfo summarizes one Golden Flow.
type ScenarioInfo struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	KeyModules []schema.Kind `json:"key_modules"`
	Steps      []string      `json:"steps"`
}

// Server serves evaluations. Verdicts are cached in the store when the
// scenario set comes from the pack itself.
type Server struct {
	engine  *conform.Engine
	store   store.VerdictStore
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewServer wires an engine and verdict store. limiter may be nil.
func NewServer(engine *conform.Engine, s store.VerdictStore, limiter *RateLimiter) *Server {
	if s == nil {
		s = store.NewMemoryStore()
	}
	return &Server{
		engine:  engine,
		store:   s,
		limiter: limiter,
		logger:  slog.Default().With("component", "api"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)
		r.Get("/rulesets", s.handleRulesets)
		r.Get("/rulesets/{version}/scenarios", s.handleScenarios)
		r.Get("/verdicts/{version}/{digest}", s.handleVerdict)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxPackBytes)
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if len(req.Files) == 0 {
		WriteBadRequest(w, r, "Missing required field: files")
		return
	}
	if req.Ruleset == "" {
		req.Ruleset = ruleset.Latest
	}

	files := make(map[string][]byte, len(req.Files))
	for name, body := range req.Files {
		files[name] = []byte(body)
	}
	var p *pack.Pack
	if req.PackID != "" {
		p = pack.Seal(req.PackID, nil, files)
	} else {
		p = pack.FromFiles(files)
	}

	v, hit, err := s.evaluate(r.Context(), p, req)
	if err != nil {
		s.writeEvalError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "verdict issued",
		"request_id", RequestID(r.Context()),
		"pack_id", v.PackID,
		"verdict_id", v.VerdictID,
		"cache_hit", hit,
	)
	if hit {
		w.Header().Set(CacheHeader, "hit")
	} else {
		w.Header().Set(CacheHeader, "miss")
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) evaluate(ctx context.Context, p *pack.Pack, req EvaluateRequest) (*verdict.Verdict, bool, error) {
	if len(req.Scenarios) > 0 {
		v, err := s.engine.Evaluate(ctx, p, req.Ruleset, &conform.EvaluateOptions{Scenarios: req.Scenarios})
		return v, false, err
	}

	rs, err := s.engine.Catalog().Get(req.Ruleset)
	if err != nil {
		return nil, false, err
	}
	if err := p.Verify(); err != nil {
		return nil, false, err
	}
	digest, err := p.Digest()
	if err != nil {
		return nil, false, err
	}
	key := store.Key{PackDigest: digest, RulesetVersion: rs.Version.String()}
	return store.GetOrCompute(ctx, s.store, key, func(ctx context.Context) (*verdict.Verdict, error) {
		return s.engine.Evaluate(ctx, p, key.RulesetVersion, nil)
	})
}

func (s *Server) writeEvalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ruleset.ErrUnknownVersion):
		WriteNotFound(w, r, err.Error())
	case errors.Is(err, flow.ErrUnknownScenario):
		WriteBadRequest(w, r, err.Error())
	case conform.IsFatal(err):
		WriteError(w, r, http.StatusUnprocessableEntity, "Unprocessable Evidence Pack", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		WriteError(w, r, http.StatusServiceUnavailable, "Evaluation Cancelled", err.Error())
	default:
		WriteInternal(w, r, err)
	}
}

func (s *Server) handleRulesets(w http.ResponseWriter, _ *http.Request) {
	catalog := s.engine.Catalog()
	out := make([]RulesetInfo, 0)
	for _, version := range catalog.Versions() {
		rs, err := catalog.Get(version)
		if err != nil {
			continue
		}
		out = append(out, RulesetInfo{
			Version:     rs.Version.String(),
			Description: rs.Description,
			Digest:      rs.Digest,
			Scenarios:   rs.Scenarios.IDs(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rulesets": out})
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	rs, err := s.engine.Catalog().Get(chi.URLParam(r, "version"))
	if err != nil {
		WriteNotFound(w, r, err.Error())
		return
	}
	out := make([]ScenarioInfo, 0)
	for _, sc := range rs.Scenarios.All() {
		info := ScenarioInfo{ID: sc.ID, Title: sc.Title, KeyModules: sc.KeyModules, Steps: make([]string, 0, len(sc.Steps))}
		for _, st := range sc.Steps {
			info.Steps = append(info.Steps, st.Name)
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": rs.Version.String(), "scenarios": out})
}

func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	key := store.Key{PackDigest: chi.URLParam(r, "digest"), RulesetVersion: chi.URLParam(r, "version")}
	v, err := s.store.Get(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, r, "no verdict cached for "+key.String())
		return
	}
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
