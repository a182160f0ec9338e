// Package api exposes resolution and graph building over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/internal/completion"
	"github.com/sells-group/entity-graph/internal/model"
	"github.com/sells-group/entity-graph/internal/ratelimit"
)

const maxBodyBytes = 1 << 20

// Resolver resolves one candidate.
type Resolver interface {
	ResolveAll(ctx context.Context, c model.CandidateEntity) model.ResolvedEntity
}

// GraphBuilder assembles a graph from candidates and triples.
type GraphBuilder interface {
	Build(ctx context.Context, candidates []model.CandidateEntity, triples []model.RelationshipTriple) *model.Graph
	completion.Extender
}

// Config holds the server dependencies.
type Config struct {
	Resolver Resolver
	Builder  GraphBuilder
	// Proposer enables completion on /v1/graph. Nil disables it.
	Proposer completion.Proposer
	// Rounds is the default completion budget and the most a request may ask for.
	Rounds         int
	AllowedOrigins []string
	// Budgets reports rate-limiter state on /health. Optional.
	Budgets func() map[string]ratelimit.Budget
}

// Server serves the HTTP API.
type Server struct {
	cfg Config
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Rounds <= 0 {
		cfg.Rounds = completion.DefaultRounds
	}
	return &Server{cfg: cfg}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", s.handleResolve)
		r.Post("/graph", s.handleGraph)
	})
	return r
}

type healthResponse struct {
	Status    string                      `json:"status"`
	RateLimit map[string]ratelimit.Budget `json:"ratelimit,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.cfg.Budgets != nil {
		resp.RateLimit = s.cfg.Budgets()
	}
	writeJSON(w, http.StatusOK, resp)
}

type resolveRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	e := s.cfg.Resolver.ResolveAll(r.Context(), model.CandidateEntity{
		Name:       req.Name,
		Type:       req.Type,
		Provenance: model.ProvenanceExplicit,
	})
	writeJSON(w, http.StatusOK, e)
}

type graphRequest struct {
	Entities      []model.CandidateEntity    `json:"entities"`
	Relationships []model.RelationshipTriple `json:"relationships"`
	Complete      bool                       `json:"complete"`
	Rounds        int                        `json:"rounds"`
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	var req graphRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Entities) == 0 {
		writeError(w, http.StatusBadRequest, "entities are required")
		return
	}
	if req.Complete && s.cfg.Proposer == nil {
		writeError(w, http.StatusBadRequest, "completion is not configured")
		return
	}
	if req.Rounds < 0 {
		writeError(w, http.StatusBadRequest, "rounds must be >= 0")
		return
	}
	if req.Rounds > s.cfg.Rounds {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("rounds must be <= %d", s.cfg.Rounds))
		return
	}

	g := s.cfg.Builder.Build(r.Context(), req.Entities, req.Relationships)
	if req.Complete {
		rounds := req.Rounds
		if rounds == 0 {
			rounds = s.cfg.Rounds
		}
		g = completion.NewLoop(s.cfg.Builder, s.cfg.Proposer, rounds).Run(r.Context(), g).Graph
	}
	writeJSON(w, http.StatusOK, g)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
