// Package http exposes the service's REST and websocket surface.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/cache"
	"github.com/dealradar/dealradar/internal/explain"
	"github.com/dealradar/dealradar/internal/intent"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/planner"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
	"github.com/dealradar/dealradar/internal/ws"
)

const (
	requestTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server is the HTTP front of the service.
type Server struct {
	router  *mux.Router
	handler http.Handler
	http    *http.Server
	store   *persistence.Store
	cache   cache.Cache
	planner *planner.Planner
	parser  *intent.Parser
	engine  *explain.Engine
	policy  *explain.PolicyAnswerer
	hub     *ws.Hub
	bus     stream.Bus
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// Deps carries everything the server routes to.
type Deps struct {
	Store   *persistence.Store
	Cache   cache.Cache
	Planner *planner.Planner
	Parser  *intent.Parser
	Engine  *explain.Engine
	Policy  *explain.PolicyAnswerer
	Hub     *ws.Hub
	Bus     stream.Bus
	Log     zerolog.Logger
	Metrics *telemetry.Metrics
}

// NewServer builds the router and binds it to addr.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		store:   deps.Store,
		cache:   deps.Cache,
		planner: deps.Planner,
		parser:  deps.Parser,
		engine:  deps.Engine,
		policy:  deps.Policy,
		hub:     deps.Hub,
		bus:     deps.Bus,
		log:     deps.Log.With().Str("component", "http").Logger(),
		metrics: deps.Metrics,
	}
	s.routes()
	// CORS wraps the router itself so preflight requests are answered even
	// when no route matches the OPTIONS method.
	s.handler = corsMiddleware(s.router)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  requestTimeout,
		WriteTimeout: 2 * requestTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware, s.loggingMiddleware, jsonMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/deals", s.handleDealSearch).Methods(http.MethodGet)
	s.router.HandleFunc("/deals/{id}", s.handleDealGet).Methods(http.MethodGet)
	s.router.HandleFunc("/deals/{id}/explain", s.handleDealExplain).Methods(http.MethodGet, http.MethodPost)

	s.router.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	s.router.HandleFunc("/trip/plan", s.handleTripPlan).Methods(http.MethodPost)
	s.router.HandleFunc("/policy", s.handlePolicy).Methods(http.MethodPost)

	s.router.HandleFunc("/watch/create", s.handleWatchCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/watch/list", s.handleWatchList).Methods(http.MethodGet)
	s.router.HandleFunc("/watch/{id}", s.handleWatchDelete).Methods(http.MethodDelete)

	s.router.HandleFunc("/preferences/{user}", s.handlePreferencesGet).Methods(http.MethodGet)
	s.router.HandleFunc("/preferences/{user}", s.handlePreferencesPut).Methods(http.MethodPost)

	s.router.HandleFunc("/ws/events", s.handleWebSocket).Methods(http.MethodGet)
}

// Router exposes the full handler chain for tests.
func (s *Server) Router() http.Handler { return s.handler }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.bus.Health()
	status := http.StatusOK
	state := "ok"
	if !health.Healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	respondJSON(w, status, map[string]any{
		"status":   state,
		"bus":      health,
		"sessions": s.hub.SessionCount(),
		"time":     time.Now().UTC(),
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
