// Package api provides the operational HTTP server: health and readiness
// probes plus a small stats endpoint. User traffic never flows through HTTP;
// it arrives over the messaging transport.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/models"
	"github.com/wallet-gateway/internal/types"
)

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stats is the payload of the /stats endpoint.
type Stats struct {
	Registrations   int64     `json:"registrations"`
	PendingPayments int64     `json:"pendingPayments"`
	LastPoll        time.Time `json:"lastPoll,omitempty"`
}

// StatsProvider supplies the numbers behind /stats.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// JournalReader serves a sender's recent payment journal entries, newest
// first, for the /journal endpoint.
type JournalReader interface {
	RecentBySender(ctx context.Context, sender types.Identity, limit int) ([]models.JournalEntry, error)
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the operational HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	config     *ServerConfig
	stats      StatsProvider
	journal    JournalReader
	backends   map[string]Pinger
}

// NewServer creates a new ops server. backends maps a name to the connection
// checked by /ready.
func NewServer(config *ServerConfig, stats StatsProvider, journal JournalReader, backends map[string]Pinger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		config:   config,
		stats:    stats,
		journal:  journal,
		backends: backends,
	}

	s.router.Use(loggingMiddleware)
	s.router.Use(recoveryMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/journal/{sender}", s.handleJournal).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	logging.GetGlobalLogger().WithField("addr", s.httpServer.Addr).Info("starting ops HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router exposes the handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failures := make(map[string]string)
	for name, backend := range s.backends {
		if err := backend.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unavailable",
			"failures": failures,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("failed to collect stats")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to collect stats"})
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// defaultJournalLimit caps /journal responses unless a smaller limit is asked
// for with ?limit=N.
const defaultJournalLimit = 20

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	sender := types.Identity(mux.Vars(r)["sender"])

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > defaultJournalLimit {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.journal.RecentBySender(r.Context(), sender, limit)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("failed to read payment journal")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read payment journal"})
		return
	}
	if entries == nil {
		entries = []models.JournalEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.GetGlobalLogger().WithError(err).Error("failed to encode response")
	}
}
