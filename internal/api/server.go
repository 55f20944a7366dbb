// Package api serves the operator-facing REST surface: health, dashboard,
// alerts, audit events, and exports. The request pipeline itself is called
// in-process by the protected application, not over this API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/audit"
	"github.com/mariia-hub/apiguard/internal/core"
	"github.com/mariia-hub/apiguard/internal/engine"
)

// Server is the apiguard REST API server.
type Server struct {
	engine *engine.Engine
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates the API server around a running engine.
func NewServer(e *engine.Engine) *Server {
	s := &Server{
		engine: e,
		logger: e.Logger.With().Str("component", "api_server").Logger(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	v1.HandleFunc("/score", s.handleScore).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/clear", s.handleAlertsClear).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}", s.handlePatchAlert).Methods(http.MethodPatch)
	v1.HandleFunc("/alerts/{id}", s.handleDeleteAlert).Methods(http.MethodDelete)
	v1.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	v1.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	v1.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	v1.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/dead-letters", s.handleDeadLetters).Methods(http.MethodGet)
	v1.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)

	// Middleware chain: CORS -> security headers -> logging -> rate limit -> auth.
	handler := corsMiddleware(
		s.headersMiddleware(
			loggingMiddleware(
				s.rateLimitMiddleware(
					authMiddleware(r, e.Config, s.logger),
				),
				s.logger,
			),
		),
		e.Config.Server.CORSOrigins,
	)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", e.Config.Server.Host, e.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving the API.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	if s.engine.Config.AuthEnabled() {
		s.logger.Info().Int("keys", len(s.engine.Config.Server.APIKeys)).Msg("API authentication enabled")
	} else {
		s.logger.Warn().Msg("API authentication disabled, set api_keys in config or APIGUARD_API_KEY env var")
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	busConnected := false
	if s.engine.Bus != nil {
		busConnected = s.engine.Bus.IsConnected()
	}
	checks, blocked := s.engine.Limiter.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "running",
		"bus_connected":    busConnected,
		"signatures":       s.engine.Library.Size(),
		"active_sessions":  s.engine.Sessions.Count(),
		"alerts_total":     s.engine.Pipeline.Count(),
		"ratelimit_checks": checks,
		"ratelimit_blocks": blocked,
		"score":            s.engine.Monitor.SecurityScore(),
		"timestamp":        time.Now().UTC(),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.engine.WriteDashboard(w); err != nil {
		s.logger.Error().Err(err).Msg("writing dashboard")
	}
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"score":     s.engine.Monitor.SecurityScore(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	minSeverity := core.ParseSeverity(r.URL.Query().Get("min_severity"))

	alerts := s.engine.Pipeline.GetAlerts(minSeverity, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert := s.engine.Pipeline.GetAlertByID(mux.Vars(r)["id"])
	if alert == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handlePatchAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	status, ok := core.ParseAlertStatus(body.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid status, use OPEN, ACKNOWLEDGED, RESOLVED, or FALSE_POSITIVE",
		})
		return
	}
	id := mux.Vars(r)["id"]
	alert, found := s.engine.Pipeline.UpdateAlertStatus(id, status)
	if !found {
		if s.engine.Pipeline.GetAlertByID(id) != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "alert is resolved; resolution is terminal"})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.engine.Monitor.ResolveAlert(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "resolved",
		"id":     id,
		"score":  s.engine.Monitor.SecurityScore(),
	})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.engine.Pipeline.DeleteAlert(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleAlertsClear(w http.ResponseWriter, r *http.Request) {
	count := s.engine.Pipeline.ClearAlerts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "cleared",
		"cleared": count,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.engine.Audit.Recent(filterFromQuery(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	switch r.URL.Query().Get("format") {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		if err := s.engine.Audit.ExportJSON(w, f); err != nil {
			s.logger.Error().Err(err).Msg("exporting events as JSON")
		}
	case "table":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := s.engine.Audit.ExportTable(w, f); err != nil {
			s.logger.Error().Err(err).Msg("exporting events as table")
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid format, use json or table"})
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	// Redact API keys from the response.
	safeCfg := *s.engine.Config
	safeCfg.Server.APIKeys = nil
	writeJSON(w, http.StatusOK, safeCfg)
}

// handleLogs serves recent engine log lines from the in-memory ring buffer.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.engine.LogBuffer == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"logs": []core.LogEntry{}, "total": 0})
		return
	}
	entries := s.engine.LogBuffer.GetEntries(queryInt(r, "limit", 100))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  entries,
		"total": len(entries),
	})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.engine.Webhooks == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": []interface{}{}, "total": 0})
		return
	}
	dls := s.engine.Webhooks.GetDeadLetters(queryInt(r, "limit", 100))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dead_letters": dls,
		"total":        len(dls),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func filterFromQuery(r *http.Request) audit.Filter {
	f := audit.Filter{
		Actor:  r.URL.Query().Get("actor"),
		Result: r.URL.Query().Get("result"),
		Limit:  queryInt(r, "limit", 100),
	}
	if v := r.URL.Query().Get("min_severity"); v != "" {
		f.MinSeverity = core.ParseSeverity(v)
	}
	if v := r.URL.Query().Get("type"); v != "" {
		if et, ok := core.ParseEventType(v); ok {
			f.Type = &et
		}
	}
	return f
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// authMiddleware enforces API key authentication on all endpoints except
// /health. If no keys are configured, all requests are allowed.
func authMiddleware(next http.Handler, cfg *core.Config, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || !cfg.AuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "missing authentication, provide Authorization: Bearer <key> or X-API-Key header",
				})
				return
			}
			key = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if !cfg.ValidateAPIKey(key) {
			logger.Warn().Str("path", r.URL.Path).Str("ip", r.RemoteAddr).Msg("invalid API key")
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies the engine's own limiter to the operator API,
// one second windows keyed by client IP.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		ip := r.RemoteAddr
		if idx := strings.LastIndex(ip, ":"); idx != -1 {
			ip = ip[:idx]
		}
		res := s.engine.Limiter.CheckWith(ip, "_operator_api", time.Second, 100)
		if !res.Allowed {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded, try again shortly",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// headersMiddleware attaches the configured security response headers.
func (s *Server) headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.engine.Headers.Apply(w)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := "*"
		if len(allowedOrigins) > 0 {
			allowed = ""
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = origin
					break
				}
			}
			if allowed == "" {
				// Origin not in the allow list, skip CORS headers.
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if len(allowedOrigins) > 0 && allowedOrigins[0] != "*" {
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
