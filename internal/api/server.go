// Package api exposes the firewall's operational surface over HTTP: status,
// per-attack statistics, health, Prometheus metrics, whitelist reload, and
// a minimal dashboard.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlwarden/sqlwarden/internal/bayes"
	"github.com/sqlwarden/sqlwarden/internal/health"
	"github.com/sqlwarden/sqlwarden/internal/metrics"
	"github.com/sqlwarden/sqlwarden/internal/proxy"
	"github.com/sqlwarden/sqlwarden/internal/whitelist"
)

// QueryStats supplies the analyzer's cumulative query counters.
type QueryStats interface {
	Stats() proxy.StatsSnapshot
}

// Server is the admin HTTP server.
type Server struct {
	metrics    *metrics.Collector
	healthCk   *health.Checker
	whitelists *whitelist.Whitelist
	evaluator  *bayes.Evaluator
	queries    QueryStats
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates the admin server. Any collaborator may be nil; the
// corresponding endpoint then reports it as absent.
func NewServer(m *metrics.Collector, hc *health.Checker, wl *whitelist.Whitelist, ev *bayes.Evaluator, qs QueryStats) *Server {
	return &Server{
		metrics:    m,
		healthCk:   hc,
		whitelists: wl,
		evaluator:  ev,
		queries:    qs,
		startTime:  time.Now(),
	}
}

// Start begins serving on the given port, bound to localhost.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/stats", s.statsHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/whitelist/reload", s.reloadHandler).Methods("POST")
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	// Dashboard last — it catches "/" and "/dashboard".
	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] admin API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	body := map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
	}
	if s.whitelists != nil {
		parseN, blockN := s.whitelists.Sizes()
		body["whitelists"] = map[string]int{
			"parse_fail_entries": parseN,
			"block_entries":      blockN,
		}
	}
	if s.evaluator != nil {
		stats := s.evaluator.Stats()
		caches := make(map[string]map[string]uint64, len(stats))
		for i, cs := range stats {
			caches[bayes.AttackType(i).String()] = map[string]uint64{
				"hits":   cs.Hits,
				"misses": cs.Misses,
			}
		}
		body["evidence_caches"] = caches
	}
	writeJSON(w, http.StatusOK, body)
}

// statsHandler reports the analyzer's cumulative counters: queries analyzed
// and blocked, broken down by statement type and attack type.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeError(w, http.StatusNotFound, "query statistics not available")
		return
	}
	writeJSON(w, http.StatusOK, s.queries.Stats())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCk == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	st := s.healthCk.GetState()
	code := http.StatusOK
	if !s.healthCk.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (s *Server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if s.whitelists == nil {
		writeError(w, http.StatusNotFound, "no whitelists configured")
		return
	}
	if err := s.whitelists.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	parseN, blockN := s.whitelists.Sizes()
	log.Printf("[api] whitelists reloaded (%d parse-fail, %d block entries)", parseN, blockN)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "reloaded",
		"parse_fail_entries": parseN,
		"block_entries":      blockN,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
