// Package httpapi is the thin JSON-over-HTTP boundary adapter described in
// SPEC_FULL.md §6: hand-built net/http handlers (no router framework,
// matching engine/adapters/telemetryhttp/handlers.go and
// cli/cmd/ariadne/main.go's http.ServeMux style), mapping schederr.Kind
// values to status codes. This is the ONLY layer that knows about HTTP
// status codes — every other package returns a *schederr.Error or a plain
// result value.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"pullsched/apimetrics"
	"pullsched/health"
	"pullsched/history"
	"pullsched/jobstore"
	"pullsched/schederr"
	"pullsched/scheduler"
	"pullsched/settings"
	"pullsched/telemetry/metrics"
)

// Server wires the scheduler, health sampler, history/settings stores and
// metrics provider into a net/http.ServeMux.
type Server struct {
	sched    *scheduler.Scheduler
	sampler  *health.Sampler
	hist     *history.Store
	settings *settings.Store
	apiWin   *apimetrics.Window
	eval     *health.Evaluator
	provider metrics.Provider

	mux *http.ServeMux
}

// New builds a Server and registers all routes. Any of hist, st, eval or
// provider may be nil to disable the corresponding endpoints (a provider of
// nil disables /metrics, matching engine.Engine's optional metrics wiring).
func New(sched *scheduler.Scheduler, sampler *health.Sampler, apiWin *apimetrics.Window, hist *history.Store, st *settings.Store, eval *health.Evaluator, provider metrics.Provider) *Server {
	s := &Server{sched: sched, sampler: sampler, hist: hist, settings: st, apiWin: apiWin, eval: eval, provider: provider, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the wired http.Handler, wrapped with the api-metrics
// request-recording middleware (SPEC_FULL.md §4.1).
func (s *Server) Handler() http.Handler {
	if s.apiWin == nil {
		return s.mux
	}
	return s.instrument(s.mux)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exit := s.apiWin.EnterRequest(r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		exit(r.Header.Get("X-Client-Id"), rec.status, float64(time.Since(start).Milliseconds()))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/scheduler/jobs", s.handleJobs)
	s.mux.HandleFunc("/scheduler/leases", s.handleLeasesList)
	s.mux.HandleFunc("/scheduler/leases/request", s.handleLeaseRequest)
	s.mux.HandleFunc("/scheduler/leases/", s.handleLeaseSubroutes)
	s.mux.HandleFunc("/scheduler/status", s.handleStatus)
	s.mux.HandleFunc("/scheduler/history/stats", s.handleHistoryStats)
	s.mux.HandleFunc("/scheduler/history/cleanup", s.handleHistoryCleanup)
	s.mux.HandleFunc("/system/stats/current", s.handleSystemStats)
	s.mux.HandleFunc("/system/health", s.handleReadiness)
	s.mux.HandleFunc("/system/settings", s.handleSettingsCollection)
	s.mux.HandleFunc("/system/settings/", s.handleSettingsKey)
	if s.provider != nil {
		if h, ok := s.provider.(interface{ MetricsHandler() http.Handler }); ok {
			s.mux.Handle("/metrics", h.MetricsHandler())
		}
	}
}

// errEnvelope is the error envelope from SPEC_FULL.md §6.
type errEnvelope struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeErr maps a schederr.Kind to an HTTP status per SPEC_FULL.md §6/§7.
func writeErr(w http.ResponseWriter, err error) {
	se, ok := err.(*schederr.Error)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errEnvelope{Detail: err.Error(), Code: "internal"})
		return
	}
	status := http.StatusInternalServerError
	switch se.Kind {
	case schederr.InvalidArguments:
		status = http.StatusBadRequest
	case schederr.IdempotencyConflict:
		status = http.StatusConflict
	case schederr.LeaseNotFound:
		status = http.StatusNotFound
	case schederr.WorkerMismatch:
		status = http.StatusForbidden
	case schederr.LeaseInactive:
		status = http.StatusConflict
	case schederr.NoCapacity, schederr.NoEligibleJobs:
		status = http.StatusOK // admission denials are structured 200s, never 4xx
	case schederr.StorageError:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errEnvelope{Detail: se.Message, Code: string(se.Kind)})
}

// decodeJSON decodes the request body into dst; on failure it writes a 400
// invalid_arguments envelope and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errEnvelope{Detail: err.Error(), Code: string(schederr.InvalidArguments)})
		return false
	}
	return true
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseDays(r *http.Request, def int) int {
	v := r.URL.Query().Get("days")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func jobStatePtr(v string) jobstore.State { return jobstore.State(v) }

func logDenied(path string, reason string) {
	log.Printf("debug: admission denied path=%s reason=%s", path, reason)
}
