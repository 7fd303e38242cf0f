package httpapi

import (
	"net/http"

	"pullsched/jobstore"
	"pullsched/schederr"
)

// submitRequest is the wire shape for POST /scheduler/jobs.
type submitRequest struct {
	AddonID        string            `json:"addon_id"`
	JobType        string            `json:"job_type"`
	Priority       jobstore.Priority `json:"priority"`
	RequestedUnits int               `json:"requested_units"`
	Unique         bool              `json:"unique"`
	Payload        interface{}       `json:"payload"`
	IdempotencyKey string            `json:"idempotency_key"`
	Tags           []string          `json:"tags"`
	MaxRuntimeS    int               `json:"max_runtime_s"`
}

type submitResponse struct {
	JobID string        `json:"job_id"`
	State jobstore.State `json:"state"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submit(w, r)
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	jobID, state, err := s.sched.Submit(req.AddonID, req.JobType, req.Priority, req.RequestedUnits, req.Unique, req.Payload, req.IdempotencyKey, req.Tags, req.MaxRuntimeS)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{JobID: jobID, State: state})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	state := jobStatePtr(r.URL.Query().Get("state"))
	jobs := s.sched.Jobs(limit, state)
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// leaseRequestBody is the wire shape for POST /scheduler/leases/request.
type leaseRequestBody struct {
	WorkerID string `json:"worker_id"`
	MaxUnits int    `json:"max_units"`
}

type leaseGrantedResponse struct {
	Denied bool            `json:"denied"`
	Lease  jobstore.Lease  `json:"lease"`
	Job    jobstore.Job    `json:"job"`
}

type leaseDeniedResponse struct {
	Denied       bool   `json:"denied"`
	Reason       string `json:"reason"`
	RetryAfterMS int64  `json:"retry_after_ms"`
}

func (s *Server) handleLeaseRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req leaseRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	grant, denial, err := s.sched.LeaseRequest(req.WorkerID, req.MaxUnits)
	if err != nil {
		writeErr(w, err)
		return
	}
	if denial != nil {
		logDenied("/scheduler/leases/request", denial.Reason)
		writeJSON(w, http.StatusOK, leaseDeniedResponse{Denied: true, Reason: denial.Reason, RetryAfterMS: denial.RetryAfterMS})
		return
	}
	writeJSON(w, http.StatusOK, leaseGrantedResponse{Denied: false, Lease: grant.Lease, Job: grant.Job})
}

func (s *Server) handleLeasesList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leases": s.sched.Leases()})
}

// handleLeaseSubroutes dispatches POST /scheduler/leases/{lease_id}/heartbeat
// and POST /scheduler/leases/{lease_id}/complete, the only two routes under
// the /scheduler/leases/ prefix besides the literal /request and list
// handlers registered separately.
func (s *Server) handleLeaseSubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	leaseID, action, ok := splitLeasePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "heartbeat":
		s.heartbeat(w, r, leaseID)
	case "complete":
		s.complete(w, r, leaseID)
	default:
		http.NotFound(w, r)
	}
}

// splitLeasePath extracts {lease_id} and {action} from
// "/scheduler/leases/{lease_id}/{action}".
func splitLeasePath(path string) (leaseID, action string, ok bool) {
	const prefix = "/scheduler/leases/"
	if len(path) <= len(prefix) {
		return "", "", false
	}
	rest := path[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], rest[:i] != "" && rest[i+1:] != ""
		}
	}
	return "", "", false
}

type heartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

type heartbeatResponse struct {
	OK        bool `json:"ok"`
	ExpiresAt string `json:"expires_at"`
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, leaseID string) {
	var req heartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expiresAt, err := s.sched.Heartbeat(leaseID, req.WorkerID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{OK: true, ExpiresAt: expiresAt.Format(rfc3339)})
}

type completeRequest struct {
	WorkerID string         `json:"worker_id"`
	Status   jobstore.State `json:"status"`
	Result   interface{}    `json:"result"`
	Error    string         `json:"error"`
}

type completeResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request, leaseID string) {
	var req completeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.sched.Complete(leaseID, req.WorkerID, req.Status, req.Result, req.Error); err != nil {
		if schederr.Is(err, schederr.WorkerMismatch) {
			writeErr(w, err)
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{OK: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.hist == nil {
		writeJSON(w, http.StatusServiceUnavailable, errEnvelope{Detail: "history store not configured", Code: string(schederr.StorageError)})
		return
	}
	days := parseDays(r, 30)
	stats, err := s.hist.Stats(days)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errEnvelope{Detail: err.Error(), Code: string(schederr.StorageError)})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHistoryCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.hist == nil {
		writeJSON(w, http.StatusServiceUnavailable, errEnvelope{Detail: "history store not configured", Code: string(schederr.StorageError)})
		return
	}
	days := parseDays(r, 30)
	removed, err := s.hist.PruneHistory(days)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errEnvelope{Detail: err.Error(), Code: string(schederr.StorageError)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed, "days": days})
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.sampler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errEnvelope{Detail: "sampler not configured", Code: string(schederr.StorageError)})
		return
	}
	// Never computes on the request path: always the cached last snapshot.
	writeJSON(w, http.StatusOK, s.sampler.Latest())
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

// handleReadiness exposes the cached Evaluator rollup (storage-error
// degradation, etc.) per SPEC_FULL.md §4.8 — distinct from the numeric
// busy-rating probe at /system/stats/current.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.eval == nil {
		writeJSON(w, http.StatusOK, map[string]string{"overall": "unknown"})
		return
	}
	snap := s.eval.Evaluate(r.Context())
	status := http.StatusOK
	if snap.Overall != "healthy" && snap.Overall != "degraded" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}
