// Package jobstore holds the scheduler's in-memory Job and Lease tables: the
// priority queues, the idempotency index, the lease table and the
// worker-to-lease index. It performs no locking of its own — the scheduler
// wraps every mutating call in its single coarse mutual-exclusion region
// (see package scheduler) and jobstore must never perform I/O.
package jobstore

import "time"

// Priority is a job's dispatch class. Order is fixed: high, normal, low,
// background.
type Priority string

const (
	High       Priority = "high"
	Normal     Priority = "normal"
	Low        Priority = "low"
	Background Priority = "background"
)

// Levels is the fixed scan order used by LeaseRequest.
var Levels = []Priority{High, Normal, Low, Background}

// IsValidPriority reports whether p is one of the four recognized classes.
func IsValidPriority(p Priority) bool {
	switch p {
	case High, Normal, Low, Background:
		return true
	default:
		return false
	}
}

// State is a Job's lifecycle state.
type State string

const (
	Queued    State = "queued"
	Leased    State = "leased"
	Running   State = "running"
	Completed State = "completed"
	Failed    State = "failed"
	Expired   State = "expired"
)

// IsTerminal reports whether s is one of the three terminal states.
func IsTerminal(s State) bool {
	return s == Completed || s == Failed || s == Expired
}

// Job is a unit of intended work.
type Job struct {
	JobID          string      `json:"job_id"`
	AddonID        string      `json:"addon_id"`
	Type           string      `json:"type"`
	Priority       Priority    `json:"priority"`
	RequestedUnits int         `json:"requested_units"`
	Unique         bool        `json:"unique"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"` // empty means unset
	State          State       `json:"state"`
	Payload        interface{} `json:"payload,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	MaxRuntimeS    int         `json:"max_runtime_s,omitempty"` // 0 means unset
	LeaseID        string      `json:"lease_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	LeasedAt       time.Time   `json:"leased_at,omitempty"` // zero until first granted
	StartedAt      time.Time   `json:"started_at,omitempty"` // zero until first heartbeat promotes to running
	Result         interface{} `json:"result,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Lease is a time-bounded permission to execute exactly one job.
type Lease struct {
	LeaseID       string    `json:"lease_id"`
	JobID         string    `json:"job_id"`
	WorkerID      string    `json:"worker_id"`
	CapacityUnits int       `json:"capacity_units"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
