// Package scheduler implements the capacity-aware pull scheduler: Submit,
// LeaseRequest, Heartbeat and Complete, all serialized by a single coarse
// mutex, plus the background expiry reaper. No I/O happens while the mutex
// is held; durable writes are hand off to a non-blocking sink.
package scheduler

import (
	"time"

	"pullsched/jobstore"
)

// Grant is the successful result of a LeaseRequest.
type Grant struct {
	Lease jobstore.Lease `json:"lease"`
	Job   jobstore.Job   `json:"job"`
}

// Denial is the unsuccessful result of a LeaseRequest.
type Denial struct {
	Reason       string `json:"reason"`
	RetryAfterMS int64  `json:"retry_after_ms"`
}

// Status is the snapshot returned by GET /scheduler/status.
type Status struct {
	BusyRating             int                      `json:"busy_rating"`
	TotalCapacityUnits     int                      `json:"total_capacity_units"`
	UsableCapacityUnits    int                      `json:"usable_capacity_units"`
	LeasedCapacityUnits    int                      `json:"leased_capacity_units"`
	AvailableCapacityUnits int                      `json:"available_capacity_units"`
	QueueDepths            map[jobstore.Priority]int `json:"queue_depths"`
	ActiveLeaseCount       int                      `json:"active_leases"`
}

// JobHistoryRow is the denormalized terminal-job record handed to the
// history sink.
type JobHistoryRow struct {
	JobID          string            `json:"job_id"`
	AddonID        string            `json:"addon_id"`
	Type           string            `json:"type"`
	Priority       jobstore.Priority `json:"priority"`
	RequestedUnits int               `json:"requested_units"`
	State          jobstore.State    `json:"state"`
	CreatedAt      time.Time         `json:"created_at"`
	LeasedAt       time.Time         `json:"leased_at,omitempty"`
	StartedAt      time.Time         `json:"started_at,omitempty"`
	FinishedAt     time.Time         `json:"finished_at"`
	QueueWaitS     float64           `json:"queue_wait_s"`
	RuntimeS       float64           `json:"runtime_s"`
	Error          string            `json:"error,omitempty"`
	Result         interface{}       `json:"result,omitempty"`
}

// JobEventRow is one audit-log row handed to the history sink.
type JobEventRow struct {
	Time       time.Time              `json:"time"`
	EntityKind string                 `json:"entity_kind"`
	EntityID   string                 `json:"entity_id"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// HistorySink receives durable records from inside the scheduler's critical
// section. Implementations (history.Store) must not block: they enqueue
// onto an internal buffered channel drained by their own writer goroutine.
type HistorySink interface {
	EnqueueJobHistory(row JobHistoryRow)
	EnqueueJobEvent(ev JobEventRow)
}

// BusyProvider returns the current busy rating (0-10, pre-clamp) — normally
// health.Sampler.Latest().BusyRating.
type BusyProvider func() float64
