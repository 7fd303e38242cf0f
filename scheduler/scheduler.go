package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"pullsched/capacity"
	"pullsched/clock"
	"pullsched/ids"
	"pullsched/jobstore"
	"pullsched/schederr"
	"pullsched/telemetry/events"
)

// Config is the subset of settings the scheduler needs at construction.
type Config struct {
	TotalCapacityUnits    int
	ReserveUnits          int
	LeaseTTL              time.Duration
	HeartbeatGrace        time.Duration
	RetryAfterBase        time.Duration
	EvictionWindow        time.Duration
	EvictionCap           int
}

// Scheduler mediates Submit/LeaseRequest/Heartbeat/Complete under a single
// coarse mutex, per SPEC_FULL.md §4.3.
type Scheduler struct {
	mu sync.Mutex

	clk   clock.Clock
	cfg   Config
	store *jobstore.Store
	busy  BusyProvider
	bus   events.Bus
	hist  HistorySink
	rng   *rand.Rand
}

// New constructs a Scheduler. busy and hist may be stubs in tests that don't
// exercise admission pressure or durability.
func New(clk clock.Clock, cfg Config, busy BusyProvider, bus events.Bus, hist HistorySink) *Scheduler {
	return &Scheduler{
		clk:   clk,
		cfg:   cfg,
		store: jobstore.New(cfg.EvictionWindow, cfg.EvictionCap),
		busy:  busy,
		bus:   bus,
		hist:  hist,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Scheduler) publish(ev events.Event) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ev)
}

// Submit admits a new job or returns the existing job for a live
// idempotency-key collision.
func (s *Scheduler) Submit(addonID, jobType string, priority jobstore.Priority, requestedUnits int, unique bool, payload interface{}, idempotencyKey string, tags []string, maxRuntimeS int) (string, jobstore.State, error) {
	if requestedUnits < 1 || requestedUnits > 100 {
		return "", "", schederr.New(schederr.InvalidArguments, "requested_units must be in [1,100], got %d", requestedUnits)
	}
	if !jobstore.IsValidPriority(priority) {
		return "", "", schederr.New(schederr.InvalidArguments, "invalid priority %q", priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if existing := s.store.JobByIdempotencyKey(idempotencyKey); existing != nil {
			return existing.JobID, existing.State, nil
		}
	}

	now := s.clk.Now()
	job := &jobstore.Job{
		JobID:          ids.New(),
		AddonID:        addonID,
		Type:           jobType,
		Priority:       priority,
		RequestedUnits: requestedUnits,
		Unique:         unique,
		IdempotencyKey: idempotencyKey,
		State:          jobstore.Queued,
		Payload:        payload,
		Tags:           tags,
		MaxRuntimeS:    maxRuntimeS,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.store.Insert(job)

	s.publish(events.Event{
		Category: events.CategoryJob,
		Type:     events.TypeJobSubmitted,
		Fields:   map[string]interface{}{"job_id": job.JobID, "addon_id": addonID, "priority": string(priority)},
	})

	return job.JobID, job.State, nil
}

// LeaseRequest is the pull primitive: a worker asks for one job's worth of
// work under the current capacity budget.
func (s *Scheduler) LeaseRequest(workerID string, maxUnits int) (*Grant, *Denial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawBusy := 0.0
	if s.busy != nil {
		rawBusy = s.busy()
	}
	busy := capacity.Clamp(rawBusy)
	usable := capacity.Usable(busy, s.cfg.TotalCapacityUnits, s.cfg.ReserveUnits)
	leased := s.store.ActiveLeaseUnits()
	available := usable - leased

	if available <= 0 {
		return nil, &Denial{
			Reason:       "no_capacity",
			RetryAfterMS: capacity.RetryAfter(busy, s.cfg.RetryAfterBase, s.rng).Milliseconds(),
		}, nil
	}

	effectiveMax := available
	if maxUnits > 0 && maxUnits < effectiveMax {
		effectiveMax = maxUnits
	}

	now := s.clk.Now()
	for _, p := range jobstore.Levels {
		for _, jobID := range s.store.CandidatesSnapshot(p) {
			job := s.store.JobByID(jobID)
			if job == nil || job.State != jobstore.Queued {
				continue
			}
			if job.RequestedUnits > effectiveMax {
				continue // skipped candidate stays at its queue position
			}
			if job.Unique && s.store.WorkerHoldsAnyLease(workerID) {
				continue
			}

			s.store.Dequeue(jobID)
			lease := &jobstore.Lease{
				LeaseID:       ids.New(),
				JobID:         jobID,
				WorkerID:      workerID,
				CapacityUnits: job.RequestedUnits,
				IssuedAt:      now,
				ExpiresAt:     now.Add(s.cfg.LeaseTTL + s.cfg.HeartbeatGrace),
				LastHeartbeat: now,
			}
			s.store.PutLease(lease)

			job.State = jobstore.Leased
			job.LeaseID = lease.LeaseID
			job.LeasedAt = now
			job.UpdatedAt = now

			s.publish(events.Event{
				Category: events.CategoryLease,
				Type:     events.TypeLeaseGranted,
				Fields:   map[string]interface{}{"job_id": job.JobID, "lease_id": lease.LeaseID, "worker_id": workerID},
			})

			return &Grant{Lease: *lease, Job: *job}, nil, nil
		}
	}

	return nil, &Denial{
		Reason:       "no_eligible_jobs",
		RetryAfterMS: capacity.RetryAfter(busy, s.cfg.RetryAfterBase, s.rng).Milliseconds() / 4,
	}, nil
}

// Heartbeat extends a lease and, on the first successful heartbeat,
// promotes the job from leased to running.
func (s *Scheduler) Heartbeat(leaseID, workerID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease := s.store.LeaseByID(leaseID)
	if lease == nil {
		return time.Time{}, schederr.New(schederr.LeaseNotFound, "lease %s not found", leaseID)
	}
	if lease.WorkerID != workerID {
		return time.Time{}, schederr.New(schederr.WorkerMismatch, "lease %s belongs to a different worker", leaseID)
	}
	job := s.store.JobByID(lease.JobID)
	if job == nil || (job.State != jobstore.Leased && job.State != jobstore.Running) {
		return time.Time{}, schederr.New(schederr.LeaseInactive, "lease %s is no longer active", leaseID)
	}

	now := s.clk.Now()
	lease.LastHeartbeat = now
	lease.ExpiresAt = now.Add(s.cfg.LeaseTTL + s.cfg.HeartbeatGrace)

	if job.State == jobstore.Leased {
		job.State = jobstore.Running
		job.StartedAt = now
		job.UpdatedAt = now
	}

	return lease.ExpiresAt, nil
}

// Complete finalizes a job. Unknown leases are treated as an idempotent
// late reconfirmation and return nil.
func (s *Scheduler) Complete(leaseID, workerID string, status jobstore.State, result interface{}, errStr string) error {
	if status != jobstore.Completed && status != jobstore.Failed {
		return schederr.New(schederr.InvalidArguments, "status must be completed or failed, got %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lease := s.store.LeaseByID(leaseID)
	if lease == nil {
		return nil
	}
	if lease.WorkerID != workerID {
		return schederr.New(schederr.WorkerMismatch, "lease %s belongs to a different worker", leaseID)
	}

	now := s.clk.Now()
	job := s.store.JobByID(lease.JobID)
	s.store.RemoveLease(leaseID)

	if job != nil {
		job.State = status
		job.Result = result
		job.Error = errStr
		job.LeaseID = ""
		job.UpdatedAt = now
		s.store.FinalizeTerminal(job, now)
		s.enqueueHistory(*job, now)
	}

	s.publish(events.Event{
		Category: events.CategoryLease,
		Type:     events.TypeLeaseReleased,
		Fields:   map[string]interface{}{"lease_id": leaseID, "worker_id": workerID, "status": string(status)},
	})

	return nil
}

func (s *Scheduler) enqueueHistory(job jobstore.Job, finishedAt time.Time) {
	if s.hist == nil {
		return
	}
	row := JobHistoryRow{
		JobID:          job.JobID,
		AddonID:        job.AddonID,
		Type:           job.Type,
		Priority:       job.Priority,
		RequestedUnits: job.RequestedUnits,
		State:          job.State,
		CreatedAt:      job.CreatedAt,
		LeasedAt:       job.LeasedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     finishedAt,
		Error:          job.Error,
		Result:         job.Result,
	}
	if !job.LeasedAt.IsZero() {
		row.QueueWaitS = job.LeasedAt.Sub(job.CreatedAt).Seconds()
	}
	if !job.LeasedAt.IsZero() {
		row.RuntimeS = finishedAt.Sub(job.LeasedAt).Seconds()
	}
	s.hist.EnqueueJobHistory(row)
	s.hist.EnqueueJobEvent(JobEventRow{
		Time:       finishedAt,
		EntityKind: "job",
		EntityID:   job.JobID,
		Type:       string(job.State),
		Data:       map[string]interface{}{"error": job.Error},
	})
}

// Status reports the current admission-control snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawBusy := 0.0
	if s.busy != nil {
		rawBusy = s.busy()
	}
	busy := capacity.Clamp(rawBusy)
	usable := capacity.Usable(busy, s.cfg.TotalCapacityUnits, s.cfg.ReserveUnits)
	leased := s.store.ActiveLeaseUnits()

	return Status{
		BusyRating:             busy,
		TotalCapacityUnits:     s.cfg.TotalCapacityUnits,
		UsableCapacityUnits:    usable,
		LeasedCapacityUnits:    leased,
		AvailableCapacityUnits: usable - leased,
		QueueDepths:            s.store.QueueDepths(),
		ActiveLeaseCount:       len(s.store.LeaseIDs()),
	}
}

// SetCapacity updates total/reserve capacity units in place. Used by the
// operator-facing config file watcher to apply a capacity change without a
// restart; the next LeaseRequest admission check (and Status) sees the new
// values immediately since both are read under the same mutex.
func (s *Scheduler) SetCapacity(totalUnits, reserveUnits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.TotalCapacityUnits = totalUnits
	s.cfg.ReserveUnits = reserveUnits
}

// Jobs lists up to limit jobs, newest first, optionally filtered by state.
func (s *Scheduler) Jobs(limit int, state jobstore.State) []jobstore.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptrs := s.store.JobsByCreatedDesc(limit, state)
	out := make([]jobstore.Job, 0, len(ptrs))
	for _, p := range ptrs {
		out = append(out, *p)
	}
	return out
}

// Leases lists every currently active lease (for GET /scheduler/leases).
func (s *Scheduler) Leases() []jobstore.Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ActiveLeases()
}

// EvictTerminalJobs drops aged-out terminal jobs from memory on demand. The
// reaper's sweep runs the same eviction itself on every tick.
func (s *Scheduler) EvictTerminalJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Evict(s.clk.Now())
}
