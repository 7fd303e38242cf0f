package jobstore

import (
	"container/list"
	"time"
)

// Store is the plain (unsynchronized) collection of tables backing the
// scheduler. Every exported method assumes the caller already holds the
// scheduler's coarse mutex.
type Store struct {
	jobs         map[string]*Job
	idempotency  map[string]string // idempotency_key -> job_id
	queues       map[Priority]*list.List
	queuePos     map[string]*list.Element // job_id -> element within its queue
	leases       map[string]*Lease
	workerLeases map[string]map[string]struct{} // worker_id -> set of lease_id

	// evictable is an LRU-style list of terminal job ids ordered by the time
	// they became terminal, oldest first.
	evictable   *list.List
	evictPos    map[string]*list.Element
	evictWindow time.Duration
	evictCap    int
}

// New constructs an empty Store. evictWindow and evictCap bound how long and
// how many terminal jobs are retained before Evict() drops them.
func New(evictWindow time.Duration, evictCap int) *Store {
	s := &Store{
		jobs:         make(map[string]*Job),
		idempotency:  make(map[string]string),
		queues:       make(map[Priority]*list.List),
		queuePos:     make(map[string]*list.Element),
		leases:       make(map[string]*Lease),
		workerLeases: make(map[string]map[string]struct{}),
		evictable:    list.New(),
		evictPos:     make(map[string]*list.Element),
		evictWindow:  evictWindow,
		evictCap:     evictCap,
	}
	for _, p := range Levels {
		s.queues[p] = list.New()
	}
	return s
}

// JobByID returns the job or nil.
func (s *Store) JobByID(id string) *Job { return s.jobs[id] }

// JobByIdempotencyKey returns the live job registered under key, or nil.
func (s *Store) JobByIdempotencyKey(key string) *Job {
	if key == "" {
		return nil
	}
	id, ok := s.idempotency[key]
	if !ok {
		return nil
	}
	return s.jobs[id]
}

// LeaseByID returns the lease or nil.
func (s *Store) LeaseByID(id string) *Lease { return s.leases[id] }

// Insert adds a new queued job to its priority queue and indices.
func (s *Store) Insert(j *Job) {
	s.jobs[j.JobID] = j
	if j.IdempotencyKey != "" {
		s.idempotency[j.IdempotencyKey] = j.JobID
	}
	q := s.queues[j.Priority]
	elem := q.PushBack(j.JobID)
	s.queuePos[j.JobID] = elem
}

// CandidatesSnapshot returns the job ids in class p in FIFO scan order
// (oldest front), without mutating the queue. Callers must re-check each
// job's live state since the snapshot can be stale by the time it's used.
func (s *Store) CandidatesSnapshot(p Priority) []string {
	q := s.queues[p]
	out := make([]string, 0, q.Len())
	for e := q.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// Dequeue removes job id from its priority queue (called only once a grant
// decision has been made).
func (s *Store) Dequeue(jobID string) {
	job := s.jobs[jobID]
	if job == nil {
		return
	}
	if elem, ok := s.queuePos[jobID]; ok {
		s.queues[job.Priority].Remove(elem)
		delete(s.queuePos, jobID)
	}
}

// QueueDepths reports the number of queued jobs per priority class.
func (s *Store) QueueDepths() map[Priority]int {
	out := make(map[Priority]int, len(s.queues))
	for p, q := range s.queues {
		out[p] = q.Len()
	}
	return out
}

// PutLease registers a new lease and indexes it under its worker.
func (s *Store) PutLease(l *Lease) {
	s.leases[l.LeaseID] = l
	set := s.workerLeases[l.WorkerID]
	if set == nil {
		set = make(map[string]struct{})
		s.workerLeases[l.WorkerID] = set
	}
	set[l.LeaseID] = struct{}{}
}

// RemoveLease deletes a lease and its worker index entry.
func (s *Store) RemoveLease(leaseID string) {
	l, ok := s.leases[leaseID]
	if !ok {
		return
	}
	delete(s.leases, leaseID)
	if set, ok := s.workerLeases[l.WorkerID]; ok {
		delete(set, leaseID)
		if len(set) == 0 {
			delete(s.workerLeases, l.WorkerID)
		}
	}
}

// WorkerHoldsAnyLease reports whether worker currently holds at least one
// active lease (used by the unique-job admission check, I5).
func (s *Store) WorkerHoldsAnyLease(workerID string) bool {
	set, ok := s.workerLeases[workerID]
	return ok && len(set) > 0
}

// ActiveLeaseUnits sums capacity_units across every active lease.
func (s *Store) ActiveLeaseUnits() int {
	total := 0
	for _, l := range s.leases {
		total += l.CapacityUnits
	}
	return total
}

// LeaseIDs returns every active lease id, for the reaper's sweep.
func (s *Store) LeaseIDs() []string {
	ids := make([]string, 0, len(s.leases))
	for id := range s.leases {
		ids = append(ids, id)
	}
	return ids
}

// ActiveLeases returns a defensive copy of every active lease, for status
// reporting (never returns internal pointers a caller could mutate).
func (s *Store) ActiveLeases() []Lease {
	out := make([]Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, *l)
	}
	return out
}

// FinalizeTerminal takes a job whose State the caller has already set to a
// terminal value, removes it from any queue (it should already be absent)
// and enrolls it in the eviction list. The
// idempotency index entry is left in place until eviction: per I4 the key
// stays reserved while the job remains in the live set.
func (s *Store) FinalizeTerminal(job *Job, now time.Time) {
	s.Dequeue(job.JobID)
	elem := s.evictable.PushBack(job.JobID)
	s.evictPos[job.JobID] = elem
}

// Evict drops terminal jobs older than evictWindow or beyond evictCap,
// oldest first. It returns the evicted job ids.
func (s *Store) Evict(now time.Time) []string {
	var evicted []string
	for s.evictable.Len() > s.evictCap {
		evicted = append(evicted, s.popOldestEvictable())
	}
	for e := s.evictable.Front(); e != nil; {
		next := e.Next()
		jobID := e.Value.(string)
		job := s.jobs[jobID]
		if job == nil {
			s.evictable.Remove(e)
			delete(s.evictPos, jobID)
			e = next
			continue
		}
		if now.Sub(job.UpdatedAt) <= s.evictWindow {
			break // list is oldest-first; once one is within window, rest are too
		}
		s.evictable.Remove(e)
		delete(s.evictPos, jobID)
		delete(s.jobs, jobID)
		if job.IdempotencyKey != "" {
			delete(s.idempotency, job.IdempotencyKey)
		}
		evicted = append(evicted, jobID)
		e = next
	}
	return evicted
}

func (s *Store) popOldestEvictable() string {
	e := s.evictable.Front()
	if e == nil {
		return ""
	}
	jobID := e.Value.(string)
	s.evictable.Remove(e)
	delete(s.evictPos, jobID)
	job := s.jobs[jobID]
	delete(s.jobs, jobID)
	if job != nil && job.IdempotencyKey != "" {
		delete(s.idempotency, job.IdempotencyKey)
	}
	return jobID
}

// JobsByCreatedDesc returns up to limit jobs, optionally filtered by state,
// ordered by creation time descending (for the jobs-list endpoint).
func (s *Store) JobsByCreatedDesc(limit int, state State) []*Job {
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if state != "" && j.State != state {
			continue
		}
		out = append(out, j)
	}
	// insertion sort is fine: job counts here are bounded by evictCap
	for i := 1; i < len(out); i++ {
		for k := i; k > 0 && out[k].CreatedAt.After(out[k-1].CreatedAt); k-- {
			out[k], out[k-1] = out[k-1], out[k]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
