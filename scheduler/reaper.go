package scheduler

import (
	"context"
	"sync"
	"time"

	"pullsched/jobstore"
	"pullsched/telemetry/events"
)

// reapInterval is how often the reaper sweeps for expired leases.
const reapInterval = time.Second

// Reaper periodically expires leases that missed their heartbeat deadline
// or exceeded their job's max runtime, and prunes aged-out terminal jobs.
type Reaper struct {
	sched  *Scheduler
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper wraps sched with a background expiry loop.
func NewReaper(sched *Scheduler) *Reaper {
	return &Reaper{sched: sched}
}

// Start launches the reaper's goroutine. Call Stop to terminate it.
func (r *Reaper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop cancels the reaper loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()
	clk := r.sched.clk
	for {
		select {
		case <-ctx.Done():
			return
		case <-clk.After(reapInterval):
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	s := r.sched
	s.mu.Lock()
	now := s.clk.Now()
	var expired []string
	for _, leaseID := range s.store.LeaseIDs() {
		lease := s.store.LeaseByID(leaseID)
		if lease == nil {
			continue
		}
		job := s.store.JobByID(lease.JobID)
		if job == nil {
			s.store.RemoveLease(leaseID)
			continue
		}
		runtimeExceeded := job.MaxRuntimeS > 0 && now.Sub(lease.IssuedAt) > time.Duration(job.MaxRuntimeS)*time.Second
		if now.Before(lease.ExpiresAt) && !runtimeExceeded {
			continue
		}
		s.store.RemoveLease(leaseID)
		job.State = jobstore.Expired
		job.LeaseID = ""
		job.UpdatedAt = now
		s.store.FinalizeTerminal(job, now)
		s.enqueueHistory(*job, now)
		expired = append(expired, leaseID)
	}
	evicted := s.store.Evict(now)
	s.mu.Unlock()

	for _, leaseID := range expired {
		s.publish(events.Event{
			Category: events.CategoryLease,
			Type:     events.TypeLeaseExpired,
			Fields:   map[string]interface{}{"lease_id": leaseID},
		})
	}
	_ = evicted
}
