package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pullsched/clock"
	"pullsched/jobstore"
	"pullsched/telemetry/events"
	"pullsched/telemetry/metrics"
)

type stubHistory struct {
	jobs   []JobHistoryRow
	events []JobEventRow
}

func (s *stubHistory) EnqueueJobHistory(row JobHistoryRow) { s.jobs = append(s.jobs, row) }
func (s *stubHistory) EnqueueJobEvent(ev JobEventRow)      { s.events = append(s.events, ev) }

func newTestScheduler(busy float64) (*Scheduler, *clock.Fake, *stubHistory) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	hist := &stubHistory{}
	bus := events.NewBus(metrics.NewNoopProvider())
	cfg := Config{
		TotalCapacityUnits: 100,
		ReserveUnits:       0,
		LeaseTTL:           10 * time.Second,
		HeartbeatGrace:     5 * time.Second,
		RetryAfterBase:     500 * time.Millisecond,
		EvictionWindow:     time.Hour,
		EvictionCap:        1000,
	}
	s := New(fc, cfg, func() float64 { return busy }, bus, hist)
	return s, fc, hist
}

func TestSubmitThenLeaseGrantsHighestPriorityFirst(t *testing.T) {
	s, _, _ := newTestScheduler(0)

	_, _, err := s.Submit("addon", "sync", jobstore.Normal, 10, false, nil, "", nil, 0)
	require.NoError(t, err)
	highID, _, err := s.Submit("addon", "sync", jobstore.High, 10, false, nil, "", nil, 0)
	require.NoError(t, err)

	grant, denial, err := s.LeaseRequest("worker-1", 0)
	require.NoError(t, err)
	require.Nil(t, denial)
	assert.Equal(t, highID, grant.Job.JobID)
}

func TestLeaseRequestDeniesWhenNoCapacity(t *testing.T) {
	s, _, _ := newTestScheduler(10) // busy=10 -> 0% usable

	_, _, err := s.Submit("addon", "sync", jobstore.Normal, 10, false, nil, "", nil, 0)
	require.NoError(t, err)

	grant, denial, err := s.LeaseRequest("worker-1", 0)
	require.NoError(t, err)
	assert.Nil(t, grant)
	require.NotNil(t, denial)
	assert.Equal(t, "no_capacity", denial.Reason)
	assert.Greater(t, denial.RetryAfterMS, int64(0))
}

func TestLeaseRequestDeniesNoEligibleJobsWhenQueueEmpty(t *testing.T) {
	s, _, _ := newTestScheduler(0)
	grant, denial, err := s.LeaseRequest("worker-1", 0)
	require.NoError(t, err)
	assert.Nil(t, grant)
	require.NotNil(t, denial)
	assert.Equal(t, "no_eligible_jobs", denial.Reason)
}

func TestSubmitIsIdempotentOnKey(t *testing.T) {
	s, _, _ := newTestScheduler(0)
	id1, _, err := s.Submit("addon", "sync", jobstore.Normal, 5, false, nil, "key-1", nil, 0)
	require.NoError(t, err)
	id2, _, err := s.Submit("addon", "sync", jobstore.Normal, 5, false, nil, "key-1", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.store.QueueDepths()[jobstore.Normal])
}

func TestUniqueJobSkipsWorkerAlreadyHoldingALease(t *testing.T) {
	s, _, _ := newTestScheduler(0)
	_, _, err := s.Submit("addon", "sync", jobstore.Normal, 5, false, nil, "", nil, 0)
	require.NoError(t, err)
	_, _, err = s.Submit("addon", "sync", jobstore.Normal, 5, true, nil, "", nil, 0)
	require.NoError(t, err)

	grant1, _, err := s.LeaseRequest("worker-1", 0)
	require.NoError(t, err)
	require.NotNil(t, grant1)

	// worker-1 already holds a lease; the unique job must be skipped for it
	// but available to a different worker.
	grant2, denial2, err := s.LeaseRequest("worker-1", 0)
	require.NoError(t, err)
	if grant2 != nil {
		assert.False(t, grant2.Job.Unique)
	} else {
		require.NotNil(t, denial2)
	}

	grant3, _, err := s.LeaseRequest("worker-2", 0)
	require.NoError(t, err)
	require.NotNil(t, grant3)
	assert.True(t, grant3.Job.Unique)
}

func TestHeartbeatPromotesLeasedToRunning(t *testing.T) {
	s, fc, _ := newTestScheduler(0)
	jobID, _, err := s.Submit("addon", "sync", jobstore.Normal, 5, false, nil, "", nil, 0)
	require.NoError(t, err)
	grant, _, err := s.LeaseRequest("worker-1", 0)
	require.NoError(t, err)
	require.Equal(t, jobID, grant.Job.JobID)

	fc.Advance(time.Second)
	expiresAt, err := s.Heartbeat(grant.Lease.LeaseID, "worker-1")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(fc.Now()))

	job := s.store.JobByID(jobID)
	assert.Equal(t, jobstore.Running, job.State)
	assert.False(t, job.StartedAt.IsZero())
}

func TestHeartbeatWrongWorkerIsMismatch(t *testing.T) {
	s, _, _ := newTestScheduler(0)
	_, _, err := s.Submit("addon", "sync", jobstore.Normal, 5, false, nil, "", nil, 0)
	require.NoError(t, err)
	grant, _, err := s.LeaseRequest("worker-1", 0)
	require.NoError(t, err)

	_, err = s.Heartbeat(grant.Lease.LeaseID, "worker-2")
	require.Error(t, err)
}

func TestCompleteFinalizesJobAndEnqueuesHistory(t *testing.T) {
	s, _, hist := newTestScheduler(0)
	jobID, _, err := s.Submit("addon", "sync", jobstore.Normal, 5, false, nil, "", nil, 0)
	require.NoError(t, err)
	grant, _, err := s.LeaseRequest("worker-1", 0)
	require.NoError(t, err)

	err = s.Complete(grant.Lease.LeaseID, "worker-1", jobstore.Completed, map[string]int{"n": 1}, "")
	require.NoError(t, err)

	job := s.store.JobByID(jobID)
	assert.Equal(t, jobstore.Completed, job.State)
	require.Len(t, hist.jobs, 1)
	assert.Equal(t, jobID, hist.jobs[0].JobID)
}

func TestCompleteOnUnknownLeaseIsIdempotentNoop(t *testing.T) {
	s, _, _ := newTestScheduler(0)
	err := s.Complete("nonexistent", "worker-1", jobstore.Completed, nil, "")
	assert.NoError(t, err)
}

func TestStatusReflectsQueueAndLeaseCounts(t *testing.T) {
	s, _, _ := newTestScheduler(0)
	_, _, err := s.Submit("addon", "sync", jobstore.Normal, 5, false, nil, "", nil, 0)
	require.NoError(t, err)
	status := s.Status()
	assert.Equal(t, 1, status.QueueDepths[jobstore.Normal])
	assert.Equal(t, 0, status.ActiveLeaseCount)

	_, _, err = s.LeaseRequest("worker-1", 0)
	require.NoError(t, err)
	status = s.Status()
	assert.Equal(t, 1, status.ActiveLeaseCount)
}
