package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pullsched/apimetrics"
	"pullsched/clock"
	"pullsched/health"
	"pullsched/history"
	"pullsched/jobstore"
	"pullsched/scheduler"
	"pullsched/settings"
	"pullsched/telemetry/events"
	"pullsched/telemetry/metrics"
)

type fakeHost struct{}

func (fakeHost) CPUFraction() (float64, error)  { return 0, nil }
func (fakeHost) MemFraction() (float64, error)  { return 0, nil }
func (fakeHost) Load1PerCore() (float64, error) { return 0, nil }

func newTestServer(t *testing.T) (*Server, *clock.Fake, *history.Store) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	dir := t.TempDir()
	db, err := history.OpenDB(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	hist := history.NewStore(db, fc, 24*time.Hour, 30*24*time.Hour)
	st, err := settings.Open(db)
	require.NoError(t, err)

	bus := events.NewBus(metrics.NewNoopProvider())
	apiWin := apimetrics.New(fc, 60, nil)
	sampler := health.NewSampler(fc, fakeHost{}, nil, health.DefaultThresholds(), 5*time.Second, hist)

	sched := scheduler.New(fc, scheduler.Config{
		TotalCapacityUnits: 100,
		ReserveUnits:       0,
		LeaseTTL:           30 * time.Second,
		HeartbeatGrace:     5 * time.Second,
		RetryAfterBase:     500 * time.Millisecond,
		EvictionWindow:     time.Hour,
		EvictionCap:        1000,
	}, func() float64 { return sampler.Latest().BusyRating }, bus, hist)

	hist.Run(context.Background())
	t.Cleanup(hist.Stop)

	srv := New(sched, sampler, apiWin, hist, st, nil, nil)
	return srv, fc, hist
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitLeaseHeartbeatCompleteRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/scheduler/jobs", submitRequest{
		AddonID: "addon-a", JobType: "sync", Priority: jobstore.High, RequestedUnits: 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var submitResp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))
	assert.Equal(t, jobstore.Queued, submitResp.State)

	rec = doJSON(t, h, http.MethodPost, "/scheduler/leases/request", leaseRequestBody{WorkerID: "worker-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var leaseResp leaseGrantedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leaseResp))
	require.False(t, leaseResp.Denied)
	assert.Equal(t, submitResp.JobID, leaseResp.Job.JobID)

	rec = doJSON(t, h, http.MethodPost, "/scheduler/leases/"+leaseResp.Lease.LeaseID+"/heartbeat", heartbeatRequest{WorkerID: "worker-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/scheduler/leases/"+leaseResp.Lease.LeaseID+"/complete", completeRequest{WorkerID: "worker-1", Status: jobstore.Completed})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/scheduler/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 100, status.AvailableCapacityUnits)
}

func TestInvalidUnitsReturns400(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/scheduler/jobs", submitRequest{
		AddonID: "addon-a", JobType: "sync", Priority: jobstore.High, RequestedUnits: 500,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownLeaseCompleteIsIdempotentOK(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/scheduler/leases/does-not-exist/complete", completeRequest{WorkerID: "w", Status: jobstore.Completed})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHeartbeatUnknownLeaseReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/scheduler/leases/does-not-exist/heartbeat", heartbeatRequest{WorkerID: "w"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsPutGetDelete(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPut, "/system/settings/app_name", "pullsched")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/system/settings/app_name", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var val string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &val))
	assert.Equal(t, "pullsched", val)

	rec = doJSON(t, h, http.MethodDelete, "/system/settings/app_name", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/system/settings/app_name", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryStatsAfterComplete(t *testing.T) {
	srv, _, hist := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/scheduler/jobs", submitRequest{AddonID: "addon-a", JobType: "sync", Priority: jobstore.Normal, RequestedUnits: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	var submitResp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))

	rec = doJSON(t, h, http.MethodPost, "/scheduler/leases/request", leaseRequestBody{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var leaseResp leaseGrantedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leaseResp))

	rec = doJSON(t, h, http.MethodPost, "/scheduler/leases/"+leaseResp.Lease.LeaseID+"/complete", completeRequest{WorkerID: "w1", Status: jobstore.Completed})
	require.Equal(t, http.StatusOK, rec.Code)

	hist.Stop()
	ctxStatsRec := doJSON(t, h, http.MethodGet, "/scheduler/history/stats?days=30", nil)
	require.Equal(t, http.StatusOK, ctxStatsRec.Code)
	var stats history.Stats
	require.NoError(t, json.Unmarshal(ctxStatsRec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
}
