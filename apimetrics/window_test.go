package apimetrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pullsched/clock"
)

func TestWindowBasicAggregates(t *testing.T) {
	fc := clock.NewFake(time.Now())
	w := New(fc, 60, nil)

	done1 := w.EnterRequest("/jobs")
	done1("clientA", 200, 10)
	done2 := w.EnterRequest("/jobs")
	done2("clientA", 500, 30)
	done3 := w.EnterRequest("/leases")
	done3("clientB", 200, 20)

	snap := w.Snapshot()
	assert.Equal(t, 3, int(snap.RPS*60))
	assert.InDelta(t, 1.0/3.0, snap.ErrorRate, 1e-9)
	assert.Equal(t, int64(0), snap.Inflight)
	assert.Equal(t, "/jobs", snap.TopPaths[0].Key)
	assert.Equal(t, 2, snap.TopPaths[0].Count)
}

func TestWindowExcludesConfiguredPaths(t *testing.T) {
	fc := clock.NewFake(time.Now())
	w := New(fc, 60, []string{"/metrics"})
	done := w.EnterRequest("/metrics")
	done("c", 200, 5)
	snap := w.Snapshot()
	assert.Equal(t, 0, len(snap.TopPaths))
}

func TestWindowEvictsOldSamples(t *testing.T) {
	fc := clock.NewFake(time.Now())
	w := New(fc, 10, nil)
	done := w.EnterRequest("/jobs")
	done("c", 200, 1)
	assert.Equal(t, 1, int(w.Snapshot().RPS*10))

	fc.Advance(20 * time.Second)
	assert.Equal(t, 0, int(w.Snapshot().RPS*10))
}

func TestWindowInflightTracksEntryExit(t *testing.T) {
	fc := clock.NewFake(time.Now())
	w := New(fc, 60, nil)
	done := w.EnterRequest("/jobs")
	assert.Equal(t, int64(1), w.Snapshot().Inflight)
	done("c", 200, 1)
	assert.Equal(t, int64(0), w.Snapshot().Inflight)
}
