package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pullsched/clock"
)

type fakeHost struct {
	cpu, mem, load float64
	failCPU        bool
}

func (f *fakeHost) CPUFraction() (float64, error) {
	if f.failCPU {
		return 0, errors.New("unavailable")
	}
	return f.cpu, nil
}
func (f *fakeHost) MemFraction() (float64, error)  { return f.mem, nil }
func (f *fakeHost) Load1PerCore() (float64, error) { return f.load, nil }

type fakeAPI struct {
	rps, p95, errRate float64
	inflight          int64
}

func (a *fakeAPI) RPS() float64       { return a.rps }
func (a *fakeAPI) P95MS() float64     { return a.p95 }
func (a *fakeAPI) Inflight() int64    { return a.inflight }
func (a *fakeAPI) ErrorRate() float64 { return a.errRate }

type recordingWriter struct {
	calls []float64
}

func (w *recordingWriter) WriteMinuteSample(ts time.Time, busy float64, snap Snapshot) error {
	w.calls = append(w.calls, busy)
	return nil
}

func TestComposeAllHealthyIsLowRating(t *testing.T) {
	cpu, mem, load := 0.1, 0.2, 0.1
	rps, p95, errRate, inflight := 5.0, 50.0, 0.0, 2.0
	reading := &rawReading{cpu: &cpu, mem: &mem, load: &load, rps: &rps, p95: &p95, errorRate: &errRate, inflight: &inflight}
	busy, missing := Compose(reading, DefaultThresholds())
	assert.Empty(t, missing)
	assert.Less(t, busy, 4.0)
}

func TestComposeMissingSignalIsFailClosedToMax(t *testing.T) {
	reading := &rawReading{}
	busy, missing := Compose(reading, DefaultThresholds())
	assert.Equal(t, 10.0, busy)
	assert.NotEmpty(t, missing)
}

func TestComposeIsMaxNotAverage(t *testing.T) {
	cpu, mem, load := 0.99, 0.0, 0.0
	reading := &rawReading{cpu: &cpu, mem: &mem, load: &load}
	rps, p95, errRate, inflight := 0.0, 0.0, 0.0, 0.0
	reading.rps, reading.p95, reading.errorRate, reading.inflight = &rps, &p95, &errRate, &inflight
	busy, _ := Compose(reading, DefaultThresholds())
	assert.GreaterOrEqual(t, busy, 9.0)
}

func TestSamplerTickFailClosedOnMissingCPU(t *testing.T) {
	fc := clock.NewFake(time.Now())
	host := &fakeHost{cpu: 0.1, mem: 0.1, load: 0.1, failCPU: true}
	api := &fakeAPI{}
	writer := &recordingWriter{}
	s := NewSampler(fc, host, api, DefaultThresholds(), 5*time.Second, writer)
	s.Start(context.Background())
	fc.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	snap := s.Latest()
	assert.Equal(t, 10.0, snap.BusyRating)
	assert.Contains(t, snap.Missing, "cpu_fraction")
}

func TestSamplerPersistsOncePerMinuteBoundary(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 58, 0, time.UTC))
	host := &fakeHost{cpu: 0.1, mem: 0.1, load: 0.1}
	api := &fakeAPI{}
	writer := &recordingWriter{}
	s := NewSampler(fc, host, api, DefaultThresholds(), 5*time.Second, writer)
	s.Start(context.Background())

	fc.Advance(5 * time.Second) // 00:01:03 -> new minute
	time.Sleep(10 * time.Millisecond)
	fc.Advance(5 * time.Second) // 00:01:08 -> same minute
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	require.Len(t, writer.calls, 1)
}

func TestEvaluatorRollsUpWorstStatus(t *testing.T) {
	ev := NewEvaluator(time.Second,
		ProbeFunc(func(ctx context.Context) ProbeResult { return Healthy("a") }),
		ProbeFunc(func(ctx context.Context) ProbeResult { return Degraded("b", "slow") }),
	)
	snap := ev.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, snap.Overall)
	assert.Len(t, snap.Probes, 2)
}

func TestEvaluatorUnhealthyDominates(t *testing.T) {
	ev := NewEvaluator(time.Second,
		ProbeFunc(func(ctx context.Context) ProbeResult { return Degraded("a", "slow") }),
		ProbeFunc(func(ctx context.Context) ProbeResult { return Unhealthy("b", "down") }),
	)
	snap := ev.Evaluate(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Overall)
}
