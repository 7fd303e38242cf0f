package health

import (
	"context"
	"sync"
	"time"

	"pullsched/clock"
)

// Compose derives the busy rating from host + API signals. Each signal maps
// to [0,10] via a monotonic breakpoint function; the composite is the
// maximum across signals — any one stressed signal dominates. A nil value
// for a raw reading is fail-closed: it contributes the maximum score (I7).
func Compose(snap *rawReading, th Thresholds) (float64, []string) {
	var missing []string
	max := 0.0
	consider := func(name string, v *float64, points []Point, normalize func(float64) float64) {
		if v == nil {
			missing = append(missing, name)
			if missingSignalScore > max {
				max = missingSignalScore
			}
			return
		}
		x := *v
		if normalize != nil {
			x = normalize(x)
		}
		s := scoreFromBreakpoints(x, points)
		if s > max {
			max = s
		}
	}

	identity := func(x float64) float64 { return x }
	consider("cpu_fraction", snap.cpu, cpuBreakpoints, identity)
	consider("mem_fraction", snap.mem, memBreakpoints, identity)
	consider("load1_per_core", snap.load, loadBreakpoints, identity)
	consider("api_p95_ms", snap.p95, relativeBreakpoints, func(x float64) float64 {
		if th.APIP95MSSoftCeiling <= 0 {
			return x
		}
		return x / th.APIP95MSSoftCeiling
	})
	consider("api_inflight", snap.inflight, relativeBreakpoints, func(x float64) float64 {
		if th.APIInflightSoftCeiling <= 0 {
			return x
		}
		return x / th.APIInflightSoftCeiling
	})
	consider("api_error_rate", snap.errorRate, errorRateBreakpoints, identity)
	consider("api_rps", snap.rps, relativeBreakpoints, func(x float64) float64 {
		if th.APIRPSSoftCeiling <= 0 {
			return x
		}
		return x / th.APIRPSSoftCeiling
	})

	if max < 0 {
		max = 0
	}
	if max > 10 {
		max = 10
	}
	return max, missing
}

// rawReading holds pointer fields so a failed/unavailable signal can be
// represented as nil distinctly from a legitimate zero value.
type rawReading struct {
	cpu, mem, load, p95, errorRate, rps *float64
	inflight                            *float64
}

// Sampler drives the 5-second (configurable) sampling tick, composes the
// busy rating, caches the latest Snapshot, and persists one sample per
// newly entered minute.
type Sampler struct {
	clk        clock.Clock
	host       HostSampler
	api        APISource
	thresholds Thresholds
	interval   time.Duration
	writer     MinuteWriter

	mu       sync.RWMutex
	last     Snapshot
	prevMin  int64
	lastGood float64 // last known busy rating, for I8-adjacent monotonic reporting

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSampler constructs a Sampler. writer may be nil to disable persistence
// (used in unit tests that only exercise composition).
func NewSampler(clk clock.Clock, host HostSampler, api APISource, th Thresholds, interval time.Duration, writer MinuteWriter) *Sampler {
	return &Sampler{clk: clk, host: host, api: api, thresholds: th, interval: interval, writer: writer, prevMin: -1}
}

// Start launches the background tick loop; Stop cancels it and waits for the
// in-flight tick to finish before returning, per the shutdown contract in
// SPEC_FULL.md §4.2.
func (s *Sampler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Sampler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(s.interval):
			s.tick()
		}
	}
}

func (s *Sampler) tick() {
	now := s.clk.Now()
	reading := &rawReading{}
	var missing []string

	if v, err := s.host.CPUFraction(); err == nil {
		reading.cpu = &v
	} else {
		missing = append(missing, "cpu_fraction")
	}
	if v, err := s.host.MemFraction(); err == nil {
		reading.mem = &v
	} else {
		missing = append(missing, "mem_fraction")
	}
	if v, err := s.host.Load1PerCore(); err == nil {
		reading.load = &v
	} else {
		missing = append(missing, "load1_per_core")
	}

	var rps, p95, errRate float64
	var inflight int64
	if s.api != nil {
		rps = s.api.RPS()
		p95 = s.api.P95MS()
		inflight = s.api.Inflight()
		errRate = s.api.ErrorRate()
		reading.rps = &rps
		reading.p95 = &p95
		inflightF := float64(inflight)
		reading.inflight = &inflightF
		reading.errorRate = &errRate
	} else {
		missing = append(missing, "api_rps", "api_p95_ms", "api_inflight", "api_error_rate")
	}

	busy, composeMissing := Compose(reading, s.thresholds)
	missing = append(missing, composeMissing...)

	s.mu.Lock()
	s.lastGood = busy

	snap := Snapshot{
		Time:         now,
		APIRPS:       rps,
		APIP95MS:     p95,
		APIInflight:  inflight,
		APIErrorRate: errRate,
		BusyRating:   busy,
		Missing:      missing,
	}
	if reading.cpu != nil {
		snap.CPUFraction = *reading.cpu
	}
	if reading.mem != nil {
		snap.MemFraction = *reading.mem
	}
	if reading.load != nil {
		snap.Load1PerCore = *reading.load
	}
	s.last = snap

	curMin := now.Unix() / 60
	shouldPersist := s.writer != nil && curMin > s.prevMin
	if shouldPersist {
		s.prevMin = curMin
	}
	s.mu.Unlock()

	if shouldPersist {
		minuteTS := time.Unix(curMin*60, 0).UTC()
		_ = s.writer.WriteMinuteSample(minuteTS, busy, snap)
	}
}

// Latest returns the most recently computed Snapshot without recomputing
// (GET /system/stats/current never computes on the request path).
func (s *Sampler) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
