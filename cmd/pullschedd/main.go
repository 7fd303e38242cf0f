// Command pullschedd runs the capacity-aware pull scheduler daemon: the
// HealthSampler, the expiry reaper, the durable history writer and the HTTP
// boundary, wired together and shut down gracefully on SIGINT/SIGTERM.
// Flag/signal wiring is grounded on cli/cmd/ariadne/main.go's
// double-signal force-exit idiom.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pullsched/apimetrics"
	"pullsched/clock"
	"pullsched/config"
	"pullsched/health"
	"pullsched/history"
	"pullsched/httpapi"
	"pullsched/scheduler"
	"pullsched/settings"
	"pullsched/telemetry/events"
	"pullsched/telemetry/metrics"
)

func main() {
	var (
		httpAddr       string
		historyDBPath  string
		showVersion    bool
		metricsBackend string
		configFile     string
	)
	flag.StringVar(&httpAddr, "http", "", "HTTP listen address (overrides PULLSCHED_HTTP_ADDR / default)")
	flag.StringVar(&historyDBPath, "history-db", "", "Path to the history/settings bbolt file (overrides PULLSCHED_HISTORY_DB_PATH / default)")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&metricsBackend, "metrics-backend", "", "Metrics backend: prom|otel|noop (overrides PULLSCHED_METRICS_BACKEND)")
	flag.StringVar(&configFile, "config-file", "", "Optional YAML file for hot-reloadable capacity overrides (total_capacity_units, reserve_units)")
	flag.Parse()

	if showVersion {
		fmt.Println("pullschedd - capacity-aware pull scheduler")
		return
	}

	cfg := config.ApplyEnv(config.Defaults())
	if configFile != "" {
		fileOverrides, err := config.LoadFile(configFile)
		if err != nil {
			log.Fatalf("load config file: %v", err)
		}
		cfg = cfg.ApplyFile(fileOverrides)
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if historyDBPath != "" {
		cfg.HistoryDBPath = historyDBPath
	}
	if metricsBackend != "" {
		cfg.MetricsBackend = metricsBackend
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	provider := buildMetricsProvider(cfg)

	clk := clock.Real()
	bus := events.NewBus(provider)

	db, err := history.OpenDB(cfg.HistoryDBPath)
	if err != nil {
		log.Fatalf("open history db: %v", err)
	}
	defer func() { _ = db.Close() }()

	hist := history.NewStore(db, clk, time.Duration(cfg.MinuteRetentionHours)*time.Hour, time.Duration(cfg.HistoryRetentionDays)*24*time.Hour)
	st, err := settings.Open(db)
	if err != nil {
		log.Fatalf("open settings: %v", err)
	}

	apiWin := apimetrics.New(clk, cfg.APIWindowSeconds, cfg.ExcludedAPIPaths)
	host := health.NewGopsutilHostSampler()
	sampler := health.NewSampler(clk, host, apiSourceAdapter{apiWin}, health.DefaultThresholds(), cfg.SamplerInterval(), hist)

	sched := scheduler.New(clk, scheduler.Config{
		TotalCapacityUnits: cfg.TotalCapacityUnits,
		ReserveUnits:       cfg.ReserveUnits,
		LeaseTTL:           cfg.LeaseTTL(),
		HeartbeatGrace:     cfg.HeartbeatGrace(),
		RetryAfterBase:     500 * time.Millisecond,
		EvictionWindow:     cfg.JobStoreEvictionWindow,
		EvictionCap:        cfg.JobStoreEvictionCap,
	}, func() float64 { return sampler.Latest().BusyRating }, bus, hist)

	reaper := scheduler.NewReaper(sched)

	eval := health.NewEvaluator(2*time.Second,
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			if err := hist.LastError(); err != nil {
				return health.Degraded("history_store", err.Error())
			}
			return health.Healthy("history_store")
		}),
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			if provider == nil {
				return health.Healthy("metrics")
			}
			if err := provider.Health(ctx); err != nil {
				return health.Degraded("metrics", err.Error())
			}
			return health.Healthy("metrics")
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hist.Run(ctx)
	sampler.Start(ctx)
	reaper.Start(ctx)

	if configFile != "" {
		watcher, err := config.NewWatcher(configFile)
		if err != nil {
			log.Printf("config file watch disabled: %v", err)
		} else {
			go watcher.Run(ctx, func(o config.FileOverrides) {
				updated := cfg.ApplyFile(o)
				sched.SetCapacity(updated.TotalCapacityUnits, updated.ReserveUnits)
				log.Printf("config file reload: total_capacity_units=%d reserve_units=%d", updated.TotalCapacityUnits, updated.ReserveUnits)
			})
		}
	}

	srv := httpapi.New(sched, sampler, apiWin, hist, st, eval, provider)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler()}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	log.Printf("pullschedd listening on %s (history db=%s, metrics backend=%s)", cfg.HTTPAddr, cfg.HistoryDBPath, cfg.MetricsBackend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}

	reaper.Stop()
	sampler.Stop()
	hist.Stop()
}

// apiSourceAdapter satisfies health.APISource from an *apimetrics.Window's
// on-demand Snapshot, keeping the two packages decoupled (health does not
// import apimetrics directly; see health.APISource).
type apiSourceAdapter struct {
	win *apimetrics.Window
}

func (a apiSourceAdapter) RPS() float64       { return a.win.Snapshot().RPS }
func (a apiSourceAdapter) P95MS() float64     { return a.win.Snapshot().LatencyP95MS }
func (a apiSourceAdapter) Inflight() int64    { return a.win.Snapshot().Inflight }
func (a apiSourceAdapter) ErrorRate() float64 { return a.win.Snapshot().ErrorRate }

func buildMetricsProvider(cfg config.Config) metrics.Provider {
	if !cfg.MetricsEnabled {
		return metrics.NewNoopProvider()
	}
	switch cfg.MetricsBackend {
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "pullsched"})
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
}
