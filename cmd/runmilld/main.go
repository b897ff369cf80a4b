package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/runmill/runmill/internal/analytics"
	"github.com/runmill/runmill/internal/api"
	"github.com/runmill/runmill/internal/circuitbreaker"
	"github.com/runmill/runmill/internal/config"
	"github.com/runmill/runmill/internal/cron"
	"github.com/runmill/runmill/internal/dispatcher"
	"github.com/runmill/runmill/internal/metrics"
	"github.com/runmill/runmill/internal/queue"
	"github.com/runmill/runmill/internal/reconciler"
	"github.com/runmill/runmill/internal/retry"
	"github.com/runmill/runmill/internal/scheduler"
	"github.com/runmill/runmill/internal/store/postgres"
	"github.com/runmill/runmill/internal/transport/channel"
	"github.com/runmill/runmill/internal/watcher"
	"github.com/runmill/runmill/internal/webhook"

	_ "github.com/lib/pq"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`runmilld - desktop automation run orchestrator

Usage:
  runmilld <command>

Commands:
  serve      Start the triggers, queues and dispatcher
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL                  PostgreSQL connection string (required)
  RUNNER_URL                    Runner endpoint executing runs (required)
  RUNNER_SECRET                 HMAC secret for runner requests (optional)
  RUNNER_TIMEOUT                Runner request timeout (default: "60s")
  REDIS_ADDR                    Redis address for run analytics (optional)
  HTTP_ADDR                     HTTP server address (default: ":8080")

  TICK_INTERVAL                 Scheduler tick interval (default: "60s")
  POLL_INTERVAL                 Dispatcher admission poll interval (default: "250ms")
  DISPATCHER_WORKERS            Concurrent run executors (default: "4")
  RUNBUS_BUFFER_SIZE            Run bus buffer size (default: "100")

  DEFAULT_QUEUE                 Name of the default queue (default: "default")
  DEFAULT_QUEUE_MAX_CONCURRENT  Default queue concurrency (default: "4")
  DEFAULT_QUEUE_MAX_QUEUED      Default queue depth bound (default: "100")
  WEBHOOK_PATH_PREFIX           Webhook endpoint mount point (default: "/hooks/")

  DB_OP_TIMEOUT                 Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS             Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS             Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME          Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME         Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT         Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT      Dispatcher run drain timeout (default: "30s")

  METRICS_ENABLED               Enable Prometheus metrics (default: "false")
  METRICS_PATH                  Metrics endpoint path (default: "/metrics")

  RECONCILE_ENABLED             Enable abandoned-run reconciler (default: "false")
  RECONCILE_INTERVAL            How often to sweep for stale runs (default: "5m")
  RECONCILE_THRESHOLD           Age before a running run is abandoned (default: "30m")

  CIRCUIT_BREAKER_THRESHOLD     Failures before a trigger opens; 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN      Open-circuit cooldown (default: "2m")`)
}

// logConfigWarnings flags configuration combinations that are valid but
// likely unintended in production.
func logConfigWarnings(cfg config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("runmilld: WARNING [P0]: RECONCILE_ENABLED=false - runs orphaned by a crash will stay 'running' forever; enable the reconciler in production")
	}
	if !cfg.MetricsEnabled {
		log.Println("runmilld: WARNING [P1]: METRICS_ENABLED=false - no Prometheus metrics will be exported")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("runmilld: WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0 - failing triggers will keep firing without suppression")
	}
	if cfg.RunnerSecret == "" {
		log.Println("runmilld: WARNING [P1]: RUNNER_SECRET not set - run dispatches to the runner will be unsigned")
	}
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("runmilld: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("runmilld: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("runmilld: METRICS_ENABLED not set; metrics disabled")
	}

	// Queue manager with the default queue pre-created
	queues := queue.NewManager()
	if metricsSink != nil {
		queues = queues.WithMetrics(metricsSink)
	}
	if err := queues.CreateQueue(cfg.DefaultQueue, cfg.DefaultQueueMaxConcurrent, cfg.DefaultQueueMaxQueued); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create default queue: %v\n", err)
		return exitRuntimeError
	}

	retries := retry.NewManager()

	// Circuit breaker for trigger sources (optional)
	var breaker *circuitbreaker.Breaker
	if cfg.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		log.Printf("runmilld: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	// Cron trigger
	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval},
		store,
		&cronParserAdapter{parser: cron.NewParser()},
		queues,
	)
	if breaker != nil {
		sched = sched.WithBreaker(breaker)
	}
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	// Filesystem trigger
	watchTrigger, err := watcher.New(queues)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create watcher: %v\n", err)
		return exitRuntimeError
	}
	if metricsSink != nil {
		watchTrigger = watchTrigger.WithMetrics(metricsSink)
	}
	startupCtx, startupCancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	watchConfigs, err := store.ListEnabledWatchConfigs(startupCtx)
	if err != nil {
		startupCancel()
		fmt.Fprintf(os.Stderr, "failed to load watch configs: %v\n", err)
		return exitRuntimeError
	}
	if err := watchTrigger.Reload(watchConfigs); err != nil {
		log.Printf("runmilld: initial watch reload: %v", err)
	}

	// Webhook trigger
	registry := webhook.NewRegistry()
	webhookConfigs, err := store.ListEnabledWebhookConfigs(startupCtx)
	startupCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load webhook configs: %v\n", err)
		return exitRuntimeError
	}
	registry.Reload(webhookConfigs)

	webhookHandler := webhook.NewHandler(registry, queues).WithAudit(store)
	if metricsSink != nil {
		webhookHandler = webhookHandler.WithMetrics(metricsSink)
	}

	// Run bus and dispatcher
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewRunBus(cfg.RunBusBufferSize, busOpts...)

	runner := dispatcher.NewHTTPRunner(cfg.RunnerURL, cfg.RunnerSecret, cfg.RunnerTimeout)
	disp := dispatcher.New(
		dispatcher.Config{
			Workers:      cfg.DispatcherWorkers,
			PollInterval: cfg.PollInterval,
			DrainTimeout: cfg.DispatcherDrainTimeout,
		},
		queues,
		runner,
		retries,
	).WithStore(store)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		disp = disp.WithAnalytics(analytics.NewRedisSink(redisClient, time.Hour))
		log.Printf("runmilld: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("runmilld: REDIS_ADDR not set; analytics disabled")
	}

	// Admin API and HTTP server
	apiHandler := api.NewHandler(store, queues).
		WithWatchReloader(watchTrigger).
		WithWebhookReloader(registry).
		WithRetryStats(retries).
		WithHealthChecker(db)

	mux := http.NewServeMux()
	mux.Handle(cfg.WebhookPathPrefix, webhookHandler)
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("runmilld: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("runmilld: http server error: %v", err)
		}
	}()

	// Use separate contexts per component to enable ordered shutdown.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var schedulerWg sync.WaitGroup
	var watcherWg sync.WaitGroup
	var dispatcherWg sync.WaitGroup
	var reconcilerWg sync.WaitGroup
	var cancelReconciler context.CancelFunc

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		sched.Run(schedulerCtx)
	}()

	watcherWg.Add(1)
	go func() {
		defer watcherWg.Done()
		watchTrigger.Run(watcherCtx)
	}()

	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, bus)
	}()

	// Start reconciler if enabled
	if cfg.ReconcileEnabled {
		var reconcilerCtx context.Context
		reconcilerCtx, cancelReconciler = context.WithCancel(context.Background())
		recon := reconciler.New(
			reconciler.Config{
				Interval:       cfg.ReconcileInterval,
				StaleThreshold: cfg.ReconcileThreshold,
			},
			store,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		// Sweep once before the dispatcher picks up work, so runs
		// orphaned by a previous crash are settled immediately.
		recon.Sweep(reconcilerCtx)
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()
		log.Printf("runmilld: reconciler enabled (interval=%s, threshold=%s)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold)
	} else {
		log.Println("runmilld: RECONCILE_ENABLED not set; reconciler disabled")
	}

	log.Printf("runmilld: started (tick=%s, workers=%d, http=%s)",
		cfg.TickInterval, cfg.DispatcherWorkers, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("runmilld: received signal %v, shutting down", received)

	// Phase 1: Stop the triggers (no new run requests enqueued)
	log.Println("runmilld: stopping scheduler...")
	cancelScheduler()
	schedulerWg.Wait()
	log.Println("runmilld: scheduler stopped")

	log.Println("runmilld: stopping watcher...")
	cancelWatcher()
	if err := watchTrigger.Stop(); err != nil {
		log.Printf("runmilld: watcher stop error: %v", err)
	}
	watcherWg.Wait()
	log.Println("runmilld: watcher stopped")

	// Phase 2: Stop reconciler (no concurrent sweeps during drain)
	if cancelReconciler != nil {
		log.Println("runmilld: stopping reconciler...")
		cancelReconciler()
		reconcilerWg.Wait()
		log.Println("runmilld: reconciler stopped")
	}

	// Phase 3: Stop dispatcher (will drain buffered runs before returning)
	log.Println("runmilld: stopping dispatcher (draining runs)...")
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("runmilld: dispatcher stopped")

	// Phase 4: Stop HTTP server with graceful shutdown
	log.Println("runmilld: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("runmilld: http server shutdown error: %v", err)
	}
	log.Println("runmilld: http server stopped")

	log.Println("runmilld: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("runmilld version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
