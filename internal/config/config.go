package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the runmill daemon.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	RunnerURL        string        `json:"runner_url"`
	RunnerSecret     string        `json:"runner_secret,omitempty"`
	RunnerTimeout    time.Duration `json:"-"`
	RunnerTimeoutStr string        `json:"runner_timeout"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	PollInterval    time.Duration `json:"-"`
	PollIntervalStr string        `json:"poll_interval"`

	DispatcherWorkers int `json:"dispatcher_workers"`
	RunBusBufferSize  int `json:"runbus_buffer_size"`

	DefaultQueue              string `json:"default_queue"`
	DefaultQueueMaxConcurrent int    `json:"default_queue_max_concurrent"`
	DefaultQueueMaxQueued     int    `json:"default_queue_max_queued"`

	// WebhookPathPrefix is where webhook endpoints mount; endpoint paths
	// are appended verbatim.
	WebhookPathPrefix string `json:"webhook_path_prefix"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the longest plausible run duration,
	// or healthy long runs get marked abandoned.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		RunnerURL:                 os.Getenv("RUNNER_URL"),
		RunnerSecret:              os.Getenv("RUNNER_SECRET"),
		RunnerTimeoutStr:          os.Getenv("RUNNER_TIMEOUT"),
		TickIntervalStr:           os.Getenv("TICK_INTERVAL"),
		PollIntervalStr:           os.Getenv("POLL_INTERVAL"),
		DefaultQueue:              os.Getenv("DEFAULT_QUEUE"),
		WebhookPathPrefix:         os.Getenv("WEBHOOK_PATH_PREFIX"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr: os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		ReconcileEnabled:          os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:      os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:     os.Getenv("RECONCILE_THRESHOLD"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
	}

	if workersStr := os.Getenv("DISPATCHER_WORKERS"); workersStr != "" {
		if n, err := parseInt(workersStr); err == nil && n > 0 {
			cfg.DispatcherWorkers = n
		} else {
			log.Printf("config: invalid DISPATCHER_WORKERS %q (must be a positive integer), using default 4", workersStr)
		}
	}
	if cfg.DispatcherWorkers == 0 {
		cfg.DispatcherWorkers = 4
	}

	if bufStr := os.Getenv("RUNBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.RunBusBufferSize = n
		} else {
			log.Printf("config: invalid RUNBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.RunBusBufferSize == 0 {
		cfg.RunBusBufferSize = 100
	}

	if maxConcStr := os.Getenv("DEFAULT_QUEUE_MAX_CONCURRENT"); maxConcStr != "" {
		if n, err := parseInt(maxConcStr); err == nil && n > 0 {
			cfg.DefaultQueueMaxConcurrent = n
		}
	}
	if cfg.DefaultQueueMaxConcurrent == 0 {
		cfg.DefaultQueueMaxConcurrent = 4
	}

	if maxQueuedStr := os.Getenv("DEFAULT_QUEUE_MAX_QUEUED"); maxQueuedStr != "" {
		if n, err := parseInt(maxQueuedStr); err == nil && n > 0 {
			cfg.DefaultQueueMaxQueued = n
		}
	}
	if cfg.DefaultQueueMaxQueued == 0 {
		cfg.DefaultQueueMaxQueued = 100
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.RunnerTimeoutStr == "" {
		cfg.RunnerTimeoutStr = "60s"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "60s"
	}
	if cfg.PollIntervalStr == "" {
		cfg.PollIntervalStr = "250ms"
	}
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = "default"
	}
	if cfg.WebhookPathPrefix == "" {
		cfg.WebhookPathPrefix = "/hooks/"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatcherDrainTimeoutStr == "" {
		cfg.DispatcherDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "30m"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.RunnerTimeoutStr); err == nil {
		cfg.RunnerTimeout = d
	}
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.PollIntervalStr); err == nil {
		cfg.PollInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DispatcherDrainTimeoutStr); err == nil {
		cfg.DispatcherDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL               string `json:"database_url"`
		RedisAddr                 string `json:"redis_addr,omitempty"`
		HTTPAddr                  string `json:"http_addr"`
		RunnerURL                 string `json:"runner_url"`
		RunnerSecret              string `json:"runner_secret,omitempty"`
		RunnerTimeout             string `json:"runner_timeout"`
		TickInterval              string `json:"tick_interval"`
		PollInterval              string `json:"poll_interval"`
		DispatcherWorkers         int    `json:"dispatcher_workers"`
		RunBusBufferSize          int    `json:"runbus_buffer_size"`
		DefaultQueue              string `json:"default_queue"`
		DefaultQueueMaxConcurrent int    `json:"default_queue_max_concurrent"`
		DefaultQueueMaxQueued     int    `json:"default_queue_max_queued"`
		WebhookPathPrefix         string `json:"webhook_path_prefix"`
		DBOpTimeout               string `json:"db_op_timeout"`
		DBMaxOpenConns            int    `json:"db_max_open_conns"`
		DBMaxIdleConns            int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime         string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime         string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout       string `json:"http_shutdown_timeout"`
		DispatcherDrainTimeout    string `json:"dispatcher_drain_timeout"`
		MetricsEnabled            bool   `json:"metrics_enabled"`
		MetricsPath               string `json:"metrics_path"`
		ReconcileEnabled          bool   `json:"reconcile_enabled"`
		ReconcileInterval         string `json:"reconcile_interval"`
		ReconcileThreshold        string `json:"reconcile_threshold"`
		CircuitBreakerThreshold   int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown    string `json:"circuit_breaker_cooldown"`
	}{
		DatabaseURL:               maskSecret(c.DatabaseURL),
		RedisAddr:                 c.RedisAddr,
		HTTPAddr:                  c.HTTPAddr,
		RunnerURL:                 c.RunnerURL,
		RunnerSecret:              maskSecret(c.RunnerSecret),
		RunnerTimeout:             c.RunnerTimeoutStr,
		TickInterval:              c.TickIntervalStr,
		PollInterval:              c.PollIntervalStr,
		DispatcherWorkers:         c.DispatcherWorkers,
		RunBusBufferSize:          c.RunBusBufferSize,
		DefaultQueue:              c.DefaultQueue,
		DefaultQueueMaxConcurrent: c.DefaultQueueMaxConcurrent,
		DefaultQueueMaxQueued:     c.DefaultQueueMaxQueued,
		WebhookPathPrefix:         c.WebhookPathPrefix,
		DBOpTimeout:               c.DBOpTimeoutStr,
		DBMaxOpenConns:            c.DBMaxOpenConns,
		DBMaxIdleConns:            c.DBMaxIdleConns,
		DBConnMaxLifetime:         c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:         c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:       c.HTTPShutdownTimeoutStr,
		DispatcherDrainTimeout:    c.DispatcherDrainTimeoutStr,
		MetricsEnabled:            c.MetricsEnabled,
		MetricsPath:               c.MetricsPath,
		ReconcileEnabled:          c.ReconcileEnabled,
		ReconcileInterval:         c.ReconcileIntervalStr,
		ReconcileThreshold:        c.ReconcileThresholdStr,
		CircuitBreakerThreshold:   c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:    c.CircuitBreakerCooldownStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
