// Package config loads process configuration from the environment, with
// sane defaults for every section and a validation pass per section.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully resolved configuration for one process.
type Config struct {
	Server    ServerConfig
	Pool      PoolConfig
	Tracer    TracerConfig
	Analytics AnalyticsConfig
	Broadcast BroadcastConfig
	Storage   StorageConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
}

// ServerConfig holds the three listener ports plus retention knobs.
type ServerConfig struct {
	Port                string
	HealthPort          string
	WSPort              string
	TraceRetentionDays  int
	MaxConnsPerResource int
}

// PoolConfig configures the resource connection pool.
type PoolConfig struct {
	MaxIdleTime         time.Duration
	HealthCheckInterval time.Duration
}

// TracerConfig bounds a single trace's size.
type TracerConfig struct {
	MaxNodes int
	MaxBytes int
}

// AnalyticsConfig sizes the ingest pipeline's buffers.
type AnalyticsConfig struct {
	RingSize        int
	TrendPoints     int
	IngestQueueSize int
}

// BroadcastConfig sizes and times the pub-sub fan-out.
type BroadcastConfig struct {
	QueueSize         int
	HeartbeatInterval time.Duration
	SilenceTimeout    time.Duration
}

// StorageConfig points at the trace persistence backend.
type StorageConfig struct {
	BackendURL string
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level   string
	UseJSON bool
}

// TracingConfig points the supplementary OTel span exporter at a collector.
// Disabled by default - an unconfigured endpoint means this service runs
// with only its internal/trace call tree and no external collector.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	UseHTTP     bool
	Insecure    bool
	ServiceName string
	Environment string
}

// DefaultConfig returns the configuration used when no environment overrides
// are present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                "8080",
			HealthPort:          "8081",
			WSPort:              "8082",
			TraceRetentionDays:  30,
			MaxConnsPerResource: 10,
		},
		Pool: PoolConfig{
			MaxIdleTime:         5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
		},
		Tracer: TracerConfig{
			MaxNodes: 10000,
			MaxBytes: 1 << 20,
		},
		Analytics: AnalyticsConfig{
			RingSize:        10000,
			TrendPoints:     100,
			IngestQueueSize: 1024,
		},
		Broadcast: BroadcastConfig{
			QueueSize:         1024,
			HeartbeatInterval: 30 * time.Second,
			SilenceTimeout:    90 * time.Second,
		},
		Storage: StorageConfig{
			BackendURL: "memory://",
		},
		Logging: LoggingConfig{
			Level:   "info",
			UseJSON: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			UseHTTP:     false,
			Insecure:    true,
			ServiceName: "toolmesh",
			Environment: "development",
		},
	}
}

// Load reads a local .env file if present, then overlays environment
// variables onto DefaultConfig, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.loadServer()
	cfg.loadPool()
	cfg.loadTracer()
	cfg.loadAnalytics()
	cfg.loadBroadcast()
	cfg.loadStorage()
	cfg.loadLogging()
	cfg.loadTracing()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadServer() {
	c.Server.Port = getStringEnv("PORT", c.Server.Port)
	c.Server.HealthPort = getStringEnv("HEALTH_PORT", c.Server.HealthPort)
	c.Server.WSPort = getStringEnv("WS_PORT", c.Server.WSPort)
	c.Server.TraceRetentionDays = getIntEnv("TRACE_RETENTION_DAYS", c.Server.TraceRetentionDays)
	c.Server.MaxConnsPerResource = getIntEnv("MAX_CONNECTIONS_PER_RESOURCE", c.Server.MaxConnsPerResource)
}

func (c *Config) loadPool() {
	c.Pool.MaxIdleTime = getDurationEnv("POOL_MAX_IDLE_TIME", c.Pool.MaxIdleTime)
	c.Pool.HealthCheckInterval = getDurationEnv("POOL_HEALTH_CHECK_INTERVAL", c.Pool.HealthCheckInterval)
}

func (c *Config) loadTracer() {
	c.Tracer.MaxNodes = getIntEnv("TRACER_MAX_NODES", c.Tracer.MaxNodes)
	c.Tracer.MaxBytes = getIntEnv("TRACER_MAX_BYTES", c.Tracer.MaxBytes)
}

func (c *Config) loadAnalytics() {
	c.Analytics.RingSize = getIntEnv("ANALYTICS_RING_SIZE", c.Analytics.RingSize)
	c.Analytics.TrendPoints = getIntEnv("ANALYTICS_TREND_POINTS", c.Analytics.TrendPoints)
	c.Analytics.IngestQueueSize = getIntEnv("ANALYTICS_INGEST_QUEUE_SIZE", c.Analytics.IngestQueueSize)
}

func (c *Config) loadBroadcast() {
	c.Broadcast.QueueSize = getIntEnv("BROADCAST_QUEUE_SIZE", c.Broadcast.QueueSize)
	c.Broadcast.HeartbeatInterval = getDurationEnv("BROADCAST_HEARTBEAT_INTERVAL", c.Broadcast.HeartbeatInterval)
	c.Broadcast.SilenceTimeout = getDurationEnv("BROADCAST_SILENCE_TIMEOUT", c.Broadcast.SilenceTimeout)
}

func (c *Config) loadStorage() {
	c.Storage.BackendURL = getStringEnv("STORAGE_BACKEND_URL", c.Storage.BackendURL)
}

func (c *Config) loadLogging() {
	c.Logging.Level = getStringEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.UseJSON = getBoolEnv("LOG_JSON", c.Logging.UseJSON)
}

func (c *Config) loadTracing() {
	c.Tracing.Endpoint = getStringEnv("OTEL_EXPORTER_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.UseHTTP = getBoolEnv("OTEL_EXPORTER_USE_HTTP", c.Tracing.UseHTTP)
	c.Tracing.Insecure = getBoolEnv("OTEL_EXPORTER_INSECURE", c.Tracing.Insecure)
	c.Tracing.ServiceName = getStringEnv("OTEL_SERVICE_NAME", c.Tracing.ServiceName)
	c.Tracing.Environment = getStringEnv("OTEL_ENVIRONMENT", c.Tracing.Environment)
	c.Tracing.Enabled = getBoolEnv("OTEL_EXPORTER_ENABLED", c.Tracing.Endpoint != "")
}

// Validate checks every section and returns the first error found.
func (c *Config) Validate() error {
	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Pool.validate(); err != nil {
		return fmt.Errorf("pool config: %w", err)
	}
	if err := c.Tracer.validate(); err != nil {
		return fmt.Errorf("tracer config: %w", err)
	}
	if err := c.Analytics.validate(); err != nil {
		return fmt.Errorf("analytics config: %w", err)
	}
	if err := c.Broadcast.validate(); err != nil {
		return fmt.Errorf("broadcast config: %w", err)
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.TraceRetentionDays <= 0 {
		return fmt.Errorf("trace retention days must be positive, got %d", s.TraceRetentionDays)
	}
	if s.MaxConnsPerResource <= 0 {
		return fmt.Errorf("max connections per resource must be positive, got %d", s.MaxConnsPerResource)
	}
	return nil
}

func (p *PoolConfig) validate() error {
	if p.MaxIdleTime <= 0 {
		return fmt.Errorf("max idle time must be positive")
	}
	return nil
}

func (t *TracerConfig) validate() error {
	if t.MaxNodes <= 0 {
		return fmt.Errorf("max nodes must be positive, got %d", t.MaxNodes)
	}
	if t.MaxBytes <= 0 {
		return fmt.Errorf("max bytes must be positive, got %d", t.MaxBytes)
	}
	return nil
}

func (a *AnalyticsConfig) validate() error {
	if a.RingSize <= 0 {
		return fmt.Errorf("ring size must be positive, got %d", a.RingSize)
	}
	if a.TrendPoints <= 0 {
		return fmt.Errorf("trend points must be positive, got %d", a.TrendPoints)
	}
	if a.IngestQueueSize <= 0 {
		return fmt.Errorf("ingest queue size must be positive, got %d", a.IngestQueueSize)
	}
	return nil
}

func (b *BroadcastConfig) validate() error {
	if b.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", b.QueueSize)
	}
	if b.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if b.SilenceTimeout <= b.HeartbeatInterval {
		return fmt.Errorf("silence timeout must exceed heartbeat interval")
	}
	return nil
}

func getStringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
